package internal

import (
	"context"
	"time"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// HistoryColumns are the value columns of the history table, one per value family.
var HistoryColumns = []struct {
	Name     string
	Category strata.StorageCategory
}{
	{"TextValue", strata.CategoryText},
	{"IntegerValue", strata.CategoryInteger},
	{"LongValue", strata.CategoryLong},
	{"FloatValue", strata.CategoryFloat},
	{"DoubleValue", strata.CategoryDouble},
	{"DateTimeValue", strata.CategoryDateTime},
	{"BlobValue", strata.CategoryBlob},
}

type bootstrapper struct {
	session   Session
	backend   DialectBackend
	loader    *DefinitionLoader
	registry  *strata.Registry
	cfg       strata.BootstrapConfig
	maxParams int
}

type bootstrapStage struct {
	objects []SchemaObject
	state   strata.BootstrapState
}

// run converges the schema stage by stage. An object that cannot be probed or
// created is recorded in the report and the remaining objects are still applied.
func (b *bootstrapper) run(ctx context.Context) (*strata.BootstrapReport, error) {
	start := time.Now()
	report := &strata.BootstrapReport{State: strata.StateUninitialized, Failed: make(map[string]string)}
	applied := make(map[string]bool)

	stages := []bootstrapStage{
		{referenceObjects(), strata.StateReferenceTablesCreated},
		{bindingObjects(), strata.StateBindingTablesCreated},
		{attributeObjects(), strata.StateAttributeTablesCreated},
		{overviewHistoryObjects(), strata.StateOverviewHistoryCreated},
	}
	if !b.cfg.SkipExtras {
		stages = append(stages, bootstrapStage{b.backend.Extras(), strata.StateExtrasInitialized})
	} else {
		stages = append(stages, bootstrapStage{nil, strata.StateExtrasInitialized})
	}

	for _, stage := range stages {
		for _, obj := range stage.objects {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if applied[obj.Name] {
				continue
			}
			applied[obj.Name] = true
			b.converge(ctx, obj, report)
		}
		if stage.state == strata.StateOverviewHistoryCreated {
			b.ensureHistoryColumns(ctx, report)
		}
		report.State = stage.state
		zap.S().Debugw("bootstrap stage complete", "dialect", b.backend.Dialect(), "state", stage.state)
	}

	// A failed mapping leaves the report at the last completed stage.
	ready := true
	if b.cfg.MapDefinitions && b.registry != nil {
		if err := b.mapDefinitions(ctx); err != nil {
			report.Failed["definitions"] = err.Error()
			zap.S().Warnw("definition mapping failed", "dialect", b.backend.Dialect(), "error", err)
			ready = false
		} else {
			report.State = strata.StateDefinitionsMapped
		}
	}
	if ready {
		report.State = strata.StateReady
	}

	EmitLatency(ctx, "bootstrap", time.Since(start).Milliseconds())
	zap.S().Infow("bootstrap finished", "dialect", b.backend.Dialect(),
		"created", len(report.Created), "existing", len(report.Existing), "failed", len(report.Failed))
	return report, nil
}

func (b *bootstrapper) converge(ctx context.Context, obj SchemaObject, report *strata.BootstrapReport) {
	exists, err := b.exists(ctx, obj)
	if err != nil {
		b.fail(ctx, report, obj.Name, err)
		return
	}
	if exists {
		report.Existing = append(report.Existing, obj.Name)
		return
	}

	stmts, err := b.loader.Statements(obj)
	if err != nil {
		b.fail(ctx, report, obj.Name, err)
		return
	}
	for _, stmt := range stmts {
		if _, err := b.session.Exec(ctx, stmt); err != nil {
			b.fail(ctx, report, obj.Name, strata.NewBootstrapObjectError(obj.Name, err).WithDetail("symbol", obj.Symbol))
			return
		}
	}
	report.Created = append(report.Created, obj.Name)
	zap.S().Infow("created schema object", "dialect", b.backend.Dialect(), "kind", obj.Kind, "object", obj.Name, "symbol", obj.Symbol)
}

func (b *bootstrapper) exists(ctx context.Context, obj SchemaObject) (bool, error) {
	if b.cfg.StrictProbes {
		return b.backend.Probe(ctx, obj.Kind, obj.Name)
	}
	switch obj.Kind {
	case KindView:
		return b.backend.ViewExists(ctx, obj.Name) > 0, nil
	case KindProcedure:
		return b.backend.ProcedureExists(ctx, obj.Name) > 0, nil
	case KindTrigger:
		return b.backend.TriggerExists(ctx, obj.Name) > 0, nil
	}
	return b.backend.TableExists(ctx, obj.Name) > 0, nil
}

// ensureHistoryColumns adds value columns missing from a history table created by
// an older schema.
func (b *bootstrapper) ensureHistoryColumns(ctx context.Context, report *strata.BootstrapReport) {
	if _, failed := report.Failed[strata.TableOldFieldValues]; failed {
		return
	}
	for _, col := range HistoryColumns {
		if b.backend.ColumnExists(ctx, strata.TableOldFieldValues, col.Name) > 0 {
			continue
		}
		name := strata.TableOldFieldValues + "." + col.Name
		if _, err := b.session.Exec(ctx, b.backend.AddColumnSyntax(strata.TableOldFieldValues, col.Name, col.Category)); err != nil {
			b.fail(ctx, report, name, strata.NewBootstrapObjectError(name, err))
			continue
		}
		report.Created = append(report.Created, name)
	}
}

func (b *bootstrapper) fail(ctx context.Context, report *strata.BootstrapReport, name string, err error) {
	report.Failed[name] = err.Error()
	EmitObjectFailure(ctx, name)
	zap.S().Warnw("schema object not applied", "dialect", b.backend.Dialect(), "object", name, "error", err)
}

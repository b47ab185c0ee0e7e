package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// ObjectKind is the catalog kind of a schema object.
type ObjectKind string

const (
	KindTable     ObjectKind = "table"
	KindView      ObjectKind = "view"
	KindProcedure ObjectKind = "procedure"
	KindTrigger   ObjectKind = "trigger"
)

// maxRowsPerStatement caps multi-row VALUES lists (the T-SQL row constructor limit).
const maxRowsPerStatement = 1000

// DialectBackend emits and probes the schema of one database family.
type DialectBackend interface {
	Dialect() strata.Dialect
	Placeholder() PlaceholderStyle

	// Existence probes return the number of matching catalog entries, 0 when the probe fails.
	TableExists(ctx context.Context, name string) int
	ViewExists(ctx context.Context, name string) int
	ProcedureExists(ctx context.Context, name string) int
	TriggerExists(ctx context.Context, name string) int
	ColumnExists(ctx context.Context, table, column string) int
	// Probe distinguishes an absent object from a failed probe.
	Probe(ctx context.Context, kind ObjectKind, name string) (bool, error)

	ColumnType(c strata.StorageCategory) string
	// TypeNames are the column types handed to definition templates.
	TypeNames() map[string]string
	AddColumnSyntax(table, column string, c strata.StorageCategory) string
	MaxParams() int

	// Upsert writes rows keyed by keys; with no value columns existing rows are kept.
	Upsert(table string, keys, values []string, rows [][]any) (string, []any)
	Insert(table string, columns []string, rows [][]any) (string, []any)
	BindValue(v any) any

	// Extras lists the procedures and triggers provisioned after the tables.
	Extras() []SchemaObject
}

// NewDialectBackend selects the backend for d. Probes run on session.
func NewDialectBackend(d strata.Dialect, session Querier) (DialectBackend, error) {
	switch d {
	case strata.DialectPostgres:
		return newPostgresDialect(session), nil
	case strata.DialectMySQL:
		return newMySQLDialect(session), nil
	case strata.DialectSQLite:
		return newSQLiteDialect(session), nil
	case strata.DialectOracle:
		return newOracleDialect(session), nil
	case strata.DialectTransactSQL:
		return newTSQLDialect(session), nil
	}
	return nil, strata.NewConfigurationError(strata.ErrCodeUnsupportedDialect, fmt.Sprintf("dialect %q is not supported", d))
}

// PlaceholderFor returns the bind marker style of a dialect's driver.
func PlaceholderFor(d strata.Dialect) PlaceholderStyle {
	switch d {
	case strata.DialectPostgres:
		return PlaceholderDollar
	case strata.DialectOracle:
		return PlaceholderColon
	case strata.DialectTransactSQL:
		return PlaceholderAtP
	}
	return PlaceholderQuestion
}

// dialectBase carries what every backend shares: the probe session, catalog
// queries per object kind and the column type table.
type dialectBase struct {
	dialect   strata.Dialect
	session   Querier
	probes    map[ObjectKind]string
	columnSQL string
	fold      func(string) string
	types     map[strata.StorageCategory]string
	extra     map[string]string
	maxParams int
}

func (b *dialectBase) Dialect() strata.Dialect { return b.dialect }

func (b *dialectBase) Placeholder() PlaceholderStyle { return PlaceholderFor(b.dialect) }

func (b *dialectBase) MaxParams() int { return b.maxParams }

func (b *dialectBase) TableExists(ctx context.Context, name string) int {
	return b.count(ctx, KindTable, name)
}

func (b *dialectBase) ViewExists(ctx context.Context, name string) int {
	return b.count(ctx, KindView, name)
}

func (b *dialectBase) ProcedureExists(ctx context.Context, name string) int {
	return b.count(ctx, KindProcedure, name)
}

func (b *dialectBase) TriggerExists(ctx context.Context, name string) int {
	return b.count(ctx, KindTrigger, name)
}

func (b *dialectBase) ColumnExists(ctx context.Context, table, column string) int {
	n, err := queryCount(ctx, b.session, b.columnSQL, b.fold(table), b.fold(column))
	if err != nil {
		zap.S().Warnw("column probe failed", "dialect", b.dialect, "table", table, "column", column, "error", err)
		return 0
	}
	return n
}

func (b *dialectBase) Probe(ctx context.Context, kind ObjectKind, name string) (bool, error) {
	query, ok := b.probes[kind]
	if !ok {
		return false, nil
	}
	n, err := queryCount(ctx, b.session, query, b.fold(name))
	if err != nil {
		return false, strata.NewProbeError(name, err).WithDetail("kind", string(kind))
	}
	return n > 0, nil
}

func (b *dialectBase) count(ctx context.Context, kind ObjectKind, name string) int {
	query, ok := b.probes[kind]
	if !ok {
		return 0
	}
	n, err := queryCount(ctx, b.session, query, b.fold(name))
	if err != nil {
		zap.S().Warnw("existence probe failed, treating object as absent", "dialect", b.dialect, "kind", kind, "object", name, "error", err)
		return 0
	}
	return n
}

func (b *dialectBase) ColumnType(c strata.StorageCategory) string {
	if t, ok := b.types[c]; ok {
		return t
	}
	return b.types[strata.CategoryText]
}

func (b *dialectBase) TypeNames() map[string]string {
	names := map[string]string{
		"text":     b.types[strata.CategoryText],
		"integer":  b.types[strata.CategoryInteger],
		"long":     b.types[strata.CategoryLong],
		"float":    b.types[strata.CategoryFloat],
		"double":   b.types[strata.CategoryDouble],
		"boolean":  b.types[strata.CategoryBoolean],
		"datetime": b.types[strata.CategoryDateTime],
		"blob":     b.types[strata.CategoryBlob],
	}
	for k, v := range b.extra {
		names[k] = v
	}
	return names
}

func (b *dialectBase) AddColumnSyntax(table, column string, c strata.StorageCategory) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, b.ColumnType(c))
}

func (b *dialectBase) BindValue(v any) any {
	return v
}

// valuesInsert renders INSERT INTO t (cols) VALUES (...), (...).
func valuesInsert(verb, table string, columns []string, rows [][]any, bind func(any) any) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%s) VALUES ", verb, table, strings.Join(columns, ", "))
	args := make([]any, 0, len(rows)*len(columns))
	row := "(" + markersFor(len(columns)) + ")"
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
		for _, v := range r {
			args = append(args, bind(v))
		}
	}
	return sb.String(), args
}

func assignments(values []string, format string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf(format, v, v)
	}
	return strings.Join(parts, ", ")
}

func markersFor(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// rowsPerStatement is how many rows of width columns fit in one statement.
func rowsPerStatement(maxParams, columns int) int {
	n := maxParams / columns
	if n > maxRowsPerStatement {
		n = maxRowsPerStatement
	}
	if n < 1 {
		n = 1
	}
	return n
}

func identity(s string) string { return s }

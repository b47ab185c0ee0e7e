package internal

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var overviewColumns = strings.Join([]string{strata.ColEntityGuid, strata.ColEntityID, strata.ColDateCreated, strata.ColDateModified}, ", ")

type storedValue struct {
	seq   int32
	value any
}

// tableValues holds the decoded rows of one attribute table by instance and field.
type tableValues map[attrKey][]storedValue

type bindingRef struct {
	fieldID int64
	child   string
}

// loader carries the state of one Load call. Instances are materialized once per guid,
// so cyclic graphs share instances.
type loader struct {
	store     *Store
	instances map[string]strata.Entity
}

// Load reconstructs the instances of entityID, its subtypes included, that match filter.
// Results are ordered by guid. Rows that cannot be decoded are skipped with a warning.
func (s *Store) Load(ctx context.Context, entityID int64, filter strata.Filter) ([]strata.Entity, error) {
	if _, ok := s.registry.Entity(entityID); !ok {
		return nil, strata.NewUnregisteredEntityError(entityID)
	}
	start := time.Now()
	family := s.registry.Descendants(entityID)

	overviews, err := s.selectOverviews(ctx, family, filter)
	if err != nil {
		return nil, err
	}
	l := &loader{store: s, instances: make(map[string]strata.Entity)}
	out, err := l.materialize(ctx, overviews, 0)
	if err != nil {
		return nil, strata.NewStoreError(strata.ErrorTypeLoad, strata.ErrCodeLoadFailed, "load instances").
			WithEntityID(entityID).WithCause(err)
	}
	EmitLatency(ctx, "load", time.Since(start).Milliseconds())
	zap.S().Debugw("loaded entities", "entityId", entityID, "count", len(out), "elapsed", time.Since(start))
	return out, nil
}

func (s *Store) selectOverviews(ctx context.Context, family []int64, filter strata.Filter) ([]strata.Overview, error) {
	familyArgs := make([]any, len(family))
	for i, id := range family {
		familyArgs[i] = id
	}
	base := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		overviewColumns, strata.TableEntityOverview, strata.ColEntityID, markersFor(len(family)))

	switch filter.Kind() {
	case strata.FilterByGuid:
		var out []strata.Overview
		for _, chunk := range guidChunks(dedupe(filter.Guids()), s.maxParams(), len(family)) {
			query := base + fmt.Sprintf(" AND %s IN (%s)", strata.ColEntityGuid, markersFor(len(chunk)))
			ovs, err := s.scanOverviews(ctx, s.session, query, guidArgs(familyArgs, chunk))
			if err != nil {
				return nil, err
			}
			out = append(out, ovs...)
		}
		return out, nil
	case strata.FilterMatching:
		q := filter.Query()
		if q == nil {
			return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeQueryBuildFailed, "matching filter without a query")
		}
		query, args, err := q.Build(family...)
		if err != nil {
			return nil, err
		}
		for i, a := range args {
			args[i] = s.backend.BindValue(a)
		}
		return s.scanOverviews(ctx, s.session, query, args)
	}
	return s.scanOverviews(ctx, s.session, base, familyArgs)
}

func (s *Store) scanOverviews(ctx context.Context, q Querier, query string, args []any) ([]strata.Overview, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, strata.NewStoreError(strata.ErrorTypeLoad, strata.ErrCodeLoadFailed, "read overview").WithCause(err)
	}
	defer rows.Close()

	var out []strata.Overview
	for rows.Next() {
		var rawGuid, rawID, rawCreated, rawModified any
		if err := rows.Scan(&rawGuid, &rawID, &rawCreated, &rawModified); err != nil {
			return nil, strata.NewStoreError(strata.ErrorTypeLoad, strata.ErrCodeLoadFailed, "scan overview").WithCause(err)
		}
		ov, err := decodeOverview(rawGuid, rawID, rawCreated, rawModified)
		if err != nil {
			zap.S().Warnw("overview row skipped", "error", err)
			continue
		}
		out = append(out, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, strata.NewStoreError(strata.ErrorTypeLoad, strata.ErrCodeLoadFailed, "read overview").WithCause(err)
	}
	return out, nil
}

func decodeOverview(rawGuid, rawID, rawCreated, rawModified any) (strata.Overview, error) {
	var ov strata.Overview
	var err error
	if ov.EntityGuid, err = scanString(rawGuid); err != nil {
		return ov, err
	}
	if ov.EntityID, err = scanInt64(rawID); err != nil {
		return ov, err
	}
	if ov.DateCreated, err = scanTime(rawCreated); err != nil {
		return ov, err
	}
	if ov.DateModified, err = scanTime(rawModified); err != nil {
		return ov, err
	}
	return ov, nil
}

// materialize creates the instances for overviews, fills their attributes and
// resolves their object fields depth first.
func (l *loader) materialize(ctx context.Context, overviews []strata.Overview, depth int) ([]strata.Entity, error) {
	s := l.store
	slices.SortFunc(overviews, func(a, b strata.Overview) int { return strings.Compare(a.EntityGuid, b.EntityGuid) })

	var result, fresh []strata.Entity
	for _, ov := range overviews {
		if e, ok := l.instances[ov.EntityGuid]; ok {
			result = append(result, e)
			continue
		}
		def, ok := s.registry.Entity(ov.EntityID)
		if !ok {
			zap.S().Warnw("instance of unregistered entity type skipped", "entityGuid", ov.EntityGuid, "entityId", ov.EntityID)
			continue
		}
		e, err := s.factory(def)
		if err != nil {
			return nil, fmt.Errorf("create instance of %s: %w", def.Name, err)
		}
		*e.Overview() = ov
		l.instances[ov.EntityGuid] = e
		result = append(result, e)
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return result, nil
	}

	guids := make([]string, len(fresh))
	for i, e := range fresh {
		guids[i] = e.Overview().EntityGuid
	}
	values, err := s.readAttributes(ctx, fresh, guids)
	if err != nil {
		return nil, err
	}
	for _, e := range fresh {
		l.assign(e, values)
	}
	if err := l.resolveObjects(ctx, fresh, guids, depth); err != nil {
		return nil, err
	}
	for _, e := range fresh {
		listener, ok := e.(strata.LoadListener)
		if !ok {
			continue
		}
		if err := listener.OnPostLoad(ctx, strata.LoadEvent{Entity: e, Querier: s.session}); err != nil {
			zap.S().Warnw("post-load listener failed", "entityGuid", e.Overview().EntityGuid, "error", err)
		}
	}
	return result, nil
}

// readAttributes reads the tables holding the fields of entities in parallel.
func (s *Store) readAttributes(ctx context.Context, entities []strata.Entity, guids []string) (map[string]tableValues, error) {
	needed := make(map[string]bool)
	for _, e := range entities {
		for _, f := range s.registry.Fields(e.Overview().EntityID) {
			if !f.Category.IsObject() {
				needed[strata.TableFor(f.Category).Name] = true
			}
		}
	}
	var tables []strata.Table
	for _, t := range strata.AttributeTables() {
		if needed[t.Name] {
			tables = append(tables, t)
		}
	}

	results := make([]tableValues, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	if n := s.cfg.Store.LoadConcurrency; n > 0 {
		g.SetLimit(n)
	}
	for i, t := range tables {
		g.Go(func() error {
			vals, err := s.readTable(gctx, t, guids)
			if err != nil {
				return fmt.Errorf("read %s: %w", t.Name, err)
			}
			results[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]tableValues, len(tables))
	for i, t := range tables {
		out[t.Name] = results[i]
		EmitRowCount(ctx, t.Name, int64(len(results[i])))
	}
	return out, nil
}

func (s *Store) readTable(ctx context.Context, t strata.Table, guids []string) (tableValues, error) {
	columns := []string{strata.ColEntityGuid, strata.ColFieldID}
	if t.Array {
		columns = append(columns, strata.ColSequence)
	}
	columns = append(columns, strata.ColValue)

	out := make(tableValues)
	for _, chunk := range guidChunks(guids, s.maxParams(), 0) {
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
			strings.Join(columns, ", "), t.Name, strata.ColEntityGuid, markersFor(len(chunk)))
		if err := s.scanTable(ctx, query, guidArgs(nil, chunk), t, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) scanTable(ctx context.Context, query string, args []any, t strata.Table, out tableValues) error {
	rows, err := s.session.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rawGuid, rawField, rawSeq, rawValue any
		dest := []any{&rawGuid, &rawField}
		if t.Array {
			dest = append(dest, &rawSeq)
		}
		dest = append(dest, &rawValue)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		guid, err := scanString(rawGuid)
		if err != nil {
			return err
		}
		fid, err := scanInt64(rawField)
		if err != nil {
			return err
		}
		f, ok := s.registry.Field(fid)
		if !ok || f.Category.IsObject() || strata.TableFor(f.Category).Name != t.Name {
			zap.S().Debugw("row of unknown field skipped", "table", t.Name, "entityGuid", guid, "fieldId", fid)
			continue
		}
		var seq int64
		if t.Array {
			if seq, err = scanInt64(rawSeq); err != nil {
				zap.S().Warnw("attribute row skipped", "error", strata.NewLoadRowError(guid, fid, err))
				continue
			}
		}
		stored, err := decodeStored(valueCategory(f), rawValue)
		if err == nil {
			stored, err = toCanonical(f, stored)
		}
		if err != nil {
			zap.S().Warnw("attribute row skipped", "table", t.Name, "error", strata.NewLoadRowError(guid, fid, err))
			continue
		}
		key := attrKey{guid, fid}
		out[key] = append(out[key], storedValue{seq: int32(seq), value: stored})
	}
	return rows.Err()
}

// assign sets every stored field bound to e's entity type.
func (l *loader) assign(e strata.Entity, values map[string]tableValues) {
	ov := e.Overview()
	for _, f := range l.store.registry.Fields(ov.EntityID) {
		if f.Category.IsObject() {
			continue
		}
		stored := values[strata.TableFor(f.Category).Name][attrKey{ov.EntityGuid, f.ID}]
		if len(stored) == 0 {
			continue
		}
		slices.SortFunc(stored, func(a, b storedValue) int { return int(a.seq) - int(b.seq) })
		var value any
		if f.Category.IsArray() {
			value = typedArray(f.Category, stored)
		} else {
			value = stored[0].value
		}
		if err := e.SetFieldValue(f.ID, value); err != nil {
			zap.S().Warnw("field not assigned", "entityGuid", ov.EntityGuid, "fieldId", f.ID, "error", err)
		}
	}
}

func typedArray(c strata.StorageCategory, stored []storedValue) any {
	switch c {
	case strata.CategoryTextArray, strata.CategoryEnumArray:
		return collect[string](stored)
	case strata.CategoryIntegerArray:
		return collect[int32](stored)
	case strata.CategoryLongArray:
		return collect[int64](stored)
	case strata.CategoryFloatArray:
		return collect[float32](stored)
	case strata.CategoryDoubleArray:
		return collect[float64](stored)
	case strata.CategoryDateTimeArray:
		return collect[time.Time](stored)
	}
	return nil
}

func collect[T any](stored []storedValue) []T {
	out := make([]T, 0, len(stored))
	for _, sv := range stored {
		if v, ok := sv.value.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// resolveObjects reads the bindings of parents and loads their children.
func (l *loader) resolveObjects(ctx context.Context, parents []strata.Entity, guids []string, depth int) error {
	s := l.store
	hasObjects := false
	for _, e := range parents {
		for _, f := range s.registry.Fields(e.Overview().EntityID) {
			if f.Category.IsObject() {
				hasObjects = true
			}
		}
	}
	if !hasObjects {
		return nil
	}
	if limit := s.cfg.Store.MaxObjectDepth; limit > 0 && depth >= limit {
		zap.S().Warnw("object graph truncated", "depth", depth)
		return nil
	}

	bindings, err := s.readBindings(ctx, guids)
	if err != nil {
		return err
	}
	var missing []string
	for _, refs := range bindings {
		for _, ref := range refs {
			if _, ok := l.instances[ref.child]; !ok && !slices.Contains(missing, ref.child) {
				missing = append(missing, ref.child)
			}
		}
	}
	if len(missing) > 0 {
		var overviews []strata.Overview
		for _, chunk := range guidChunks(missing, s.maxParams(), 0) {
			query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
				overviewColumns, strata.TableEntityOverview, strata.ColEntityGuid, markersFor(len(chunk)))
			ovs, err := s.scanOverviews(ctx, s.session, query, guidArgs(nil, chunk))
			if err != nil {
				return err
			}
			overviews = append(overviews, ovs...)
		}
		if _, err := l.materialize(ctx, overviews, depth+1); err != nil {
			return err
		}
	}

	for _, e := range parents {
		ov := e.Overview()
		refs := bindings[ov.EntityGuid]
		for _, f := range s.registry.Fields(ov.EntityID) {
			if !f.Category.IsObject() {
				continue
			}
			var children []strata.Entity
			for _, ref := range refs {
				if ref.fieldID != f.ID {
					continue
				}
				if child, ok := l.instances[ref.child]; ok {
					children = append(children, child)
				}
			}
			if len(children) == 0 {
				continue
			}
			var value any = children
			if f.Category == strata.CategoryObject {
				value = children[0]
			}
			if err := e.SetFieldValue(f.ID, value); err != nil {
				zap.S().Warnw("field not assigned", "entityGuid", ov.EntityGuid, "fieldId", f.ID, "error", err)
			}
		}
	}
	return nil
}

// readBindings returns the children of each parent ordered by child guid.
func (s *Store) readBindings(ctx context.Context, parents []string) (map[string][]bindingRef, error) {
	out := make(map[string][]bindingRef)
	for _, chunk := range guidChunks(parents, s.maxParams(), 0) {
		query := fmt.Sprintf("SELECT ParentEntityGuid, ChildEntityGuid, %s FROM %s WHERE ParentEntityGuid IN (%s) ORDER BY ChildEntityGuid",
			strata.ColFieldID, strata.TableEntityBinding, markersFor(len(chunk)))
		if err := s.scanBindings(ctx, query, guidArgs(nil, chunk), out); err != nil {
			return nil, fmt.Errorf("read bindings: %w", err)
		}
	}
	return out, nil
}

func (s *Store) scanBindings(ctx context.Context, query string, args []any, out map[string][]bindingRef) error {
	rows, err := s.session.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rawParent, rawChild, rawField any
		if err := rows.Scan(&rawParent, &rawChild, &rawField); err != nil {
			return err
		}
		parent, err := scanString(rawParent)
		if err != nil {
			return err
		}
		child, err := scanString(rawChild)
		if err != nil {
			return err
		}
		fid, err := scanInt64(rawField)
		if err != nil {
			return err
		}
		out[parent] = append(out[parent], bindingRef{fieldID: fid, child: child})
	}
	return rows.Err()
}

func dedupe(guids []string) []string {
	seen := make(map[string]bool, len(guids))
	out := make([]string, 0, len(guids))
	for _, g := range guids {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

package internal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

var (
	overviewKeys    = []string{strata.ColEntityGuid}
	overviewValues  = []string{strata.ColEntityID, strata.ColDateCreated, strata.ColDateModified}
	scalarKeys      = []string{strata.ColEntityGuid, strata.ColFieldID}
	arrayColumns    = []string{strata.ColEntityGuid, strata.ColFieldID, strata.ColSequence, strata.ColValue}
	bindingColumns  = []string{"ParentEntityGuid", "ChildEntityGuid", strata.ColFieldID, "ChildEntityId"}
	maxGuidLength   = 96
	historyBaseCols = []string{strata.ColEntityGuid, strata.ColFieldID, strata.ColSequence, "DateOfModification"}
)

// fieldWrite is the new stored state of one field of one instance. No values clears the field.
type fieldWrite struct {
	guid   string
	field  *strata.FieldDefinition
	values []any
}

type bindingRow struct {
	parent        string
	child         string
	fieldID       int64
	childEntityID int64
}

// savePlan is a validated batch: every instance of the graph, its attribute writes
// grouped by table and its entity bindings.
type savePlan struct {
	entities []strata.Entity
	writes   map[string][]fieldWrite
	bindings []bindingRow
	// rebind lists, per object field, the parents whose bindings are replaced.
	rebind map[int64][]string
}

// Save validates the batch, then writes it in one transaction.
func (s *Store) Save(ctx context.Context, entities []strata.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	start := time.Now()
	plan, err := s.plan(entities)
	if err != nil {
		return err
	}
	if err := s.write(ctx, plan); err != nil {
		return strata.NewTransactionError(strata.ErrCodeSaveFailed, "save transaction rolled back", err).
			WithDetail("entities", len(plan.entities))
	}
	EmitLatency(ctx, "save", time.Since(start).Milliseconds())
	zap.S().Debugw("saved entities", "count", len(plan.entities), "elapsed", time.Since(start))
	return nil
}

// SaveChunked saves size entities per transaction. A failed chunk stops the run;
// earlier chunks stay committed.
func (s *Store) SaveChunked(ctx context.Context, entities []strata.Entity, size int) error {
	if size <= 0 {
		size = s.cfg.Store.SaveChunkSize
	}
	if size <= 0 {
		size = 1024
	}
	for start := 0; start < len(entities); start += size {
		end := min(start+size, len(entities))
		if err := s.Save(ctx, entities[start:end]); err != nil {
			return fmt.Errorf("save chunk %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *Store) plan(entities []strata.Entity) (*savePlan, error) {
	p := &savePlan{
		writes: make(map[string][]fieldWrite),
		rebind: make(map[int64][]string),
	}
	seen := make(map[string]*strata.Overview)
	for _, e := range entities {
		if err := s.flatten(p, e, 0, seen); err != nil {
			return nil, err
		}
	}
	seenBinding := make(map[bindingRow]bool, len(p.bindings))
	p.bindings = slices.DeleteFunc(p.bindings, func(b bindingRow) bool {
		if seenBinding[b] {
			return true
		}
		seenBinding[b] = true
		return false
	})
	return p, nil
}

// flatten validates e and, through object fields, every instance reachable from it.
// Instances are visited once per guid, so cycles terminate. Two distinct instances
// carrying the same guid are rejected.
func (s *Store) flatten(p *savePlan, e strata.Entity, depth int, seen map[string]*strata.Overview) error {
	if e == nil {
		return strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeTypeMismatch, "nil entity in batch")
	}
	ov := e.Overview()
	if _, ok := s.registry.Entity(ov.EntityID); !ok {
		return strata.NewUnregisteredEntityError(ov.EntityID).WithEntityGuid(ov.EntityGuid)
	}
	if ov.EntityGuid == "" {
		guid, err := s.newGuid()
		if err != nil {
			return err
		}
		ov.EntityGuid = guid
	} else if len(ov.EntityGuid) > maxGuidLength {
		return strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeInvalidGuid, fmt.Sprintf("guid longer than %d characters", maxGuidLength)).
			WithEntityGuid(ov.EntityGuid)
	}
	guid := ov.EntityGuid
	if prev, ok := seen[guid]; ok {
		if prev != ov {
			return strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeInvalidGuid, "two instances in the batch share a guid").
				WithEntityGuid(guid)
		}
		return nil
	}
	seen[guid] = ov
	p.entities = append(p.entities, e)

	for _, fv := range e.FieldValues() {
		f, ok := s.registry.Field(fv.FieldID)
		if !ok {
			return strata.NewUnregisteredFieldError(fv.FieldID).WithEntityGuid(guid)
		}
		if !s.registry.Bound(ov.EntityID, f.ID) {
			return strata.NewConfigurationError(strata.ErrCodeFieldNotBound, "field is not bound to the entity type").
				WithFieldID(f.ID).WithEntityID(ov.EntityID)
		}
		if fv.Category != "" && fv.Category != f.Category {
			return strata.NewConfigurationError(strata.ErrCodeCategoryMismatch, "value category differs from the registered field").
				WithFieldID(f.ID).WithDetail("registered", string(f.Category)).WithDetail("supplied", string(fv.Category))
		}
		if f.Category.IsObject() {
			if err := s.planObject(p, guid, f, fv.Value, depth, seen); err != nil {
				return err
			}
			continue
		}
		stored, err := strata.EncodeValue(f, fv.Value)
		if err != nil {
			return withEntityGuid(err, guid)
		}
		table := strata.TableFor(f.Category).Name
		p.writes[table] = append(p.writes[table], fieldWrite{guid: guid, field: f, values: stored})
	}
	return nil
}

func (s *Store) planObject(p *savePlan, parent string, f *strata.FieldDefinition, value any, depth int, seen map[string]*strata.Overview) error {
	canonical, err := strata.NormalizeValue(f, value)
	if err != nil {
		return withEntityGuid(err, parent)
	}
	var children []strata.Entity
	switch v := canonical.(type) {
	case strata.Entity:
		children = []strata.Entity{v}
	case []strata.Entity:
		children = v
	}
	p.rebind[f.ID] = append(p.rebind[f.ID], parent)
	if len(children) == 0 {
		return nil
	}
	if limit := s.cfg.Store.MaxObjectDepth; limit > 0 && depth >= limit {
		return strata.NewValidationError(f.ID, fmt.Sprintf("object graph deeper than %d levels", limit)).WithEntityGuid(parent)
	}
	for _, child := range children {
		if child == nil {
			continue
		}
		childID := child.Overview().EntityID
		if f.EntityRef != 0 && !slices.Contains(s.registry.Descendants(f.EntityRef), childID) {
			return strata.NewValidationError(f.ID, fmt.Sprintf("entity type %d cannot be stored in a field referencing %d", childID, f.EntityRef)).
				WithEntityGuid(parent)
		}
		if err := s.flatten(p, child, depth+1, seen); err != nil {
			return err
		}
		p.bindings = append(p.bindings, bindingRow{
			parent:        parent,
			child:         child.Overview().EntityGuid,
			fieldID:       f.ID,
			childEntityID: childID,
		})
	}
	return nil
}

func (s *Store) write(ctx context.Context, p *savePlan) error {
	tx, err := s.session.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range p.entities {
		if l, ok := e.(strata.SaveListener); ok {
			if err := l.OnPreSave(ctx, strata.SaveEvent{Entity: e, Tx: tx}); err != nil {
				return fmt.Errorf("pre-save listener of %s: %w", e.Overview().EntityGuid, err)
			}
		}
	}

	now := s.now()
	if err := s.upsertOverviews(ctx, tx, p, now); err != nil {
		return err
	}
	if s.cfg.Store.LogEdits {
		if err := s.writeHistory(ctx, tx, p, now); err != nil {
			return err
		}
	}
	for _, t := range strata.AttributeTables() {
		writes := p.writes[t.Name]
		if len(writes) == 0 {
			continue
		}
		if t.Array {
			err = s.replaceArrays(ctx, tx, t, writes)
		} else {
			err = s.upsertScalars(ctx, tx, t, writes)
		}
		if err != nil {
			return err
		}
	}
	if err := s.writeBindings(ctx, tx, p); err != nil {
		return err
	}

	for _, e := range p.entities {
		if l, ok := e.(strata.SaveListener); ok {
			if err := l.OnPostSave(ctx, strata.SaveEvent{Entity: e, Tx: tx}); err != nil {
				return fmt.Errorf("post-save listener of %s: %w", e.Overview().EntityGuid, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// upsertOverviews keeps DateCreated of rows that already exist and stamps DateModified.
func (s *Store) upsertOverviews(ctx context.Context, tx Tx, p *savePlan, now time.Time) error {
	guids := make([]string, len(p.entities))
	for i, e := range p.entities {
		guids[i] = e.Overview().EntityGuid
	}
	created, err := s.existingCreated(ctx, tx, guids)
	if err != nil {
		return err
	}
	rows := make([][]any, len(p.entities))
	for i, e := range p.entities {
		ov := e.Overview()
		dateCreated, ok := created[ov.EntityGuid]
		if !ok {
			dateCreated = now
		}
		rows[i] = []any{ov.EntityGuid, ov.EntityID, dateCreated, now}
	}
	n, err := execBatches(ctx, tx, s.maxParams(), len(overviewKeys)+len(overviewValues), rows, func(chunk [][]any) (string, []any) {
		return s.backend.Upsert(strata.TableEntityOverview, overviewKeys, overviewValues, chunk)
	})
	if err != nil {
		return fmt.Errorf("upsert overview: %w", err)
	}
	EmitRowCount(ctx, strata.TableEntityOverview, n)
	return nil
}

func (s *Store) existingCreated(ctx context.Context, q Querier, guids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	for _, chunk := range guidChunks(guids, s.maxParams(), 0) {
		query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
			strata.ColEntityGuid, strata.ColDateCreated, strata.TableEntityOverview, strata.ColEntityGuid, markersFor(len(chunk)))
		rows, err := q.Query(ctx, query, guidArgs(nil, chunk)...)
		if err != nil {
			return nil, fmt.Errorf("read overview dates: %w", err)
		}
		for rows.Next() {
			var rawGuid, rawCreated any
			if err := rows.Scan(&rawGuid, &rawCreated); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan overview dates: %w", err)
			}
			guid, err := scanString(rawGuid)
			if err != nil {
				rows.Close()
				return nil, err
			}
			created, err := scanTime(rawCreated)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[guid] = created
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("read overview dates: %w", err)
		}
	}
	return out, nil
}

func (s *Store) upsertScalars(ctx context.Context, tx Tx, t strata.Table, writes []fieldWrite) error {
	var rows [][]any
	var cleared []fieldWrite
	for _, w := range writes {
		if len(w.values) == 0 {
			cleared = append(cleared, w)
			continue
		}
		rows = append(rows, []any{w.guid, w.field.ID, w.values[0]})
	}
	if err := s.deleteFieldRows(ctx, tx, t, cleared); err != nil {
		return err
	}
	n, err := execBatches(ctx, tx, s.maxParams(), len(scalarKeys)+1, rows, func(chunk [][]any) (string, []any) {
		return s.backend.Upsert(t.Name, scalarKeys, []string{strata.ColValue}, chunk)
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", t.Name, err)
	}
	EmitRowCount(ctx, t.Name, n)
	return nil
}

// replaceArrays deletes the stored positions of each field and inserts the new ones.
func (s *Store) replaceArrays(ctx context.Context, tx Tx, t strata.Table, writes []fieldWrite) error {
	if err := s.deleteFieldRows(ctx, tx, t, writes); err != nil {
		return err
	}
	var rows [][]any
	for _, w := range writes {
		for seq, v := range w.values {
			rows = append(rows, []any{w.guid, w.field.ID, int32(seq), v})
		}
	}
	n, err := execBatches(ctx, tx, s.maxParams(), len(arrayColumns), rows, func(chunk [][]any) (string, []any) {
		return s.backend.Insert(t.Name, arrayColumns, chunk)
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.Name, err)
	}
	EmitRowCount(ctx, t.Name, n)
	return nil
}

func (s *Store) deleteFieldRows(ctx context.Context, tx Tx, t strata.Table, writes []fieldWrite) error {
	fieldIDs, guids := groupByField(writes)
	for _, fid := range fieldIDs {
		for _, chunk := range guidChunks(guids[fid], s.maxParams(), 1) {
			query := deleteByGuid(t.Name, strata.ColEntityGuid, true, len(chunk))
			if _, err := tx.Exec(ctx, query, guidArgs([]any{fid}, chunk)...); err != nil {
				return fmt.Errorf("clear %s field %d: %w", t.Name, fid, err)
			}
		}
	}
	return nil
}

func (s *Store) writeBindings(ctx context.Context, tx Tx, p *savePlan) error {
	fieldIDs := make([]int64, 0, len(p.rebind))
	for fid := range p.rebind {
		fieldIDs = append(fieldIDs, fid)
	}
	slices.Sort(fieldIDs)
	for _, fid := range fieldIDs {
		for _, chunk := range guidChunks(p.rebind[fid], s.maxParams(), 1) {
			query := deleteByGuid(strata.TableEntityBinding, "ParentEntityGuid", true, len(chunk))
			if _, err := tx.Exec(ctx, query, guidArgs([]any{fid}, chunk)...); err != nil {
				return fmt.Errorf("clear bindings of field %d: %w", fid, err)
			}
		}
	}

	rows := make([][]any, len(p.bindings))
	for i, b := range p.bindings {
		rows[i] = []any{b.parent, b.child, b.fieldID, b.childEntityID}
	}
	n, err := execBatches(ctx, tx, s.maxParams(), len(bindingColumns), rows, func(chunk [][]any) (string, []any) {
		return s.backend.Insert(strata.TableEntityBinding, bindingColumns, chunk)
	})
	if err != nil {
		return fmt.Errorf("insert bindings: %w", err)
	}
	EmitRowCount(ctx, strata.TableEntityBinding, n)
	return nil
}

// groupByField returns the field ids of writes in ascending order and, per field,
// the guids in batch order.
func groupByField(writes []fieldWrite) ([]int64, map[int64][]string) {
	guids := make(map[int64][]string)
	for _, w := range writes {
		guids[w.field.ID] = append(guids[w.field.ID], w.guid)
	}
	ids := make([]int64, 0, len(guids))
	for id := range guids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, guids
}

func withEntityGuid(err error, guid string) error {
	var se *strata.StoreError
	if errors.As(err, &se) && se.EntityGuid == "" {
		se.EntityGuid = guid
	}
	return err
}

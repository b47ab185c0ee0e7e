package strata

import (
	"context"
	"sort"
	"time"
)

// Overview is the identity and timestamp row kept for each persisted instance.
type Overview struct {
	EntityGuid   string    `json:"entityGuid"`
	EntityID     int64     `json:"entityId"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
}

// FieldValue is one field of an instance reduced to storage terms.
// A zero Category is resolved from the registry on save.
type FieldValue struct {
	FieldID  int64           `json:"fieldId"`
	Category StorageCategory `json:"category,omitempty"`
	Value    any             `json:"value"`
}

// Entity is implemented by anything the store can persist.
//
// FieldValues enumerates the instance's fields, SetFieldValue writes a decoded
// value back while the instance is being reconstructed. Object fields carry
// Entity or []Entity values.
type Entity interface {
	Overview() *Overview
	FieldValues() []FieldValue
	SetFieldValue(fieldID int64, value any) error
}

// EntityFactory creates an empty instance for a registered definition during load.
type EntityFactory func(def *EntityDefinition) (Entity, error)

// Executor runs statements inside the save transaction.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// SaveEvent is handed to listeners around a save.
type SaveEvent struct {
	Entity Entity
	Tx     Executor
}

// SaveListener is implemented by entities that write extra rows in the save transaction.
// Returning an error aborts the whole save.
type SaveListener interface {
	OnPreSave(ctx context.Context, event SaveEvent) error
	OnPostSave(ctx context.Context, event SaveEvent) error
}

// Rows iterates a result set. Close must be called on every path.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier reads from the store's database. Placeholders are written as '?'.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// LoadEvent is handed to listeners once an instance is reconstructed.
type LoadEvent struct {
	Entity  Entity
	Querier Querier
}

// LoadListener is implemented by entities that read extra rows after load.
// OnPostLoad runs after every field, object fields included, is assigned. Its error
// is logged and the instance is still returned.
type LoadListener interface {
	OnPostLoad(ctx context.Context, event LoadEvent) error
}

// Record is a generic map-backed Entity.
type Record struct {
	overview Overview
	values   map[int64]FieldValue
}

// NewRecord returns an empty record of the given entity type.
func NewRecord(entityID int64) *Record {
	return &Record{
		overview: Overview{EntityID: entityID},
		values:   make(map[int64]FieldValue),
	}
}

// RecordFactory is the EntityFactory producing *Record values.
func RecordFactory(def *EntityDefinition) (Entity, error) {
	return NewRecord(def.ID), nil
}

func (r *Record) Overview() *Overview {
	return &r.overview
}

// Set stores a value with an explicit category.
func (r *Record) Set(fieldID int64, category StorageCategory, value any) *Record {
	if r.values == nil {
		r.values = make(map[int64]FieldValue)
	}
	r.values[fieldID] = FieldValue{FieldID: fieldID, Category: category, Value: value}
	return r
}

// Get returns the value of a field and whether it is present.
func (r *Record) Get(fieldID int64) (any, bool) {
	fv, ok := r.values[fieldID]
	return fv.Value, ok
}

// Len returns the number of populated fields.
func (r *Record) Len() int {
	return len(r.values)
}

// FieldValues returns the populated fields ordered by field id.
func (r *Record) FieldValues() []FieldValue {
	out := make([]FieldValue, 0, len(r.values))
	for _, fv := range r.values {
		out = append(out, fv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID < out[j].FieldID })
	return out
}

func (r *Record) SetFieldValue(fieldID int64, value any) error {
	if r.values == nil {
		r.values = make(map[int64]FieldValue)
	}
	current := r.values[fieldID]
	r.values[fieldID] = FieldValue{FieldID: fieldID, Category: current.Category, Value: value}
	return nil
}

package strata

import (
	"fmt"
	"sort"
)

// EntityDefinition declares an entity type and the fields bound to it.
type EntityDefinition struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	FieldIDs []int64 `json:"fieldIds"`
	// ParentID is zero for root types.
	ParentID int64 `json:"parentId,omitempty"`
}

// FieldDefinition declares a field. Its category must not change once data exists.
type FieldDefinition struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Type     FieldType       `json:"type"`
	Category StorageCategory `json:"category"`
	// EnumValues lists literals by ordinal for enum categories.
	EnumValues []string `json:"enumValues,omitempty"`
	// EntityRef is the entity type of embedded values for object categories (zero accepts any).
	EntityRef int64 `json:"entityRef,omitempty"`
}

// RegistryBuilder collects definitions during the initialization phase.
type RegistryBuilder struct {
	fields      map[int64]*FieldDefinition
	entities    map[int64]*EntityDefinition
	fieldOrder  []int64
	entityOrder []int64
	errs        []error
}

// NewRegistryBuilder starts an empty registry.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		fields:   make(map[int64]*FieldDefinition),
		entities: make(map[int64]*EntityDefinition),
	}
}

// Field registers a field definition. When Category is empty it is derived from Type.
func (b *RegistryBuilder) Field(def FieldDefinition) *RegistryBuilder {
	if def.Category == "" && def.Type != 0 {
		def.Category = CategoryOf(def.Type)
	}
	if def.ID == 0 {
		b.errs = append(b.errs, NewConfigurationError(ErrCodeInvalidDefinition, "field id must be non-zero").WithDetail("name", def.Name))
		return b
	}
	if existing, ok := b.fields[def.ID]; ok {
		if existing.Category != def.Category || existing.Name != def.Name {
			b.errs = append(b.errs, NewConfigurationError(ErrCodeInvalidDefinition, "field id registered twice with different definitions").WithFieldID(def.ID))
		}
		return b
	}
	copied := def
	copied.EnumValues = append([]string(nil), def.EnumValues...)
	b.fields[def.ID] = &copied
	b.fieldOrder = append(b.fieldOrder, def.ID)
	return b
}

// Entity registers an entity definition.
func (b *RegistryBuilder) Entity(def EntityDefinition) *RegistryBuilder {
	if def.ID == 0 {
		b.errs = append(b.errs, NewConfigurationError(ErrCodeInvalidDefinition, "entity id must be non-zero").WithDetail("name", def.Name))
		return b
	}
	if _, ok := b.entities[def.ID]; ok {
		b.errs = append(b.errs, NewConfigurationError(ErrCodeInvalidDefinition, "entity id registered twice").WithEntityID(def.ID))
		return b
	}
	copied := def
	copied.FieldIDs = append([]int64(nil), def.FieldIDs...)
	b.entities[def.ID] = &copied
	b.entityOrder = append(b.entityOrder, def.ID)
	return b
}

// Build validates the collected definitions and freezes them into a Registry.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	for _, id := range b.fieldOrder {
		f := b.fields[id]
		if !f.Category.Valid() {
			return nil, NewConfigurationError(ErrCodeInvalidDefinition, fmt.Sprintf("unknown storage category %q", f.Category)).WithFieldID(id)
		}
		if f.Category.IsEnum() && len(f.EnumValues) == 0 {
			return nil, NewConfigurationError(ErrCodeInvalidDefinition, "enum field declares no values").WithFieldID(id)
		}
		if f.Category.IsObject() && f.EntityRef != 0 {
			if _, ok := b.entities[f.EntityRef]; !ok {
				return nil, NewConfigurationError(ErrCodeUnregisteredEntity, "object field references an unregistered entity").WithFieldID(id).WithEntityID(f.EntityRef)
			}
		}
	}
	children := make(map[int64][]int64)
	for _, id := range b.entityOrder {
		e := b.entities[id]
		for _, fid := range e.FieldIDs {
			if _, ok := b.fields[fid]; !ok {
				return nil, NewUnregisteredFieldError(fid).WithEntityID(id)
			}
		}
		if e.ParentID != 0 {
			if _, ok := b.entities[e.ParentID]; !ok {
				return nil, NewConfigurationError(ErrCodeUnregisteredEntity, "parent entity is not registered").WithEntityID(id).WithDetail("parentId", e.ParentID)
			}
			children[e.ParentID] = append(children[e.ParentID], id)
		}
	}
	for _, id := range b.entityOrder {
		seen := map[int64]bool{id: true}
		for p := b.entities[id].ParentID; p != 0; p = b.entities[p].ParentID {
			if seen[p] {
				return nil, NewConfigurationError(ErrCodeInvalidDefinition, "entity inheritance cycle").WithEntityID(id)
			}
			seen[p] = true
		}
	}

	r := &Registry{
		fields:   b.fields,
		entities: b.entities,
		children: children,
		bound:    make(map[int64]map[int64]bool, len(b.entities)),
		merged:   make(map[int64][]*FieldDefinition, len(b.entities)),
	}
	for _, id := range b.entityOrder {
		r.merged[id] = r.resolveFields(id)
		set := make(map[int64]bool, len(r.merged[id]))
		for _, f := range r.merged[id] {
			set[f.ID] = true
		}
		r.bound[id] = set
	}
	return r, nil
}

// Registry is the read-only set of entity and field definitions shared by the store.
type Registry struct {
	fields   map[int64]*FieldDefinition
	entities map[int64]*EntityDefinition
	children map[int64][]int64
	bound    map[int64]map[int64]bool
	merged   map[int64][]*FieldDefinition
}

func (r *Registry) Entity(id int64) (*EntityDefinition, bool) {
	e, ok := r.entities[id]
	return e, ok
}

func (r *Registry) Field(id int64) (*FieldDefinition, bool) {
	f, ok := r.fields[id]
	return f, ok
}

// EntityByName looks an entity type up by its name.
func (r *Registry) EntityByName(name string) (*EntityDefinition, bool) {
	for _, e := range r.entities {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Entities returns all entity definitions ordered by id.
func (r *Registry) Entities() []*EntityDefinition {
	out := make([]*EntityDefinition, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllFields returns all field definitions ordered by id.
func (r *Registry) AllFields() []*FieldDefinition {
	out := make([]*FieldDefinition, 0, len(r.fields))
	for _, f := range r.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Parent returns the direct parent of an entity type.
func (r *Registry) Parent(entityID int64) (*EntityDefinition, bool) {
	e, ok := r.entities[entityID]
	if !ok || e.ParentID == 0 {
		return nil, false
	}
	return r.Entity(e.ParentID)
}

// Lineage returns the entity followed by its ancestors, nearest first.
func (r *Registry) Lineage(entityID int64) []*EntityDefinition {
	var out []*EntityDefinition
	for e, ok := r.entities[entityID]; ok; e, ok = r.Parent(e.ID) {
		out = append(out, e)
	}
	return out
}

// Fields returns the fields bound to an entity including inherited ones, ancestors first.
func (r *Registry) Fields(entityID int64) []*FieldDefinition {
	return r.merged[entityID]
}

// Bound reports whether a field is bound to the entity or one of its ancestors.
func (r *Registry) Bound(entityID, fieldID int64) bool {
	return r.bound[entityID][fieldID]
}

// FieldByName finds a bound field of an entity by name.
func (r *Registry) FieldByName(entityID int64, name string) (*FieldDefinition, bool) {
	for _, f := range r.merged[entityID] {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Descendants returns the entity id followed by every transitive child type id.
func (r *Registry) Descendants(entityID int64) []int64 {
	out := []int64{entityID}
	for i := 0; i < len(out); i++ {
		kids := append([]int64(nil), r.children[out[i]]...)
		sort.Slice(kids, func(a, b int) bool { return kids[a] < kids[b] })
		out = append(out, kids...)
	}
	return out
}

// EnumLiteral decodes an ordinal of an enum field.
func (r *Registry) EnumLiteral(fieldID int64, ordinal int) (string, bool) {
	f, ok := r.fields[fieldID]
	if !ok || ordinal < 0 || ordinal >= len(f.EnumValues) {
		return "", false
	}
	return f.EnumValues[ordinal], true
}

// EnumOrdinal encodes a literal of an enum field.
func (r *Registry) EnumOrdinal(fieldID int64, literal string) (int, bool) {
	f, ok := r.fields[fieldID]
	if !ok {
		return 0, false
	}
	for i, v := range f.EnumValues {
		if v == literal {
			return i, true
		}
	}
	return 0, false
}

func (r *Registry) resolveFields(entityID int64) []*FieldDefinition {
	lineage := r.Lineage(entityID)
	seen := make(map[int64]bool)
	var out []*FieldDefinition
	for i := len(lineage) - 1; i >= 0; i-- {
		for _, fid := range lineage[i].FieldIDs {
			if seen[fid] {
				continue
			}
			seen[fid] = true
			out = append(out, r.fields[fid])
		}
	}
	return out
}

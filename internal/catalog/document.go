package catalog

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/strata"
)

const (
	guidKey   = "$guid"
	entityKey = "$entity"
)

// Document is the JSON form of one entity instance.
// Nested objects are plain JSON objects; "$guid" and "$entity" carry their identity.
type Document struct {
	Guid         string         `json:"guid,omitempty"`
	Entity       string         `json:"entity"`
	DateCreated  *time.Time     `json:"dateCreated,omitempty"`
	DateModified *time.Time     `json:"dateModified,omitempty"`
	Data         map[string]any `json:"data"`
}

// ParseDocument reads a document keeping numbers as json.Number.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeTypeMismatch, fmt.Sprintf("parse document: %v", err)).WithCause(err)
	}
	return &doc, nil
}

// Decode validates a document against the schemas of its entity type and its
// ancestors and converts it to a record.
func (c *Catalog) Decode(doc *Document) (*strata.Record, error) {
	es, ok := c.byName[doc.Entity]
	if !ok {
		return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeUnregisteredEntity, fmt.Sprintf("entity %q is not in the catalog", doc.Entity))
	}
	rec, err := c.decodeObject(es, doc.Guid, doc.Data)
	if err != nil {
		return nil, err
	}
	ov := rec.Overview()
	if doc.DateCreated != nil {
		ov.DateCreated = *doc.DateCreated
	}
	if doc.DateModified != nil {
		ov.DateModified = *doc.DateModified
	}
	return rec, nil
}

func (c *Catalog) decodeObject(es *entitySchema, guid string, data map[string]any) (*strata.Record, error) {
	if err := c.validate(es, data); err != nil {
		return nil, err
	}

	rec := strata.NewRecord(es.id)
	rec.Overview().EntityGuid = guid

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if strings.HasPrefix(name, "$") {
			continue
		}
		fieldID, ok := es.props[name]
		if !ok {
			return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeFieldNotBound, fmt.Sprintf("%s has no property %q", es.name, name)).WithEntityID(es.id)
		}
		field, _ := c.registry.Field(fieldID)
		value, err := c.fromJSON(field, data[name])
		if err != nil {
			return nil, err
		}
		canonical, err := strata.NormalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		rec.Set(field.ID, field.Category, canonical)
	}
	return rec, nil
}

// validate checks data against every schema in the lineage. Identity keys are not part of the schema.
func (c *Catalog) validate(es *entitySchema, data map[string]any) error {
	plain := make(map[string]any, len(data))
	for k, v := range data {
		if !strings.HasPrefix(k, "$") {
			plain[k] = v
		}
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeTypeMismatch, err.Error()).WithCause(err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeTypeMismatch, err.Error()).WithCause(err)
	}

	for _, def := range c.registry.Lineage(es.id) {
		schema := c.byID[def.ID]
		if err := schema.resolved.Validate(instance); err != nil {
			return strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeTypeMismatch, fmt.Sprintf("document does not match schema %s: %v", schema.name, err)).
				WithEntityID(es.id).WithCause(err)
		}
	}
	return nil
}

func (c *Catalog) fromJSON(f *strata.FieldDefinition, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case f.Category == strata.CategoryObject:
		return c.nestedFromJSON(f, v)
	case f.Category.IsArray():
		items, ok := v.([]any)
		if !ok {
			return nil, typeError(f, v)
		}
		if f.Category == strata.CategoryObjectArray {
			out := make([]strata.Entity, 0, len(items))
			for _, item := range items {
				e, err := c.nestedFromJSON(f, item)
				if err != nil {
					return nil, err
				}
				out = append(out, e)
			}
			return out, nil
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			x, err := scalarFromJSON(f, f.Category.Element(), item)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	}
	return scalarFromJSON(f, f.Category, v)
}

func (c *Catalog) nestedFromJSON(f *strata.FieldDefinition, v any) (*strata.Record, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, typeError(f, v)
	}
	target := c.byID[f.EntityRef]
	if name, ok := obj[entityKey].(string); ok {
		sub, known := c.byName[name]
		if !known {
			return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeUnregisteredEntity, fmt.Sprintf("entity %q is not in the catalog", name)).WithFieldID(f.ID)
		}
		target = sub
	}
	if target == nil {
		return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeTypeMismatch, "nested object needs an $entity or an x-entity-ref").WithFieldID(f.ID)
	}
	guid, _ := obj[guidKey].(string)
	return c.decodeObject(target, guid, obj)
}

func scalarFromJSON(f *strata.FieldDefinition, category strata.StorageCategory, v any) (any, error) {
	switch category {
	case strata.CategoryInteger, strata.CategoryLong:
		n, ok := v.(json.Number)
		if !ok {
			return nil, typeError(f, v)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, typeError(f, v)
		}
		return i, nil
	case strata.CategoryFloat, strata.CategoryDouble:
		switch n := v.(type) {
		case json.Number:
			x, err := n.Float64()
			if err != nil {
				return nil, typeError(f, v)
			}
			return x, nil
		case float64:
			return n, nil
		}
		return nil, typeError(f, v)
	case strata.CategoryDateTime, strata.CategoryZonedDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(f, v)
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				if t.Nanosecond()%int(time.Millisecond) != 0 {
					return nil, typeError(f, v)
				}
				return t, nil
			}
		}
		return nil, typeError(f, v)
	case strata.CategoryTime:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(f, v)
		}
		// Parse accepts a fractional second the layout does not name; times are whole seconds.
		t, err := time.Parse("15:04:05", s)
		if err != nil || t.Nanosecond() != 0 {
			return nil, typeError(f, v)
		}
		return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
	case strata.CategoryBlob:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(f, v)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, typeError(f, v)
		}
		return b, nil
	}
	return v, nil
}

func typeError(f *strata.FieldDefinition, v any) *strata.StoreError {
	return strata.NewValidationError(f.ID, fmt.Sprintf("JSON %T cannot be read as %s", v, f.Category)).WithDetail("field", f.Name)
}

// Encode renders an entity and its reachable objects as a document. An object
// already on the current path is written as a {"$guid": ...} reference.
func (c *Catalog) Encode(e strata.Entity) (*Document, error) {
	ov := e.Overview()
	name, ok := c.names[ov.EntityID]
	if !ok {
		return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeUnregisteredEntity, "entity type is not in the catalog").WithEntityID(ov.EntityID)
	}
	data, err := c.encodeFields(e, map[strata.Entity]bool{e: true})
	if err != nil {
		return nil, err
	}
	doc := &Document{Guid: ov.EntityGuid, Entity: name, Data: data}
	if !ov.DateCreated.IsZero() {
		created := ov.DateCreated.UTC()
		doc.DateCreated = &created
	}
	if !ov.DateModified.IsZero() {
		modified := ov.DateModified.UTC()
		doc.DateModified = &modified
	}
	return doc, nil
}

func (c *Catalog) encodeFields(e strata.Entity, path map[strata.Entity]bool) (map[string]any, error) {
	data := make(map[string]any)
	for _, fv := range e.FieldValues() {
		field, ok := c.registry.Field(fv.FieldID)
		if !ok {
			return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeUnregisteredField, "field is not in the catalog").WithFieldID(fv.FieldID)
		}
		v, err := c.toJSON(field, fv.Value, path)
		if err != nil {
			return nil, err
		}
		data[field.Name] = v
	}
	return data, nil
}

func (c *Catalog) toJSON(f *strata.FieldDefinition, v any, path map[strata.Entity]bool) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case strata.Entity:
		return c.nestedToJSON(x, path)
	case []strata.Entity:
		out := make([]any, 0, len(x))
		for _, e := range x {
			item, err := c.nestedToJSON(e, path)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case []time.Time:
		out := make([]string, len(x))
		for i, t := range x {
			out[i] = t.UTC().Format(time.RFC3339Nano)
		}
		return out, nil
	case time.Duration:
		return time.Time{}.Add(x).Format("15:04:05"), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	}
	return v, nil
}

func (c *Catalog) nestedToJSON(e strata.Entity, path map[strata.Entity]bool) (any, error) {
	ov := e.Overview()
	name, ok := c.names[ov.EntityID]
	if !ok {
		return nil, strata.NewStoreError(strata.ErrorTypeValidation, strata.ErrCodeUnregisteredEntity, "entity type is not in the catalog").WithEntityID(ov.EntityID)
	}
	if path[e] {
		return map[string]any{guidKey: ov.EntityGuid, entityKey: name}, nil
	}
	path[e] = true
	defer delete(path, e)

	data, err := c.encodeFields(e, path)
	if err != nil {
		return nil, err
	}
	if ov.EntityGuid != "" {
		data[guidKey] = ov.EntityGuid
	}
	data[entityKey] = name
	return data, nil
}

// Field resolves a property of an entity type, inherited ones included.
func (c *Catalog) Field(entity, property string) (*strata.FieldDefinition, bool) {
	es, ok := c.byName[entity]
	if !ok {
		return nil, false
	}
	return c.registry.FieldByName(es.id, property)
}

// ParseLiteral reads a query-string literal as one element of the field.
func ParseLiteral(f *strata.FieldDefinition, raw string) (any, error) {
	category := f.Category.Element()
	switch category {
	case strata.CategoryText, strata.CategoryEnum:
		return raw, nil
	case strata.CategoryBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, typeError(f, raw)
		}
		return b, nil
	case strata.CategoryInteger, strata.CategoryLong, strata.CategoryFloat, strata.CategoryDouble:
		return scalarFromJSON(f, category, json.Number(raw))
	case strata.CategoryObject:
		return nil, strata.NewValidationError(f.ID, "object fields cannot be compared")
	}
	return scalarFromJSON(f, category, raw)
}

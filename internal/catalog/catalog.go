// Package catalog builds a strata registry from JSON-Schema entity documents and
// converts JSON documents to and from records.
//
// Each schema describes one entity type:
//
//	{
//	  "title": "person",
//	  "type": "object",
//	  "x-entity-id": 1,
//	  "x-parent": "party",
//	  "properties": {
//	    "age":     {"type": "integer", "x-field-id": 10},
//	    "born":    {"type": "string", "format": "date-time", "x-field-id": 15},
//	    "height":  {"type": "integer", "x-field-id": 24, "x-category": "long"},
//	    "address": {"type": "object", "x-field-id": 16, "x-entity-ref": "address"}
//	  }
//	}
//
// The storage category is inferred from the JSON type and format; x-category overrides it.
package catalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

type schemaDoc struct {
	Title      string                 `json:"title"`
	EntityID   int64                  `json:"x-entity-id"`
	Parent     string                 `json:"x-parent"`
	Properties map[string]propertyDoc `json:"properties"`
}

type propertyDoc struct {
	Type            json.RawMessage        `json:"type"`
	Format          string                 `json:"format"`
	ContentEncoding string                 `json:"contentEncoding"`
	Enum            []any                  `json:"enum"`
	Items           *propertyDoc           `json:"items"`
	FieldID         int64                  `json:"x-field-id"`
	Category        strata.StorageCategory `json:"x-category"`
	EntityRef       string                 `json:"x-entity-ref"`
}

// entitySchema is one parsed entity document.
type entitySchema struct {
	id       int64
	name     string
	parent   string
	resolved *jsonschema.Resolved
	// props maps property names of this type and its ancestors to field ids.
	props map[string]int64
}

// Catalog is the set of entity schemas and the registry derived from them.
type Catalog struct {
	registry *strata.Registry
	byName   map[string]*entitySchema
	byID     map[int64]*entitySchema
	names    map[int64]string
}

// LoadDir reads every *.json schema in dir.
func LoadDir(dir string) (*Catalog, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS reads every *.json schema in dir of fsys, in name order.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read schema directory: %w", err)
	}
	docs := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		docs[strings.TrimSuffix(entry.Name(), ".json")] = data
	}
	return New(docs)
}

// New parses schema documents keyed by a fallback entity name (used when a schema has no title).
func New(docs map[string][]byte) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]*entitySchema),
		byID:   make(map[int64]*entitySchema),
		names:  make(map[int64]string),
	}

	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parsed := make(map[string]schemaDoc, len(docs))
	for _, key := range keys {
		doc, es, err := parseSchema(key, docs[key])
		if err != nil {
			return nil, err
		}
		if _, dup := c.byName[es.name]; dup {
			return nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("entity %q declared twice", es.name))
		}
		if other, dup := c.byID[es.id]; dup {
			return nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("entities %q and %q share an id", other.name, es.name)).WithEntityID(es.id)
		}
		c.byName[es.name] = es
		c.byID[es.id] = es
		c.names[es.id] = es.name
		parsed[es.name] = doc
	}

	builder := strata.NewRegistryBuilder()
	for _, name := range sortedNames(c.byName) {
		es := c.byName[name]
		doc := parsed[name]
		def := strata.EntityDefinition{ID: es.id, Name: es.name}
		if es.parent != "" {
			parent, ok := c.byName[es.parent]
			if !ok {
				return nil, strata.NewConfigurationError(strata.ErrCodeUnregisteredEntity, fmt.Sprintf("parent %q of %q is not declared", es.parent, es.name)).WithEntityID(es.id)
			}
			def.ParentID = parent.id
		}

		props := make([]string, 0, len(doc.Properties))
		for p := range doc.Properties {
			props = append(props, p)
		}
		sort.Strings(props)
		for _, p := range props {
			field, err := c.fieldOf(es, p, doc.Properties[p])
			if err != nil {
				return nil, err
			}
			builder.Field(field)
			def.FieldIDs = append(def.FieldIDs, field.ID)
		}
		builder.Entity(def)
	}

	registry, err := builder.Build()
	if err != nil {
		return nil, err
	}
	c.registry = registry

	for _, es := range c.byID {
		es.props = make(map[string]int64)
		for _, f := range registry.Fields(es.id) {
			es.props[f.Name] = f.ID
		}
	}
	zap.S().Infow("entity catalog loaded", "entities", len(c.byID), "fields", len(registry.AllFields()))
	return c, nil
}

func sortedNames(m map[string]*entitySchema) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseSchema(key string, data []byte) (schemaDoc, *entitySchema, error) {
	var doc schemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("parse schema %s: %v", key, err)).WithCause(err)
	}
	name := doc.Title
	if name == "" {
		name = key
	}
	if doc.EntityID == 0 {
		return doc, nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("schema %q has no x-entity-id", name))
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return doc, nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("failed to unmarshal into jsonschema.Schema: %v", err)).WithCause(err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return doc, nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("failed to resolve JSON schema %s: %v", name, err)).WithCause(err)
	}
	return doc, &entitySchema{id: doc.EntityID, name: name, parent: doc.Parent, resolved: resolved}, nil
}

func (c *Catalog) fieldOf(es *entitySchema, name string, p propertyDoc) (strata.FieldDefinition, error) {
	if p.FieldID == 0 {
		return strata.FieldDefinition{}, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("property %s.%s has no x-field-id", es.name, name)).WithEntityID(es.id)
	}
	field := strata.FieldDefinition{ID: p.FieldID, Name: name, Category: p.Category}
	if field.Category == "" {
		category, err := inferCategory(p)
		if err != nil {
			return field, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("property %s.%s: %v", es.name, name, err)).WithFieldID(p.FieldID)
		}
		field.Category = category
	}

	enum := p.Enum
	if p.Items != nil && len(enum) == 0 {
		enum = p.Items.Enum
	}
	for _, v := range enum {
		s, ok := v.(string)
		if !ok {
			return field, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("property %s.%s has a non-string enum value", es.name, name)).WithFieldID(p.FieldID)
		}
		field.EnumValues = append(field.EnumValues, s)
	}

	if p.EntityRef != "" {
		ref, ok := c.byName[p.EntityRef]
		if !ok {
			return field, strata.NewConfigurationError(strata.ErrCodeUnregisteredEntity, fmt.Sprintf("property %s.%s references undeclared entity %q", es.name, name, p.EntityRef)).WithFieldID(p.FieldID)
		}
		field.EntityRef = ref.id
	}
	return field, nil
}

func jsonType(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if t != "null" {
				return t
			}
		}
	}
	return ""
}

func inferCategory(p propertyDoc) (strata.StorageCategory, error) {
	switch jsonType(p.Type) {
	case "string":
		switch {
		case len(p.Enum) > 0:
			return strata.CategoryEnum, nil
		case p.Format == "date-time" || p.Format == "date":
			return strata.CategoryDateTime, nil
		case p.Format == "time":
			return strata.CategoryTime, nil
		case p.ContentEncoding == "base64":
			return strata.CategoryBlob, nil
		}
		return strata.CategoryText, nil
	case "integer":
		return strata.CategoryInteger, nil
	case "number":
		return strata.CategoryDouble, nil
	case "boolean":
		return strata.CategoryBoolean, nil
	case "object":
		return strata.CategoryObject, nil
	case "array":
		if p.Items == nil {
			return "", fmt.Errorf("array without items")
		}
		elem, err := inferCategory(*p.Items)
		if err != nil {
			return "", err
		}
		return arrayOf(elem)
	}
	return "", fmt.Errorf("cannot infer a storage category from type %s", string(p.Type))
}

func arrayOf(elem strata.StorageCategory) (strata.StorageCategory, error) {
	switch elem {
	case strata.CategoryText:
		return strata.CategoryTextArray, nil
	case strata.CategoryEnum:
		return strata.CategoryEnumArray, nil
	case strata.CategoryInteger:
		return strata.CategoryIntegerArray, nil
	case strata.CategoryLong:
		return strata.CategoryLongArray, nil
	case strata.CategoryFloat:
		return strata.CategoryFloatArray, nil
	case strata.CategoryDouble:
		return strata.CategoryDoubleArray, nil
	case strata.CategoryDateTime:
		return strata.CategoryDateTimeArray, nil
	case strata.CategoryObject:
		return strata.CategoryObjectArray, nil
	}
	return "", fmt.Errorf("%s values cannot be stored in an array", elem)
}

// Registry returns the registry built from the schemas.
func (c *Catalog) Registry() *strata.Registry {
	return c.registry
}

// EntityID resolves an entity name.
func (c *Catalog) EntityID(name string) (int64, bool) {
	es, ok := c.byName[name]
	if !ok {
		return 0, false
	}
	return es.id, true
}

// EntityName resolves an entity id.
func (c *Catalog) EntityName(id int64) (string, bool) {
	name, ok := c.names[id]
	return name, ok
}

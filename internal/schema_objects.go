package internal

import (
	"strings"

	"github.com/lychee-technology/strata"
)

// SchemaObject is one persisted object the bootstrapper converges on.
type SchemaObject struct {
	// Name is the catalog name probed for existence.
	Name string
	// Symbol is the logical definition name, e.g. "save-text".
	Symbol string
	Kind   ObjectKind
	// Template is the definition block rendered for the object.
	Template string
	// Table is set for objects bound to one attribute table.
	Table *strata.Table
}

// definitionData is handed to definition templates.
type definitionData struct {
	Name      string
	Table     string
	Array     bool
	ValueType string
	Types     map[string]string
}

func dataFor(b DialectBackend, obj SchemaObject) definitionData {
	data := definitionData{Name: obj.Name, Table: obj.Name, Types: b.TypeNames()}
	if obj.Table != nil {
		data.Table = obj.Table.Name
		data.Array = obj.Table.Array
		data.ValueType = b.ColumnType(strata.ValueCategory(*obj.Table))
	}
	return data
}

func referenceObjects() []SchemaObject {
	return []SchemaObject{
		{Name: strata.TableRefEntities, Symbol: "ref-entities", Kind: KindTable, Template: "ref_entities"},
		{Name: strata.TableRefFields, Symbol: "ref-fields", Kind: KindTable, Template: "ref_fields"},
		{Name: strata.TableRefFieldTypes, Symbol: "ref-field-types", Kind: KindTable, Template: "ref_field_types"},
		{Name: strata.TableRefEnumValues, Symbol: "ref-enum-values", Kind: KindTable, Template: "ref_enum_values"},
	}
}

func bindingObjects() []SchemaObject {
	return []SchemaObject{
		{Name: strata.TableBindEntityFields, Symbol: "bind-entity-fields", Kind: KindTable, Template: "bind_entity_fields"},
		{Name: strata.TableBindEntityEnums, Symbol: "bind-entity-enums", Kind: KindTable, Template: "bind_entity_enums"},
		{Name: strata.TableEntityInheritance, Symbol: "entity-inheritance", Kind: KindTable, Template: "entity_inheritance"},
	}
}

// attributeObjects leads with the overview table: every attribute table references it.
func attributeObjects() []SchemaObject {
	objs := []SchemaObject{overviewObject()}
	for _, t := range strata.AttributeTables() {
		table := t
		objs = append(objs, SchemaObject{
			Name:     t.Name,
			Symbol:   "store-" + symbolOf(t.Name),
			Kind:     KindTable,
			Template: "attribute_table",
			Table:    &table,
		})
	}
	return objs
}

func overviewHistoryObjects() []SchemaObject {
	return []SchemaObject{
		overviewObject(),
		{Name: strata.TableOldFieldValues, Symbol: "old-field-values", Kind: KindTable, Template: "history_table"},
		{Name: strata.TableEntityBinding, Symbol: "entity-binding", Kind: KindTable, Template: "entity_binding"},
	}
}

func overviewObject() SchemaObject {
	return SchemaObject{Name: strata.TableEntityOverview, Symbol: "entity-overview", Kind: KindTable, Template: "overview_table"}
}

// scalarProcedureCategories get one save procedure each.
var scalarProcedureCategories = []strata.StorageCategory{
	strata.CategoryText, strata.CategoryInteger, strata.CategoryLong, strata.CategoryFloat, strata.CategoryDouble,
	strata.CategoryBoolean, strata.CategoryDateTime, strata.CategoryZonedDateTime, strata.CategoryTime, strata.CategoryBlob,
}

// standardExtras are the stored procedures of backends that support them.
func standardExtras() []SchemaObject {
	var objs []SchemaObject
	for _, c := range scalarProcedureCategories {
		t := strata.TableFor(c)
		objs = append(objs, SchemaObject{
			Name:     "proc" + strings.TrimPrefix(t.Name, "Jds"),
			Symbol:   "save-" + strings.ReplaceAll(string(c), "_", "-"),
			Kind:     KindProcedure,
			Template: "save_value_procedure",
			Table:    &t,
		})
	}
	return append(objs,
		SchemaObject{Name: "procStoreEntityOverview", Symbol: "save-entity", Kind: KindProcedure, Template: "save_entity_procedure"},
		SchemaObject{Name: "procBindEntityFields", Symbol: "map-entity-fields", Kind: KindProcedure, Template: "map_entity_fields_procedure"},
		SchemaObject{Name: "procBindEntityEnums", Symbol: "map-entity-enums", Kind: KindProcedure, Template: "map_entity_enums_procedure"},
		SchemaObject{Name: "procRefEntities", Symbol: "map-class-name", Kind: KindProcedure, Template: "map_class_name_procedure"},
		SchemaObject{Name: "procRefEnumValues", Symbol: "map-enum-values", Kind: KindProcedure, Template: "map_enum_values_procedure"},
	)
}

// symbolOf turns JdsStoreDateTimeArray into date-time-array.
func symbolOf(table string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(table, "JdsStore"), "Jds")
	var sb strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// concatObjects joins object lists keeping the first occurrence of each name.
func concatObjects(lists ...[]SchemaObject) []SchemaObject {
	seen := make(map[string]bool)
	var out []SchemaObject
	for _, list := range lists {
		for _, obj := range list {
			if seen[obj.Name] {
				continue
			}
			seen[obj.Name] = true
			out = append(out, obj)
		}
	}
	return out
}

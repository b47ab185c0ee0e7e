package strata

import "fmt"

// FieldType is the declared kind of a field as the entity mapping sees it.
type FieldType int

const (
	FieldTypeText FieldType = iota + 1
	FieldTypeInt
	FieldTypeLong
	FieldTypeFloat
	FieldTypeDouble
	FieldTypeBoolean
	FieldTypeDate
	FieldTypeDateTime
	FieldTypeZonedDateTime
	FieldTypeTime
	FieldTypeBlob
	FieldTypeEnum
	FieldTypeEnumCollection
	FieldTypeTextCollection
	FieldTypeIntCollection
	FieldTypeLongCollection
	FieldTypeFloatCollection
	FieldTypeDoubleCollection
	FieldTypeDateTimeCollection
	FieldTypeEntity
	FieldTypeEntityCollection
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeText:               "text",
	FieldTypeInt:                "int",
	FieldTypeLong:               "long",
	FieldTypeFloat:              "float",
	FieldTypeDouble:             "double",
	FieldTypeBoolean:            "boolean",
	FieldTypeDate:               "date",
	FieldTypeDateTime:           "date_time",
	FieldTypeZonedDateTime:      "zoned_date_time",
	FieldTypeTime:               "time",
	FieldTypeBlob:               "blob",
	FieldTypeEnum:               "enum",
	FieldTypeEnumCollection:     "enum_collection",
	FieldTypeTextCollection:     "text_collection",
	FieldTypeIntCollection:      "int_collection",
	FieldTypeLongCollection:     "long_collection",
	FieldTypeFloatCollection:    "float_collection",
	FieldTypeDoubleCollection:   "double_collection",
	FieldTypeDateTimeCollection: "date_time_collection",
	FieldTypeEntity:             "entity",
	FieldTypeEntityCollection:   "entity_collection",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType resolves a field type by its name.
func ParseFieldType(name string) (FieldType, bool) {
	for t, n := range fieldTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// StorageCategory identifies the attribute table family a value is persisted in.
type StorageCategory string

const (
	CategoryText          StorageCategory = "text"
	CategoryInteger       StorageCategory = "integer"
	CategoryLong          StorageCategory = "long"
	CategoryFloat         StorageCategory = "float"
	CategoryDouble        StorageCategory = "double"
	CategoryBoolean       StorageCategory = "boolean"
	CategoryDateTime      StorageCategory = "date_time"
	CategoryZonedDateTime StorageCategory = "zoned_date_time"
	CategoryTime          StorageCategory = "time"
	CategoryBlob          StorageCategory = "blob"
	CategoryEnum          StorageCategory = "enum"
	CategoryEnumArray     StorageCategory = "enum_array"
	CategoryTextArray     StorageCategory = "text_array"
	CategoryIntegerArray  StorageCategory = "integer_array"
	CategoryLongArray     StorageCategory = "long_array"
	CategoryFloatArray    StorageCategory = "float_array"
	CategoryDoubleArray   StorageCategory = "double_array"
	CategoryDateTimeArray StorageCategory = "date_time_array"
	CategoryObject        StorageCategory = "object"
	CategoryObjectArray   StorageCategory = "object_array"
)

// Categories lists every storage category in a stable order.
var Categories = []StorageCategory{
	CategoryText, CategoryInteger, CategoryLong, CategoryFloat, CategoryDouble, CategoryBoolean,
	CategoryDateTime, CategoryZonedDateTime, CategoryTime, CategoryBlob, CategoryEnum, CategoryEnumArray,
	CategoryTextArray, CategoryIntegerArray, CategoryLongArray, CategoryFloatArray, CategoryDoubleArray,
	CategoryDateTimeArray, CategoryObject, CategoryObjectArray,
}

// Valid reports whether c is one of the known categories.
func (c StorageCategory) Valid() bool {
	_, ok := tables[c]
	return ok
}

// IsArray reports whether values of the category are ordered collections.
func (c StorageCategory) IsArray() bool {
	switch c {
	case CategoryEnumArray, CategoryTextArray, CategoryIntegerArray, CategoryLongArray,
		CategoryFloatArray, CategoryDoubleArray, CategoryDateTimeArray, CategoryObjectArray:
		return true
	}
	return false
}

// IsEnum reports whether values are decoded through the field's enum literals.
func (c StorageCategory) IsEnum() bool {
	return c == CategoryEnum || c == CategoryEnumArray
}

// IsObject reports whether values are embedded entities persisted through entity bindings.
func (c StorageCategory) IsObject() bool {
	return c == CategoryObject || c == CategoryObjectArray
}

// Element returns the scalar category of an array category's elements.
func (c StorageCategory) Element() StorageCategory {
	switch c {
	case CategoryEnumArray:
		return CategoryEnum
	case CategoryTextArray:
		return CategoryText
	case CategoryIntegerArray:
		return CategoryInteger
	case CategoryLongArray:
		return CategoryLong
	case CategoryFloatArray:
		return CategoryFloat
	case CategoryDoubleArray:
		return CategoryDouble
	case CategoryDateTimeArray:
		return CategoryDateTime
	case CategoryObjectArray:
		return CategoryObject
	}
	return c
}

// CategoryOf maps a declared field type to its storage category.
func CategoryOf(t FieldType) StorageCategory {
	switch t {
	case FieldTypeText:
		return CategoryText
	case FieldTypeInt:
		return CategoryInteger
	case FieldTypeLong:
		return CategoryLong
	case FieldTypeFloat:
		return CategoryFloat
	case FieldTypeDouble:
		return CategoryDouble
	case FieldTypeBoolean:
		return CategoryBoolean
	case FieldTypeDate, FieldTypeDateTime:
		return CategoryDateTime
	case FieldTypeZonedDateTime:
		return CategoryZonedDateTime
	case FieldTypeTime:
		return CategoryTime
	case FieldTypeBlob:
		return CategoryBlob
	case FieldTypeEnum:
		return CategoryEnum
	case FieldTypeEnumCollection:
		return CategoryEnumArray
	case FieldTypeTextCollection:
		return CategoryTextArray
	case FieldTypeIntCollection:
		return CategoryIntegerArray
	case FieldTypeLongCollection:
		return CategoryLongArray
	case FieldTypeFloatCollection:
		return CategoryFloatArray
	case FieldTypeDoubleCollection:
		return CategoryDoubleArray
	case FieldTypeDateTimeCollection:
		return CategoryDateTimeArray
	case FieldTypeEntity:
		return CategoryObject
	case FieldTypeEntityCollection:
		return CategoryObjectArray
	}
	panic(fmt.Sprintf("strata: unmapped field type %v", t))
}

// Table describes where a storage category lives.
type Table struct {
	Name   string
	Prefix string
	// Array tables carry a Sequence column in their key.
	Array bool
	// HistoryColumn is the JdsStoreOldFieldValues column old values of this family are kept in.
	HistoryColumn string
}

// Persisted object names. These are part of the on-disk contract and never change.
const (
	TableEntityOverview    = "JdsStoreEntityOverview"
	TableRefEntities       = "JdsRefEntities"
	TableRefFields         = "JdsRefFields"
	TableRefFieldTypes     = "JdsRefFieldTypes"
	TableRefEnumValues     = "JdsRefEnumValues"
	TableBindEntityFields  = "JdsBindEntityFields"
	TableBindEntityEnums   = "JdsBindEntityEnums"
	TableEntityInheritance = "JdsRefEntityInheritance"
	TableOldFieldValues    = "JdsStoreOldFieldValues"
	TableEntityBinding     = "JdsStoreEntityBinding"

	TableStoreText          = "JdsStoreText"
	TableStoreInteger       = "JdsStoreInteger"
	TableStoreLong          = "JdsStoreLong"
	TableStoreFloat         = "JdsStoreFloat"
	TableStoreDouble        = "JdsStoreDouble"
	TableStoreBoolean       = "JdsStoreBoolean"
	TableStoreDateTime      = "JdsStoreDateTime"
	TableStoreZonedDateTime = "JdsStoreZonedDateTime"
	TableStoreTime          = "JdsStoreTime"
	TableStoreBlob          = "JdsStoreBlob"
	TableStoreTextArray     = "JdsStoreTextArray"
	TableStoreIntegerArray  = "JdsStoreIntegerArray"
	TableStoreLongArray     = "JdsStoreLongArray"
	TableStoreFloatArray    = "JdsStoreFloatArray"
	TableStoreDoubleArray   = "JdsStoreDoubleArray"
	TableStoreDateTimeArray = "JdsStoreDateTimeArray"
)

// Column names shared by every dialect.
const (
	ColEntityGuid   = "EntityGuid"
	ColEntityID     = "EntityId"
	ColFieldID      = "FieldId"
	ColValue        = "Value"
	ColSequence     = "Sequence"
	ColDateCreated  = "DateCreated"
	ColDateModified = "DateModified"
	ColEnumSeq      = "EnumSeq"
	ColEnumValue    = "EnumValue"
)

var (
	textTable          = Table{Name: TableStoreText, Prefix: "st", HistoryColumn: "TextValue"}
	integerTable       = Table{Name: TableStoreInteger, Prefix: "si", HistoryColumn: "IntegerValue"}
	longTable          = Table{Name: TableStoreLong, Prefix: "sl", HistoryColumn: "LongValue"}
	floatTable         = Table{Name: TableStoreFloat, Prefix: "sf", HistoryColumn: "FloatValue"}
	doubleTable        = Table{Name: TableStoreDouble, Prefix: "sd", HistoryColumn: "DoubleValue"}
	booleanTable       = Table{Name: TableStoreBoolean, Prefix: "sb", HistoryColumn: "IntegerValue"}
	dateTimeTable      = Table{Name: TableStoreDateTime, Prefix: "sdt", HistoryColumn: "DateTimeValue"}
	zonedDateTimeTable = Table{Name: TableStoreZonedDateTime, Prefix: "szdt", HistoryColumn: "LongValue"}
	timeTable          = Table{Name: TableStoreTime, Prefix: "stm", HistoryColumn: "IntegerValue"}
	blobTable          = Table{Name: TableStoreBlob, Prefix: "sbl", HistoryColumn: "BlobValue"}
	textArrayTable     = Table{Name: TableStoreTextArray, Prefix: "sta", Array: true, HistoryColumn: "TextValue"}
	integerArrayTable  = Table{Name: TableStoreIntegerArray, Prefix: "sia", Array: true, HistoryColumn: "IntegerValue"}
	longArrayTable     = Table{Name: TableStoreLongArray, Prefix: "sla", Array: true, HistoryColumn: "LongValue"}
	floatArrayTable    = Table{Name: TableStoreFloatArray, Prefix: "sfa", Array: true, HistoryColumn: "FloatValue"}
	doubleArrayTable   = Table{Name: TableStoreDoubleArray, Prefix: "sda", Array: true, HistoryColumn: "DoubleValue"}
	dateTimeArrayTable = Table{Name: TableStoreDateTimeArray, Prefix: "sdta", Array: true, HistoryColumn: "DateTimeValue"}
	bindingTable       = Table{Name: TableEntityBinding, Prefix: "eb", Array: true}
)

// Enum and EnumArray share JdsStoreIntegerArray with IntegerArray: ordinals are stored with their position.
var tables = map[StorageCategory]Table{
	CategoryText:          textTable,
	CategoryInteger:       integerTable,
	CategoryLong:          longTable,
	CategoryFloat:         floatTable,
	CategoryDouble:        doubleTable,
	CategoryBoolean:       booleanTable,
	CategoryDateTime:      dateTimeTable,
	CategoryZonedDateTime: zonedDateTimeTable,
	CategoryTime:          timeTable,
	CategoryBlob:          blobTable,
	CategoryEnum:          integerArrayTable,
	CategoryEnumArray:     integerArrayTable,
	CategoryTextArray:     textArrayTable,
	CategoryIntegerArray:  integerArrayTable,
	CategoryLongArray:     longArrayTable,
	CategoryFloatArray:    floatArrayTable,
	CategoryDoubleArray:   doubleArrayTable,
	CategoryDateTimeArray: dateTimeArrayTable,
	CategoryObject:        bindingTable,
	CategoryObjectArray:   bindingTable,
}

// TableFor returns the table a category is stored in.
func TableFor(c StorageCategory) Table {
	t, ok := tables[c]
	if !ok {
		panic(fmt.Sprintf("strata: unmapped storage category %q", string(c)))
	}
	return t
}

// AttributeTables lists each distinct value table once, scalar tables first.
func AttributeTables() []Table {
	return []Table{
		textTable, integerTable, longTable, floatTable, doubleTable, booleanTable, dateTimeTable,
		zonedDateTimeTable, timeTable, blobTable,
		textArrayTable, integerArrayTable, longArrayTable, floatArrayTable, doubleArrayTable, dateTimeArrayTable,
	}
}

// ValueCategory returns the category whose SQL column type describes a table's Value column.
func ValueCategory(t Table) StorageCategory {
	for _, c := range Categories {
		if c.IsEnum() || c.IsObject() {
			continue
		}
		if tables[c].Name == t.Name {
			if t.Array {
				return c.Element()
			}
			return c
		}
	}
	return CategoryText
}

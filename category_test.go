package strata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOfCoversEveryFieldType(t *testing.T) {
	for ft := range fieldTypeNames {
		assert.NotPanics(t, func() {
			c := CategoryOf(ft)
			assert.True(t, c.Valid(), "category of %s", ft)
		})
	}
	assert.Panics(t, func() { CategoryOf(FieldType(999)) })
}

func TestTableFor(t *testing.T) {
	tests := []struct {
		category StorageCategory
		table    string
		prefix   string
		array    bool
	}{
		{CategoryText, "JdsStoreText", "st", false},
		{CategoryInteger, "JdsStoreInteger", "si", false},
		{CategoryLong, "JdsStoreLong", "sl", false},
		{CategoryFloat, "JdsStoreFloat", "sf", false},
		{CategoryDouble, "JdsStoreDouble", "sd", false},
		{CategoryBoolean, "JdsStoreBoolean", "sb", false},
		{CategoryDateTime, "JdsStoreDateTime", "sdt", false},
		{CategoryZonedDateTime, "JdsStoreZonedDateTime", "szdt", false},
		{CategoryTime, "JdsStoreTime", "stm", false},
		{CategoryBlob, "JdsStoreBlob", "sbl", false},
		{CategoryEnum, "JdsStoreIntegerArray", "sia", true},
		{CategoryEnumArray, "JdsStoreIntegerArray", "sia", true},
		{CategoryTextArray, "JdsStoreTextArray", "sta", true},
		{CategoryIntegerArray, "JdsStoreIntegerArray", "sia", true},
		{CategoryLongArray, "JdsStoreLongArray", "sla", true},
		{CategoryFloatArray, "JdsStoreFloatArray", "sfa", true},
		{CategoryDoubleArray, "JdsStoreDoubleArray", "sda", true},
		{CategoryDateTimeArray, "JdsStoreDateTimeArray", "sdta", true},
		{CategoryObject, "JdsStoreEntityBinding", "eb", true},
		{CategoryObjectArray, "JdsStoreEntityBinding", "eb", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			table := TableFor(tt.category)
			assert.Equal(t, tt.table, table.Name)
			assert.Equal(t, tt.prefix, table.Prefix)
			assert.Equal(t, tt.array, table.Array)
		})
	}
	assert.Panics(t, func() { TableFor("decimal") })
}

func TestAttributeTablesAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	prefixes := map[string]bool{}
	for _, table := range AttributeTables() {
		assert.False(t, seen[table.Name], "duplicate table %s", table.Name)
		assert.False(t, prefixes[table.Prefix], "duplicate prefix %s", table.Prefix)
		assert.NotEmpty(t, table.HistoryColumn)
		seen[table.Name] = true
		prefixes[table.Prefix] = true
	}
	assert.Len(t, seen, 16)
}

func TestValueCategory(t *testing.T) {
	assert.Equal(t, CategoryInteger, ValueCategory(TableFor(CategoryEnum)))
	assert.Equal(t, CategoryText, ValueCategory(TableFor(CategoryTextArray)))
	assert.Equal(t, CategoryZonedDateTime, ValueCategory(TableFor(CategoryZonedDateTime)))
	assert.Equal(t, CategoryDateTime, ValueCategory(TableFor(CategoryDateTimeArray)))
}

func TestCategoryPredicates(t *testing.T) {
	assert.True(t, CategoryEnumArray.IsArray())
	assert.True(t, CategoryEnumArray.IsEnum())
	assert.False(t, CategoryEnum.IsArray())
	assert.True(t, CategoryObjectArray.IsObject())
	assert.Equal(t, CategoryLong, CategoryLongArray.Element())
	assert.Equal(t, CategoryText, CategoryText.Element())

	ft, ok := ParseFieldType("zoned_date_time")
	assert.True(t, ok)
	assert.Equal(t, FieldTypeZonedDateTime, ft)
	_, ok = ParseFieldType("decimal")
	assert.False(t, ok)
}

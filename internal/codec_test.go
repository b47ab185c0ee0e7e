package internal

import (
	"testing"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStored(t *testing.T) {
	stamp := time.Date(2024, 3, 9, 8, 30, 15, 250_000_000, time.UTC)

	tests := []struct {
		name     string
		category strata.StorageCategory
		raw      any
		want     any
	}{
		{"text from bytes", strata.CategoryText, []byte("ada"), "ada"},
		{"integer from int64", strata.CategoryInteger, int64(42), int32(42)},
		{"integer from numeric text", strata.CategoryInteger, []byte(" 7 "), int32(7)},
		{"time as seconds", strata.CategoryTime, int64(3600), int32(3600)},
		{"long from int32", strata.CategoryLong, int32(9), int64(9)},
		{"zoned as epoch millis", strata.CategoryZonedDateTime, int64(1700000000000), int64(1700000000000)},
		{"float narrows", strata.CategoryFloat, float64(1.5), float32(1.5)},
		{"double from integral", strata.CategoryDouble, int64(3), float64(3)},
		{"double from text", strata.CategoryDouble, "2.25", float64(2.25)},
		{"boolean from number", strata.CategoryBoolean, int64(1), true},
		{"boolean from text", strata.CategoryBoolean, "false", false},
		{"datetime passthrough", strata.CategoryDateTime, stamp.In(time.FixedZone("x", 3600)), stamp},
		{"datetime from sqlite text", strata.CategoryDateTime, "2024-03-09 08:30:15.25+00:00", stamp},
		{"datetime from rfc3339", strata.CategoryDateTime, "2024-03-09T08:30:15.25Z", stamp},
		{"blob copied", strata.CategoryBlob, []byte{1, 2}, []byte{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeStored(tt.category, tt.raw)
			require.NoError(t, err)
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)), "got %v", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStoredRejects(t *testing.T) {
	tests := []struct {
		name     string
		category strata.StorageCategory
		raw      any
	}{
		{"null", strata.CategoryText, nil},
		{"integer overflow", strata.CategoryInteger, int64(1) << 40},
		{"fractional integer", strata.CategoryLong, 1.5},
		{"garbage number", strata.CategoryLong, "twelve"},
		{"garbage timestamp", strata.CategoryDateTime, "yesterday"},
		{"text from number", strata.CategoryText, int64(3)},
		{"blob from number", strata.CategoryBlob, int64(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeStored(tt.category, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestToCanonical(t *testing.T) {
	reg := newTestRegistry(t)
	field := func(id int64) *strata.FieldDefinition {
		f, ok := reg.Field(id)
		require.True(t, ok)
		return f
	}

	got, err := toCanonical(field(zonedField), int64(1700000000123))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), got)

	got, err = toCanonical(field(shiftField), int32(5400))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, got)

	got, err = toCanonical(field(statusField), int32(1))
	require.NoError(t, err)
	assert.Equal(t, "suspended", got)

	got, err = toCanonical(field(rolesField), int32(2))
	require.NoError(t, err)
	assert.Equal(t, "viewer", got)

	_, err = toCanonical(field(statusField), int32(5))
	assert.Error(t, err)

	got, err = toCanonical(field(nameField), "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", got)
}

func TestValueCategory(t *testing.T) {
	reg := newTestRegistry(t)
	tests := map[int64]strata.StorageCategory{
		statusField: strata.CategoryInteger,
		rolesField:  strata.CategoryInteger,
		tagsField:   strata.CategoryText,
		scoresField: strata.CategoryLong,
		bornField:   strata.CategoryDateTime,
	}
	for id, want := range tests {
		f, _ := reg.Field(id)
		assert.Equal(t, want, valueCategory(f), f.Name)
	}
}

func TestStoredEqual(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, storedEqual(at, at.In(time.FixedZone("x", 7200))))
	assert.False(t, storedEqual(at, at.Add(time.Millisecond)))
	assert.True(t, storedEqual([]byte("ab"), []byte("ab")))
	assert.False(t, storedEqual([]byte("ab"), "ab"))
	assert.True(t, storedEqual(int32(3), int32(3)))
	assert.False(t, storedEqual(int32(3), int64(3)))
}

func TestHistoryForm(t *testing.T) {
	assert.Equal(t, int32(1), historyForm(true))
	assert.Equal(t, int32(0), historyForm(false))
	assert.Equal(t, "x", historyForm("x"))
}

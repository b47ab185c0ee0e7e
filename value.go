package strata

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// NormalizeValue checks v against the field's category and returns it in canonical form:
// string, int32, int64, float32, float64, bool, time.Time, time.Duration, []byte,
// enum literal, typed slices for arrays, Entity or []Entity for objects.
func NormalizeValue(f *FieldDefinition, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	c := f.Category
	switch {
	case c == CategoryObject:
		e, ok := v.(Entity)
		if !ok {
			return nil, mismatch(f, v)
		}
		return e, nil
	case c == CategoryObjectArray:
		return normalizeEntities(f, v)
	case c.IsArray():
		return normalizeArray(f, v)
	}
	return normalizeScalar(f, c, v)
}

// EncodeValue returns the stored form of v: one element for scalars, one per position for arrays.
// Object categories are persisted through entity bindings and cannot be encoded.
func EncodeValue(f *FieldDefinition, v any) ([]any, error) {
	if f.Category.IsObject() {
		return nil, NewValidationError(f.ID, "object values are stored as entity bindings")
	}
	canonical, err := NormalizeValue(f, v)
	if err != nil || canonical == nil {
		return nil, err
	}
	if !f.Category.IsArray() {
		stored, err := storedForm(f, f.Category, canonical)
		if err != nil {
			return nil, err
		}
		return []any{stored}, nil
	}
	rv := reflect.ValueOf(canonical)
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		stored, err := storedForm(f, f.Category.Element(), rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// EncodeElement returns the stored form of a single element compared against a field,
// as used by query predicates on scalar and array fields alike.
func EncodeElement(f *FieldDefinition, v any) (any, error) {
	if f.Category.IsObject() {
		return nil, NewValidationError(f.ID, "object fields cannot be compared")
	}
	if v == nil {
		return nil, NewValidationError(f.ID, "nil cannot be compared")
	}
	c := f.Category.Element()
	canonical, err := normalizeScalar(f, c, v)
	if err != nil {
		return nil, err
	}
	return storedForm(f, c, canonical)
}

func normalizeScalar(f *FieldDefinition, c StorageCategory, v any) (any, error) {
	switch c {
	case CategoryText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case CategoryInteger:
		if n, ok := toInt64(v); ok {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, NewValidationError(f.ID, fmt.Sprintf("value %d overflows integer", n))
			}
			return int32(n), nil
		}
	case CategoryLong:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case CategoryFloat:
		if x, ok := v.(float32); ok {
			return x, nil
		}
		if x, ok := toFloat64(v); ok {
			if !math.IsInf(x, 0) && !math.IsNaN(x) && math.Abs(x) > math.MaxFloat32 {
				return nil, NewValidationError(f.ID, fmt.Sprintf("value %g overflows float", x))
			}
			return float32(x), nil
		}
	case CategoryDouble:
		if x, ok := toFloat64(v); ok {
			return x, nil
		}
	case CategoryBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case CategoryDateTime, CategoryZonedDateTime:
		var at time.Time
		switch t := v.(type) {
		case time.Time:
			at = t
		case *time.Time:
			if t == nil {
				return nil, mismatch(f, v)
			}
			at = *t
		default:
			return nil, mismatch(f, v)
		}
		// Both categories are stored with millisecond resolution.
		if at.Nanosecond()%int(time.Millisecond) != 0 {
			return nil, NewValidationError(f.ID, fmt.Sprintf("timestamp %s is finer than a millisecond", at.Format(time.RFC3339Nano)))
		}
		return at, nil
	case CategoryTime:
		if d, ok := v.(time.Duration); ok {
			if d < 0 || d >= 24*time.Hour {
				return nil, NewValidationError(f.ID, fmt.Sprintf("time of day %s out of range", d))
			}
			if d%time.Second != 0 {
				return nil, NewValidationError(f.ID, fmt.Sprintf("time of day %s is finer than a second", d))
			}
			return d, nil
		}
	case CategoryBlob:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case CategoryEnum:
		if s, ok := v.(string); ok {
			for _, literal := range f.EnumValues {
				if literal == s {
					return s, nil
				}
			}
			return nil, NewStoreError(ErrorTypeValidation, ErrCodeUnknownEnumLiteral, fmt.Sprintf("%q is not a value of the enum", s)).WithFieldID(f.ID)
		}
	}
	return nil, mismatch(f, v)
}

func normalizeArray(f *FieldDefinition, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, mismatch(f, v)
	}
	elem := f.Category.Element()
	n := rv.Len()
	var out reflect.Value
	switch elem {
	case CategoryText, CategoryEnum:
		out = reflect.ValueOf(make([]string, 0, n))
	case CategoryInteger:
		out = reflect.ValueOf(make([]int32, 0, n))
	case CategoryLong:
		out = reflect.ValueOf(make([]int64, 0, n))
	case CategoryFloat:
		out = reflect.ValueOf(make([]float32, 0, n))
	case CategoryDouble:
		out = reflect.ValueOf(make([]float64, 0, n))
	case CategoryDateTime:
		out = reflect.ValueOf(make([]time.Time, 0, n))
	default:
		return nil, mismatch(f, v)
	}
	for i := 0; i < n; i++ {
		item, err := normalizeScalar(f, elem, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = reflect.Append(out, reflect.ValueOf(item))
	}
	return out.Interface(), nil
}

func normalizeEntities(f *FieldDefinition, v any) (any, error) {
	if es, ok := v.([]Entity); ok {
		return es, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, mismatch(f, v)
	}
	out := make([]Entity, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		e, ok := rv.Index(i).Interface().(Entity)
		if !ok {
			return nil, mismatch(f, v)
		}
		out = append(out, e)
	}
	return out, nil
}

// storedForm converts a canonical element to the value bound into the Value column.
func storedForm(f *FieldDefinition, c StorageCategory, v any) (any, error) {
	switch c {
	case CategoryDateTime:
		return v.(time.Time).UTC(), nil
	case CategoryZonedDateTime:
		return v.(time.Time).UnixMilli(), nil
	case CategoryTime:
		return int32(v.(time.Duration) / time.Second), nil
	case CategoryEnum:
		literal := v.(string)
		for i, candidate := range f.EnumValues {
			if candidate == literal {
				return int32(i), nil
			}
		}
		return nil, NewStoreError(ErrorTypeValidation, ErrCodeUnknownEnumLiteral, fmt.Sprintf("%q is not a value of the enum", literal)).WithFieldID(f.ID)
	}
	return v, nil
}

func mismatch(f *FieldDefinition, v any) *StoreError {
	return NewValidationError(f.ID, fmt.Sprintf("%T cannot be stored as %s", v, f.Category)).WithDetail("field", f.Name)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

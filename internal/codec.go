package internal

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/strata"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// decodeStored turns a raw driver value read from a Value column of category c into
// the stored form produced by strata.EncodeValue.
func decodeStored(c strata.StorageCategory, raw any) (any, error) {
	if raw == nil {
		return nil, fmt.Errorf("null value")
	}
	switch c {
	case strata.CategoryText:
		return scanString(raw)
	case strata.CategoryInteger, strata.CategoryTime:
		n, err := scanInt64(raw)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows integer", n)
		}
		return int32(n), nil
	case strata.CategoryLong, strata.CategoryZonedDateTime:
		return scanInt64(raw)
	case strata.CategoryFloat:
		x, err := scanFloat64(raw)
		return float32(x), err
	case strata.CategoryDouble:
		return scanFloat64(raw)
	case strata.CategoryBoolean:
		return scanBool(raw)
	case strata.CategoryDateTime:
		return scanTime(raw)
	case strata.CategoryBlob:
		switch b := raw.(type) {
		case []byte:
			return bytes.Clone(b), nil
		case string:
			return []byte(b), nil
		}
	}
	return nil, fmt.Errorf("cannot decode %T as %s", raw, c)
}

// DecodeColumn decodes a nullable column of category c. NULL decodes to nil.
func DecodeColumn(c strata.StorageCategory, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return decodeStored(c, raw)
}

// toCanonical maps a stored element back to the value callers see for field f.
func toCanonical(f *strata.FieldDefinition, stored any) (any, error) {
	switch f.Category.Element() {
	case strata.CategoryZonedDateTime:
		return time.UnixMilli(stored.(int64)).UTC(), nil
	case strata.CategoryTime:
		return time.Duration(stored.(int32)) * time.Second, nil
	case strata.CategoryEnum:
		ordinal := int(stored.(int32))
		if ordinal < 0 || ordinal >= len(f.EnumValues) {
			return nil, fmt.Errorf("ordinal %d is not a value of the enum", ordinal)
		}
		return f.EnumValues[ordinal], nil
	}
	return stored, nil
}

// valueCategory is the category describing the Value column a field is stored in.
func valueCategory(f *strata.FieldDefinition) strata.StorageCategory {
	if f.Category.IsEnum() {
		return strata.CategoryInteger
	}
	return f.Category.Element()
}

// historyForm converts a stored value into what the history column of its family accepts.
func historyForm(stored any) any {
	if b, ok := stored.(bool); ok {
		if b {
			return int32(1)
		}
		return int32(0)
	}
	return stored
}

func storedEqual(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return a == b
}

func scanString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", fmt.Errorf("cannot decode %T as text", raw)
}

func scanInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows long", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("value %g is not integral", v)
		}
		return int64(v), nil
	case float32:
		return scanInt64(float64(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return scanInt64(string(v))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse integer: %w", err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot decode %T as integer", raw)
}

func scanFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return scanFloat64(string(v))
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("parse float: %w", err)
		}
		return x, nil
	}
	n, err := scanInt64(raw)
	if err != nil {
		return 0, fmt.Errorf("cannot decode %T as float", raw)
	}
	return float64(n), nil
}

func scanBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case []byte:
		return scanBool(string(v))
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("parse boolean: %w", err)
		}
		return b, nil
	}
	n, err := scanInt64(raw)
	if err != nil {
		return false, fmt.Errorf("cannot decode %T as boolean", raw)
	}
	return n != 0, nil
}

func scanTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case []byte:
		return scanTime(string(v))
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q", s)
	case int64:
		return time.UnixMilli(v).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot decode %T as timestamp", raw)
}

package core

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/liliang-cn/objstore/internal/codec"
)

// normalizeValue folds the Go integer and float flavors down to the canonical
// storage types: int64, float64, string, []byte.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// coerceValue coerces a normalized value to an attribute's declared type.
// Numeric values convert freely between int and float; strings are accepted
// for blob attributes. Anything else is a type mismatch.
func coerceValue(name string, v any, t AttrType) (any, error) {
	switch t {
	case TypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		}
	case TypeFloat:
		switch x := v.(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		}
	case TypeText:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case TypeBlob:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, fmt.Errorf("%w: %q value %v (%T) is not %s", ErrTypeMismatch, name, v, v, t)
}

// coerceQueryOperand additionally accepts digit strings for numeric
// attributes, so "42" matches an int column.
func coerceQueryOperand(name string, v any, t AttrType) (any, error) {
	v = normalizeValue(v)
	if s, ok := v.(string); ok && (t == TypeInt || t == TypeFloat) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			v = n
		}
	}
	return coerceValue(name, v, t)
}

// decodePickle decodes a row blob into an attribute map, restoring declared
// value types for the attributes the schema knows about. Shadow keys keep
// their prefix; they carry the true-case value of lower-cased columns.
func decodePickle(def *typeDef, blob []byte) (map[string]any, error) {
	attrs := make(map[string]any)
	if len(blob) == 0 {
		return attrs, nil
	}
	if err := codec.Default.Unmarshal(blob, &attrs); err != nil {
		return nil, err
	}

	for key, v := range attrs {
		a, ok := def.attrs[strings.TrimPrefix(key, shadowPrefix)]
		if !ok {
			continue
		}
		switch a.Type {
		case TypeInt:
			if f, ok := v.(float64); ok {
				attrs[key] = int64(f)
			}
		case TypeBlob:
			// The codec stores byte slices as base64 text.
			if s, ok := v.(string); ok {
				if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
					attrs[key] = raw
				}
			}
		}
	}
	return attrs, nil
}

// placeholders returns n comma-separated bind markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// int64Args adapts an id list to statement arguments.
func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

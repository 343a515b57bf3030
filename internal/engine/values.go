package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Variable type names as reported by HistoricVariableInstance.VariableTypeName.
const (
	TypeNull    = "null"
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeInteger = "integer"
	TypeDouble  = "double"
	TypeDate    = "date"
	TypeJSON    = "json"
)

// encodeValue maps a Go value to a type name and its stored JSON text.
func encodeValue(v any) (typeName, text string, err error) {
	switch val := v.(type) {
	case nil:
		return TypeNull, "null", nil
	case string:
		typeName = TypeString
	case bool:
		typeName = TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		typeName = TypeInteger
	case float32, float64:
		typeName = TypeDouble
	case time.Time:
		return TypeDate, fmt.Sprintf("%q", val.UTC().Format(time.RFC3339Nano)), nil
	default:
		typeName = TypeJSON
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("encode %s value of type %s: %w", typeName, reflect.TypeOf(v), err)
	}
	return typeName, string(data), nil
}

// decodeValue is the inverse of encodeValue. Integers decode as int64,
// doubles as float64, dates as time.Time, json as generic JSON values.
func decodeValue(typeName, text string) (any, error) {
	switch typeName {
	case TypeNull:
		return nil, nil
	case TypeString:
		var s string
		err := json.Unmarshal([]byte(text), &s)
		return s, err
	case TypeBoolean:
		var b bool
		err := json.Unmarshal([]byte(text), &b)
		return b, err
	case TypeInteger:
		var n int64
		err := json.Unmarshal([]byte(text), &n)
		return n, err
	case TypeDouble:
		var f float64
		err := json.Unmarshal([]byte(text), &f)
		return f, err
	case TypeDate:
		var s string
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case TypeJSON:
		var v any
		err := json.Unmarshal([]byte(text), &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown variable type %q", typeName)
	}
}

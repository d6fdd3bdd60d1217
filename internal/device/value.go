package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueType identifies the scalar type carried by a Value.
type ValueType uint8

// Value types.
const (
	TypeInvalid ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
)

// String returns the schema name of the type.
func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// ParseValueType is the inverse of ValueType.String.
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "bool":
		return TypeBool, nil
	case "int":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "string":
		return TypeString, nil
	default:
		return TypeInvalid, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, s)
	}
}

// Value is a typed scalar property value. The zero Value is invalid.
type Value struct {
	typ ValueType
	b   bool
	i   int64
	f   float64
	s   string
}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{typ: TypeBool, b: b} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{typ: TypeInt, i: i} }

// FloatValue returns a floating point Value.
func FloatValue(f float64) Value { return Value{typ: TypeFloat, f: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{typ: TypeString, s: s} }

// Type returns the value's type.
func (v Value) Type() ValueType { return v.typ }

// IsValid reports whether v carries a value.
func (v Value) IsValid() bool { return v.typ != TypeInvalid }

// Bool returns the boolean content; false for other types.
func (v Value) Bool() bool { return v.b }

// Int returns the integer content; 0 for other types.
func (v Value) Int() int64 { return v.i }

// Float returns the numeric content as float64 for int and float values.
func (v Value) Float() float64 {
	if v.typ == TypeInt {
		return float64(v.i)
	}
	return v.f
}

// Str returns the string content; empty for other types.
func (v Value) Str() string { return v.s }

// Equal reports whether two values have the same type and content.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeString:
		return v.s == o.s
	default:
		return true
	}
}

// String renders the value the way it is published on the bus:
// "true"/"false", decimal integers, shortest float form, raw strings.
func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TypeString:
		return v.s
	default:
		return ""
	}
}

// key is a total order over values used to break exact timestamp ties
// between updates of the same source rank, so merge order never matters.
func (v Value) key() string {
	return fmt.Sprintf("%d:%s", v.typ, v.String())
}

// Interface returns the value as a plain Go scalar (bool, int64, float64, string).
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	default:
		return nil
	}
}

// MarshalJSON encodes the value as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a bare JSON scalar. Integral numbers decode as int.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded scalar into a Value. JSON numbers with an
// integral value become TypeInt.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case Value:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case uint8:
		return IntValue(int64(x)), nil
	case float32:
		return numberValue(float64(x)), nil
	case float64:
		return numberValue(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return FloatValue(f), nil
	case string:
		return StringValue(x), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, raw)
	}
}

func numberValue(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return IntValue(int64(f))
	}
	return FloatValue(f)
}

// ParseValue parses the String form of a value of the given type.
func ParseValue(t ValueType, s string) (Value, error) {
	switch t {
	case TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return BoolValue(b), nil
	case TypeInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return IntValue(i), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return FloatValue(f), nil
	case TypeString:
		return StringValue(s), nil
	default:
		return Value{}, fmt.Errorf("%w: invalid type", ErrInvalidValue)
	}
}

// coerce adapts v to the wanted type where no information is lost
// (integral float to int, int to float). Anything else is a mismatch.
func coerce(v Value, want ValueType) (Value, bool) {
	if v.typ == want {
		return v, true
	}
	switch {
	case want == TypeInt && v.typ == TypeFloat && v.f == math.Trunc(v.f):
		return IntValue(int64(v.f)), true
	case want == TypeFloat && v.typ == TypeInt:
		return FloatValue(float64(v.i)), true
	}
	return Value{}, false
}

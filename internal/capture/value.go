package capture

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which field of a Value is populated.
type Kind uint8

// Value kinds.
const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "none"
	}
}

// Value is a device property value. The zero Value has KindNone and reads
// as 0, false, or "" through the accessors.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Int returns an integer value.
func Int(v int) Value { return Value{kind: KindInt, i: int64(v)} }

// Float returns a floating-point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Kind reports the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v holds nothing.
func (v Value) IsNone() bool { return v.kind == KindNone }

// Int returns v as an integer. Floats are rounded, true reads as 1 and
// numeric strings are parsed.
func (v Value) Int() int {
	switch v.kind {
	case KindInt, KindBool:
		return int(v.i)
	case KindFloat:
		return int(math.Round(v.f))
	case KindString:
		n, _ := strconv.Atoi(v.s)
		return n
	default:
		return 0
	}
}

// Float returns v as a float64.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt, KindBool:
		return float64(v.i)
	case KindFloat:
		return v.f
	case KindString:
		f, _ := strconv.ParseFloat(v.s, 64)
		return f
	default:
		return 0
	}
}

// Bool returns v as a boolean. Non-zero numbers are true.
func (v Value) Bool() bool {
	switch v.kind {
	case KindInt, KindBool:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		b, _ := strconv.ParseBool(v.s)
		return b
	default:
		return false
	}
}

// Text returns the string payload of a string value, or the formatted
// value for other kinds.
func (v Value) Text() string {
	if v.kind == KindString {
		return v.s
	}
	if v.kind == KindNone {
		return ""
	}
	return v.String()
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.i == o.i && v.f == o.f && v.s == o.s
}

// Any returns the payload as a plain Go value for serialization.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.i != 0
	case KindString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindString:
		return strconv.Quote(v.s)
	default:
		return "<none>"
	}
}

// FromAny converts a decoded JSON or TOML scalar into a Value. Integral
// floats become integers since JSON has no separate integer type.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int32:
		return Int(int(t)), nil
	case int64:
		return Int(int(t)), nil
	case uint:
		return Int(int(t)), nil
	case float32:
		return fromFloat(float64(t)), nil
	case float64:
		return fromFloat(t), nil
	case string:
		return String(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported property value type %T", x)
	}
}

func fromFloat(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
		return Int(int(f))
	}
	return Float(f)
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindFloat
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a closed tagged union over the scalar types a device property may hold.
// The zero Value is invalid. Values are comparable with ==.
type Value struct {
	kind Kind
	f    float64
	i    int64
	b    bool
}

// Float returns a float Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Equal reports whether both values hold the same variant and payload.
func (v Value) Equal(o Value) bool { return v == o }

// AsFloat returns the numeric payload as float64. Int values are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsInt returns the payload of an Int value.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsBool returns the payload of a Bool value.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the payload as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindFloat:
		return json.Marshal(v.f)
	case KindInt:
		return json.Marshal(v.i)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return nil, fmt.Errorf("marshal invalid value")
	}
}

// UnmarshalJSON infers the variant from the JSON token: booleans become Bool,
// numbers without fraction or exponent become Int, other numbers become Float.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		*v = Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("decode number %q: %w", t, err)
		}
		*v = Float(f)
	default:
		return fmt.Errorf("unsupported value %s", string(data))
	}
	return nil
}

// Convert returns v as a Value of the wanted kind. Int converts to Float,
// and an integral Float (5000.0) converts to Int. KindInvalid keeps v as is.
func (v Value) Convert(want Kind) (Value, error) {
	if want == KindInvalid || v.kind == want {
		return v, nil
	}
	switch {
	case want == KindFloat && v.kind == KindInt:
		return Float(float64(v.i)), nil
	case want == KindInt && v.kind == KindFloat && v.f == math.Trunc(v.f) && math.Abs(v.f) < 1<<63:
		return Int(int64(v.f)), nil
	}
	return Value{}, fmt.Errorf("got %s, want %s", v.kind, want)
}

// ParseValue decodes raw JSON into a Value of the wanted kind.
func ParseValue(raw json.RawMessage, want Kind) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return Value{}, err
	}
	return v.Convert(want)
}

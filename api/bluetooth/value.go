package bluetooth

import (
	"bytes"
	"encoding/hex"
	"strconv"
)

// ValueKind describes the type of a decoded characteristic value.
type ValueKind string

const (
	ValueText     ValueKind = "text"
	ValueInteger  ValueKind = "integer"
	ValueFloat    ValueKind = "floating_point"
	ValueBoolean  ValueKind = "boolean"
	ValueRawBytes ValueKind = "raw_bytes"
)

// CharacteristicValue holds a decoded characteristic value.
// Only the field which corresponds to Kind is set.
type CharacteristicValue struct {
	Kind ValueKind `json:"kind"`

	Text    string  `json:"text,omitempty"`
	Integer int64   `json:"integer,omitempty"`
	Float   float64 `json:"floating_point,omitempty"`
	Boolean bool    `json:"boolean,omitempty"`
	Raw     []byte  `json:"raw_bytes,omitempty"`
}

// TextValue returns a text characteristic value.
func TextValue(s string) CharacteristicValue {
	return CharacteristicValue{Kind: ValueText, Text: s}
}

// IntegerValue returns an integer characteristic value.
func IntegerValue(i int64) CharacteristicValue {
	return CharacteristicValue{Kind: ValueInteger, Integer: i}
}

// FloatValue returns a floating point characteristic value.
func FloatValue(f float64) CharacteristicValue {
	return CharacteristicValue{Kind: ValueFloat, Float: f}
}

// BooleanValue returns a boolean characteristic value.
func BooleanValue(b bool) CharacteristicValue {
	return CharacteristicValue{Kind: ValueBoolean, Boolean: b}
}

// RawValue returns a raw bytes characteristic value.
// The provided slice is copied.
func RawValue(b []byte) CharacteristicValue {
	return CharacteristicValue{Kind: ValueRawBytes, Raw: bytes.Clone(b)}
}

// Equal reports whether both values have the same kind and content.
func (c CharacteristicValue) Equal(o CharacteristicValue) bool {
	if c.Kind != o.Kind {
		return false
	}

	switch c.Kind {
	case ValueText:
		return c.Text == o.Text

	case ValueInteger:
		return c.Integer == o.Integer

	case ValueFloat:
		return c.Float == o.Float

	case ValueBoolean:
		return c.Boolean == o.Boolean

	case ValueRawBytes:
		return bytes.Equal(c.Raw, o.Raw)
	}

	return true
}

// String returns a display representation of the value.
func (c CharacteristicValue) String() string {
	switch c.Kind {
	case ValueText:
		return c.Text

	case ValueInteger:
		return strconv.FormatInt(c.Integer, 10)

	case ValueFloat:
		return strconv.FormatFloat(c.Float, 'f', -1, 64)

	case ValueBoolean:
		return strconv.FormatBool(c.Boolean)

	case ValueRawBytes:
		return hex.EncodeToString(c.Raw)
	}

	return ""
}

package attributes

import (
	"bytes"
	"context"
	"encoding/binary"
	"unicode/utf8"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/google/uuid"
)

// Rule describes how a raw characteristic payload is decoded.
type Rule string

const (
	RuleRaw         Rule = "raw"
	RuleUTF8        Rule = "utf8"
	RuleUint8       Rule = "uint8"
	RuleUint16LE    Rule = "uint16le"
	RuleInt16LE     Rule = "int16le"
	RuleUint32LE    Rule = "uint32le"
	RuleBoolean     Rule = "boolean"
	RuleHeartRate   Rule = "heart_rate"
	RuleTemperature Rule = "temperature"
	RuleHumidity    Rule = "humidity"
	RulePressure    Rule = "pressure"
)

// Heart rate measurement flags.
const heartRateFormatUint16 = 0x01

// Decode decodes a raw payload using the default catalog.
func Decode(id uuid.UUID, raw []byte) (bluetooth.CharacteristicValue, error) {
	return defaultCatalog.Decode(id, raw)
}

// Decode decodes a raw payload into a typed value, according to the
// decode rule of the identifier.
func (c *Catalog) Decode(id uuid.UUID, raw []byte) (bluetooth.CharacteristicValue, error) {
	rule := c.Rule(id)

	value, err := rule.Decode(raw)
	if err != nil {
		return value, fault.Wrap(err,
			fctx.With(context.Background(),
				"characteristic", id.String(),
				"rule", string(rule),
			),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Cannot decode value of "+c.Name(id)),
		)
	}

	return value, nil
}

// Decode decodes a raw payload according to the rule.
func (r Rule) Decode(raw []byte) (bluetooth.CharacteristicValue, error) {
	var value bluetooth.CharacteristicValue

	switch r {
	case RuleUTF8:
		text := bytes.TrimRight(raw, "\x00")
		if !utf8.Valid(text) {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.TextValue(string(text)), nil

	case RuleUint8:
		if len(raw) < 1 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.IntegerValue(int64(raw[0])), nil

	case RuleUint16LE:
		if len(raw) < 2 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.IntegerValue(int64(binary.LittleEndian.Uint16(raw))), nil

	case RuleInt16LE:
		if len(raw) < 2 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.IntegerValue(int64(int16(binary.LittleEndian.Uint16(raw)))), nil

	case RuleUint32LE:
		if len(raw) < 4 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.IntegerValue(int64(binary.LittleEndian.Uint32(raw))), nil

	case RuleBoolean:
		if len(raw) < 1 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.BooleanValue(raw[0] != 0), nil

	case RuleHeartRate:
		if len(raw) < 2 {
			return value, errorkinds.ErrDecode
		}

		if raw[0]&heartRateFormatUint16 == 0 {
			return bluetooth.IntegerValue(int64(raw[1])), nil
		}

		if len(raw) < 3 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.IntegerValue(int64(binary.LittleEndian.Uint16(raw[1:]))), nil

	case RuleTemperature:
		if len(raw) < 2 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.FloatValue(float64(int16(binary.LittleEndian.Uint16(raw))) / 100), nil

	case RuleHumidity:
		if len(raw) < 2 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.FloatValue(float64(binary.LittleEndian.Uint16(raw)) / 100), nil

	case RulePressure:
		if len(raw) < 4 {
			return value, errorkinds.ErrDecode
		}

		return bluetooth.FloatValue(float64(binary.LittleEndian.Uint32(raw)) / 10), nil
	}

	return bluetooth.RawValue(raw), nil
}

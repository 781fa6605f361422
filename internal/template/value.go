package template

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind tags the dynamic type carried by a Value
type Kind string

const (
	KindNull    Kind = ""
	KindText    Kind = "text"
	KindNumber  Kind = "number"
	KindDate    Kind = "date"
	KindBoolean Kind = "boolean"
)

// ShortDateLayout is the localized short-date form dates are rendered in
const ShortDateLayout = "02/01/2006"

// dateLayouts are tried in order when a text value has to be read as a date
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	ShortDateLayout,
}

// Value is a tagged union of the values a template variable may hold.
// The zero Value is null.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
	Date   time.Time
	Bool   bool
}

// Values maps variable names to their values
type Values map[string]Value

// TextValue wraps a string
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// NumberValue wraps a number
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// DateValue wraps a point in time
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Date: t} }

// BoolValue wraps a boolean
func BoolValue(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// IsNull reports whether the value carries nothing
func (v Value) IsNull() bool { return v.Kind == KindNull }

// absent reports whether the value counts as missing for required checks
func (v Value) absent() bool {
	return v.IsNull() || (v.Kind == KindText && v.Text == "")
}

// ParseValue converts a loosely typed value, as decoded from JSON, into a Value
func ParseValue(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case string:
		return TextValue(x), nil
	case bool:
		return BoolValue(x), nil
	case float64:
		return NumberValue(x), nil
	case float32:
		return NumberValue(float64(x)), nil
	case int:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return NumberValue(f), nil
	case time.Time:
		return DateValue(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// ParseValues converts a decoded JSON object into Values
func ParseValues(raw map[string]any) (Values, error) {
	values := make(Values, len(raw))
	for k, r := range raw {
		v, err := ParseValue(r)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", k, err)
		}
		values[k] = v
	}
	return values, nil
}

// StringValues wraps plain strings as text values
func StringValues(m map[string]string) Values {
	values := make(Values, len(m))
	for k, s := range m {
		values[k] = TextValue(s)
	}
	return values
}

// String returns the form a value takes once substituted into content
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		if math.IsNaN(v.Number) {
			return "NaN"
		}
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindDate:
		return v.Date.Format(ShortDateLayout)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

// Truthy reports whether the value counts as set in conditional blocks
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindText:
		return v.Text != ""
	case KindNumber:
		return v.Number != 0 && !math.IsNaN(v.Number)
	case KindDate:
		return !v.Date.IsZero()
	case KindBoolean:
		return v.Bool
	}
	return false
}

func (v Value) number() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Number, !math.IsNaN(v.Number)
	case KindBoolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindDate:
		return float64(v.Date.UnixMilli()), true
	case KindText:
		s := strings.TrimSpace(v.Text)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return math.NaN(), false
		}
		// ParseFloat also takes "inf" and "infinity" in any case
		if math.IsInf(f, 0) && strings.TrimLeft(s, "+-") != "Infinity" {
			return math.NaN(), false
		}
		return f, true
	}
	return 0, true
}

func (v Value) date() (time.Time, bool) {
	switch v.Kind {
	case KindDate:
		return v.Date, true
	case KindNumber:
		if math.IsNaN(v.Number) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v.Number)), true
	case KindText:
		s := strings.TrimSpace(v.Text)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func (v Value) boolean() (bool, bool) {
	switch v.Kind {
	case KindBoolean:
		return v.Bool, true
	case KindText:
		switch v.Text {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

type valueJSON struct {
	Kind  Kind `json:"kind"`
	Value any  `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.Kind}
	switch v.Kind {
	case KindText:
		out.Value = v.Text
	case KindNumber:
		out.Value = v.Number
	case KindDate:
		out.Value = v.Date.Format(time.RFC3339)
	case KindBoolean:
		out.Value = v.Bool
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both the tagged form and a bare JSON scalar
func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Kind  *Kind           `json:"kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Kind != nil {
		return v.decodeTagged(*tagged.Kind, tagged.Value)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v *Value) decodeTagged(kind Kind, data json.RawMessage) error {
	switch kind {
	case KindNull:
		*v = Value{}
	case KindText:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("text value: %w", err)
		}
		*v = TextValue(s)
	case KindNumber:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("number value: %w", err)
		}
		*v = NumberValue(f)
	case KindDate:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("date value: %w", err)
		}
		t, ok := TextValue(s).date()
		if !ok {
			return fmt.Errorf("date value: cannot parse %q", s)
		}
		*v = DateValue(t)
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("boolean value: %w", err)
		}
		*v = BoolValue(b)
	default:
		return fmt.Errorf("unknown value kind %q", kind)
	}
	return nil
}

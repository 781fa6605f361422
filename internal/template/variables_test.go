package template

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestValidateVariables(t *testing.T) {
	decls := []Variable{
		{Name: "name", Type: TypeText, Required: true},
		{Name: "price", Type: TypeNumber},
		{Name: "departure", Type: TypeDate},
		{Name: "vip", Type: TypeBoolean},
	}

	tests := []struct {
		name      string
		values    Values
		wantValid bool
		wantErrs  int
	}{
		{
			name:      "all valid",
			values:    Values{"name": TextValue("Ana"), "price": TextValue("1200.50"), "departure": TextValue("2026-05-01"), "vip": TextValue("false")},
			wantValid: true,
		},
		{
			name:      "only required present",
			values:    Values{"name": TextValue("Ana")},
			wantValid: true,
		},
		{
			name:      "required absent",
			values:    Values{},
			wantValid: false,
			wantErrs:  1,
		},
		{
			name:      "required null",
			values:    Values{"name": {}},
			wantValid: false,
			wantErrs:  1,
		},
		{
			name:      "required empty string",
			values:    Values{"name": TextValue("")},
			wantValid: false,
			wantErrs:  1,
		},
		{
			name:      "bad number",
			values:    Values{"name": TextValue("Ana"), "price": TextValue("cheap")},
			wantValid: false,
			wantErrs:  1,
		},
		{
			name:      "bad date",
			values:    Values{"name": TextValue("Ana"), "departure": TextValue("next summer")},
			wantValid: false,
			wantErrs:  1,
		},
		{
			name:      "bad boolean string",
			values:    Values{"name": TextValue("Ana"), "vip": TextValue("yes")},
			wantValid: false,
			wantErrs:  1,
		},
		{
			name:      "typed values",
			values:    Values{"name": TextValue("Ana"), "price": NumberValue(10), "departure": DateValue(time.Now()), "vip": BoolValue(true)},
			wantValid: true,
		},
		{
			name:      "errors accumulate",
			values:    Values{"price": TextValue("x"), "departure": TextValue("y"), "vip": NumberValue(1)},
			wantValid: false,
			wantErrs:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateVariables(tt.values, decls)
			if got.IsValid != tt.wantValid {
				t.Errorf("IsValid = %v, want %v (errors: %v)", got.IsValid, tt.wantValid, got.Errors)
			}
			if len(got.Errors) != tt.wantErrs {
				t.Errorf("got %d errors, want %d: %v", len(got.Errors), tt.wantErrs, got.Errors)
			}
		})
	}
}

func TestProcessVariables(t *testing.T) {
	def := TextValue("amigo")
	decls := []Variable{
		{Name: "name", Type: TypeText, DefaultValue: &def},
		{Name: "price", Type: TypeNumber},
		{Name: "departure", Type: TypeDate},
		{Name: "vip", Type: TypeBoolean},
		{Name: "flag", Type: TypeBoolean},
	}

	got := ProcessVariables(Values{
		"price":     TextValue("99.5"),
		"departure": TextValue("2026-12-24"),
		"vip":       TextValue("false"),
		"flag":      TextValue("anything"),
		"extra":     TextValue("kept"),
	}, decls)

	if got["name"].String() != "amigo" {
		t.Errorf("name = %q, want default", got["name"].String())
	}
	if got["price"].Kind != KindNumber || got["price"].Number != 99.5 {
		t.Errorf("price = %+v", got["price"])
	}
	if got["departure"].String() != "24/12/2026" {
		t.Errorf("departure = %q", got["departure"].String())
	}
	if got["vip"].Kind != KindBoolean || got["vip"].Bool {
		t.Errorf("vip = %+v, want false", got["vip"])
	}
	if !got["flag"].Bool {
		t.Errorf("flag = %+v, want truthy cast to true", got["flag"])
	}
	if got["extra"].String() != "kept" {
		t.Errorf("extra = %q", got["extra"].String())
	}
}

func TestValidateVariables_NumberSpellings(t *testing.T) {
	decls := []Variable{{Name: "price", Type: TypeNumber}}

	tests := []struct {
		in    string
		valid bool
	}{
		{"42", true},
		{" -3.5 ", true},
		{"1e3", true},
		{"Infinity", true},
		{"-Infinity", true},
		{"NaN", false},
		{"nan", false},
		{"inf", false},
		{"+Inf", false},
		{"infinity", false},
		{"0x10", false},
		{"12 EUR", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ValidateVariables(Values{"price": TextValue(tt.in)}, decls)
			if got.IsValid != tt.valid {
				t.Errorf("ValidateVariables(%q).IsValid = %v, want %v", tt.in, got.IsValid, tt.valid)
			}
		})
	}
}

func TestProcessVariables_UnparseableNumber(t *testing.T) {
	decls := []Variable{{Name: "price", Type: TypeNumber}}
	for _, in := range []string{"0x10", "NaN", "inf", "cheap"} {
		got := ProcessVariables(Values{"price": TextValue(in)}, decls)["price"]
		if got.Kind != KindNumber || got.Number != 0 || math.IsNaN(got.Number) {
			t.Errorf("ProcessVariables(%q) = %+v, want number 0", in, got)
		}
	}
}

func TestProcessVariables_DoesNotMutateInput(t *testing.T) {
	in := Values{"price": TextValue("5")}
	ProcessVariables(in, []Variable{{Name: "price", Type: TypeNumber}})
	if in["price"].Kind != KindText {
		t.Errorf("input was modified: %+v", in["price"])
	}
}

func TestValueJSON(t *testing.T) {
	var values Values
	body := `{"a": "text", "b": 3, "c": true, "d": null, "e": {"kind": "date", "value": "2026-01-02"}}`
	if err := json.Unmarshal([]byte(body), &values); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if values["a"].Kind != KindText || values["b"].Kind != KindNumber || values["c"].Kind != KindBoolean {
		t.Errorf("unexpected kinds: %+v", values)
	}
	if !values["d"].IsNull() {
		t.Errorf("d should be null: %+v", values["d"])
	}
	if values["e"].Kind != KindDate || values["e"].Date.Day() != 2 {
		t.Errorf("e = %+v", values["e"])
	}

	data, err := json.Marshal(NumberValue(4))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"kind":"number","value":4}` {
		t.Errorf("marshal = %s", data)
	}
}

func TestParseValue_Unsupported(t *testing.T) {
	if _, err := ParseValue([]string{"x"}); err == nil {
		t.Error("expected error for slice value")
	}
}

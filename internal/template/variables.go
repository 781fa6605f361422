package template

import "fmt"

// ValidateVariables checks values against the declared variables. It never
// fails; every violation is reported as one entry in the result.
func ValidateVariables(values Values, decls []Variable) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []string{}}

	for _, decl := range decls {
		value, ok := values[decl.Name]
		if !ok || value.absent() {
			if decl.Required {
				result.Errors = append(result.Errors, fmt.Sprintf("variable %q is required", decl.Name))
			}
			continue
		}

		switch decl.Type {
		case TypeNumber:
			if _, ok := value.number(); !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("variable %q must be a number", decl.Name))
			}
		case TypeDate:
			if _, ok := value.date(); !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("variable %q must be a valid date", decl.Name))
			}
		case TypeBoolean:
			if _, ok := value.boolean(); !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("variable %q must be true or false", decl.Name))
			}
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// ProcessVariables fills missing values from their declared defaults and
// coerces present values to the declared type. It assumes ValidateVariables
// already ran: an unparseable number becomes 0 and any other value that
// cannot be coerced is left as it was.
func ProcessVariables(values Values, decls []Variable) Values {
	out := make(Values, len(values))
	for k, v := range values {
		out[k] = v
	}

	for _, decl := range decls {
		value, ok := out[decl.Name]
		if (!ok || value.IsNull()) && decl.DefaultValue != nil {
			value = *decl.DefaultValue
			out[decl.Name] = value
		}
		if value.IsNull() {
			continue
		}

		switch decl.Type {
		case TypeNumber:
			n, ok := value.number()
			if !ok {
				n = 0
			}
			out[decl.Name] = NumberValue(n)
		case TypeDate:
			if t, ok := value.date(); ok {
				out[decl.Name] = TextValue(t.Format(ShortDateLayout))
			}
		case TypeBoolean:
			if b, ok := value.boolean(); ok {
				out[decl.Name] = BoolValue(b)
			} else {
				out[decl.Name] = BoolValue(value.Truthy())
			}
		case TypeText:
			if value.Kind != KindText {
				out[decl.Name] = TextValue(value.String())
			}
		}
	}

	return out
}

// missingRequired returns the names of required variables without a value
func missingRequired(values Values, decls []Variable) []string {
	var missing []string
	for _, decl := range decls {
		if !decl.Required {
			continue
		}
		if v, ok := values[decl.Name]; !ok || v.absent() {
			missing = append(missing, decl.Name)
		}
	}
	return missing
}

// applyDefaults returns a copy of values with declared defaults filled in
func applyDefaults(values Values, decls []Variable) Values {
	out := make(Values, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, decl := range decls {
		if decl.DefaultValue == nil {
			continue
		}
		if v, ok := out[decl.Name]; !ok || v.IsNull() {
			out[decl.Name] = *decl.DefaultValue
		}
	}
	return out
}

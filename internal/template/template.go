package template

// VariableType is the declared type of a template variable
type VariableType string

const (
	TypeText    VariableType = "text"
	TypeNumber  VariableType = "number"
	TypeDate    VariableType = "date"
	TypeBoolean VariableType = "boolean"
)

// Valid reports whether t is a known variable type
func (t VariableType) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeDate, TypeBoolean:
		return true
	}
	return false
}

// Template is the renderable content of an email template
type Template struct {
	Subject   string     `json:"subject"`
	HTML      string     `json:"html,omitempty"`
	Text      string     `json:"text,omitempty"`
	Variables []Variable `json:"variables,omitempty"`
}

// Variable documents a template variable and the contract its value must meet
type Variable struct {
	Name         string       `json:"name"`
	Type         VariableType `json:"type"`
	Required     bool         `json:"required,omitempty"`
	DefaultValue *Value       `json:"default_value,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// RenderResult contains rendered template output
type RenderResult struct {
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// ValidationResult reports every variable that violates its declaration
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// SecurityReport lists constructs in HTML content that should be reviewed
type SecurityReport struct {
	IsSecure bool     `json:"is_secure"`
	Issues   []string `json:"issues"`
}

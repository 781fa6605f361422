package template

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidVariables is returned when values violate the declared variables
	ErrInvalidVariables = errors.New("invalid template variables")
	// ErrNestedBlocks is returned for content with nested conditional blocks
	ErrNestedBlocks = errors.New("nested conditional blocks are not supported")
)

// MissingPolicy decides what rendering does with required variables that
// have no value
type MissingPolicy string

const (
	// PolicyFail refuses to render
	PolicyFail MissingPolicy = "fail"
	// PolicyEmpty renders missing required variables as empty strings
	PolicyEmpty MissingPolicy = "empty"
)

// VariableError lists the validation failures that stopped a render
type VariableError struct {
	Errors []string
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidVariables, strings.Join(e.Errors, "; "))
}

func (e *VariableError) Unwrap() error { return ErrInvalidVariables }

// Engine renders templates with data
type Engine struct {
	policy MissingPolicy
}

// NewEngine creates a new template engine. An unknown policy falls back to PolicyFail.
func NewEngine(policy MissingPolicy) *Engine {
	if policy != PolicyEmpty {
		policy = PolicyFail
	}
	return &Engine{policy: policy}
}

// Policy returns the missing variable policy in effect
func (e *Engine) Policy() MissingPolicy {
	return e.policy
}

// Render validates values against the template variables, applies defaults
// and substitutes subject, HTML and text.
func (e *Engine) Render(tmpl *Template, values Values) (*RenderResult, error) {
	if err := e.Validate(tmpl); err != nil {
		return nil, err
	}

	// Declared defaults count as values for the required check.
	values = applyDefaults(values, tmpl.Variables)

	check := ValidateVariables(values, tmpl.Variables)
	if !check.IsValid {
		if e.policy == PolicyFail {
			return nil, &VariableError{Errors: check.Errors}
		}
		// Type errors still fail; only missing values degrade to "".
		if typeErrs := len(check.Errors) - len(missingRequired(values, tmpl.Variables)); typeErrs > 0 {
			return nil, &VariableError{Errors: check.Errors}
		}
	}

	processed := ProcessVariables(values, tmpl.Variables)
	if e.policy == PolicyEmpty {
		for _, name := range missingRequired(processed, tmpl.Variables) {
			processed[name] = TextValue("")
		}
	}

	return &RenderResult{
		Subject: ReplaceVariables(tmpl.Subject, processed),
		HTML:    ReplaceVariables(tmpl.HTML, processed),
		Text:    ReplaceVariables(tmpl.Text, processed),
	}, nil
}

// Validate checks that the template content is something Render can handle
func (e *Engine) Validate(tmpl *Template) error {
	if NestedBlocks(tmpl.Subject) {
		return fmt.Errorf("subject: %w", ErrNestedBlocks)
	}
	if NestedBlocks(tmpl.HTML) {
		return fmt.Errorf("html: %w", ErrNestedBlocks)
	}
	if NestedBlocks(tmpl.Text) {
		return fmt.Errorf("text: %w", ErrNestedBlocks)
	}
	return nil
}

// Variables returns the placeholders referenced by subject, HTML and text
func (e *Engine) Variables(tmpl *Template) []string {
	return ExtractVariables(tmpl.Subject + "\n" + tmpl.HTML + "\n" + tmpl.Text)
}

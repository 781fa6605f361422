package models

import (
	"time"

	"github.com/foxzi/travelcrm/internal/template"
)

// EmailTemplate is a reusable message owned by an agent
type EmailTemplate struct {
	ID        string              `json:"id"`
	OwnerID   string              `json:"owner_id"`
	Name      string              `json:"name"`
	Category  string              `json:"category"`
	Subject   string              `json:"subject"`
	HTML      string              `json:"html"`
	Text      string              `json:"text,omitempty"`
	Variables []template.Variable `json:"variables"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Content returns the renderable part of the template
func (t *EmailTemplate) Content() *template.Template {
	return &template.Template{
		Subject:   t.Subject,
		HTML:      t.HTML,
		Text:      t.Text,
		Variables: t.Variables,
	}
}

// TemplateListFilter for filtering template list
type TemplateListFilter struct {
	OwnerID  string
	Category string
	Search   string
	Limit    int
	Offset   int
}

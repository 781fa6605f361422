package models

import "time"

// ContactStatus is the pipeline stage of a lead or customer
type ContactStatus string

const (
	StatusNew       ContactStatus = "NUEVO"
	StatusContacted ContactStatus = "CONTACTADO"
	StatusQuoted    ContactStatus = "COTIZADO"
	StatusClient    ContactStatus = "CLIENTE"
	StatusLost      ContactStatus = "PERDIDO"
)

// BudgetRange buckets how much a contact usually spends on a trip
type BudgetRange string

const (
	BudgetLow     BudgetRange = "BAJO"
	BudgetMedium  BudgetRange = "MEDIO"
	BudgetHigh    BudgetRange = "ALTO"
	BudgetPremium BudgetRange = "PREMIUM"
)

// LeadSource is the channel a contact came in through
type LeadSource string

const (
	SourceWeb      LeadSource = "WEB"
	SourceReferral LeadSource = "REFERIDO"
	SourceSocial   LeadSource = "REDES_SOCIALES"
	SourceEmail    LeadSource = "EMAIL"
	SourcePhone    LeadSource = "TELEFONO"
	SourceOther    LeadSource = "OTRO"
)

var validStatuses = map[ContactStatus]bool{
	StatusNew: true, StatusContacted: true, StatusQuoted: true, StatusClient: true, StatusLost: true,
}

var validBudgets = map[BudgetRange]bool{
	BudgetLow: true, BudgetMedium: true, BudgetHigh: true, BudgetPremium: true,
}

var validSources = map[LeadSource]bool{
	SourceWeb: true, SourceReferral: true, SourceSocial: true, SourceEmail: true, SourcePhone: true, SourceOther: true,
}

// Valid reports whether s is a known pipeline stage
func (s ContactStatus) Valid() bool { return validStatuses[s] }

// Valid reports whether b is a known budget bucket
func (b BudgetRange) Valid() bool { return validBudgets[b] }

// Valid reports whether s is a known lead source
func (s LeadSource) Valid() bool { return validSources[s] }

// Contact represents a lead or customer of the agency
type Contact struct {
	ID                    string        `json:"id"`
	FirstName             string        `json:"first_name"`
	LastName              string        `json:"last_name"`
	Email                 string        `json:"email"`
	Phone                 string        `json:"phone"`
	Status                ContactStatus `json:"status"`
	PreferredDestinations []string      `json:"preferred_destinations"`
	Tags                  []string      `json:"tags"`
	BudgetRange           BudgetRange   `json:"budget_range,omitempty"`
	Source                LeadSource    `json:"source,omitempty"`
	AssignedAgentID       string        `json:"assigned_agent_id,omitempty"`
	Notes                 string        `json:"notes,omitempty"`
	LastTripAt            *time.Time    `json:"last_trip_at,omitempty"` // derived from trips
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// FullName joins first and last name
func (c *Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// ContactListFilter for filtering contacts
type ContactListFilter struct {
	Search          string
	Status          ContactStatus
	AssignedAgentID string
	Limit           int
	Offset          int
}

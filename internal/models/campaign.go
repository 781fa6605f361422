package models

import "time"

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignSent      CampaignStatus = "SENT"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// campaignTransitions lists the allowed next states for each state
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignSending, CampaignCancelled},
	CampaignScheduled: {CampaignDraft, CampaignSending, CampaignCancelled},
	CampaignSending:   {CampaignSent},
}

// CanTransition reports whether a campaign in status s may move to next
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TargetCriteria selects the contacts a campaign addresses. A nil or empty
// field imposes no constraint.
type TargetCriteria struct {
	Status          []ContactStatus `json:"status,omitempty"`
	Destinations    []string        `json:"destinations,omitempty"`
	BudgetRange     []BudgetRange   `json:"budget_range,omitempty"`
	LastTripDays    *int            `json:"last_trip_days,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Source          []LeadSource    `json:"source,omitempty"`
	AssignedAgentID string          `json:"assigned_agent_id,omitempty"`
}

// IsEmpty reports whether the criteria select every contact
func (c TargetCriteria) IsEmpty() bool {
	return len(c.Status) == 0 && len(c.Destinations) == 0 && len(c.BudgetRange) == 0 &&
		c.LastTripDays == nil && len(c.Tags) == 0 && len(c.Source) == 0 && c.AssignedAgentID == ""
}

// Campaign represents a bulk outbound message to a filtered contact set
type Campaign struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      CampaignStatus    `json:"status"`
	TemplateID  string            `json:"template_id,omitempty"`
	FromEmail   string            `json:"from_email"`
	FromName    string            `json:"from_name"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Criteria    TargetCriteria    `json:"criteria"`
	Variables   map[string]string `json:"variables,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Stats       CampaignStats     `json:"stats"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Editable reports whether the campaign content and targeting may still change
func (c *Campaign) Editable() bool {
	return c.Status == CampaignDraft
}

// CampaignStats holds aggregated delivery counters
type CampaignStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Recipient delivery states
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// CampaignRecipient is one contact in the snapshot taken when sending starts
type CampaignRecipient struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	ContactID  string     `json:"contact_id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	MessageID  string     `json:"message_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	OwnerID string
	Status  CampaignStatus
	Search  string
	Limit   int
	Offset  int
}

// Package targeting compiles campaign target criteria into a contact
// predicate. It performs no I/O: the predicate is either rendered as a SQL
// condition for the contact repository or evaluated in memory.
package targeting

import (
	"strings"
	"time"

	"github.com/foxzi/travelcrm/internal/models"
)

// Resolver turns TargetCriteria into a Predicate
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a resolver that evaluates recency against the wall clock
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// NewResolverWithClock creates a resolver with a custom clock
func NewResolverWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// Resolve compiles criteria into a predicate. Relative conditions such as
// LastTripDays are pinned to the moment Resolve is called, so callers must
// resolve again when they need the live population.
func (r *Resolver) Resolve(criteria models.TargetCriteria) Predicate {
	at := r.now()
	p := Predicate{at: at}

	if len(criteria.Status) > 0 {
		p.conds = append(p.conds, oneOf{column: "c.status", values: statusStrings(criteria.Status), field: func(c *models.Contact) string {
			return string(c.Status)
		}})
	}
	if len(criteria.Destinations) > 0 {
		p.conds = append(p.conds, overlaps{column: "c.preferred_destinations", values: criteria.Destinations, field: func(c *models.Contact) []string {
			return c.PreferredDestinations
		}})
	}
	if len(criteria.BudgetRange) > 0 {
		p.conds = append(p.conds, oneOf{column: "c.budget_range", values: budgetStrings(criteria.BudgetRange), field: func(c *models.Contact) string {
			return string(c.BudgetRange)
		}})
	}
	if criteria.LastTripDays != nil {
		cutoff := at.AddDate(0, 0, -*criteria.LastTripDays)
		p.conds = append(p.conds, tripSince{cutoff: cutoff.Format(models.DateLayout)})
	}
	if len(criteria.Tags) > 0 {
		p.conds = append(p.conds, overlaps{column: "c.tags", values: criteria.Tags, field: func(c *models.Contact) []string {
			return c.Tags
		}})
	}
	if len(criteria.Source) > 0 {
		p.conds = append(p.conds, oneOf{column: "c.source", values: sourceStrings(criteria.Source), field: func(c *models.Contact) string {
			return string(c.Source)
		}})
	}
	if criteria.AssignedAgentID != "" {
		p.conds = append(p.conds, oneOf{column: "c.assigned_agent_id", values: []string{criteria.AssignedAgentID}, field: func(c *models.Contact) string {
			return c.AssignedAgentID
		}})
	}

	return p
}

// Predicate is a conjunction of contact conditions. The zero Predicate
// matches every contact.
type Predicate struct {
	conds []condition
	at    time.Time
}

// EvaluatedAt returns the instant relative conditions were computed for
func (p Predicate) EvaluatedAt() time.Time {
	return p.at
}

// IsEmpty reports whether the predicate matches every contact
func (p Predicate) IsEmpty() bool {
	return len(p.conds) == 0
}

// SQL renders the predicate as a WHERE condition over the contacts table
// aliased as c, with its positional arguments
func (p Predicate) SQL() (string, []any) {
	if len(p.conds) == 0 {
		return "1=1", nil
	}

	parts := make([]string, 0, len(p.conds))
	var args []any
	for _, c := range p.conds {
		clause, a := c.sql()
		parts = append(parts, clause)
		args = append(args, a...)
	}
	return strings.Join(parts, " AND "), args
}

// Match evaluates the predicate against a contact in memory
func (p Predicate) Match(c *models.Contact) bool {
	for _, cond := range p.conds {
		if !cond.match(c) {
			return false
		}
	}
	return true
}

type condition interface {
	sql() (string, []any)
	match(c *models.Contact) bool
}

// oneOf: the column equals at least one of the values
type oneOf struct {
	column string
	values []string
	field  func(*models.Contact) string
}

func (o oneOf) sql() (string, []any) {
	if len(o.values) == 1 {
		return o.column + " = ?", []any{o.values[0]}
	}
	return o.column + " IN (" + placeholders(len(o.values)) + ")", toArgs(o.values)
}

func (o oneOf) match(c *models.Contact) bool {
	v := o.field(c)
	for _, want := range o.values {
		if v == want {
			return true
		}
	}
	return false
}

// overlaps: the JSON array column shares at least one element with values
type overlaps struct {
	column string
	values []string
	field  func(*models.Contact) []string
}

func (o overlaps) sql() (string, []any) {
	return "EXISTS (SELECT 1 FROM json_each(" + o.column + ") WHERE json_each.value IN (" + placeholders(len(o.values)) + "))", toArgs(o.values)
}

func (o overlaps) match(c *models.Contact) bool {
	have := make(map[string]bool)
	for _, v := range o.field(c) {
		have[v] = true
	}
	for _, want := range o.values {
		if have[want] {
			return true
		}
	}
	return false
}

// tripSince: the contact's most recent trip departs on or after cutoff
type tripSince struct {
	cutoff string
}

func (t tripSince) sql() (string, []any) {
	return "(SELECT MAX(t.departure_date) FROM trips t WHERE t.contact_id = c.id AND t.status != ?) >= ?",
		[]any{string(models.TripCancelled), t.cutoff}
}

func (t tripSince) match(c *models.Contact) bool {
	if c.LastTripAt == nil {
		return false
	}
	return c.LastTripAt.Format(models.DateLayout) >= t.cutoff
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func statusStrings(in []models.ContactStatus) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func budgetStrings(in []models.BudgetRange) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func sourceStrings(in []models.LeadSource) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// Package repository persists CRM records in SQLite. Lookups by ID return
// nil, nil when no row exists.
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/travelcrm/internal/models"
)

// nullString stores empty strings as NULL so optional foreign keys stay valid
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func unmarshalStrings(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}
	return out, nil
}

func parseDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s.String, err)
	}
	return &t, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

var (
	// ErrNotFound is returned by updates that matched no row
	ErrNotFound = errors.New("not found")
	// ErrAlreadySending is returned when a campaign was no longer draft or
	// scheduled at the moment sending was claimed
	ErrAlreadySending = errors.New("campaign is already sending or sent")
)

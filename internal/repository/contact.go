package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/targeting"
	"github.com/google/uuid"
)

type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactSelect = `
	SELECT c.id, c.first_name, COALESCE(c.last_name, ''), c.email, COALESCE(c.phone, ''), c.status,
		c.preferred_destinations, c.tags, COALESCE(c.budget_range, ''), COALESCE(c.source, ''),
		COALESCE(c.assigned_agent_id, ''), COALESCE(c.notes, ''),
		(SELECT MAX(t.departure_date) FROM trips t WHERE t.contact_id = c.id AND t.status != 'CANCELADO'),
		c.created_at, c.updated_at
	FROM contacts c`

// Create creates a new contact
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.StatusNew
	}

	destinations, tags, err := contactArrays(c)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, first_name, last_name, email, phone, status, preferred_destinations, tags,
			budget_range, source, assigned_agent_id, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.Status, destinations, tags,
		nullString(string(c.BudgetRange)), nullString(string(c.Source)), nullString(c.AssignedAgentID), c.Notes,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetByID returns a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	row := r.db.QueryRowContext(ctx, contactSelect+" WHERE c.id = ?", id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns contacts with optional filtering
func (r *ContactRepository) List(ctx context.Context, filter models.ContactListFilter) ([]models.Contact, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Search != "" {
		where += " AND (c.first_name LIKE ? OR c.last_name LIKE ? OR c.email LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s, s)
	}
	if filter.Status != "" {
		where += " AND c.status = ?"
		args = append(args, filter.Status)
	}
	if filter.AssignedAgentID != "" {
		where += " AND c.assigned_agent_id = ?"
		args = append(args, filter.AssignedAgentID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contacts c"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := contactSelect + where + " ORDER BY c.updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	contacts, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return contacts, total, nil
}

// Match returns every contact the predicate selects. The order is unspecified.
func (r *ContactRepository) Match(ctx context.Context, p targeting.Predicate) ([]models.Contact, error) {
	where, args := p.SQL()
	return r.query(ctx, contactSelect+" WHERE "+where, args...)
}

// Update updates a contact
func (r *ContactRepository) Update(ctx context.Context, c *models.Contact) error {
	c.UpdatedAt = time.Now().UTC()

	destinations, tags, err := contactArrays(c)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE contacts SET first_name = ?, last_name = ?, email = ?, phone = ?, status = ?,
			preferred_destinations = ?, tags = ?, budget_range = ?, source = ?, assigned_agent_id = ?,
			notes = ?, updated_at = ?
		WHERE id = ?`,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Status, destinations, tags,
		nullString(string(c.BudgetRange)), nullString(string(c.Source)), nullString(c.AssignedAgentID),
		c.Notes, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

// Delete deletes a contact and its trips
func (r *ContactRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM contacts WHERE id = ?", id)
	return err
}

func (r *ContactRepository) query(ctx context.Context, query string, args ...any) ([]models.Contact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(s scanner) (*models.Contact, error) {
	c := &models.Contact{}
	var destinations, tags string
	var lastTrip sql.NullString

	err := s.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Status,
		&destinations, &tags, &c.BudgetRange, &c.Source, &c.AssignedAgentID, &c.Notes,
		&lastTrip, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if c.PreferredDestinations, err = unmarshalStrings(destinations); err != nil {
		return nil, fmt.Errorf("contact %s destinations: %w", c.ID, err)
	}
	if c.Tags, err = unmarshalStrings(tags); err != nil {
		return nil, fmt.Errorf("contact %s tags: %w", c.ID, err)
	}
	if c.LastTripAt, err = parseDate(lastTrip); err != nil {
		return nil, fmt.Errorf("contact %s last trip: %w", c.ID, err)
	}
	return c, nil
}

func contactArrays(c *models.Contact) (string, string, error) {
	destinations, err := marshalJSON(c.PreferredDestinations, "[]")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode destinations: %w", err)
	}
	tags, err := marshalJSON(c.Tags, "[]")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return destinations, tags, nil
}

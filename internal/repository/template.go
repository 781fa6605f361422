package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/template"
	"github.com/google/uuid"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateSelect = `
	SELECT id, COALESCE(owner_id, ''), name, COALESCE(category, ''), subject, html, COALESCE(text, ''),
		variables, created_at, updated_at
	FROM email_templates`

// Create creates a new email template
func (r *TemplateRepository) Create(ctx context.Context, t *models.EmailTemplate) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt

	variables, err := marshalJSON(t.Variables, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_templates (id, owner_id, name, category, subject, html, text, variables, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullString(t.OwnerID), t.Name, t.Category, t.Subject, t.HTML, t.Text, variables, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.EmailTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, templateSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns templates with optional filtering
func (r *TemplateRepository) List(ctx context.Context, filter models.TemplateListFilter) ([]models.EmailTemplate, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.OwnerID != "" {
		where += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Category != "" {
		where += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		where += " AND (name LIKE ? OR subject LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM email_templates"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := templateSelect + where + " ORDER BY updated_at DESC"
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

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	templates := []models.EmailTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		templates = append(templates, *t)
	}
	return templates, total, rows.Err()
}

// Update updates a template
func (r *TemplateRepository) Update(ctx context.Context, t *models.EmailTemplate) error {
	t.UpdatedAt = time.Now().UTC()

	variables, err := marshalJSON(t.Variables, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE email_templates SET name = ?, category = ?, subject = ?, html = ?, text = ?, variables = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Category, t.Subject, t.HTML, t.Text, variables, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

// Delete deletes a template. Campaigns referencing it lose the reference.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM email_templates WHERE id = ?", id)
	return err
}

func scanTemplate(s scanner) (*models.EmailTemplate, error) {
	t := &models.EmailTemplate{}
	var variables string
	err := s.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Category, &t.Subject, &t.HTML, &t.Text, &variables, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Variables = []template.Variable{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &t.Variables); err != nil {
			return nil, fmt.Errorf("template %s variables: %w", t.ID, err)
		}
	}
	return t, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a campaign is not in a state that
// allows the requested change
var ErrInvalidTransition = errors.New("invalid campaign status transition")

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignSelect = `
	SELECT id, COALESCE(owner_id, ''), name, COALESCE(description, ''), status, COALESCE(template_id, ''),
		from_email, COALESCE(from_name, ''), COALESCE(reply_to, ''), criteria, variables,
		scheduled_at, started_at, completed_at, stats, created_at, updated_at
	FROM campaigns`

// Create creates a new campaign in DRAFT
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Status = models.CampaignDraft
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	criteria, variables, err := campaignJSON(c)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, owner_id, name, description, status, template_id, from_email, from_name, reply_to,
			criteria, variables, stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		c.ID, nullString(c.OwnerID), c.Name, c.Description, c.Status, nullString(c.TemplateID),
		c.FromEmail, c.FromName, c.ReplyTo, criteria, variables, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, campaignSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.OwnerID != "" {
		where += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := campaignSelect + where + " ORDER BY created_at DESC"
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

	return r.query(ctx, query, args...)
}

// ListDue returns SCHEDULED campaigns whose scheduled time is not after now
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	campaigns, _, err := r.query(ctx,
		campaignSelect+" WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ? ORDER BY scheduled_at",
		models.CampaignScheduled, now.UTC(),
	)
	return campaigns, err
}

func (r *CampaignRepository) query(ctx context.Context, query string, args ...any) ([]models.Campaign, int, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, len(campaigns), rows.Err()
}

// Update saves content and targeting of a DRAFT campaign
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = time.Now().UTC()

	criteria, variables, err := campaignJSON(c)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET name = ?, description = ?, template_id = ?, from_email = ?, from_name = ?, reply_to = ?,
			criteria = ?, variables = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		c.Name, c.Description, nullString(c.TemplateID), c.FromEmail, c.FromName, c.ReplyTo,
		criteria, variables, c.UpdatedAt, c.ID, models.CampaignDraft,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return r.checkTransition(ctx, res, c.ID)
}

// Schedule moves a DRAFT or SCHEDULED campaign to SCHEDULED at the given time
func (r *CampaignRepository) Schedule(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.CampaignScheduled, at.UTC(), time.Now().UTC(), id, models.CampaignDraft, models.CampaignScheduled,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule campaign: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Unschedule moves a SCHEDULED campaign back to DRAFT
func (r *CampaignRepository) Unschedule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, scheduled_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignDraft, time.Now().UTC(), id, models.CampaignScheduled,
	)
	if err != nil {
		return fmt.Errorf("failed to unschedule campaign: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Cancel moves a DRAFT or SCHEDULED campaign to CANCELLED
func (r *CampaignRepository) Cancel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.CampaignCancelled, time.Now().UTC(), id, models.CampaignDraft, models.CampaignScheduled,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel campaign: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Delete removes a campaign that is not currently sending
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ? AND status != ?", id, models.CampaignSending)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// checkTransition turns a conditional update that touched no row into
// ErrNotFound or ErrInvalidTransition
func (r *CampaignRepository) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM campaigns WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidTransition
}

// ClaimSending moves the campaign to SENDING and stores the recipient
// snapshot in one transaction. Only one caller can win the claim; every
// other caller gets ErrAlreadySending and nothing is written.
func (r *CampaignRepository) ClaimSending(ctx context.Context, id string, contacts []models.Contact) ([]models.CampaignRecipient, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.CampaignSending, now, now, id, models.CampaignDraft, models.CampaignScheduled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, "SELECT status FROM campaigns WHERE id = ?", id).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if status == string(models.CampaignCancelled) {
			return nil, ErrInvalidTransition
		}
		return nil, ErrAlreadySending
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, contact_id, email, name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	recipients := make([]models.CampaignRecipient, 0, len(contacts))
	for _, contact := range contacts {
		rc := models.CampaignRecipient{
			ID:         uuid.New().String(),
			CampaignID: id,
			ContactID:  contact.ID,
			Email:      contact.Email,
			Name:       contact.FullName(),
			Status:     models.RecipientPending,
			CreatedAt:  now,
		}
		if _, err := stmt.ExecContext(ctx, rc.ID, rc.CampaignID, rc.ContactID, rc.Email, rc.Name, rc.Status, rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to store recipient %s: %w", contact.ID, err)
		}
		recipients = append(recipients, rc)
	}

	stats, err := json.Marshal(models.CampaignStats{Total: len(recipients), Pending: len(recipients)})
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE campaigns SET stats = ? WHERE id = ?", string(stats), id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return recipients, nil
}

// Complete recomputes the stats from the recipients and marks a SENDING
// campaign SENT
func (r *CampaignRepository) Complete(ctx context.Context, id string) (models.CampaignStats, error) {
	stats, err := r.RecipientStats(ctx, id)
	if err != nil {
		return stats, err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, stats = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignSent, string(data), now, now, id, models.CampaignSending,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to complete campaign: %w", err)
	}
	return stats, r.checkTransition(ctx, res, id)
}

// RecipientStats counts recipients of a campaign by delivery status
func (r *CampaignRepository) RecipientStats(ctx context.Context, campaignID string) (models.CampaignStats, error) {
	var stats models.CampaignStats
	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id = ? GROUP BY status", campaignID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Total += count
		switch status {
		case models.RecipientPending:
			stats.Pending = count
		case models.RecipientSent:
			stats.Sent = count
		case models.RecipientFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// ListRecipients returns the recipient snapshot of a campaign
func (r *CampaignRepository) ListRecipients(ctx context.Context, campaignID, status string, limit, offset int) ([]models.CampaignRecipient, int, error) {
	where := " WHERE campaign_id = ?"
	args := []any{campaignID}
	if status != "" {
		where += " AND status = ?"
		args = append(args, status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaign_recipients"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, campaign_id, contact_id, email, COALESCE(name, ''), status, message_id, error, sent_at, created_at
		FROM campaign_recipients` + where + " ORDER BY email"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recipients := []models.CampaignRecipient{}
	for rows.Next() {
		var rc models.CampaignRecipient
		var sentAt sql.NullTime
		if err := rows.Scan(&rc.ID, &rc.CampaignID, &rc.ContactID, &rc.Email, &rc.Name, &rc.Status,
			&rc.MessageID, &rc.Error, &sentAt, &rc.CreatedAt); err != nil {
			return nil, 0, err
		}
		rc.SentAt = timePtr(sentAt)
		recipients = append(recipients, rc)
	}
	return recipients, total, rows.Err()
}

// MarkRecipientSent records a successful delivery
func (r *CampaignRepository) MarkRecipientSent(ctx context.Context, id, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE campaign_recipients SET status = ?, message_id = ?, error = '', sent_at = ? WHERE id = ?",
		models.RecipientSent, messageID, time.Now().UTC(), id,
	)
	return err
}

// MarkRecipientFailed records a failed render or delivery
func (r *CampaignRepository) MarkRecipientFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE campaign_recipients SET status = ?, error = ? WHERE id = ?",
		models.RecipientFailed, errMsg, id,
	)
	return err
}

func campaignJSON(c *models.Campaign) (string, string, error) {
	criteria, err := marshalJSON(c.Criteria, "{}")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode criteria: %w", err)
	}
	variables, err := marshalJSON(c.Variables, "{}")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode variables: %w", err)
	}
	return criteria, variables, nil
}

func scanCampaign(s scanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var status, criteria, variables, stats string
	var scheduledAt, startedAt, completedAt sql.NullTime

	err := s.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &status, &c.TemplateID,
		&c.FromEmail, &c.FromName, &c.ReplyTo, &criteria, &variables,
		&scheduledAt, &startedAt, &completedAt, &stats, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Status = models.CampaignStatus(status)
	c.ScheduledAt = timePtr(scheduledAt)
	c.StartedAt = timePtr(startedAt)
	c.CompletedAt = timePtr(completedAt)

	if strings.TrimSpace(criteria) != "" {
		if err := json.Unmarshal([]byte(criteria), &c.Criteria); err != nil {
			return nil, fmt.Errorf("campaign %s criteria: %w", c.ID, err)
		}
	}
	if strings.TrimSpace(variables) != "" {
		if err := json.Unmarshal([]byte(variables), &c.Variables); err != nil {
			return nil, fmt.Errorf("campaign %s variables: %w", c.ID, err)
		}
	}
	if strings.TrimSpace(stats) != "" {
		if err := json.Unmarshal([]byte(stats), &c.Stats); err != nil {
			return nil, fmt.Errorf("campaign %s stats: %w", c.ID, err)
		}
	}
	return c, nil
}

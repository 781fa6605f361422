package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/google/uuid"
)

type TripRepository struct {
	db *sql.DB
}

func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

// Create books a trip for a contact
func (r *TripRepository) Create(ctx context.Context, t *models.Trip) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = models.TripQuoted
	}

	var returnDate any
	if t.ReturnDate != nil {
		returnDate = t.ReturnDate.Format(models.DateLayout)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trips (id, contact_id, destination, departure_date, return_date, status, price, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ContactID, t.Destination, t.DepartureDate.Format(models.DateLayout), returnDate,
		t.Status, t.Price, t.Notes, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}
	return nil
}

// ListByContact returns a contact's trips, most recent departure first
func (r *TripRepository) ListByContact(ctx context.Context, contactID string) ([]models.Trip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contact_id, destination, departure_date, return_date, status, COALESCE(price, 0), COALESCE(notes, ''), created_at
		FROM trips WHERE contact_id = ?
		ORDER BY departure_date DESC`, contactID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trips := []models.Trip{}
	for rows.Next() {
		var t models.Trip
		var departure string
		var returnDate sql.NullString
		if err := rows.Scan(&t.ID, &t.ContactID, &t.Destination, &departure, &returnDate, &t.Status, &t.Price, &t.Notes, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.DepartureDate, err = time.Parse(models.DateLayout, departure); err != nil {
			return nil, fmt.Errorf("trip %s departure: %w", t.ID, err)
		}
		if t.ReturnDate, err = parseDate(returnDate); err != nil {
			return nil, fmt.Errorf("trip %s return: %w", t.ID, err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// UpdateStatus changes the booking state of a trip
func (r *TripRepository) UpdateStatus(ctx context.Context, id string, status models.TripStatus) error {
	res, err := r.db.ExecContext(ctx, "UPDATE trips SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update trip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes a trip
func (r *TripRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM trips WHERE id = ?", id)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/foxzi/travelcrm/internal/metrics"
)

// StatsRepository reports row counts for gauges
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// Counts returns the number of contacts and campaigns per status
func (r *StatsRepository) Counts(ctx context.Context) (*metrics.Counts, error) {
	counts := &metrics.Counts{Campaigns: make(map[string]int)}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contacts").Scan(&counts.Contacts); err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM campaigns GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count campaigns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts.Campaigns[status] = n
	}
	return counts, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when an agent login does not match
var ErrInvalidCredentials = errors.New("invalid credentials")

type AgentRepository struct {
	db *sql.DB
}

func NewAgentRepository(db *sql.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Create stores a new agent with a bcrypt hash of password
func (r *AgentRepository) Create(ctx context.Context, a *models.Agent, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	a.ID = uuid.New().String()
	a.PasswordHash = string(hash)
	a.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO agents (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		a.ID, a.Email, a.Name, a.PasswordHash, a.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("agent with email %s already exists", a.Email)
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetByEmail returns an agent by email
func (r *AgentRepository) GetByEmail(ctx context.Context, email string) (*models.Agent, error) {
	a := &models.Agent{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, email, COALESCE(name, ''), password_hash, created_at FROM agents WHERE email = ?", email,
	).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate checks an email and password pair
func (r *AgentRepository) Authenticate(ctx context.Context, email, password string) (*models.Agent, error) {
	a, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// List returns all agents ordered by email
func (r *AgentRepository) List(ctx context.Context) ([]models.Agent, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, email, COALESCE(name, ''), created_at FROM agents ORDER BY email")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Delete removes an agent by email
func (r *AgentRepository) Delete(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM agents WHERE email = ?", email)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

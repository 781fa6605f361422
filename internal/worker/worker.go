// Package worker runs scheduled campaigns in the background.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/travelcrm/internal/campaign"
	"github.com/foxzi/travelcrm/internal/models"
)

// Campaigns is the part of the campaign service the worker drives
type Campaigns interface {
	DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error)
	Sending(ctx context.Context) ([]models.Campaign, error)
	Send(ctx context.Context, id string) (models.CampaignStats, error)
	Resume(ctx context.Context, id string) (models.CampaignStats, error)
}

// Config holds worker configuration
type Config struct {
	PollInterval time.Duration
	// Resume delivers campaigns left in SENDING when the worker starts
	Resume bool
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		Resume:       true,
	}
}

// Worker sends SCHEDULED campaigns once they are due
type Worker struct {
	campaigns Campaigns
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new worker
func New(campaigns Campaigns, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		campaigns: campaigns,
		logger:    logger.With("component", "worker"),
		cfg:       cfg,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the worker
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("worker started", "poll_interval", w.cfg.PollInterval, "resume", w.cfg.Resume)
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	if w.cfg.Resume {
		w.resumeSending()
	}
	w.sendDue()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sendDue()
		}
	}
}

// resumeSending finishes campaigns interrupted during dispatch
func (w *Worker) resumeSending() {
	campaigns, err := w.campaigns.Sending(w.ctx)
	if err != nil {
		w.logger.Error("failed to get sending campaigns", "error", err)
		return
	}

	for _, c := range campaigns {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		stats, err := w.campaigns.Resume(w.ctx, c.ID)
		if err != nil {
			w.logger.Error("failed to resume campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		w.logger.Info("resumed campaign", "campaign_id", c.ID, "sent", stats.Sent, "failed", stats.Failed)
	}
}

// sendDue sends every SCHEDULED campaign whose time has come
func (w *Worker) sendDue() {
	due, err := w.campaigns.DueCampaigns(w.ctx, w.now())
	if err != nil {
		w.logger.Error("failed to get due campaigns", "error", err)
		return
	}

	for _, c := range due {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		stats, err := w.campaigns.Send(w.ctx, c.ID)
		switch {
		case err == nil:
			w.logger.Info("sent scheduled campaign", "campaign_id", c.ID, "name", c.Name, "sent", stats.Sent, "failed", stats.Failed)
		case errors.Is(err, campaign.ErrAlreadySending), errors.Is(err, campaign.ErrInvalidTransition):
			// Claimed elsewhere or cancelled since the poll.
			w.logger.Debug("skipping scheduled campaign", "campaign_id", c.ID, "reason", err)
		default:
			w.logger.Error("failed to send scheduled campaign", "campaign_id", c.ID, "error", err)
		}
	}
}

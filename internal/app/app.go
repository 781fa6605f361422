package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/foxzi/travelcrm/internal/api"
	"github.com/foxzi/travelcrm/internal/campaign"
	"github.com/foxzi/travelcrm/internal/config"
	"github.com/foxzi/travelcrm/internal/db"
	"github.com/foxzi/travelcrm/internal/mailer"
	"github.com/foxzi/travelcrm/internal/metrics"
	"github.com/foxzi/travelcrm/internal/ratelimit"
	"github.com/foxzi/travelcrm/internal/repository"
	"github.com/foxzi/travelcrm/internal/template"
	"github.com/foxzi/travelcrm/internal/worker"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *db.DB
	sandbox       *mailer.SandboxStorage
	campaigns     *campaign.Service
	rateLimiter   *ratelimit.Limiter
	apiServer     *api.Server
	worker        *worker.Worker
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}

	sender, sandbox, err := NewSender(cfg, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	engine := template.NewEngine(template.MissingPolicy(cfg.Templates.MissingPolicy))
	service := campaign.NewService(database.DB, engine, sender, nil,
		campaign.Config{Concurrency: cfg.Worker.Concurrency}, logger)

	rateLimiter, err := NewRateLimiter(cfg, logger)
	if err != nil {
		service.Close()
		if sandbox != nil {
			sandbox.Close()
		}
		database.Close()
		return nil, err
	}
	if rateLimiter != nil {
		service.SetRateLimiter(rateLimiter)
	}

	a := &App{
		config:      cfg,
		db:          database,
		sandbox:     sandbox,
		campaigns:   service,
		rateLimiter: rateLimiter,
		logger:      logger,
	}

	a.apiServer = api.NewServer(
		api.Deps{DB: database.DB, Campaigns: service, Engine: engine, Sandbox: sandbox, Version: version},
		&cfg.Server, &cfg.Auth, logger,
	)

	if !cfg.Worker.Disabled {
		a.worker = worker.New(service, worker.Config{
			PollInterval: cfg.Worker.PollInterval,
			Resume:       !cfg.Worker.SkipResume,
		}, logger)
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"))
		a.collector = metrics.NewCollector(m, repository.NewStatsRepository(database.DB), cfg.Database.Path,
			cfg.Metrics.FlushInterval, logger.With("component", "metrics_collector"))
	}

	return a, nil
}

// NewSender builds the configured mailer, signing with DKIM when enabled.
// The sandbox storage is returned in sandbox mode and is nil otherwise.
func NewSender(cfg *config.Config, logger *slog.Logger) (mailer.Sender, *mailer.SandboxStorage, error) {
	var signer *mailer.Signer
	if cfg.DKIM.Enabled {
		var err error
		signer, err = mailer.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	switch cfg.Mailer.Mode {
	case config.MailerSMTP:
		s := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:               cfg.Mailer.SMTP.Host,
			Port:               cfg.Mailer.SMTP.Port,
			Username:           cfg.Mailer.SMTP.Username,
			Password:           cfg.Mailer.SMTP.Password,
			TLS:                cfg.Mailer.SMTP.TLS,
			InsecureSkipVerify: cfg.Mailer.SMTP.InsecureSkipVerify,
			Hostname:           cfg.Mailer.SMTP.Hostname,
			Timeout:            cfg.Mailer.SMTP.Timeout,
		}, logger)
		if signer != nil {
			s.SetDKIMSigner(signer)
		}
		logger.Info("SMTP mailer enabled", "host", cfg.Mailer.SMTP.Host, "port", cfg.Mailer.SMTP.Port)
		return s, nil, nil

	case config.MailerSandbox:
		if err := os.MkdirAll(filepath.Dir(cfg.Mailer.Sandbox.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create sandbox directory: %w", err)
		}
		storage, err := mailer.OpenSandboxStorage(cfg.Mailer.Sandbox.Path)
		if err != nil {
			return nil, nil, err
		}
		s := mailer.NewSandboxSender(storage, logger)
		if signer != nil {
			s.SetDKIMSigner(signer)
		}
		logger.Info("sandbox mailer enabled, messages are captured and not delivered", "path", cfg.Mailer.Sandbox.Path)
		return s, storage, nil
	}

	return nil, nil, fmt.Errorf("unknown mailer mode %q", cfg.Mailer.Mode)
}

// NewRateLimiter opens the persistent send rate limiter. It returns nil when
// rate limiting is disabled.
func NewRateLimiter(cfg *config.Config, logger *slog.Logger) (*ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}

	rlConfig := &ratelimit.Config{
		Global:                 limitConfig(cfg.RateLimit.Global),
		DefaultSender:          limitConfig(cfg.RateLimit.DefaultSender),
		DefaultRecipientDomain: limitConfig(cfg.RateLimit.DefaultRecipientDomain),
		FlushInterval:          cfg.RateLimit.FlushInterval,
	}
	if len(cfg.RateLimit.RecipientDomains) > 0 {
		rlConfig.RecipientDomains = make(map[string]*ratelimit.LimitConfig, len(cfg.RateLimit.RecipientDomains))
		for domain, v := range cfg.RateLimit.RecipientDomains {
			rlConfig.RecipientDomains[strings.ToLower(domain)] = limitConfig(v)
		}
	}

	limiter, err := ratelimit.Open(cfg.RateLimit.Path, rlConfig)
	if err != nil {
		return nil, err
	}
	logger.Info("rate limiting enabled", "path", cfg.RateLimit.Path)
	return limiter, nil
}

func limitConfig(v *config.LimitValues) *ratelimit.LimitConfig {
	if v == nil {
		return nil
	}
	return &ratelimit.LimitConfig{
		MessagesPerHour: v.MessagesPerHour,
		MessagesPerDay:  v.MessagesPerDay,
	}
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting travelcrm",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"mailer", a.config.Mailer.Mode,
		"worker", a.worker != nil,
		"rate_limit", a.rateLimiter != nil,
		"metrics", a.metricsServer != nil,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.worker != nil {
		a.worker.Start()
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting new work first
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.worker != nil {
		a.worker.Stop()
	}

	// Background dispatches left unfinished are resumed on the next start
	a.campaigns.Close()

	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	if a.collector != nil {
		a.collector.Stop()
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.sandbox != nil {
		if err := a.sandbox.Close(); err != nil {
			a.logger.Error("sandbox storage close error", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: ParseLogLevel(cfg.Level),
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// ParseLogLevel maps a configured level name to slog, defaulting to info
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package api exposes the CRM over HTTP.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/travelcrm/internal/campaign"
	"github.com/foxzi/travelcrm/internal/config"
	"github.com/foxzi/travelcrm/internal/mailer"
	"github.com/foxzi/travelcrm/internal/metrics"
	"github.com/foxzi/travelcrm/internal/repository"
	"github.com/foxzi/travelcrm/internal/template"
)

// Deps are the services the API is built on
type Deps struct {
	DB        *sql.DB
	Campaigns *campaign.Service
	Engine    *template.Engine
	Sandbox   *mailer.SandboxStorage // nil unless the sandbox mailer is active
	Version   string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.ServerConfig
	auth       *config.AuthConfig
	logger     *slog.Logger
	startTime  time.Time
	version    string

	contacts  *repository.ContactRepository
	trips     *repository.TripRepository
	templates *repository.TemplateRepository
	agents    *repository.AgentRepository
	campaigns *campaign.Service
	engine    *template.Engine
	sandbox   *mailer.SandboxStorage
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.ServerConfig, auth *config.AuthConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		auth:      auth,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
		version:   deps.Version,
		contacts:  repository.NewContactRepository(deps.DB),
		trips:     repository.NewTripRepository(deps.DB),
		templates: repository.NewTemplateRepository(deps.DB),
		agents:    repository.NewAgentRepository(deps.DB),
		campaigns: deps.Campaigns,
		engine:    deps.Engine,
		sandbox:   deps.Sandbox,
	}

	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", s.handleListContacts)
			r.Post("/", s.handleCreateContact)
			r.Get("/{id}", s.handleGetContact)
			r.Put("/{id}", s.handleUpdateContact)
			r.Delete("/{id}", s.handleDeleteContact)
			r.Get("/{id}/trips", s.handleListTrips)
			r.Post("/{id}/trips", s.handleCreateTrip)
		})

		r.Route("/trips", func(r chi.Router) {
			r.Put("/{id}/status", s.handleUpdateTripStatus)
			r.Delete("/{id}", s.handleDeleteTrip)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Post("/security", s.handleTemplateSecurity)
			r.Post("/variables", s.handleTemplateVariables)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
			r.Post("/{id}/validate", s.handleValidateTemplate)
			r.Post("/{id}/preview", s.handlePreviewTemplate)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/schedule", s.handleScheduleCampaign)
			r.Post("/{id}/unschedule", s.handleUnscheduleCampaign)
			r.Post("/{id}/cancel", s.handleCancelCampaign)
			r.Post("/{id}/send", s.handleSendCampaign)
			r.Get("/{id}/recipients", s.handleCampaignRecipients)
			r.Get("/{id}/preview-recipients", s.handlePreviewRecipients)
			r.Get("/{id}/preview", s.handlePreviewMessage)
		})

		r.Route("/sandbox", func(r chi.Router) {
			r.Get("/messages", s.handleListSandbox)
			r.Get("/messages/{id}", s.handleGetSandbox)
			r.Get("/messages/{id}/raw", s.handleGetSandboxRaw)
			r.Delete("/messages", s.handleClearSandbox)
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr, "tls", s.config.TLS.Enabled)
	if s.config.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

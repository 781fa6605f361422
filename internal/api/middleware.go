package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/repository"
)

type ctxKey int

const agentKey ctxKey = iota

// agentFromContext returns the authenticated agent, nil when auth is disabled
func agentFromContext(ctx context.Context) *models.Agent {
	a, _ := ctx.Value(agentKey).(*models.Agent)
	return a
}

func agentID(r *http.Request) string {
	if a := agentFromContext(r.Context()); a != nil {
		return a.ID
	}
	return ""
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware checks agent credentials sent with HTTP Basic auth
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.Disabled {
			next.ServeHTTP(w, r)
			return
		}

		email, password, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w, r)
			return
		}

		agent, err := s.agents.Authenticate(r.Context(), email, password)
		if err != nil {
			if !errors.Is(err, repository.ErrInvalidCredentials) {
				s.logger.Error("failed to authenticate agent", "error", err)
				sendError(w, http.StatusInternalServerError, "Authentication failed")
				return
			}
			s.unauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey, agent)))
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("unauthorized API request",
		"remote_addr", r.RemoteAddr,
		"path", r.URL.Path,
	)
	w.Header().Set("WWW-Authenticate", `Basic realm="`+s.auth.Realm+`"`)
	sendError(w, http.StatusUnauthorized, "Unauthorized")
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/travelcrm/internal/mailer"
)

// SandboxClearResponse is the response for DELETE /sandbox/messages
type SandboxClearResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) sandboxAvailable(w http.ResponseWriter) bool {
	if s.sandbox == nil {
		sendError(w, http.StatusServiceUnavailable, "Sandbox storage not available")
		return false
	}
	return true
}

// handleListSandbox handles GET /api/v1/sandbox/messages
func (s *Server) handleListSandbox(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxAvailable(w) {
		return
	}
	limit, offset := pagination(r)

	messages, err := s.sandbox.List(r.Context(), limit, offset)
	if err != nil {
		s.sendServiceError(w, err, "list messages")
		return
	}
	total, err := s.sandbox.Count(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "count messages")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[mailer.Captured]{Items: messages, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) loadCaptured(w http.ResponseWriter, r *http.Request) (*mailer.Captured, bool) {
	if !s.sandboxAvailable(w) {
		return nil, false
	}
	msg, err := s.sandbox.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err, "get message")
		return nil, false
	}
	if msg == nil {
		sendError(w, http.StatusNotFound, "Message not found")
		return nil, false
	}
	return msg, true
}

// handleGetSandbox handles GET /api/v1/sandbox/messages/{id}
func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.loadCaptured(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, msg)
}

// handleGetSandboxRaw handles GET /api/v1/sandbox/messages/{id}/raw
func (s *Server) handleGetSandboxRaw(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.loadCaptured(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+msg.ID+".eml\"")
	w.Write(msg.Data)
}

// handleClearSandbox handles DELETE /api/v1/sandbox/messages?older_than=24h
func (s *Server) handleClearSandbox(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxAvailable(w) {
		return
	}

	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			sendError(w, http.StatusBadRequest, "older_than must be a duration such as 24h")
			return
		}
		olderThan = d
	}

	deleted, err := s.sandbox.Clear(r.Context(), olderThan)
	if err != nil {
		s.sendServiceError(w, err, "clear messages")
		return
	}
	sendJSON(w, http.StatusOK, SandboxClearResponse{Deleted: deleted})
}

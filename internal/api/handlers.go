package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/travelcrm/internal/campaign"
	"github.com/foxzi/travelcrm/internal/repository"
	"github.com/foxzi/travelcrm/internal/template"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// ListResponse wraps a page of items with the total match count
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// pagination reads limit and offset query parameters
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
		if limit > maxLimit {
			limit = maxLimit // Prevent DoS via excessive limit
		}
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o > 0 {
		offset = o
	}
	return limit, offset
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}

// sendServiceError maps domain errors to HTTP statuses. Anything unknown is
// logged and reported as a failure to perform action.
func (s *Server) sendServiceError(w http.ResponseWriter, err error, action string) {
	var verr *template.VariableError
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrInvalid):
		sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, campaign.ErrAlreadySending),
		errors.Is(err, campaign.ErrNotEditable),
		errors.Is(err, campaign.ErrInvalidTransition):
		sendError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr):
		sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid template variables", Details: verr.Errors})
	case errors.Is(err, campaign.ErrNoTemplate), errors.Is(err, template.ErrNestedBlocks):
		sendError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", "action", action, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

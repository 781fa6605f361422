package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/travelcrm/internal/models"
)

// CampaignRequest is the request body for creating or replacing a campaign
type CampaignRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	TemplateID  string                `json:"template_id"`
	FromEmail   string                `json:"from_email"`
	FromName    string                `json:"from_name"`
	ReplyTo     string                `json:"reply_to"`
	Criteria    models.TargetCriteria `json:"criteria"`
	Variables   map[string]string     `json:"variables"`
}

func (req *CampaignRequest) apply(c *models.Campaign) {
	c.Name = req.Name
	c.Description = req.Description
	c.TemplateID = req.TemplateID
	c.FromEmail = req.FromEmail
	c.FromName = req.FromName
	c.ReplyTo = req.ReplyTo
	c.Criteria = req.Criteria
	c.Variables = req.Variables
}

// ScheduleRequest is the request body for POST /campaigns/{id}/schedule
type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// SendResponse is the response for POST /campaigns/{id}/send
type SendResponse struct {
	ID         string                `json:"id"`
	Status     models.CampaignStatus `json:"status"`
	Recipients int                   `json:"recipients"`
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.CampaignListFilter{
		OwnerID: r.URL.Query().Get("owner_id"),
		Status:  models.CampaignStatus(r.URL.Query().Get("status")),
		Search:  r.URL.Query().Get("search"),
		Limit:   limit,
		Offset:  offset,
	}

	campaigns, total, err := s.campaigns.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err, "list campaigns")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.Campaign]{Items: campaigns, Total: total, Limit: limit, Offset: offset})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c := &models.Campaign{OwnerID: agentID(r)}
	req.apply(c)
	if err := s.campaigns.Create(r.Context(), c); err != nil {
		s.sendServiceError(w, err, "create campaign")
		return
	}
	sendJSON(w, http.StatusCreated, c)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err, "get campaign")
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err, "get campaign")
		return
	}
	req.apply(c)
	if err := s.campaigns.Update(r.Context(), c); err != nil {
		s.sendServiceError(w, err, "update campaign")
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, err, "delete campaign")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScheduleCampaign handles POST /api/v1/campaigns/{id}/schedule
func (s *Server) handleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ScheduledAt.IsZero() {
		sendError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.campaigns.Schedule(r.Context(), id, req.ScheduledAt); err != nil {
		s.sendServiceError(w, err, "schedule campaign")
		return
	}
	s.respondCampaign(w, r, id)
}

// handleUnscheduleCampaign handles POST /api/v1/campaigns/{id}/unschedule
func (s *Server) handleUnscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.campaigns.Unschedule(r.Context(), id); err != nil {
		s.sendServiceError(w, err, "unschedule campaign")
		return
	}
	s.respondCampaign(w, r, id)
}

// handleCancelCampaign handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.campaigns.Cancel(r.Context(), id); err != nil {
		s.sendServiceError(w, err, "cancel campaign")
		return
	}
	s.respondCampaign(w, r, id)
}

func (s *Server) respondCampaign(w http.ResponseWriter, r *http.Request, id string) {
	c, err := s.campaigns.Get(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err, "get campaign")
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleSendCampaign handles POST /api/v1/campaigns/{id}/send. The
// campaign is claimed before responding and delivered in the background.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.campaigns.SendAsync(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err, "send campaign")
		return
	}

	s.logger.Info("campaign send started via API", "campaign_id", id, "recipients", len(d.Recipients), "agent_id", agentID(r))
	sendJSON(w, http.StatusAccepted, SendResponse{
		ID:         id,
		Status:     models.CampaignSending,
		Recipients: len(d.Recipients),
	})
}

// handleCampaignRecipients handles GET /api/v1/campaigns/{id}/recipients
func (s *Server) handleCampaignRecipients(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	recipients, total, err := s.campaigns.Recipients(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		s.sendServiceError(w, err, "list recipients")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.CampaignRecipient]{Items: recipients, Total: total, Limit: limit, Offset: offset})
}

// handlePreviewRecipients handles GET /api/v1/campaigns/{id}/preview-recipients
func (s *Server) handlePreviewRecipients(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.campaigns.PreviewRecipients(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err, "preview recipients")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.Contact]{Items: contacts, Total: len(contacts), Limit: len(contacts)})
}

// handlePreviewMessage handles GET /api/v1/campaigns/{id}/preview?contact_id=
func (s *Server) handlePreviewMessage(w http.ResponseWriter, r *http.Request) {
	contactID := r.URL.Query().Get("contact_id")
	if contactID == "" {
		sendError(w, http.StatusBadRequest, "contact_id is required")
		return
	}

	result, err := s.campaigns.PreviewMessage(r.Context(), chi.URLParam(r, "id"), contactID)
	if err != nil {
		s.sendServiceError(w, err, "preview message")
		return
	}
	sendJSON(w, http.StatusOK, result)
}

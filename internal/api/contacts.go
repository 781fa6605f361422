package api

import (
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/travelcrm/internal/models"
)

// ContactRequest is the request body for creating or replacing a contact
type ContactRequest struct {
	FirstName             string               `json:"first_name"`
	LastName              string               `json:"last_name"`
	Email                 string               `json:"email"`
	Phone                 string               `json:"phone"`
	Status                models.ContactStatus `json:"status"`
	PreferredDestinations []string             `json:"preferred_destinations"`
	Tags                  []string             `json:"tags"`
	BudgetRange           models.BudgetRange   `json:"budget_range"`
	Source                models.LeadSource    `json:"source"`
	AssignedAgentID       string               `json:"assigned_agent_id"`
	Notes                 string               `json:"notes"`
}

func (req *ContactRequest) validate() error {
	if req.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("email %q is not a valid address", req.Email)
	}
	if req.Status != "" && !req.Status.Valid() {
		return fmt.Errorf("unknown status %q", req.Status)
	}
	if req.BudgetRange != "" && !req.BudgetRange.Valid() {
		return fmt.Errorf("unknown budget_range %q", req.BudgetRange)
	}
	if req.Source != "" && !req.Source.Valid() {
		return fmt.Errorf("unknown source %q", req.Source)
	}
	return nil
}

func (req *ContactRequest) apply(c *models.Contact) {
	c.FirstName = req.FirstName
	c.LastName = req.LastName
	c.Email = req.Email
	c.Phone = req.Phone
	c.Status = req.Status
	c.PreferredDestinations = req.PreferredDestinations
	c.Tags = req.Tags
	c.BudgetRange = req.BudgetRange
	c.Source = req.Source
	c.AssignedAgentID = req.AssignedAgentID
	c.Notes = req.Notes
}

// TripRequest is the request body for booking a trip
type TripRequest struct {
	Destination   string            `json:"destination"`
	DepartureDate string            `json:"departure_date"` // 2006-01-02
	ReturnDate    string            `json:"return_date,omitempty"`
	Status        models.TripStatus `json:"status"`
	Price         float64           `json:"price"`
	Notes         string            `json:"notes"`
}

// TripStatusRequest is the request body for PUT /trips/{id}/status
type TripStatusRequest struct {
	Status models.TripStatus `json:"status"`
}

// handleListContacts handles GET /api/v1/contacts
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.ContactListFilter{
		Search:          r.URL.Query().Get("search"),
		Status:          models.ContactStatus(r.URL.Query().Get("status")),
		AssignedAgentID: r.URL.Query().Get("agent_id"),
		Limit:           limit,
		Offset:          offset,
	}

	contacts, total, err := s.contacts.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err, "list contacts")
		return
	}

	sendJSON(w, http.StatusOK, ListResponse[models.Contact]{Items: contacts, Total: total, Limit: limit, Offset: offset})
}

// handleCreateContact handles POST /api/v1/contacts
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := &models.Contact{}
	req.apply(c)
	if err := s.contacts.Create(r.Context(), c); err != nil {
		s.sendServiceError(w, err, "create contact")
		return
	}

	sendJSON(w, http.StatusCreated, c)
}

// handleGetContact handles GET /api/v1/contacts/{id}
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, c)
}

func (s *Server) loadContact(w http.ResponseWriter, r *http.Request) (*models.Contact, bool) {
	c, err := s.contacts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err, "get contact")
		return nil, false
	}
	if c == nil {
		sendError(w, http.StatusNotFound, "Contact not found")
		return nil, false
	}
	return c, true
}

// handleUpdateContact handles PUT /api/v1/contacts/{id}
func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	req.apply(c)
	if c.Status == "" {
		c.Status = models.StatusNew
	}

	if err := s.contacts.Update(r.Context(), c); err != nil {
		s.sendServiceError(w, err, "update contact")
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleDeleteContact handles DELETE /api/v1/contacts/{id}
func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.contacts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, err, "delete contact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTrips handles GET /api/v1/contacts/{id}/trips
func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}

	trips, err := s.trips.ListByContact(r.Context(), c.ID)
	if err != nil {
		s.sendServiceError(w, err, "list trips")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.Trip]{Items: trips, Total: len(trips), Limit: len(trips)})
}

// handleCreateTrip handles POST /api/v1/contacts/{id}/trips
func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req TripRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Destination == "" {
		sendError(w, http.StatusBadRequest, "destination is required")
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	departure, err := time.Parse(models.DateLayout, req.DepartureDate)
	if err != nil {
		sendError(w, http.StatusBadRequest, "departure_date must be YYYY-MM-DD")
		return
	}
	var returnDate *time.Time
	if req.ReturnDate != "" {
		rd, err := time.Parse(models.DateLayout, req.ReturnDate)
		if err != nil {
			sendError(w, http.StatusBadRequest, "return_date must be YYYY-MM-DD")
			return
		}
		if rd.Before(departure) {
			sendError(w, http.StatusBadRequest, "return_date is before departure_date")
			return
		}
		returnDate = &rd
	}

	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}

	trip := &models.Trip{
		ContactID:     c.ID,
		Destination:   req.Destination,
		DepartureDate: departure,
		ReturnDate:    returnDate,
		Status:        req.Status,
		Price:         req.Price,
		Notes:         req.Notes,
	}
	if err := s.trips.Create(r.Context(), trip); err != nil {
		s.sendServiceError(w, err, "create trip")
		return
	}
	sendJSON(w, http.StatusCreated, trip)
}

// handleUpdateTripStatus handles PUT /api/v1/trips/{id}/status
func (s *Server) handleUpdateTripStatus(w http.ResponseWriter, r *http.Request) {
	var req TripStatusRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Status.Valid() {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	if err := s.trips.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
		s.sendServiceError(w, err, "update trip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteTrip handles DELETE /api/v1/trips/{id}
func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.trips.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, err, "delete trip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/travelcrm/internal/models"
	"github.com/foxzi/travelcrm/internal/template"
)

var variableName = regexp.MustCompile(`^\w+$`)

// TemplateRequest is the request body for creating or replacing a template
type TemplateRequest struct {
	Name      string              `json:"name"`
	Category  string              `json:"category"`
	Subject   string              `json:"subject"`
	HTML      string              `json:"html"`
	Text      string              `json:"text"`
	Variables []template.Variable `json:"variables"`
}

// TemplateResponse is a stored template together with its security report
type TemplateResponse struct {
	*models.EmailTemplate
	Security template.SecurityReport `json:"security"`
}

// ValuesRequest carries variable values for validation and preview
type ValuesRequest struct {
	Values map[string]any `json:"values"`
}

// SecurityRequest is the request body for POST /templates/security
type SecurityRequest struct {
	HTML string `json:"html"`
}

// VariablesRequest is the request body for POST /templates/variables
type VariablesRequest struct {
	Content string `json:"content"`
}

// VariablesResponse lists the placeholders found in content
type VariablesResponse struct {
	Variables []string `json:"variables"`
}

func (s *Server) validateTemplateRequest(req *TemplateRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if req.HTML == "" && req.Text == "" {
		return fmt.Errorf("html or text is required")
	}

	seen := make(map[string]bool, len(req.Variables))
	for _, v := range req.Variables {
		if !variableName.MatchString(v.Name) {
			return fmt.Errorf("invalid variable name %q", v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variable %q", v.Name)
		}
		seen[v.Name] = true
		if !v.Type.Valid() {
			return fmt.Errorf("variable %s has unknown type %q", v.Name, v.Type)
		}
	}

	content := &template.Template{Subject: req.Subject, HTML: req.HTML, Text: req.Text}
	if err := s.engine.Validate(content); err != nil {
		return fmt.Errorf("invalid template syntax: %w", err)
	}
	return nil
}

func (req *TemplateRequest) apply(t *models.EmailTemplate) {
	t.Name = req.Name
	t.Category = req.Category
	t.Subject = req.Subject
	t.HTML = req.HTML
	t.Text = req.Text
	t.Variables = req.Variables
}

func templateResponse(t *models.EmailTemplate) TemplateResponse {
	return TemplateResponse{EmailTemplate: t, Security: template.ValidateHTMLSecurity(t.HTML)}
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.TemplateListFilter{
		OwnerID:  r.URL.Query().Get("owner_id"),
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
		Limit:    limit,
		Offset:   offset,
	}

	templates, total, err := s.templates.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err, "list templates")
		return
	}
	sendJSON(w, http.StatusOK, ListResponse[models.EmailTemplate]{Items: templates, Total: total, Limit: limit, Offset: offset})
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validateTemplateRequest(&req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := &models.EmailTemplate{OwnerID: agentID(r)}
	req.apply(t)
	if err := s.templates.Create(r.Context(), t); err != nil {
		s.sendServiceError(w, err, "create template")
		return
	}

	sendJSON(w, http.StatusCreated, templateResponse(t))
}

func (s *Server) loadTemplate(w http.ResponseWriter, r *http.Request) (*models.EmailTemplate, bool) {
	t, err := s.templates.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err, "get template")
		return nil, false
	}
	if t == nil {
		sendError(w, http.StatusNotFound, "Template not found")
		return nil, false
	}
	return t, true
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, templateResponse(t))
}

// handleUpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validateTemplateRequest(&req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	req.apply(t)
	if err := s.templates.Update(r.Context(), t); err != nil {
		s.sendServiceError(w, err, "update template")
		return
	}
	sendJSON(w, http.StatusOK, templateResponse(t))
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, err, "delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readValues(w http.ResponseWriter, r *http.Request) (template.Values, bool) {
	var req ValuesRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	values, err := template.ParseValues(req.Values)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return values, true
}

// handleValidateTemplate handles POST /api/v1/templates/{id}/validate
func (s *Server) handleValidateTemplate(w http.ResponseWriter, r *http.Request) {
	values, ok := readValues(w, r)
	if !ok {
		return
	}
	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, template.ValidateVariables(values, t.Variables))
}

// handlePreviewTemplate handles POST /api/v1/templates/{id}/preview
func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	values, ok := readValues(w, r)
	if !ok {
		return
	}
	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Render(t.Content(), values)
	if err != nil {
		s.sendServiceError(w, err, "render template")
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// handleTemplateSecurity handles POST /api/v1/templates/security
func (s *Server) handleTemplateSecurity(w http.ResponseWriter, r *http.Request) {
	var req SecurityRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sendJSON(w, http.StatusOK, template.ValidateHTMLSecurity(req.HTML))
}

// handleTemplateVariables handles POST /api/v1/templates/variables
func (s *Server) handleTemplateVariables(w http.ResponseWriter, r *http.Request) {
	var req VariablesRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sendJSON(w, http.StatusOK, VariablesResponse{Variables: template.ExtractVariables(req.Content)})
}

package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
)

// CreateSOPRequest for POST /sops
type CreateSOPRequest struct {
	Name         string `json:"name"`
	ClientPrefix string `json:"client_prefix"`
	Description  string `json:"description,omitempty"`
}

// UpdateSOPRequest for PUT /sops/{sid}. The client prefix is fixed at creation.
type UpdateSOPRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SOPListResponse for GET /sops
type SOPListResponse struct {
	SOPs  []*models.SOP `json:"sops"`
	Total int           `json:"total"`
}

// SOPHandler handles SOP collection HTTP requests.
type SOPHandler struct {
	sopService services.SOPService
	logger     *zap.Logger
}

// NewSOPHandler creates a new SOP handler.
func NewSOPHandler(sopService services.SOPService, logger *zap.Logger) *SOPHandler {
	return &SOPHandler{
		sopService: sopService,
		logger:     logger,
	}
}

// RegisterRoutes registers the SOP handler's routes on the given mux.
func (h *SOPHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}/sops"
	project := authMiddleware.RequireProject("pid")
	admin := authMiddleware.RequireRole(auth.RoleAdmin)

	mux.HandleFunc("GET "+base, project(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base, project(admin(tenantMiddleware(h.Create))))
	mux.HandleFunc("GET "+base+"/{sid}", project(tenantMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{sid}", project(admin(tenantMiddleware(h.Update))))
	mux.HandleFunc("DELETE "+base+"/{sid}", project(admin(tenantMiddleware(h.Delete))))
}

// List handles GET /api/projects/{pid}/sops
func (h *SOPHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	sops, err := h.sopService.List(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "list SOPs", h.logger, zap.String("project_id", projectID.String()))
		return
	}
	writeData(w, http.StatusOK, SOPListResponse{SOPs: sops, Total: len(sops)}, h.logger)
}

// Create handles POST /api/projects/{pid}/sops
func (h *SOPHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateSOPRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	sop := &models.SOP{
		ProjectID:    projectID,
		Name:         req.Name,
		ClientPrefix: req.ClientPrefix,
		Description:  req.Description,
		CreatedBy:    auth.ActorFromContext(r.Context()),
	}
	if err := h.sopService.Create(r.Context(), sop); err != nil {
		writeServiceError(w, err, "create SOP", h.logger,
			zap.String("project_id", projectID.String()),
			zap.String("name", req.Name))
		return
	}
	writeData(w, http.StatusCreated, sop, h.logger)
}

// Get handles GET /api/projects/{pid}/sops/{sid}
func (h *SOPHandler) Get(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	sop, err := h.sopService.Get(r.Context(), sopID)
	if err != nil {
		writeServiceError(w, err, "get SOP", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	writeData(w, http.StatusOK, sop, h.logger)
}

// Update handles PUT /api/projects/{pid}/sops/{sid}
func (h *SOPHandler) Update(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateSOPRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	sop, err := h.sopService.Get(r.Context(), sopID)
	if err != nil {
		writeServiceError(w, err, "get SOP", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	sop.Name = req.Name
	sop.Description = req.Description
	if err := h.sopService.Update(r.Context(), sop); err != nil {
		writeServiceError(w, err, "update SOP", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	writeData(w, http.StatusOK, sop, h.logger)
}

// Delete handles DELETE /api/projects/{pid}/sops/{sid}
func (h *SOPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.sopService.Delete(r.Context(), sopID); err != nil {
		writeServiceError(w, err, "delete SOP", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
)

// DefineTagRequest for PUT /tags/{tid}/definition
type DefineTagRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TagListResponse for GET /tags
type TagListResponse struct {
	Tags  []*models.Tag `json:"tags"`
	Total int           `json:"total"`
}

// TagHandler serves the tag registry review workflow.
type TagHandler struct {
	registry services.TagRegistry
	logger   *zap.Logger
}

// NewTagHandler creates a new tag handler.
func NewTagHandler(registry services.TagRegistry, logger *zap.Logger) *TagHandler {
	return &TagHandler{
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers the tag handler's routes on the given mux.
func (h *TagHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}/tags"
	project := authMiddleware.RequireProject("pid")
	reviewer := authMiddleware.RequireRole(auth.RoleReviewer)

	mux.HandleFunc("GET "+base, project(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/pending", project(tenantMiddleware(h.ListPending)))
	mux.HandleFunc("POST "+base+"/{tid}/approve", project(reviewer(tenantMiddleware(h.Approve))))
	mux.HandleFunc("POST "+base+"/{tid}/reject", project(reviewer(tenantMiddleware(h.Reject))))
	mux.HandleFunc("POST "+base+"/{tid}/deprecate", project(reviewer(tenantMiddleware(h.Deprecate))))
	mux.HandleFunc("POST "+base+"/{tid}/needs-definition", project(reviewer(tenantMiddleware(h.NeedsDefinition))))
	mux.HandleFunc("PUT "+base+"/{tid}/definition", project(reviewer(tenantMiddleware(h.Define))))
}

// List handles GET /api/projects/{pid}/tags?status=&type=
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	filter := repositories.TagFilter{
		Status: models.TagStatus(r.URL.Query().Get("status")),
		Type:   models.TagType(r.URL.Query().Get("type")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_type", "Unknown tag type", h.logger)
		return
	}

	tags, err := h.registry.List(r.Context(), projectID, filter)
	if err != nil {
		writeServiceError(w, err, "list tags", h.logger, zap.String("project_id", projectID.String()))
		return
	}
	writeData(w, http.StatusOK, tagList(tags), h.logger)
}

// ListPending handles GET /api/projects/{pid}/tags/pending
func (h *TagHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	tags, err := h.registry.ListPending(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "list pending tags", h.logger, zap.String("project_id", projectID.String()))
		return
	}
	writeData(w, http.StatusOK, tagList(tags), h.logger)
}

// Approve handles POST /api/projects/{pid}/tags/{tid}/approve
func (h *TagHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "approve tag", h.registry.Approve)
}

// Reject handles POST /api/projects/{pid}/tags/{tid}/reject
func (h *TagHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "reject tag", h.registry.Reject)
}

// Deprecate handles POST /api/projects/{pid}/tags/{tid}/deprecate
func (h *TagHandler) Deprecate(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "deprecate tag", h.registry.Deprecate)
}

// NeedsDefinition handles POST /api/projects/{pid}/tags/{tid}/needs-definition
func (h *TagHandler) NeedsDefinition(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "mark tag as needing a definition", h.registry.MarkNeedsDefinition)
}

func (h *TagHandler) review(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error),
) {
	tagID, ok := ParseTagID(w, r, h.logger)
	if !ok {
		return
	}

	tag, err := fn(r.Context(), tagID, auth.ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err, op, h.logger, zap.String("tag_id", tagID.String()))
		return
	}
	writeData(w, http.StatusOK, tag, h.logger)
}

// Define handles PUT /api/projects/{pid}/tags/{tid}/definition
func (h *TagHandler) Define(w http.ResponseWriter, r *http.Request) {
	tagID, ok := ParseTagID(w, r, h.logger)
	if !ok {
		return
	}

	var req DefineTagRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	tag, err := h.registry.Define(r.Context(), tagID, req.Name, req.Description, auth.ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err, "define tag", h.logger, zap.String("tag_id", tagID.String()))
		return
	}
	writeData(w, http.StatusOK, tag, h.logger)
}

func tagList(tags []*models.Tag) TagListResponse {
	if tags == nil {
		tags = []*models.Tag{}
	}
	return TagListResponse{Tags: tags, Total: len(tags)}
}

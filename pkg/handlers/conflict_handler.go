package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
)

// ResolveConflictRequest for POST /conflicts/{cid}/resolve
type ResolveConflictRequest struct {
	Action     models.ResolutionAction `json:"action"`
	MergedRule *CreateRuleRequest      `json:"merged_rule,omitempty"`
}

// ConflictListResponse for GET /conflicts and POST /conflicts/scan
type ConflictListResponse struct {
	Conflicts []models.Conflict `json:"conflicts"`
	Total     int               `json:"total"`
}

// ConflictHandler handles conflict detection and resolution requests.
type ConflictHandler struct {
	conflictService services.ConflictService
	logger          *zap.Logger
}

// NewConflictHandler creates a new conflict handler.
func NewConflictHandler(conflictService services.ConflictService, logger *zap.Logger) *ConflictHandler {
	return &ConflictHandler{
		conflictService: conflictService,
		logger:          logger,
	}
}

// RegisterRoutes registers the conflict handler's routes on the given mux.
func (h *ConflictHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}/sops/{sid}/conflicts"
	project := authMiddleware.RequireProject("pid")
	reviewer := authMiddleware.RequireRole(auth.RoleReviewer)

	mux.HandleFunc("GET "+base, project(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/summary", project(tenantMiddleware(h.Summary)))
	mux.HandleFunc("GET "+base+"/resolved", project(tenantMiddleware(h.ListResolved)))
	mux.HandleFunc("POST "+base+"/scan", project(reviewer(tenantMiddleware(h.Scan))))
	mux.HandleFunc("POST "+base+"/{cid}/resolve", project(reviewer(tenantMiddleware(h.Resolve))))
}

// List handles GET /api/projects/{pid}/sops/{sid}/conflicts?rule_id=
// With rule_id only the conflicts involving that rule are returned.
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	conflicts, err := h.conflictService.List(r.Context(), sopID)
	if err != nil {
		writeServiceError(w, err, "list conflicts", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	if ruleID := r.URL.Query().Get("rule_id"); ruleID != "" {
		conflicts = conflictsInvolving(conflicts, ruleID)
	}
	writeData(w, http.StatusOK, conflictList(conflicts), h.logger)
}

func conflictsInvolving(conflicts []models.Conflict, ruleID string) []models.Conflict {
	var out []models.Conflict
	for i := range conflicts {
		if conflicts[i].Involves(ruleID) {
			out = append(out, conflicts[i])
		}
	}
	return out
}

// Scan handles POST /api/projects/{pid}/sops/{sid}/conflicts/scan
func (h *ConflictHandler) Scan(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	conflicts, err := h.conflictService.Scan(r.Context(), sopID)
	if err != nil {
		writeServiceError(w, err, "scan conflicts", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	writeData(w, http.StatusOK, conflictList(conflicts), h.logger)
}

// Summary handles GET /api/projects/{pid}/sops/{sid}/conflicts/summary
func (h *ConflictHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	summary, err := h.conflictService.Summary(r.Context(), sopID)
	if err != nil {
		writeServiceError(w, err, "summarize conflicts", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	writeData(w, http.StatusOK, summary, h.logger)
}

// ListResolved handles GET /api/projects/{pid}/sops/{sid}/conflicts/resolved
func (h *ConflictHandler) ListResolved(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	resolved, err := h.conflictService.ListResolved(r.Context(), sopID)
	if err != nil {
		writeServiceError(w, err, "list resolved conflicts", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	if resolved == nil {
		resolved = []*models.ResolvedConflict{}
	}
	writeData(w, http.StatusOK, resolved, h.logger)
}

// Resolve handles POST /api/projects/{pid}/sops/{sid}/conflicts/{cid}/resolve
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}
	conflictID, ok := ParseConflictID(w, r, h.logger)
	if !ok {
		return
	}

	var req ResolveConflictRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	actor := auth.ActorFromContext(r.Context())
	res := models.ConflictResolution{
		ConflictID: conflictID,
		Action:     req.Action,
		ResolvedBy: actor,
	}
	if req.MergedRule != nil {
		res.MergedRule = req.MergedRule.toRule(actor)
		if res.MergedRule.Source == "" {
			res.MergedRule.Source = models.RuleSourceManual
		}
	}

	outcome, err := h.conflictService.Resolve(r.Context(), sopID, res)
	if err != nil {
		writeServiceError(w, err, "resolve conflict", h.logger,
			zap.String("sop_id", sopID.String()),
			zap.String("conflict_id", conflictID),
			zap.String("action", string(req.Action)))
		return
	}
	writeData(w, http.StatusOK, outcome, h.logger)
}

func conflictList(conflicts []models.Conflict) ConflictListResponse {
	if conflicts == nil {
		conflicts = []models.Conflict{}
	}
	return ConflictListResponse{Conflicts: conflicts, Total: len(conflicts)}
}

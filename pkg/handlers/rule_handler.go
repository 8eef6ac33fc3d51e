package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
)

// CreateRuleRequest for POST /rules. RuleID is optional and allocated from
// the SOP prefix when empty.
type CreateRuleRequest struct {
	RuleID               string   `json:"rule_id,omitempty"`
	Code                 string   `json:"code"`
	CodeGroup            string   `json:"code_group,omitempty"`
	CodesSelected        []string `json:"codes_selected,omitempty"`
	Action               string   `json:"action"`
	PayerGroup           string   `json:"payer_group"`
	ProviderGroup        string   `json:"provider_group,omitempty"`
	Description          string   `json:"description"`
	DocumentationTrigger string   `json:"documentation_trigger,omitempty"`
	ChartSection         string   `json:"chart_section,omitempty"`
	EffectiveDate        string   `json:"effective_date,omitempty"`
	EndDate              string   `json:"end_date,omitempty"`
	Reference            string   `json:"reference,omitempty"`
	Source               string   `json:"source,omitempty"`
}

func (req *CreateRuleRequest) toRule(actor string) *models.Rule {
	return &models.Rule{
		RuleID:               req.RuleID,
		Code:                 req.Code,
		CodeGroup:            req.CodeGroup,
		CodesSelected:        req.CodesSelected,
		Action:               req.Action,
		PayerGroup:           req.PayerGroup,
		ProviderGroup:        req.ProviderGroup,
		Description:          req.Description,
		DocumentationTrigger: req.DocumentationTrigger,
		ChartSection:         req.ChartSection,
		EffectiveDate:        req.EffectiveDate,
		EndDate:              req.EndDate,
		Reference:            req.Reference,
		Source:               req.Source,
		CreatedBy:            actor,
	}
}

// RuleListResponse for GET /rules
type RuleListResponse struct {
	Rules []*models.Rule `json:"rules"`
	Total int            `json:"total"`
}

// CleanupResponse for POST /rules/cleanup
type CleanupResponse struct {
	Deleted []string `json:"deleted"`
	Count   int      `json:"count"`
}

// RuleHandler handles rule HTTP requests for one SOP.
type RuleHandler struct {
	ruleService services.RuleService
	logger      *zap.Logger
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(ruleService services.RuleService, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{
		ruleService: ruleService,
		logger:      logger,
	}
}

// RegisterRoutes registers the rule handler's routes on the given mux.
func (h *RuleHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}/sops/{sid}/rules"
	project := authMiddleware.RequireProject("pid")
	reviewer := authMiddleware.RequireRole(auth.RoleReviewer)

	mux.HandleFunc("GET "+base, project(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base, project(reviewer(tenantMiddleware(h.Create))))
	mux.HandleFunc("POST "+base+"/cleanup", project(reviewer(tenantMiddleware(h.Cleanup))))
	mux.HandleFunc("GET "+base+"/{rid}", project(tenantMiddleware(h.Get)))
	mux.HandleFunc("PATCH "+base+"/{rid}", project(reviewer(tenantMiddleware(h.Update))))
	mux.HandleFunc("POST "+base+"/{rid}/approve", project(reviewer(tenantMiddleware(h.Approve))))
	mux.HandleFunc("POST "+base+"/{rid}/reject", project(reviewer(tenantMiddleware(h.Reject))))
	mux.HandleFunc("POST "+base+"/{rid}/restore", project(reviewer(tenantMiddleware(h.Restore))))
}

// List handles GET /api/projects/{pid}/sops/{sid}/rules?status=
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", models.RuleStatusPending, models.RuleStatusActive, models.RuleStatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "invalid_status", "status must be pending, active or rejected", h.logger)
		return
	}

	rules, err := h.ruleService.List(r.Context(), sopID, status)
	if err != nil {
		writeServiceError(w, err, "list rules", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	if rules == nil {
		rules = []*models.Rule{}
	}
	writeData(w, http.StatusOK, RuleListResponse{Rules: rules, Total: len(rules)}, h.logger)
}

// Get handles GET /api/projects/{pid}/sops/{sid}/rules/{rid}
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r, h.logger)
	if !ok {
		return
	}

	rule, err := h.ruleService.Get(r.Context(), sopID, ruleID)
	if err != nil {
		writeServiceError(w, err, "get rule", h.logger, zap.String("rule_id", ruleID))
		return
	}
	writeData(w, http.StatusOK, rule, h.logger)
}

// Create handles POST /api/projects/{pid}/sops/{sid}/rules
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateRuleRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	rule := req.toRule(auth.ActorFromContext(r.Context()))

	result, err := h.ruleService.Create(r.Context(), sopID, rule)
	if err != nil {
		writeServiceError(w, err, "create rule", h.logger,
			zap.String("sop_id", sopID.String()),
			zap.String("rule_id", req.RuleID))
		return
	}
	writeData(w, http.StatusCreated, result, h.logger)
}

// Update handles PATCH /api/projects/{pid}/sops/{sid}/rules/{rid}
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r, h.logger)
	if !ok {
		return
	}

	var update services.RuleUpdate
	if !decodeBody(w, r, &update, h.logger) {
		return
	}

	result, err := h.ruleService.Update(r.Context(), sopID, ruleID, &update)
	if err != nil {
		writeServiceError(w, err, "update rule", h.logger, zap.String("rule_id", ruleID))
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}

// Approve handles POST /api/projects/{pid}/sops/{sid}/rules/{rid}/approve
func (h *RuleHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve rule", h.ruleService.Approve)
}

// Reject handles POST /api/projects/{pid}/sops/{sid}/rules/{rid}/reject
func (h *RuleHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject rule", h.ruleService.Reject)
}

// Restore handles POST /api/projects/{pid}/sops/{sid}/rules/{rid}/restore
func (h *RuleHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "restore rule", h.ruleService.Restore)
}

type ruleTransitionFunc func(ctx context.Context, sopID uuid.UUID, ruleID string) (*services.RuleMutationResult, error)

func (h *RuleHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn ruleTransitionFunc) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := fn(r.Context(), sopID, ruleID)
	if err != nil {
		writeServiceError(w, err, op, h.logger,
			zap.String("rule_id", ruleID),
			zap.String("actor", auth.ActorFromContext(r.Context())))
		return
	}
	writeData(w, http.StatusOK, result, h.logger)
}

// Cleanup handles POST /api/projects/{pid}/sops/{sid}/rules/cleanup
func (h *RuleHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	deleted, err := h.ruleService.Cleanup(r.Context(), sopID)
	if err != nil {
		writeServiceError(w, err, "clean up rejected rules", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	writeData(w, http.StatusOK, CleanupResponse{Deleted: deleted, Count: len(deleted)}, h.logger)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services/workqueue"
)

// ============================================================================
// Service mocks
// ============================================================================

type mockSOPService struct {
	sops      map[uuid.UUID]*models.SOP
	createErr error
	err       error
}

func newMockSOPService() *mockSOPService {
	return &mockSOPService{sops: make(map[uuid.UUID]*models.SOP)}
}

func (m *mockSOPService) Create(_ context.Context, sop *models.SOP) error {
	if m.createErr != nil {
		return m.createErr
	}
	sop.ID = uuid.New()
	m.sops[sop.ID] = sop
	return nil
}

func (m *mockSOPService) Get(_ context.Context, sopID uuid.UUID) (*models.SOP, error) {
	if m.err != nil {
		return nil, m.err
	}
	sop, ok := m.sops[sopID]
	if !ok {
		return nil, errNotFound
	}
	return sop, nil
}

func (m *mockSOPService) List(_ context.Context, projectID uuid.UUID) ([]*models.SOP, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.SOP
	for _, s := range m.sops {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSOPService) Update(_ context.Context, sop *models.SOP) error {
	if sop.Name == "" {
		return errInvalid
	}
	m.sops[sop.ID] = sop
	return m.err
}

func (m *mockSOPService) Delete(_ context.Context, sopID uuid.UUID) error {
	if _, ok := m.sops[sopID]; !ok {
		return errNotFound
	}
	delete(m.sops, sopID)
	return nil
}

type mockRuleService struct {
	rules      []*models.Rule
	result     *services.RuleMutationResult
	err        error
	lastStatus string
	lastRule   *models.Rule
	lastUpdate *services.RuleUpdate
	calls      []string
}

func (m *mockRuleService) List(_ context.Context, _ uuid.UUID, status string) ([]*models.Rule, error) {
	m.lastStatus = status
	return m.rules, m.err
}

func (m *mockRuleService) Get(_ context.Context, _ uuid.UUID, ruleID string) (*models.Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.rules {
		if r.RuleID == ruleID {
			return r, nil
		}
	}
	return nil, errNotFound
}

func (m *mockRuleService) Create(_ context.Context, _ uuid.UUID, rule *models.Rule) (*services.RuleMutationResult, error) {
	m.lastRule = rule
	return m.mutation("create", rule.RuleID)
}

func (m *mockRuleService) Update(_ context.Context, _ uuid.UUID, ruleID string, update *services.RuleUpdate) (*services.RuleMutationResult, error) {
	m.lastUpdate = update
	return m.mutation("update", ruleID)
}

func (m *mockRuleService) Approve(_ context.Context, _ uuid.UUID, ruleID string) (*services.RuleMutationResult, error) {
	return m.mutation("approve", ruleID)
}

func (m *mockRuleService) Reject(_ context.Context, _ uuid.UUID, ruleID string) (*services.RuleMutationResult, error) {
	return m.mutation("reject", ruleID)
}

func (m *mockRuleService) Restore(_ context.Context, _ uuid.UUID, ruleID string) (*services.RuleMutationResult, error) {
	return m.mutation("restore", ruleID)
}

func (m *mockRuleService) Cleanup(context.Context, uuid.UUID) ([]string, error) {
	m.calls = append(m.calls, "cleanup")
	if m.err != nil {
		return nil, m.err
	}
	return []string{"CARD-RULE-0002"}, nil
}

func (m *mockRuleService) mutation(op, ruleID string) (*services.RuleMutationResult, error) {
	m.calls = append(m.calls, op+" "+ruleID)
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &services.RuleMutationResult{Rule: &models.Rule{RuleID: ruleID}, Conflicts: []models.Conflict{}}, nil
}

type mockConflictService struct {
	conflicts []models.Conflict
	resolved  []*models.ResolvedConflict
	outcome   *services.ResolutionOutcome
	err       error
	lastRes   models.ConflictResolution
	scans     int
}

func (m *mockConflictService) Scan(context.Context, uuid.UUID) ([]models.Conflict, error) {
	m.scans++
	return m.conflicts, m.err
}

func (m *mockConflictService) List(context.Context, uuid.UUID) ([]models.Conflict, error) {
	return m.conflicts, m.err
}

func (m *mockConflictService) Summary(context.Context, uuid.UUID) (*models.ConflictSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.ConflictSummary{Total: len(m.conflicts)}, nil
}

func (m *mockConflictService) Resolve(_ context.Context, _ uuid.UUID, res models.ConflictResolution) (*services.ResolutionOutcome, error) {
	m.lastRes = res
	if m.err != nil {
		return nil, m.err
	}
	return m.outcome, nil
}

func (m *mockConflictService) ListResolved(context.Context, uuid.UUID) ([]*models.ResolvedConflict, error) {
	return m.resolved, m.err
}

type mockTagRegistry struct {
	services.TagRegistry
	tags         []*models.Tag
	err          error
	lastFilter   repositories.TagFilter
	lastReviewer string
	lastOp       string
}

func (m *mockTagRegistry) List(_ context.Context, _ uuid.UUID, filter repositories.TagFilter) ([]*models.Tag, error) {
	m.lastFilter = filter
	return m.tags, m.err
}

func (m *mockTagRegistry) ListPending(context.Context, uuid.UUID) ([]*models.Tag, error) {
	return m.tags, m.err
}

func (m *mockTagRegistry) review(op string, tagID uuid.UUID, reviewer string, status models.TagStatus) (*models.Tag, error) {
	m.lastOp = op
	m.lastReviewer = reviewer
	if m.err != nil {
		return nil, m.err
	}
	return &models.Tag{ID: tagID, Status: status}, nil
}

func (m *mockTagRegistry) Approve(_ context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return m.review("approve", tagID, reviewer, models.TagStatusApproved)
}

func (m *mockTagRegistry) Reject(_ context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return m.review("reject", tagID, reviewer, models.TagStatusRejected)
}

func (m *mockTagRegistry) Deprecate(_ context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return m.review("deprecate", tagID, reviewer, models.TagStatusDeprecated)
}

func (m *mockTagRegistry) MarkNeedsDefinition(_ context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return m.review("needs_definition", tagID, reviewer, models.TagStatusNeedsDefinition)
}

func (m *mockTagRegistry) Define(_ context.Context, tagID uuid.UUID, name, description, reviewer string) (*models.Tag, error) {
	tag, err := m.review("define", tagID, reviewer, models.TagStatusPendingReview)
	if err != nil {
		return nil, err
	}
	tag.Name = name
	tag.Description = description
	return tag, nil
}

type mockIngestionService struct {
	services.IngestionService
	docs    map[uuid.UUID]*models.Document
	tasks   []workqueue.TaskSnapshot
	err     error
	lastReq *services.IngestRequest
}

func (m *mockIngestionService) Submit(_ context.Context, projectID, sopID uuid.UUID, req *services.IngestRequest) (*models.Document, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	doc := &models.Document{
		ID:        uuid.New(),
		ProjectID: projectID,
		SOPID:     sopID,
		FileName:  req.FileName,
		Mode:      req.Mode,
		Status:    models.DocumentStatusQueued,
	}
	if m.docs == nil {
		m.docs = make(map[uuid.UUID]*models.Document)
	}
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *mockIngestionService) GetDocument(_ context.Context, docID uuid.UUID) (*models.Document, error) {
	doc, ok := m.docs[docID]
	if !ok {
		return nil, errNotFound
	}
	return doc, nil
}

func (m *mockIngestionService) ListDocuments(_ context.Context, sopID uuid.UUID, limit int) ([]*models.Document, error) {
	var out []*models.Document
	for _, d := range m.docs {
		if d.SOPID == sopID && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, m.err
}

func (m *mockIngestionService) QueueStatus() []workqueue.TaskSnapshot {
	return m.tasks
}

func (m *mockIngestionService) DocumentRun(docID uuid.UUID) (workqueue.TaskSnapshot, bool) {
	for _, t := range m.tasks {
		if t.ID == docID.String() {
			return t, true
		}
	}
	return workqueue.TaskSnapshot{}, false
}

// ============================================================================
// Request helpers
// ============================================================================

// reviewerClaims is a reviewer in projectID.
func reviewerClaims(projectID uuid.UUID, roles ...string) *auth.Claims {
	if len(roles) == 0 {
		roles = []string{auth.RoleReviewer}
	}
	claims := &auth.Claims{ProjectID: projectID.String(), Email: "coder@clinic.example", Roles: roles}
	claims.Subject = "user-1"
	return claims
}

// call routes one request to handler through a mux registered on pattern,
// so path values resolve, with claims in the context.
func call(t *testing.T, pattern string, handler http.HandlerFunc, method, path string, body any, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims, "token"))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, handler)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the ApiResponse data field into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	require.True(t, envelope.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

// errorCode returns the "error" field of an error response.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}

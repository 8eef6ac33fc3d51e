package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services/workqueue"
)

type scopedKey struct{}

// fakeScoper marks the context so tests can assert services ran scoped.
type fakeScoper struct {
	opened, closed int
	projectID      uuid.UUID
	err            error
}

func (f *fakeScoper) ScopedContext(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.opened++
	f.projectID = projectID
	return context.WithValue(ctx, scopedKey{}, projectID), func() { f.closed++ }, nil
}

func requireScoped(ctx context.Context) error {
	if _, ok := ctx.Value(scopedKey{}).(uuid.UUID); !ok {
		return fmt.Errorf("service called without a tenant scope")
	}
	return nil
}

type mockRuleService struct {
	services.RuleService
	rules      []*models.Rule
	lastStatus string
	calls      []string
}

func (m *mockRuleService) List(ctx context.Context, _ uuid.UUID, status string) ([]*models.Rule, error) {
	if err := requireScoped(ctx); err != nil {
		return nil, err
	}
	m.lastStatus = status
	return m.rules, nil
}

func (m *mockRuleService) Get(ctx context.Context, _ uuid.UUID, ruleID string) (*models.Rule, error) {
	for _, r := range m.rules {
		if r.RuleID == ruleID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
}

func (m *mockRuleService) mutate(op, ruleID string) (*services.RuleMutationResult, error) {
	m.calls = append(m.calls, op+" "+ruleID)
	return &services.RuleMutationResult{Rule: &models.Rule{RuleID: ruleID}, Conflicts: []models.Conflict{}}, nil
}

func (m *mockRuleService) Approve(_ context.Context, _ uuid.UUID, ruleID string) (*services.RuleMutationResult, error) {
	return m.mutate("approve", ruleID)
}

func (m *mockRuleService) Reject(_ context.Context, _ uuid.UUID, ruleID string) (*services.RuleMutationResult, error) {
	return m.mutate("reject", ruleID)
}

func (m *mockRuleService) Restore(_ context.Context, _ uuid.UUID, ruleID string) (*services.RuleMutationResult, error) {
	return m.mutate("restore", ruleID)
}

type mockConflictService struct {
	services.ConflictService
	conflicts []models.Conflict
	lastRes   models.ConflictResolution
	err       error
}

func (m *mockConflictService) List(context.Context, uuid.UUID) ([]models.Conflict, error) {
	return m.conflicts, nil
}

func (m *mockConflictService) Scan(context.Context, uuid.UUID) ([]models.Conflict, error) {
	return m.conflicts, nil
}

func (m *mockConflictService) Summary(context.Context, uuid.UUID) (*models.ConflictSummary, error) {
	return &models.ConflictSummary{Total: len(m.conflicts)}, nil
}

func (m *mockConflictService) Resolve(_ context.Context, _ uuid.UUID, res models.ConflictResolution) (*services.ResolutionOutcome, error) {
	m.lastRes = res
	if m.err != nil {
		return nil, m.err
	}
	return &services.ResolutionOutcome{ConflictID: res.ConflictID, Action: res.Action, NewlyResolved: 1, Remaining: []models.Conflict{}}, nil
}

type mockTagRegistry struct {
	services.TagRegistry
	pending      []*models.Tag
	lastReviewer string
	lastDecision string
}

func (m *mockTagRegistry) ListPending(context.Context, uuid.UUID) ([]*models.Tag, error) {
	return m.pending, nil
}

func (m *mockTagRegistry) review(decision string, tagID uuid.UUID, reviewer string, to models.TagStatus) (*models.Tag, error) {
	m.lastDecision = decision
	m.lastReviewer = reviewer
	return &models.Tag{ID: tagID, Status: to}, nil
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

type mockIngestionService struct {
	services.IngestionService
	docs  []*models.Document
	tasks []workqueue.TaskSnapshot
}

func (m *mockIngestionService) ListDocuments(context.Context, uuid.UUID, int) ([]*models.Document, error) {
	return m.docs, nil
}

func (m *mockIngestionService) QueueStatus() []workqueue.TaskSnapshot {
	return m.tasks
}

// testEnv is an MCP server with every tool registered against mocks.
type testEnv struct {
	server    *server.MCPServer
	scoper    *fakeScoper
	rules     *mockRuleService
	conflicts *mockConflictService
	tags      *mockTagRegistry
	ingestion *mockIngestionService
	projectID uuid.UUID
}

func newTestEnv() *testEnv {
	env := &testEnv{
		server:    server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true)),
		scoper:    &fakeScoper{},
		rules:     &mockRuleService{},
		conflicts: &mockConflictService{},
		tags:      &mockTagRegistry{},
		ingestion: &mockIngestionService{},
		projectID: uuid.New(),
	}
	RegisterAll(env.server, "1.2.3", &Deps{
		Scoper:    env.scoper,
		Rules:     env.rules,
		Conflicts: env.conflicts,
		Tags:      env.tags,
		Ingestion: env.ingestion,
		Logger:    zap.NewNop(),
	})
	return env
}

// claims returns a context carrying a token for the env's project.
func (e *testEnv) claims(roles ...string) context.Context {
	c := &auth.Claims{ProjectID: e.projectID.String(), Email: "coder@clinic.example", Roles: roles}
	c.Subject = "user-1"
	return auth.WithClaims(context.Background(), c, "token")
}

// toolResponse is the decoded tools/call response.
type toolResponse struct {
	IsError bool
	Text    string
	RPCErr  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

// call invokes tool with args through the JSON-RPC entry point.
func (e *testEnv) call(t *testing.T, ctx context.Context, tool string, args map[string]any) toolResponse {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(e.server.HandleMessage(ctx, msg))
	require.NoError(t, err)

	var resp struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))

	out := toolResponse{IsError: resp.Result.IsError, RPCErr: resp.Error}
	if len(resp.Result.Content) > 0 {
		out.Text = resp.Result.Content[0].Text
	}
	return out
}

// errorCode decodes the code of an error result.
func errorCode(t *testing.T, r toolResponse) string {
	t.Helper()
	require.True(t, r.IsError, r.Text)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(r.Text), &body))
	return body.Code
}

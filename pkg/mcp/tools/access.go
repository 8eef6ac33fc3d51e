// Package tools provides the MCP tools for reviewing SOP rule collections.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
)

// Deps holds what the rules tools need. Every tool runs against the
// project in the caller's token, on a tenant-scoped connection.
type Deps struct {
	Scoper    database.Scoper
	Rules     services.RuleService
	Conflicts services.ConflictService
	Tags      services.TagRegistry
	Ingestion services.IngestionService
	Logger    *zap.Logger
}

// ToolAccessError is an actionable access failure. It is returned to the
// client as a tool result rather than a protocol error so the model can
// see why the call was refused.
type ToolAccessError struct {
	Code      string
	Message   string
	MCPResult *mcp.CallToolResult
}

func (e *ToolAccessError) Error() string {
	return e.Message
}

func newToolAccessError(code, message string) *ToolAccessError {
	return &ToolAccessError{
		Code:      code,
		Message:   message,
		MCPResult: NewErrorResult(code, message),
	}
}

// AsToolAccessResult returns the prepared result if err is a
// ToolAccessError, else nil.
func AsToolAccessResult(err error) *mcp.CallToolResult {
	var accessErr *ToolAccessError
	if errors.As(err, &accessErr) {
		return accessErr.MCPResult
	}
	return nil
}

// acquireToolAccess checks the caller's claims and roles and opens a
// tenant-scoped context for the token's project. The caller must run
// cleanup when it is done.
func acquireToolAccess(ctx context.Context, deps *Deps, roles ...string) (uuid.UUID, context.Context, func(), error) {
	claims, ok := auth.GetClaims(ctx)
	if !ok {
		return uuid.Nil, nil, nil, newToolAccessError("unauthorized", "authentication required")
	}

	projectID, err := uuid.Parse(claims.ProjectID)
	if err != nil {
		return uuid.Nil, nil, nil, newToolAccessError("unauthorized", "token does not carry a valid project ID")
	}

	if len(roles) > 0 && !claims.HasRole(roles...) {
		return uuid.Nil, nil, nil, newToolAccessError("forbidden", auth.ErrInsufficientRole.Error())
	}

	tenantCtx, cleanup, err := deps.Scoper.ScopedContext(ctx, projectID)
	if err != nil {
		return uuid.Nil, nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return projectID, tenantCtx, cleanup, nil
}

package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/logging"
	"github.com/ekaya-inc/sop-rules-engine/pkg/metrics"
)

// Tool call outcomes recorded by the auditor.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
)

// ToolAuditor writes one structured log line per MCP tool call: who called
// which tool in which project, with what arguments, how long it took and
// how it ended. It also feeds the tool call metrics.
type ToolAuditor struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolAuditor creates a ToolAuditor.
func NewToolAuditor(logger *zap.Logger) *ToolAuditor {
	return &ToolAuditor{logger: logger.Named("mcp-audit")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolAuditor) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolAuditor) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolAuditor) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	outcome := OutcomeOK
	if result != nil && result.IsError {
		outcome = OutcomeToolError
	}
	a.record(ctx, id, req, outcome, nil)
}

func (a *ToolAuditor) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	a.record(ctx, id, req, OutcomeError, err)
}

func (a *ToolAuditor) record(ctx context.Context, id any, req *mcplib.CallToolRequest, outcome string, err error) {
	var duration time.Duration
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		duration = time.Since(v.(time.Time))
	}

	tool := req.Params.Name
	metrics.RecordToolCall(tool, outcome)

	fields := []zap.Field{
		zap.String("tool", tool),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
	}
	if claims, ok := auth.GetClaims(ctx); ok {
		fields = append(fields,
			zap.String("project_id", claims.ProjectID),
			zap.String("actor", claims.Actor()))
	}
	if args, ok := req.Params.Arguments.(map[string]any); ok && len(args) > 0 {
		fields = append(fields, zap.Any("arguments", logging.SanitizeArguments(args)))
	}

	if err != nil {
		a.logger.Warn("MCP tool call failed", append(fields, zap.String("error", logging.SanitizeError(err)))...)
		return
	}
	a.logger.Info("MCP tool call", fields...)
}

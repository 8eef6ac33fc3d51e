package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services/workqueue"
)

const ingestionStatusLimit = 20

// RegisterIngestionTools registers ingestion_status.
func RegisterIngestionTools(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"ingestion_status",
		mcp.WithDescription(
			"Show the most recent documents submitted to an SOP with their extraction counts and warnings, "+
				"plus any ingestion runs still queued or in progress.",
		),
		mcp.WithString("sop_id", mcp.Required(), mcp.Description("SOP UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sopID, bad := requireUUID(req, "sop_id")
		if bad != nil {
			return bad, nil
		}

		_, tenantCtx, cleanup, err := acquireToolAccess(ctx, deps)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		docs, err := deps.Ingestion.ListDocuments(tenantCtx, sopID, ingestionStatusLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		if docs == nil {
			docs = []*models.Document{}
		}

		tasks := []workqueue.TaskSnapshot{}
		for _, t := range deps.Ingestion.QueueStatus() {
			if t.Key == sopID.String() {
				tasks = append(tasks, t)
			}
		}

		return jsonResult(struct {
			Documents []*models.Document     `json:"documents"`
			Queue     []workqueue.TaskSnapshot `json:"queue"`
		}{Documents: docs, Queue: tasks})
	})
}

// RegisterAll registers every rules tool on s.
func RegisterAll(s *server.MCPServer, version string, deps *Deps) {
	RegisterHealthTool(s, version, deps)
	RegisterRuleTools(s, deps)
	RegisterConflictTools(s, deps)
	RegisterTagTools(s, deps)
	RegisterIngestionTools(s, deps)
}

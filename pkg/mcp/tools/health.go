package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/sop-rules-engine/pkg/services/workqueue"
)

type healthResult struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	ActiveIngests int    `json:"active_ingests"`
}

// RegisterHealthTool adds the health tool. It needs no authentication
// beyond reaching the endpoint and reports the server version and how
// many ingestion runs are pending or running.
func RegisterHealthTool(s *server.MCPServer, version string, deps *Deps) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		active := 0
		if deps != nil && deps.Ingestion != nil {
			for _, t := range deps.Ingestion.QueueStatus() {
				if t.Status == workqueue.TaskStatusPending || t.Status == workqueue.TaskStatusRunning {
					active++
				}
			}
		}
		return jsonResult(healthResult{
			Status:        "ok",
			Service:       "sop-rules-engine",
			Version:       version,
			ActiveIngests: active,
		})
	})
}

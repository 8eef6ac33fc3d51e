package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// requireUUID reads a required UUID argument. A missing or malformed
// value yields an error result for the caller.
func requireUUID(req mcp.CallToolRequest, name string) (uuid.UUID, *mcp.CallToolResult) {
	raw, err := req.RequireString(name)
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("%s is required", name))
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("%s must be a UUID", name))
	}
	return id, nil
}

// requireString reads a required non-blank string argument.
func requireString(req mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	raw, err := req.RequireString(name)
	if err != nil || strings.TrimSpace(raw) == "" {
		return "", NewErrorResult("invalid_parameters", fmt.Sprintf("%s is required", name))
	}
	return strings.TrimSpace(raw), nil
}

// jsonResult marshals v as the text of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

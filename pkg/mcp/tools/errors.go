package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
)

// ErrorResponse is the body of an error tool result.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result carrying a structured error.
// Use it for errors the caller can act on (bad parameters, unknown ids,
// illegal transitions). Server faults should stay Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails is NewErrorResult with extra context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	jsonBytes, _ := json.Marshal(ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	})
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts a domain error into an error result. It
// returns nil for errors that are not the caller's to fix.
func serviceErrorResult(err error) *mcp.CallToolResult {
	if code := apperrors.Code(err); code != "" {
		return NewErrorResult(code, err.Error())
	}
	return nil
}

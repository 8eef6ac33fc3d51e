// Package mcp serves the rules review tools over the Model Context Protocol.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/mcp/tools"
)

const instructions = "Tools for reviewing billing SOP rule collections. " +
	"Rules are written in a tag grammar (@MEDICARE, @ADD @MOD25, ...). " +
	"Use list_conflicts before resolve_conflict, and list_pending_tags before review_tag."

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance. Pass an auditor to record
// every tool call; nil disables auditing.
func NewServer(name, version string, auditor *ToolAuditor, logger *zap.Logger) *Server {
	opts := []server.ServerOption{
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	}
	if auditor != nil {
		opts = append(opts, server.WithHooks(auditor.Hooks()))
	}

	return &Server{
		mcp:    server.NewMCPServer(name, version, opts...),
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// RegisterTools registers every rules tool.
func (s *Server) RegisterTools(version string, deps *tools.Deps) {
	tools.RegisterAll(s.mcp, version, deps)
}

// RegisterTool is a convenience wrapper for registering a single tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}

// Handler returns a stateless streamable HTTP transport for the server.
// The mux routes /mcp/{pid} to it, so no endpoint path is configured here.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

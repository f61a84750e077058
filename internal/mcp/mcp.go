// Package mcp implements the Model Context Protocol server for keiro.
//
// The MCP server exposes the routing engine to MCP-compatible AI agents:
// tools for recording outcomes and picking targets, resources for the
// reliability matrix and aggregate stats, and prompts that teach agents
// the record-then-route workflow.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/keiro/internal/reliability"
)

// Server wraps the MCP server around the routing engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *reliability.Tracker
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources, tools,
// and prompts registered.
func New(engine *reliability.Tracker, logger *slog.Logger, version string) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"keiro",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

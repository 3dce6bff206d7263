// Package mcp implements the Model Context Protocol server for MindFork.
//
// The MCP server exposes the personalization and coaching capabilities of
// the HTTP API through MCP tools, resources, and prompts, so MCP-compatible
// AI coaching agents can resolve a user's layout, read their traits, log
// meals on their behalf, and fetch the assembled coach system prompt.
//
// Authorization mirrors the HTTP surface: the StreamableHTTP transport runs
// behind the same JWT middleware, so handlers read claims from the request
// context. Over stdio there are no claims and every call must name an
// explicit user; the same grant checks apply.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mindfork/mindfork/internal/service/coach"
	"github.com/mindfork/mindfork/internal/service/personalize"
	"github.com/mindfork/mindfork/internal/service/progress"
	"github.com/mindfork/mindfork/internal/storage"
)

// Server wraps the MCP server with MindFork's service layer.
type Server struct {
	mcpServer      *mcpserver.MCPServer
	db             *storage.DB
	personalizeSvc *personalize.Service
	progressSvc    *progress.Service
	coachSvc       *coach.Service
	logger         *slog.Logger
}

// New creates and configures a new MCP server with all tools, resources,
// and prompts registered.
func New(db *storage.DB, personalizeSvc *personalize.Service, progressSvc *progress.Service, coachSvc *coach.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:             db,
		personalizeSvc: personalizeSvc,
		progressSvc:    progressSvc,
		coachSvc:       coachSvc,
		logger:         logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mindfork",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// errorResult builds a tool-call error result. Tool failures are reported
// in-band so the calling agent can react; a Go error from a handler would
// tear down the whole request instead.
func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}

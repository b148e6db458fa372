package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatehousehq/gatehouse/internal/store"
)

// MCPServer wraps the mcp-go server with Gatehouse-specific tool and
// resource registrations. It exposes a workspace's agents and knowledge
// bases so MCP clients can discover agents, search documents, and chat.
//
// The server is bound to a single workspace at construction time. Callers
// are expected to have already validated an "mcp-" token and resolved it
// to a workspace before building the server.
type MCPServer struct {
	store       *store.Store
	workspaceID string
	logger      *slog.Logger
	server      *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all Gatehouse tools and
// resources for the given workspace. The returned server is ready to serve
// over stdio or HTTP.
func NewMCPServer(st *store.Store, workspaceID string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:       st,
		workspaceID: workspaceID,
		logger:      logger,
	}

	mcpServer := server.NewMCPServer(
		"Gatehouse Agent API",
		"1.0.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	// Register tools (list agents, chat, knowledge search, etc.)
	s.registerTools(mcpServer)

	// Register resources (agent list, knowledge base templates)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for Claude Code, Claude Desktop, and other MCP clients
// that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "workspace_id", s.workspaceID)
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr, "workspace_id", s.workspaceID)
	return httpServer.Start(addr)
}

// readOnlyAnnotation marks a tool as non-mutating. Every Gatehouse MCP
// tool carries it; tokens grant read access only.
func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}

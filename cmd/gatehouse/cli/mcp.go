package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	gmcp "github.com/gatehousehq/gatehouse/internal/mcp"
	"github.com/gatehousehq/gatehouse/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		token     string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes a workspace's
agents and knowledge bases as tools for AI agents like Claude. Supports
stdio (default) and HTTP transports.

The server authenticates with an MCP token (created with 'gatehouse token
create') and serves only the workspace that token is bound to.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with Claude Desktop or other MCP clients.

In HTTP mode, the server listens on the specified port for streamable HTTP
connections.`,
		Example: `  gatehouse mcp --token mcp-...                # stdio mode (for Claude Desktop)
  GATEHOUSE_MCP_TOKEN=mcp-... gatehouse mcp    # token via environment
  gatehouse mcp --transport http --port 3001   # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port, token)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&token, "token", "", "MCP token (default: GATEHOUSE_MCP_TOKEN env var)")

	return cmd
}

func runMCP(transport string, port int, token string) error {
	logger := newLogger(false)

	if token == "" {
		token = os.Getenv("GATEHOUSE_MCP_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no MCP token provided; pass --token or set GATEHOUSE_MCP_TOKEN")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	// Resolve the token to its workspace before exposing any tools.
	authSvc := service.NewAuthService(st, jwtSecret())
	mcpToken, err := authSvc.ValidateMCPToken(context.Background(), token)
	if err != nil {
		return fmt.Errorf("invalid MCP token: %w", err)
	}

	mcpSrv := gmcp.NewMCPServer(st, mcpToken.WorkspaceID, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		addr := fmt.Sprintf(":%d", port)
		return mcpSrv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}

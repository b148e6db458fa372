package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage MCP tokens",
		Long:  "Create the tokens MCP clients use to authenticate. MCP tokens grant read-only access to a single workspace.",
	}

	cmd.AddCommand(newTokenCreateCmd())

	return cmd
}

// ---------- token create ----------

func newTokenCreateCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new MCP token",
		Long:  "Generate a new MCP token bound to a workspace. The raw token is shown once and cannot be retrieved again.",
		Example: `  gatehouse token create --workspace ws_1
  GATEHOUSE_MCP_TOKEN=mcp-... gatehouse mcp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreate(workspace)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID to bind the token to (required)")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runTokenCreate(workspace string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	gen, err := service.GenerateMCPToken()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	token := &model.MCPToken{
		ID:          uuid.New().String(),
		WorkspaceID: workspace,
		TokenHash:   gen.Hash,
		Prefix:      gen.Prefix,
		IsActive:    true,
	}

	if err := st.CreateMCPToken(context.Background(), token); err != nil {
		return fmt.Errorf("create mcp token: %w", err)
	}

	fmt.Println("MCP token created:")
	fmt.Println()
	fmt.Printf("  Token:     %s\n", gen.Raw)
	fmt.Printf("  Workspace: %s\n", workspace)
	fmt.Println()
	fmt.Println("  Save this token now - it cannot be retrieved again.")
	return nil
}

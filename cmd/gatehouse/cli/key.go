package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage workspace API keys",
		Long:    "Create, list, and revoke the API keys tenants use to authenticate against the public API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		workspace string
		name      string
		scopes    []string
		rpm       int
		allowIPs  []string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key bound to a workspace. The raw key is shown once and cannot be retrieved again.",
		Example: `  gatehouse key create --workspace ws_1 --name "CI pipeline"
  gatehouse key create --workspace ws_1 --scope read --rpm 120
  gatehouse key create --workspace ws_1 --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(workspace, name, scopes, rpm, allowIPs, expiresIn)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID to bind the key to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable label for the key")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to grant (read, write); defaults to both")
	cmd.Flags().IntVar(&rpm, "rpm", 0, "Rate limit in requests per minute (default 60)")
	cmd.Flags().StringSliceVar(&allowIPs, "allow-ip", nil, "Restrict the key to these client IPs")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expire the key after this duration (e.g. 720h)")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runKeyCreate(workspace, name string, scopeNames []string, rpm int, allowIPs []string, expiresIn time.Duration) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	scopes, err := model.ParseScopes(scopeNames)
	if err != nil {
		return err
	}

	gen, err := service.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	var expiresAt *time.Time
	if expiresIn > 0 {
		t := time.Now().UTC().Add(expiresIn)
		expiresAt = &t
	}

	key := service.NewAPIKeyRecord(gen, workspace, name, scopes, rpm, expiresAt)
	key.AllowedIPs = model.IPList(allowIPs)

	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:       %s\n", gen.Raw)
	fmt.Printf("  Workspace: %s\n", workspace)
	fmt.Printf("  Scopes:    %s\n", key.Scopes.String())
	fmt.Printf("  Limit:     %d req/min\n", key.RateLimitRPM)
	if name != "" {
		fmt.Printf("  Name:      %s\n", name)
	}
	if expiresAt != nil {
		fmt.Printf("  Expires:   %s\n", expiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		workspace  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a workspace's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(workspace, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID to list keys for (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runKeyList(workspace string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background(), workspace)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		Prefix string `json:"prefix"`
		Name   string `json:"name"`
		Scopes string `json:"scopes"`
		RPM    int    `json:"rpm"`
		Active bool   `json:"active"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			Prefix: k.Prefix,
			Name:   k.Name,
			Scopes: k.Scopes.String(),
			RPM:    k.RateLimitRPM,
			Active: k.IsActive,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys in this workspace. Use 'gatehouse key create' to create one.")
		return nil
	}

	fmt.Printf("%-16s %-24s %-14s %-6s %-8s\n", "PREFIX", "NAME", "SCOPES", "RPM", "ACTIVE")
	fmt.Printf("%-16s %-24s %-14s %-6s %-8s\n", "------", "----", "------", "---", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-16s %-24s %-14s %-6d %-8s\n", k.Prefix, k.Name, k.Scopes, k.RPM, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, rejecting any further requests that present it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(workspace, args[0])
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID the key belongs to (required)")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runKeyRevoke(workspace, prefix string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	keys, err := st.ListAPIKeys(ctx, workspace)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	// Find the key whose prefix starts with the given prefix
	var matched *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].Prefix, prefix) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}

	if err := st.RevokeAPIKey(ctx, matched.ID, workspace); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", matched.Prefix)
	return nil
}

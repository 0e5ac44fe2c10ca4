package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/mcvault/internal/identity"
	mcpserver "github.com/rendis/mcvault/pkg/mcp"
)

var mcpAgentID string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the vault metadata tools over MCP stdio for one agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := identity.ValidateAgentID(mcpAgentID); err != nil {
			return fmt.Errorf("--agent: %w", err)
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := openVault(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		srv := mcpserver.NewVaultServer(mcpserver.VaultServerDeps{
			Vault:   app.vault,
			AgentID: mcpAgentID,
			Logger:  logger.With("agent_id", mcpAgentID),
		})
		return srv.Serve(ctx)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpAgentID, "agent", "", "Agent whose handles the tools expose")
	_ = mcpCmd.MarkFlagRequired("agent")
}

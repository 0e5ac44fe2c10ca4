package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/mcvault/internal/auth"
)

var (
	tokenAgentID string
	tokenLabel   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage agent bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for an agent",
	Long:  "Registers the agent if needed and prints a new token. The token is shown once; only its hash is stored.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := openVault(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		issued, err := auth.NewAuthenticator(app.store, cfg.Server.TokenCacheTTL, logger).
			Issue(cmd.Context(), tokenAgentID, tokenLabel)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(issued)
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke TOKEN_ID",
	Short: "Disable a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := openVault(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := auth.NewAuthenticator(app.store, cfg.Server.TokenCacheTTL, logger).Revoke(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token %s revoked\n", args[0])
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an agent's tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := openVault(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		tokens, err := auth.NewAuthenticator(app.store, cfg.Server.TokenCacheTTL, logger).List(cmd.Context(), tokenAgentID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPREFIX\tLABEL\tDISABLED\tCREATED")
		for _, t := range tokens {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", t.ID, t.Prefix, t.Label, t.Disabled, t.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenAgentID, "agent", "", "Agent ID")
	tokenIssueCmd.Flags().StringVar(&tokenLabel, "label", "", "Free-form label")
	_ = tokenIssueCmd.MarkFlagRequired("agent")

	tokenListCmd.Flags().StringVar(&tokenAgentID, "agent", "", "Agent ID")
	_ = tokenListCmd.MarkFlagRequired("agent")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	tokenCmd.AddCommand(tokenListCmd)
}

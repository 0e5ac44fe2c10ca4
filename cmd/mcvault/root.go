package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/mcvault/internal/config"
	"github.com/rendis/mcvault/internal/logging"
	"github.com/rendis/mcvault/internal/policy"
	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/internal/streaming"
	"github.com/rendis/mcvault/internal/vault"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "mcvault",
	Short:         "Credential vault and placeholder resolver for agent tool calls",
	Long:          "mcvault stores credentials encrypted per agent and substitutes {{vault:HANDLE}} placeholders in tool parameters just before execution.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the TOML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads config and builds the logger. Logs go to stderr so
// stdout stays free for command output and the MCP stdio transport.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// vaultApp is the storage side shared by serve, mcp and token.
type vaultApp struct {
	store *store.LibSQLStore
	vault *vault.Service
	hub   *streaming.MemoryHub
}

func (a *vaultApp) Close() error {
	return a.store.Close()
}

// openVault opens and migrates the database and builds the vault service.
// A missing master key leaves the service in setup-required mode.
func openVault(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*vaultApp, error) {
	keyring, err := cfg.Keyring()
	if err != nil {
		return nil, fmt.Errorf("master keys: %w", err)
	}
	engine, err := policy.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.Server.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	hub := streaming.NewMemoryHub()
	opts := vault.Options{
		Hub:      hub,
		Store:    st,
		Policy:   engine,
		Logger:   logger,
		MaxBatch: cfg.Server.MaxBatch,
	}
	if keyring != nil {
		opts.Sealer = keyring
	} else {
		logger.Warn("no master key configured; vault setup required", "hint", "run `mcvault keygen`")
	}
	return &vaultApp{store: st, vault: vault.New(opts), hub: hub}, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/mcvault/internal/config"
	"github.com/rendis/mcvault/internal/document"
	"github.com/rendis/mcvault/internal/gateway"
	"github.com/rendis/mcvault/internal/placeholder"
	"github.com/rendis/mcvault/internal/redact"
	"github.com/rendis/mcvault/internal/resolver"
	"github.com/rendis/mcvault/pkg/schema"
)

var (
	resolveAgentID    string
	resolveSessionKey string
	resolveToolName   string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run the gateway pipeline on a params document from stdin",
	Long: `Reads a JSON params document from stdin, resolves its vault placeholders
against the configured endpoint and prints the document as it would be
persisted: every resolved secret masked. Plaintext is never printed: the
command fails when a resolved secret is shorter than min_secret_length.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		hooks, err := newHooks(cfg, logger)
		if err != nil {
			return err
		}
		return runResolve(cmd.Context(), hooks, gateway.ToolCall{
			AgentID:    resolveAgentID,
			SessionKey: resolveSessionKey,
			ToolName:   resolveToolName,
		}, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveAgentID, "agent", "", "Calling agent ID")
	resolveCmd.Flags().StringVar(&resolveSessionKey, "session", "cli", "Session key")
	resolveCmd.Flags().StringVar(&resolveToolName, "tool", "", "Tool name")
}

// newHooks wires the gateway side from the resolver config.
func newHooks(cfg *config.Config, logger *slog.Logger) (*gateway.Hooks, error) {
	rc := cfg.Resolver
	scanner, err := placeholder.NewScanner(rc.PlaceholderPrefix)
	if err != nil {
		return nil, err
	}
	var client resolver.BatchClient
	if rc.Endpoint != "" {
		c, err := resolver.NewHTTPClient(rc.Endpoint, rc.Timeout)
		if err != nil {
			return nil, err
		}
		client = c
		if rc.BreakerThreshold > 0 {
			client = resolver.NewBreaker(c, resolver.BreakerConfig{
				FailureThreshold: rc.BreakerThreshold,
				Cooldown:         rc.BreakerCooldown,
			})
		}
	}
	tracker := redact.NewTracker(rc.SessionTTL)
	r := resolver.New(resolver.Options{
		Scanner:      scanner,
		Tokens:       resolver.NewTokenResolver(rc.GlobalToken, rc.AgentTokens),
		Client:       client,
		Cache:        resolver.NewCache(rc.CacheTTL),
		Tracker:      tracker,
		Logger:       logger,
		StrictMisses: rc.StrictMisses,
	})
	return gateway.New(r, redact.NewRedactor(tracker, rc.MinSecretLength, rc.Mask), nil, logger), nil
}

// runResolve reads params from in, resolves and writes the redacted
// document to out. A blocked call is returned as an error.
func runResolve(ctx context.Context, hooks *gateway.Hooks, call gateway.ToolCall, in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(io.LimitReader(in, 1<<20))
	if err != nil {
		return fmt.Errorf("read params: %w", err)
	}
	params, err := document.Decode(raw)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "params must be a JSON document").WithCause(err)
	}
	call.Params = params

	decision := hooks.BeforeToolCall(ctx, call)
	defer hooks.ClearSession(call.SessionKey)
	if decision.Block {
		return fmt.Errorf("blocked: %s", decision.BlockReason)
	}
	if n := hooks.Unmaskable(call.SessionKey); n > 0 {
		return fmt.Errorf("refusing to print params: %d resolved secret(s) shorter than min_secret_length cannot be masked", n)
	}
	persisted := hooks.ToolResultPersist(ctx, call.SessionKey, decision.Params)
	if persisted.Degraded {
		return fmt.Errorf("resolved params could not be redacted")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(persisted.Message)
}

package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/mcvault/internal/vault"
)

// VaultServerDeps holds the dependencies for creating a VaultServer.
type VaultServerDeps struct {
	Vault   *vault.Service
	AgentID string
	Logger  *slog.Logger
}

// VaultServer exposes read-only vault metadata for one agent over MCP.
// No tool ever returns secret material.
type VaultServer struct {
	vault     *vault.Service
	agentID   string
	jq        *JQFilter
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewVaultServer creates a VaultServer with all 3 tools registered.
func NewVaultServer(deps VaultServerDeps) *VaultServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &VaultServer{
		vault:   deps.Vault,
		agentID: deps.AgentID,
		jq:      NewJQFilter(),
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"mcvault",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("mcvault keeps credentials out of your context. Reference a credential as {{vault:HANDLE}} (or {{vault:HANDLE.username}}) in tool parameters; it is substituted just before the tool runs. Use vault.handles to see available handles, vault.hint for a ready-made reference, and vault.audit to review recent use."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *VaultServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *VaultServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *VaultServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: handlesTool(), Handler: s.handleHandles},
		{Tool: hintTool(), Handler: s.handleHint},
		{Tool: auditTool(), Handler: s.handleAudit},
	}
}

// --- Tool definitions ---

func handlesTool() mcp.Tool {
	return mcp.NewTool("vault.handles",
		mcp.WithDescription("List the credential handles available to this agent"),
		mcp.WithBoolean("include_disabled", mcp.Description("Include disabled credentials (default: false)")),
	)
}

func hintTool() mcp.Tool {
	return mcp.NewTool("vault.hint",
		mcp.WithDescription("Get the placeholder hint for a credential handle"),
		mcp.WithString("handle", mcp.Required(), mcp.Description("Credential handle")),
	)
}

func auditTool() mcp.Tool {
	return mcp.NewTool("vault.audit",
		mcp.WithDescription("List recent vault audit entries for this agent"),
		mcp.WithString("action", mcp.Description("Only entries with this action (resolve, create, rotate, ...)")),
		mcp.WithString("status", mcp.Enum("ok", "deny", "error"), mcp.Description("Only entries with this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 50, max 500)")),
		mcp.WithString("jq", mcp.Description("Optional jq filter applied to the entry array")),
	)
}

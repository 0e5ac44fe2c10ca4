package resolver

import (
	"strings"

	"github.com/rendis/mcvault/pkg/schema"
)

// TokenResolver maps an acting agent to the bearer token used against the
// resolve-batch endpoint: the agent's own token if configured, else the
// global one.
type TokenResolver struct {
	global string
	agents map[string]string
}

// NewTokenResolver copies agentTokens, dropping blank entries.
func NewTokenResolver(global string, agentTokens map[string]string) *TokenResolver {
	agents := make(map[string]string, len(agentTokens))
	for agent, tok := range agentTokens {
		agent, tok = strings.TrimSpace(agent), strings.TrimSpace(tok)
		if agent != "" && tok != "" {
			agents[agent] = tok
		}
	}
	return &TokenResolver{global: strings.TrimSpace(global), agents: agents}
}

// Token returns the credential for agentID. No credential at all is a
// CONFIGURATION_ERROR; the call must not proceed unauthenticated.
func (t *TokenResolver) Token(agentID string) (string, error) {
	if t != nil {
		if tok, ok := t.agents[strings.TrimSpace(agentID)]; ok {
			return tok, nil
		}
		if t.global != "" {
			return t.global, nil
		}
	}
	agent := agentID
	if agent == "" {
		agent = "unknown"
	}
	return "", schema.NewErrorf(schema.ErrCodeConfiguration,
		"vault placeholders detected, but no token configured for agent %q", agent)
}

package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/rendis/mcvault/pkg/schema"
)

const (
	maxHandleBase    = 64
	handleCandidates = 8
	fallbackBase     = "cred"
)

var nonHandleRun = regexp.MustCompile(`[^a-z0-9._-]+`)

// SanitizeHandleBase turns free text into a handle stem: lowercased, runs of
// other characters collapsed to "-", dashes trimmed, "h-" prepended when the
// first character is not alphanumeric, at most 64 characters. Empty input
// yields "".
func SanitizeHandleBase(value string) string {
	out := strings.ToLower(strings.TrimSpace(value))
	if out == "" {
		return ""
	}
	out = strings.Trim(nonHandleRun.ReplaceAllString(out, "-"), "-")
	if out == "" {
		return ""
	}
	if c := out[0]; !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
		out = "h-" + out
	}
	if len(out) > maxHandleBase {
		out = out[:maxHandleBase]
	}
	return out
}

// handleBase picks the stem for an auto-generated handle.
func handleBase(service string, typ schema.ItemType) string {
	if b := SanitizeHandleBase(service); b != "" {
		return b
	}
	if b := SanitizeHandleBase(string(typ)); b != "" {
		return b
	}
	return fallbackBase
}

// handleCandidatesFor returns the base followed by suffixed variants.
func handleCandidatesFor(base string) ([]string, error) {
	out := make([]string, 0, handleCandidates+1)
	out = append(out, base)
	for i := 0; i < handleCandidates; i++ {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		out = append(out, base+"_"+hex.EncodeToString(b))
	}
	return out, nil
}

// generateHandle returns the first unused candidate for the agent.
func (s *Service) generateHandle(ctx context.Context, agentID, service string, typ schema.ItemType) (string, error) {
	candidates, err := handleCandidatesFor(handleBase(service, typ))
	if err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "failed to generate handle").WithCause(err)
	}
	for _, h := range candidates {
		if !schema.ValidHandle(h) {
			continue
		}
		exists, err := s.store.HandleExists(ctx, agentID, h)
		if err != nil {
			return "", err
		}
		if !exists {
			return h, nil
		}
	}
	return "", schema.NewError(schema.ErrCodeConflict, "could not auto-generate a unique handle; please provide one")
}

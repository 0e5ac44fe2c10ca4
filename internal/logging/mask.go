package logging

import (
	"strings"

	masker "github.com/goliatone/go-masker"
)

const maskRule = "preserveEnds(2,2)"

func init() {
	for _, field := range []string{"token", "token_prefix", "authorization", "global_token"} {
		masker.Default.RegisterMaskField(field, maskRule)
	}
}

// MaskToken returns a log-safe rendering of a bearer token or token prefix.
// At most the first and last two characters survive.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if masked, err := masker.Default.String(maskRule, token); err == nil && masked != token {
		return masked
	}
	runes := []rune(token)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-2:])
}

package vault

import (
	"fmt"
	"regexp"
	"strings"
)

// Markers delimiting the vault hint block inside free-form markdown.
const (
	HintStart = "<!-- mc:vault-hint:start -->"
	HintEnd   = "<!-- mc:vault-hint:end -->"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// BuildHint renders the markdown block telling an agent how to reference an
// item. It never contains secret material. An empty handle yields "".
func BuildHint(handle string, includeUsername bool) string {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ""
	}
	lines := []string{
		HintStart,
		"### Credential hint",
		fmt.Sprintf("- Vault handle: `%s`", handle),
		fmt.Sprintf("- Placeholder: `{{vault:%s}}`", handle),
	}
	if includeUsername {
		lines = append(lines, fmt.Sprintf("- Username ref: `{{vault:%s.username}}`", handle))
	}
	lines = append(lines, HintEnd)
	return strings.Join(lines, "\n")
}

// StripHint removes the hint block from text. Text without a complete block
// is returned unchanged.
func StripHint(text string) string {
	start := strings.Index(text, HintStart)
	end := strings.Index(text, HintEnd)
	if start < 0 || end < 0 || end < start {
		return text
	}
	out := text[:start] + text[end+len(HintEnd):]
	return strings.TrimRight(blankRuns.ReplaceAllString(out, "\n\n"), " \t\r\n")
}

// UpsertHint replaces any hint block in text with hint, placed after the
// remaining content and a blank line. An empty hint only strips.
func UpsertHint(text, hint string) string {
	stripped := StripHint(text)
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return stripped
	}
	base := strings.TrimRight(stripped, " \t\r\n")
	if base == "" {
		return hint + "\n"
	}
	return base + "\n\n" + hint + "\n"
}

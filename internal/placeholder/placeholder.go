// Package placeholder finds {{prefix:handle[.field]}} references in tool-call
// parameters and substitutes resolved values for them.
package placeholder

import (
	"regexp"
	"strings"

	"github.com/rendis/mcvault/internal/document"
	"github.com/rendis/mcvault/pkg/schema"
)

// DefaultPrefix is the placeholder namespace used when none is configured.
const DefaultPrefix = "vault"

var prefixPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Ref is one parsed placeholder occurrence.
type Ref struct {
	Raw    string // exact matched text, the substitution key
	Handle string
	Field  schema.Field
}

// Key identifies the (handle, field) pair a ref resolves to.
func (r Ref) Key() string {
	return r.Handle + "#" + string(r.Field)
}

// Scanner matches placeholders for one prefix. Safe for concurrent use.
type Scanner struct {
	prefix string
	re     *regexp.Regexp
}

// NewScanner builds a scanner for prefix; empty means DefaultPrefix.
func NewScanner(prefix string) (*Scanner, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !prefixPattern.MatchString(prefix) {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "invalid placeholder prefix %q", prefix)
	}
	re := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(prefix) + `:([^}]+?)\s*\}\}`)
	return &Scanner{prefix: prefix, re: re}, nil
}

// Prefix returns the scanner's namespace.
func (s *Scanner) Prefix() string { return s.prefix }

// Parse turns the text after "prefix:" into a handle and field. A trailing
// ".field" is split off only when it names a known field; otherwise the
// whole spec is the handle. Malformed handles do not match.
func Parse(spec string) (handle string, field schema.Field, ok bool) {
	spec = strings.TrimSpace(spec)
	handle, field = spec, schema.FieldSecret
	if i := strings.LastIndexByte(spec, '.'); i > 0 {
		if f, known := schema.LookupField(spec[i+1:]); known {
			handle, field = spec[:i], f
		}
	}
	if !schema.ValidHandle(handle) {
		return "", "", false
	}
	return handle, field, true
}

// FindInString returns every well-formed placeholder in s, in order.
func (s *Scanner) FindInString(str string) []Ref {
	if !strings.Contains(str, "{{") {
		return nil
	}
	var refs []Ref
	for _, m := range s.re.FindAllStringSubmatch(str, -1) {
		handle, field, ok := Parse(m[1])
		if !ok {
			continue
		}
		refs = append(refs, Ref{Raw: m[0], Handle: handle, Field: field})
	}
	return refs
}

// Scan collects the distinct placeholders (by raw text) in every string leaf
// of doc, in first-seen order.
func (s *Scanner) Scan(doc any) ([]Ref, error) {
	seen := make(map[string]bool)
	var refs []Ref
	err := document.Visit(doc, func(str string) {
		for _, r := range s.FindInString(str) {
			if !seen[r.Raw] {
				seen[r.Raw] = true
				refs = append(refs, r)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Substitute returns a copy of doc with each placeholder whose raw text is in
// values replaced by its value, in one pass so substituted text is never
// rescanned. Placeholders without a value stay literal.
func (s *Scanner) Substitute(doc any, values map[string]string) (any, error) {
	return document.Rewrite(doc, func(str string) string {
		if len(values) == 0 || !strings.Contains(str, "{{") {
			return str
		}
		return s.re.ReplaceAllStringFunc(str, func(m string) string {
			if v, ok := values[m]; ok {
				return v
			}
			return m
		})
	})
}

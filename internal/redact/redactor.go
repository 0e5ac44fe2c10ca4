package redact

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rendis/mcvault/internal/document"
)

// Defaults for Redactor.
const (
	DefaultMinSecretLength = 6
	DefaultMask            = "****"
)

// Redactor replaces tracked secrets in documents with a fixed mask.
type Redactor struct {
	tracker   *Tracker
	minLength int
	mask      string
}

// NewRedactor builds a redactor over tracker. minLength <= 0 and an empty
// mask fall back to the defaults.
func NewRedactor(tracker *Tracker, minLength int, mask string) *Redactor {
	if minLength <= 0 {
		minLength = DefaultMinSecretLength
	}
	if mask == "" {
		mask = DefaultMask
	}
	return &Redactor{tracker: tracker, minLength: minLength, mask: mask}
}

// Tracker returns the session tracker the redactor reads from.
func (r *Redactor) Tracker() *Tracker { return r.tracker }

// Redact returns a copy of doc with every tracked secret of the session
// masked in every string leaf. Object keys are not rewritten. applied is
// false, and doc is returned as is, when the session tracks no secret long
// enough to scan for. A doc outside the supported shapes yields a
// *document.UnsupportedShapeError.
func (r *Redactor) Redact(session string, doc any) (out any, applied bool, err error) {
	secrets := r.scanList(r.tracker.Values(session))
	if len(secrets) == 0 {
		return doc, false, nil
	}
	out, err = document.Rewrite(doc, func(s string) string {
		return r.maskString(s, secrets)
	})
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Unmaskable counts the session's tracked secrets that are shorter than the
// minimum length and therefore never masked.
func (r *Redactor) Unmaskable(session string) int {
	n := 0
	for _, v := range r.tracker.Values(session) {
		if utf8.RuneCountInString(v) < r.minLength {
			n++
		}
	}
	return n
}

// RedactString masks the session's secrets in a single string.
func (r *Redactor) RedactString(session, s string) string {
	return r.maskString(s, r.scanList(r.tracker.Values(session)))
}

// scanList keeps secrets at or above the minimum length, longest first, so a
// secret that is a substring of another cannot leave a partial residue.
func (r *Redactor) scanList(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if utf8.RuneCountInString(v) >= r.minLength {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func (r *Redactor) maskString(s string, secrets []string) string {
	for _, secret := range secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, r.mask)
		}
	}
	return s
}

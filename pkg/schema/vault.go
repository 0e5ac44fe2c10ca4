package schema

import (
	"regexp"
	"strings"
	"time"
)

// MaxHandleLength bounds explicit handles.
const MaxHandleLength = 128

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidHandle reports whether h is a well-formed item handle.
func ValidHandle(h string) bool {
	return len(h) <= MaxHandleLength && handlePattern.MatchString(h)
}

// ItemType enumerates the kinds of credentials a vault item can hold.
type ItemType string

const (
	ItemTypeAPIKey           ItemType = "api_key"
	ItemTypeUsernamePassword ItemType = "username_password"
	ItemTypeOAuthRefresh     ItemType = "oauth_refresh"
	ItemTypeSecret           ItemType = "secret"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeAPIKey, ItemTypeUsernamePassword, ItemTypeOAuthRefresh, ItemTypeSecret:
		return true
	}
	return false
}

// ExposureMode controls whether an item may ever be decrypted for display.
type ExposureMode string

const (
	ExposureInjectOnly ExposureMode = "inject_only"
	ExposureRevealable ExposureMode = "revealable"
)

// Valid reports whether m is a known exposure mode.
func (m ExposureMode) Valid() bool {
	return m == ExposureInjectOnly || m == ExposureRevealable
}

// Field is the normalized part of an item a placeholder refers to.
type Field string

const (
	FieldSecret   Field = "secret"
	FieldUsername Field = "username"
)

// knownFields are the accepted placeholder field aliases.
var knownFields = map[string]Field{
	"username": FieldUsername,
	"user":     FieldUsername,
	"password": FieldSecret,
	"secret":   FieldSecret,
	"value":    FieldSecret,
	"token":    FieldSecret,
	"api_key":  FieldSecret,
}

// LookupField reports the normalized field for a known alias. Matching is
// exact: "USER" is not an alias, so a placeholder "h1.USER" names the
// handle "h1.USER".
func LookupField(raw string) (Field, bool) {
	f, ok := knownFields[raw]
	return f, ok
}

// NormalizeField maps any accepted field alias to username or secret,
// ignoring case and surrounding space. Empty and unrecognized values map to
// secret.
func NormalizeField(raw string) Field {
	if f, ok := LookupField(strings.ToLower(strings.TrimSpace(raw))); ok {
		return f
	}
	return FieldSecret
}

// ResolveRequest asks for one (handle, field) pair. Key is chosen by the
// caller and only correlates the response entry.
type ResolveRequest struct {
	Key    string `json:"key"`
	Handle string `json:"handle"`
	Field  string `json:"field,omitempty"`
}

// ResolveBatchRequest is the body of POST /vault/resolve-batch.
type ResolveBatchRequest struct {
	Requests   []ResolveRequest `json:"requests"`
	SessionKey string           `json:"sessionKey,omitempty"`
	ToolName   string           `json:"toolName,omitempty"`
}

// ResolveBatchResponse is the success body of POST /vault/resolve-batch.
type ResolveBatchResponse struct {
	OK     bool              `json:"ok"`
	Values map[string]string `json:"values"`
}

// ErrorResponse is the body of every non-success vault HTTP response.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Item is the public view of a vault item. It never carries envelope fields
// or decrypted material.
type Item struct {
	ID            string       `json:"id"`
	AgentID       string       `json:"agentId"`
	Handle        string       `json:"handle"`
	Type          ItemType     `json:"type"`
	Service       string       `json:"service,omitempty"`
	Username      string       `json:"username,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	ExposureMode  ExposureMode `json:"exposureMode"`
	Disabled      bool         `json:"disabled"`
	Policy        string       `json:"policy,omitempty"`
	KeyVersion    int          `json:"keyVersion"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	LastUsedAt    *time.Time   `json:"lastUsedAt,omitempty"`
	LastRotatedAt *time.Time   `json:"lastRotatedAt,omitempty"`
}

// CreateItemRequest is the body of POST /vault/agents/{agentId}/items.
// An empty Handle asks the vault to generate one.
type CreateItemRequest struct {
	Handle       string       `json:"handle,omitempty"`
	Type         ItemType     `json:"type"`
	Secret       string       `json:"secret"`
	ExposureMode ExposureMode `json:"exposureMode,omitempty"`
	Service      string       `json:"service,omitempty"`
	Username     string       `json:"username,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Policy       string       `json:"policy,omitempty"`
}

// UpdateItemRequest is the body of PATCH .../items/{itemId}. Nil fields are
// left unchanged.
type UpdateItemRequest struct {
	Service      *string       `json:"service,omitempty"`
	Username     *string       `json:"username,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
	Tags         *[]string     `json:"tags,omitempty"`
	ExposureMode *ExposureMode `json:"exposureMode,omitempty"`
	Disabled     *bool         `json:"disabled,omitempty"`
	Policy       *string       `json:"policy,omitempty"`
}

// RotateItemRequest is the body of POST .../items/{itemId}/rotate.
type RotateItemRequest struct {
	Secret   string  `json:"secret"`
	Username *string `json:"username,omitempty"`
}

// RevealResponse is the body returned for a revealable item.
type RevealResponse struct {
	OK       bool   `json:"ok"`
	Value    string `json:"value"`
	Username string `json:"username"`
}

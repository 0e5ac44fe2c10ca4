package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// TokenPrefix starts every agent access token.
const TokenPrefix = "mcva_"

// scrypt parameters for stored token hashes.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	scryptSalt   = 16
)

// GenerateToken returns a new agent access token and its lookup prefix.
// Format: mcva_<8 hex>.<base64url(32 random bytes)>.
func GenerateToken() (token, prefix string, err error) {
	id := make([]byte, 4)
	if _, err := rand.Read(id); err != nil {
		return "", "", fmt.Errorf("generate token id: %w", err)
	}
	body := make([]byte, 32)
	if _, err := rand.Read(body); err != nil {
		return "", "", fmt.Errorf("generate token secret: %w", err)
	}
	prefix = TokenPrefix + hex.EncodeToString(id)
	return prefix + "." + base64.RawURLEncoding.EncodeToString(body), prefix, nil
}

// ParseTokenPrefix extracts the lookup prefix from a token.
func ParseTokenPrefix(token string) (string, bool) {
	raw := strings.TrimSpace(token)
	idx := strings.IndexByte(raw, '.')
	if idx <= 0 {
		return "", false
	}
	prefix := raw[:idx]
	if !strings.HasPrefix(prefix, TokenPrefix) || len(prefix) == len(TokenPrefix) {
		return "", false
	}
	return prefix, true
}

// HashToken returns the storable scrypt$salt$hash form of a token.
func HashToken(token string) (string, error) {
	salt := make([]byte, scryptSalt)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived, err := scrypt.Key([]byte(token), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt: %w", err)
	}
	return "scrypt$" + base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(derived), nil
}

// VerifyToken reports whether token matches a stored hash. The comparison
// is constant time; malformed hashes never match.
func VerifyToken(token, stored string) bool {
	parts := strings.Split(strings.TrimSpace(stored), "$")
	if len(parts) != 3 || parts[0] != "scrypt" {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(expected) == 0 {
		return false
	}
	derived, err := scrypt.Key([]byte(token), salt, scryptN, scryptR, scryptP, len(expected))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, expected) == 1
}

package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/rendis/mcvault/pkg/schema"
)

// KeySize is the length in bytes of every master and derived key.
const KeySize = 32

const (
	hkdfSalt  = "mc-vault-v1"
	aadDomain = "mc-vault"
)

// EnvelopeContext is bound into every envelope as associated data.
// Opening an envelope under a different context fails authentication.
type EnvelopeContext struct {
	AgentID string
	Handle  string
	Type    schema.ItemType
}

// Envelope is an encrypted secret at rest. All fields are always set together.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	KeyVersion int    `json:"keyVersion"`
}

// Keyring holds every master key version that may still be needed to
// decrypt, plus the version used for new encryptions.
// It is immutable after construction and safe for concurrent use.
type Keyring struct {
	keys    map[int][]byte
	current int
}

// NewKeyring builds a keyring from master keys by version. The current
// version must be present; every key must be KeySize bytes.
func NewKeyring(keys map[int][]byte, current int) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "vault master key is not configured")
	}
	cp := make(map[int][]byte, len(keys))
	for v, k := range keys {
		if v <= 0 {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "key version must be positive, got %d", v)
		}
		if len(k) != KeySize {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"master key v%d must be %d bytes, got %d", v, KeySize, len(k))
		}
		cp[v] = append([]byte(nil), k...)
	}
	if _, ok := cp[current]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "current key version %d has no key", current)
	}
	return &Keyring{keys: cp, current: current}, nil
}

// ParseMasterKey decodes a base64 or base64url master key, with or without padding.
func ParseMasterKey(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.TrimRight(s, "=")
	key, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "master key is not valid base64").WithCause(err)
	}
	if len(key) != KeySize {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"master key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// GenerateMasterKey returns a fresh random master key, base64 encoded.
func GenerateMasterKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// CurrentVersion returns the key version used for new encryptions.
func (k *Keyring) CurrentVersion() int { return k.current }

// Versions returns every key version held, ascending.
func (k *Keyring) Versions() []int {
	out := make([]int, 0, len(k.keys))
	for v := range k.keys {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Seal encrypts plaintext under the current key version.
func (k *Keyring) Seal(plaintext []byte, ec EnvelopeContext) (Envelope, error) {
	aead, err := k.agentAEAD(k.current, ec.AgentID)
	if err != nil {
		return Envelope{}, err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}
	sealed := aead.Seal(nil, iv, plaintext, associatedData(k.current, ec))
	split := len(sealed) - aead.Overhead()
	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[split:]),
		KeyVersion: k.current,
	}, nil
}

// Open authenticates and decrypts an envelope. Any mismatch in ciphertext,
// IV, tag, key version or context yields a DECRYPTION_ERROR.
func (k *Keyring) Open(env Envelope, ec EnvelopeContext) ([]byte, error) {
	version := env.KeyVersion
	if version == 0 {
		version = 1
	}
	aead, err := k.agentAEAD(version, ec.AgentID)
	if err != nil {
		return nil, err
	}
	ct, errCT := base64.StdEncoding.DecodeString(env.Ciphertext)
	iv, errIV := base64.StdEncoding.DecodeString(env.IV)
	tag, errTag := base64.StdEncoding.DecodeString(env.AuthTag)
	if errCT != nil || errIV != nil || errTag != nil {
		return nil, decryptFailed(ec, "malformed envelope encoding")
	}
	if len(iv) != aead.NonceSize() || len(tag) != aead.Overhead() {
		return nil, decryptFailed(ec, "malformed envelope lengths")
	}
	plaintext, err := aead.Open(nil, iv, append(ct, tag...), associatedData(version, ec))
	if err != nil {
		return nil, decryptFailed(ec, "authentication failed").WithCause(err)
	}
	return plaintext, nil
}

func decryptFailed(ec EnvelopeContext, reason string) *schema.VaultError {
	return schema.NewErrorf(schema.ErrCodeDecryption, "vault decrypt failed for %q: %s", ec.Handle, reason).
		WithDetails(map[string]any{"handle": ec.Handle})
}

// agentAEAD derives the per-agent key for a version with HKDF-SHA256.
func (k *Keyring) agentAEAD(version int, agentID string) (cipher.AEAD, error) {
	master, ok := k.keys[version]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDecryption, "unknown key version %d", version)
	}
	reader := hkdf.New(sha256.New, master, []byte(hkdfSalt), []byte(strings.TrimSpace(agentID)))
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aead, nil
}

func associatedData(version int, ec EnvelopeContext) []byte {
	parts := []string{
		aadDomain,
		"v" + strconv.Itoa(version),
		strings.TrimSpace(ec.AgentID),
		strings.TrimSpace(string(ec.Type)),
		strings.TrimSpace(ec.Handle),
	}
	return []byte(strings.Join(parts, "|"))
}

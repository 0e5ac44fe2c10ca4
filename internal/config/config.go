// Package config loads mcvault configuration from defaults, an optional
// TOML file and MCVAULT_ environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rendis/mcvault/internal/placeholder"
	"github.com/rendis/mcvault/internal/secrets"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "MCVAULT_"

// Config is the full mcvault configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Keys     KeysConfig     `koanf:"keys"`
	Resolver ResolverConfig `koanf:"resolver"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig drives `mcvault serve`.
type ServerConfig struct {
	ListenAddr     string        `koanf:"listen_addr"`
	DBPath         string        `koanf:"db_path"`
	MaxBatch       int           `koanf:"max_batch"`
	RateLimit      int64         `koanf:"rate_limit"`
	RateWindow     time.Duration `koanf:"rate_window"`
	RedisAddr      string        `koanf:"redis_addr"`
	AuditRetention time.Duration `koanf:"audit_retention"`
	SweepSchedule  string        `koanf:"sweep_schedule"`
	TokenCacheTTL  time.Duration `koanf:"token_cache_ttl"`
	MetricsAddr    string        `koanf:"metrics_addr"`
	AdminUser      string        `koanf:"admin_user"`
	AdminPassword  string        `koanf:"admin_password"`
}

// KeysConfig holds master keys by version.
type KeysConfig struct {
	MasterKeys     map[string]string `koanf:"master_keys"`
	CurrentVersion int               `koanf:"current_version"`
}

// ResolverConfig drives the gateway side.
type ResolverConfig struct {
	Endpoint          string            `koanf:"endpoint"`
	GlobalToken       string            `koanf:"global_token"`
	AgentTokens       map[string]string `koanf:"agent_tokens"`
	PlaceholderPrefix string            `koanf:"placeholder_prefix"`
	CacheTTL          time.Duration     `koanf:"cache_ttl"`
	Timeout           time.Duration     `koanf:"timeout"`
	SessionTTL        time.Duration     `koanf:"session_ttl"`
	MinSecretLength   int               `koanf:"min_secret_length"`
	Mask              string            `koanf:"mask"`
	StrictMisses      bool              `koanf:"strict_misses"`
	BreakerThreshold  int               `koanf:"breaker_threshold"`
	BreakerCooldown   time.Duration     `koanf:"breaker_cooldown"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Dir returns the mcvault state directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcvault"
	}
	return filepath.Join(home, ".mcvault")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":4100",
			DBPath:         "file:" + filepath.Join(Dir(), "vault.db"),
			MaxBatch:       50,
			RateLimit:      600,
			RateWindow:     time.Minute,
			AuditRetention: 30 * 24 * time.Hour,
			SweepSchedule:  "@every 1m",
			TokenCacheTTL:  30 * time.Second,
			MetricsAddr:    ":9464",
		},
		Keys: KeysConfig{
			MasterKeys:     map[string]string{},
			CurrentVersion: 1,
		},
		Resolver: ResolverConfig{
			AgentTokens:       map[string]string{},
			PlaceholderPrefix: placeholder.DefaultPrefix,
			CacheTTL:          30 * time.Second,
			Timeout:           5 * time.Second,
			SessionTTL:        10 * time.Minute,
			MinSecretLength:   6,
			Mask:              "****",
			StrictMisses:      true,
			BreakerThreshold:  5,
			BreakerCooldown:   30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// envKey maps MCVAULT_SECTION_FIELD to section.field. "__" keeps a literal
// underscore; MCVAULT_MASTER_KEY_B64 sets master key version 1.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if s == "master_key_b64" {
		return "keys.master_keys.1"
	}
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// Load reads configuration. An empty path skips the file layer; a missing
// file at DefaultPath is ignored, any other missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil || path != DefaultPath() {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Server.DBPath == "" {
		errs = append(errs, errors.New("server.db_path is required"))
	}
	if c.Server.MaxBatch <= 0 {
		errs = append(errs, errors.New("server.max_batch must be positive"))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateWindow <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_window must be positive"))
	}
	if c.Server.AuditRetention < 0 {
		errs = append(errs, errors.New("server.audit_retention must not be negative"))
	}
	if c.Server.TokenCacheTTL <= 0 {
		errs = append(errs, errors.New("server.token_cache_ttl must be positive"))
	}
	if c.Keys.CurrentVersion <= 0 {
		errs = append(errs, errors.New("keys.current_version must be positive"))
	}
	for v := range c.Keys.MasterKeys {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("keys.master_keys: version %q is not a positive integer", v))
		}
	}
	if c.Resolver.Endpoint != "" {
		if u, err := url.Parse(c.Resolver.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("resolver.endpoint %q is not an http(s) URL", c.Resolver.Endpoint))
		}
	}
	if _, err := placeholder.NewScanner(c.Resolver.PlaceholderPrefix); err != nil {
		errs = append(errs, fmt.Errorf("resolver.placeholder_prefix: %w", err))
	}
	if c.Resolver.CacheTTL <= 0 || c.Resolver.Timeout <= 0 || c.Resolver.SessionTTL <= 0 {
		errs = append(errs, errors.New("resolver.cache_ttl, resolver.timeout and resolver.session_ttl must be positive"))
	}
	if c.Resolver.MinSecretLength <= 0 {
		errs = append(errs, errors.New("resolver.min_secret_length must be positive"))
	}
	if c.Resolver.BreakerThreshold < 0 || c.Resolver.BreakerCooldown < 0 {
		errs = append(errs, errors.New("resolver.breaker_threshold and resolver.breaker_cooldown must not be negative"))
	}
	if c.Resolver.Mask == "" {
		errs = append(errs, errors.New("resolver.mask must not be empty"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Keyring builds the master keyring. It returns (nil, nil) when no key is
// configured so the server can start in "setup required" mode.
func (c *Config) Keyring() (*secrets.Keyring, error) {
	if len(c.Keys.MasterKeys) == 0 {
		return nil, nil
	}
	keys := make(map[int][]byte, len(c.Keys.MasterKeys))
	for v, encoded := range c.Keys.MasterKeys {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("master key version %q: %w", v, err)
		}
		key, err := secrets.ParseMasterKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("master key v%d: %w", n, err)
		}
		keys[n] = key
	}
	return secrets.NewKeyring(keys, c.Keys.CurrentVersion)
}

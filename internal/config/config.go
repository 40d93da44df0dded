// ABOUTME: Configuration loading and parsing for pushgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pushgate configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Users   UsersConfig   `yaml:"users"`
	Session SessionConfig `yaml:"session"`
	Auth    AuthConfig    `yaml:"auth"`
	Push    PushConfig    `yaml:"push"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the listen address and optional TLS material
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UsersConfig selects and locates the credential store backend
type UsersConfig struct {
	// Backend is "file" or "sqlite"
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// MaxAttempts is the lockout threshold; 0 uses the default
	MaxAttempts int `yaml:"max_attempts"`
}

// SessionConfig holds session token and cookie settings
type SessionConfig struct {
	TTL           time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	CookieName   string `yaml:"cookie_name"`
	CookiePath   string `yaml:"cookie_path"`
	CookieDomain string `yaml:"cookie_domain"`

	// Raw string values for YAML unmarshaling
	TTLRaw           string `yaml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// AuthConfig selects the authentication method and its knobs
type AuthConfig struct {
	PendingTimeout time.Duration `yaml:"-"`

	// Method is "shared", "webauthn", "always" or "none"
	Method    string `yaml:"method"`
	MaxFailed int    `yaml:"max_failed"`
	JWTSecret string `yaml:"jwt_secret"`

	// WebAuthn relying-party settings, used when method is "webauthn"
	RPDisplayName string   `yaml:"rp_display_name"`
	RPID          string   `yaml:"rp_id"`
	RPOrigins     []string `yaml:"rp_origins"`
	CredentialsDB string   `yaml:"credentials_db"`

	PendingTimeoutRaw string `yaml:"pending_timeout"`
}

// PushConfig holds push connection settings
type PushConfig struct {
	PingInterval time.Duration `yaml:"-"`

	QueueCapacity  int    `yaml:"queue_capacity"`
	OverflowPolicy string `yaml:"overflow_policy"`
	// TokenPolicy is "rotate" or "matchOnly" for WebSocket promotion
	TokenPolicy string `yaml:"token_policy"`
	PromoteRole string `yaml:"promote_role"`

	PingIntervalRaw string `yaml:"ping_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}

	switch c.Users.Backend {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("users.backend must be \"file\" or \"sqlite\", got %q", c.Users.Backend)
	}
	if c.Users.Path == "" {
		return fmt.Errorf("users.path is required")
	}
	if c.Users.MaxAttempts < 0 {
		return fmt.Errorf("users.max_attempts must not be negative")
	}

	switch c.Auth.Method {
	case "", "shared", "always", "none":
	case "webauthn":
		if c.Auth.RPID == "" {
			return fmt.Errorf("auth.rp_id is required when auth.method is webauthn")
		}
		if len(c.Auth.RPOrigins) == 0 {
			return fmt.Errorf("auth.rp_origins is required when auth.method is webauthn")
		}
	default:
		return fmt.Errorf("unknown auth.method %q", c.Auth.Method)
	}

	switch c.Push.OverflowPolicy {
	case "", "dropOldest", "dropNewest", "dropAll", "failConnection":
	default:
		return fmt.Errorf("unknown push.overflow_policy %q", c.Push.OverflowPolicy)
	}
	switch c.Push.TokenPolicy {
	case "", "rotate", "matchOnly":
	default:
		return fmt.Errorf("unknown push.token_policy %q", c.Push.TokenPolicy)
	}
	if c.Push.QueueCapacity < 0 {
		return fmt.Errorf("push.queue_capacity must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.TTLRaw != "" {
		cfg.Session.TTL, err = time.ParseDuration(cfg.Session.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session.ttl %q: %w", cfg.Session.TTLRaw, err)
		}
	}

	if cfg.Session.SweepIntervalRaw != "" {
		cfg.Session.SweepInterval, err = time.ParseDuration(cfg.Session.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing session.sweep_interval %q: %w", cfg.Session.SweepIntervalRaw, err)
		}
	}

	if cfg.Auth.PendingTimeoutRaw != "" {
		cfg.Auth.PendingTimeout, err = time.ParseDuration(cfg.Auth.PendingTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.pending_timeout %q: %w", cfg.Auth.PendingTimeoutRaw, err)
		}
	}

	if cfg.Push.PingIntervalRaw != "" {
		cfg.Push.PingInterval, err = time.ParseDuration(cfg.Push.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing push.ping_interval %q: %w", cfg.Push.PingIntervalRaw, err)
		}
	}

	return nil
}

// ABOUTME: Configuration loading and parsing for cad-bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cad-bridge configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Auth     AuthConfig     `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// EngineConfig holds CAD engine connection configuration.
// Tools and Resources list the provider ids served by the engine-backed
// providers registered at startup.
type EngineConfig struct {
	Addr      string         `yaml:"addr"`
	Tools     []string       `yaml:"tools"`
	Resources []string       `yaml:"resources"`
	Recovery  RecoveryConfig `yaml:"recovery"`
}

// RecoveryConfig holds the reconnect budget for the engine connection.
// MaxRetries bounds retries after the initial attempt; RetryDelay is the
// first backoff interval, grown by BackoffFactor up to MaxDelay.
type RecoveryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	RetryDelay    time.Duration `yaml:"-"`
	MaxDelay      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetryDelayRaw string `yaml:"retry_delay"`
	MaxDelayRaw   string `yaml:"max_delay"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// StaticTokens are pre-provisioned bearer tokens, stored as bcrypt hashes.
	StaticTokens []StaticToken `yaml:"static_tokens"`
}

// StaticToken maps a bcrypt token hash to a principal identifier
type StaticToken struct {
	Principal string `yaml:"principal"`
	TokenHash string `yaml:"token_hash"`
}

// EventsConfig holds event stream tuning knobs
type EventsConfig struct {
	MailboxSize       int           `yaml:"mailbox_size"`
	KeepAliveInterval time.Duration `yaml:"-"`
	StreamWaitTimeout time.Duration `yaml:"-"`

	KeepAliveIntervalRaw string `yaml:"keepalive_interval"`
	StreamWaitTimeoutRaw string `yaml:"stream_wait_timeout"`
}

// DatabaseConfig holds event ledger database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are omitted from the config file.
const (
	DefaultMaxRetries        = 3
	DefaultBackoffFactor     = 2.0
	DefaultRetryDelay        = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultMailboxSize       = 64
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultStreamWaitTimeout = 30 * time.Second
)

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

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero-valued tuning fields with defaults.
func (c *Config) applyDefaults() {
	if c.Engine.Recovery.MaxRetries == 0 {
		c.Engine.Recovery.MaxRetries = DefaultMaxRetries
	}
	if c.Engine.Recovery.BackoffFactor == 0 {
		c.Engine.Recovery.BackoffFactor = DefaultBackoffFactor
	}
	if c.Engine.Recovery.RetryDelay == 0 {
		c.Engine.Recovery.RetryDelay = DefaultRetryDelay
	}
	if c.Engine.Recovery.MaxDelay == 0 {
		c.Engine.Recovery.MaxDelay = DefaultMaxDelay
	}
	if len(c.Engine.Tools) == 0 {
		c.Engine.Tools = []string{"execute"}
	}
	if len(c.Engine.Resources) == 0 {
		c.Engine.Resources = []string{"document"}
	}
	if c.Events.MailboxSize == 0 {
		c.Events.MailboxSize = DefaultMailboxSize
	}
	if c.Events.KeepAliveInterval == 0 {
		c.Events.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.Events.StreamWaitTimeout == 0 {
		c.Events.StreamWaitTimeout = DefaultStreamWaitTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Engine.Addr == "" {
		return fmt.Errorf("engine.addr is required")
	}

	if c.Engine.Recovery.MaxRetries < 0 {
		return fmt.Errorf("engine.recovery.max_retries must be >= 0")
	}
	if c.Engine.Recovery.RetryDelay <= 0 {
		return fmt.Errorf("engine.recovery.retry_delay must be > 0")
	}
	if c.Engine.Recovery.BackoffFactor < 1 {
		return fmt.Errorf("engine.recovery.backoff_factor must be >= 1")
	}

	if c.Auth.JWTSecret == "" && len(c.Auth.StaticTokens) == 0 {
		return fmt.Errorf("auth requires a jwt_secret or at least one static token")
	}
	for i, tok := range c.Auth.StaticTokens {
		if tok.Principal == "" {
			return fmt.Errorf("auth.static_tokens[%d].principal is required", i)
		}
		if tok.TokenHash == "" {
			return fmt.Errorf("auth.static_tokens[%d].token_hash is required", i)
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func (c *Config) parseDurations() error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{c.Engine.Recovery.RetryDelayRaw, &c.Engine.Recovery.RetryDelay, "retry_delay"},
		{c.Engine.Recovery.MaxDelayRaw, &c.Engine.Recovery.MaxDelay, "max_delay"},
		{c.Events.KeepAliveIntervalRaw, &c.Events.KeepAliveInterval, "keepalive_interval"},
		{c.Events.StreamWaitTimeoutRaw, &c.Events.StreamWaitTimeout, "stream_wait_timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

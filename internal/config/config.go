// ABOUTME: Configuration loading and parsing for hearth-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hearth-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Pairing   PairingConfig   `yaml:"pairing"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the admin HTTP server address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// JanitorInterval controls how often expired rows are purged.
	JanitorInterval    time.Duration `yaml:"-"`
	JanitorIntervalRaw string        `yaml:"janitor_interval"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChannelsConfig holds configuration for all channel adapters
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Matrix   MatrixConfig   `yaml:"matrix"`
}

// WhatsAppConfig holds WhatsApp bridge configuration
type WhatsAppConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BridgeURL string `yaml:"bridge_url"`
	APIKey    string `yaml:"api_key"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

// PairingConfig holds contact admission configuration
type PairingConfig struct {
	AutoApproveExisting bool   `yaml:"auto_approve_existing"`
	AutoReplyUnknown    string `yaml:"auto_reply_unknown"`

	DenialCooldown    time.Duration `yaml:"-"`
	DenialCooldownRaw string        `yaml:"denial_cooldown"`
}

// RateLimitConfig holds per-contact throttling configuration
type RateLimitConfig struct {
	MaxMessages int `yaml:"max_messages"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// HistoryConfig holds conversation log retention configuration
type HistoryConfig struct {
	MaxMessages int `yaml:"max_messages"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
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

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Channels.WhatsApp.Enabled && c.Channels.WhatsApp.BridgeURL == "" {
		return fmt.Errorf("channels.whatsapp.bridge_url is required when whatsapp is enabled")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}
	if c.Channels.Matrix.Enabled {
		if c.Channels.Matrix.Homeserver == "" {
			return fmt.Errorf("channels.matrix.homeserver is required when matrix is enabled")
		}
		if c.Channels.Matrix.UserID == "" {
			return fmt.Errorf("channels.matrix.user_id is required when matrix is enabled")
		}
		if c.Channels.Matrix.AccessToken == "" {
			return fmt.Errorf("channels.matrix.access_token is required when matrix is enabled")
		}
	}

	if c.RateLimit.MaxMessages < 0 {
		return fmt.Errorf("ratelimit.max_messages must not be negative")
	}
	if c.History.MaxMessages < 0 {
		return fmt.Errorf("history.max_messages must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Database.JanitorIntervalRaw, &cfg.Database.JanitorInterval, "database.janitor_interval"},
		{cfg.Pairing.DenialCooldownRaw, &cfg.Pairing.DenialCooldown, "pairing.denial_cooldown"},
		{cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window, "ratelimit.window"},
		{cfg.History.TTLRaw, &cfg.History.TTL, "history.ttl"},
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

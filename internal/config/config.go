// ABOUTME: Configuration loading and parsing for troupe-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete troupe-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database"`
	Cache        CacheConfig        `yaml:"cache"`
	Auth         AuthConfig         `yaml:"auth"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // "memory" or "redis"
	TTL        time.Duration `yaml:"-"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`

	// Raw string value for YAML unmarshaling
	TTLRaw string `yaml:"ttl"`
}

// RedisConfig holds Redis connection settings for the redis cache backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenDurationRaw string `yaml:"token_duration"`
}

// ProvidersConfig holds provider selection and per-provider settings
type ProvidersConfig struct {
	// Order is the deterministic failover priority; only listed providers
	// with usable settings are registered.
	Order            []string      `yaml:"order"`
	AttemptTimeout   time.Duration `yaml:"-"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OverrideAttempts int           `yaml:"override_attempts"`
	RateLimit        float64       `yaml:"rate_limit"` // requests/sec per provider, 0 disables

	OpenAI     ProviderSettings `yaml:"openai"`
	Anthropic  ProviderSettings `yaml:"anthropic"`
	DeepSeek   ProviderSettings `yaml:"deepseek"`
	Gemini     ProviderSettings `yaml:"gemini"`
	OpenRouter ProviderSettings `yaml:"openrouter"`
	LMStudio   ProviderSettings `yaml:"lmstudio"`
	Ollama     ProviderSettings `yaml:"ollama"`

	// Raw string value for YAML unmarshaling
	AttemptTimeoutRaw string `yaml:"attempt_timeout"`
}

// ProviderSettings holds the connection settings for one external provider
type ProviderSettings struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ConversationConfig holds session and scheduler tuning
type ConversationConfig struct {
	HistoryCapacity int           `yaml:"history_capacity"`
	HistoryWindow   int           `yaml:"history_window"`
	MinDelay        time.Duration `yaml:"-"`
	MaxDelay        time.Duration `yaml:"-"`
	TurnLimit       int           `yaml:"turn_limit"`
	FailureLimit    int           `yaml:"failure_limit"`

	// Raw string values for YAML unmarshaling
	MinDelayRaw string `yaml:"min_delay"`
	MaxDelayRaw string `yaml:"max_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
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

	cfg.applyDefaults()

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

// applyDefaults fills in zero-valued fields with working defaults so a
// minimal config file still produces a runnable gateway.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8787
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 2048
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Auth.TokenDuration == 0 {
		c.Auth.TokenDuration = 24 * time.Hour
	}
	if len(c.Providers.Order) == 0 {
		c.Providers.Order = []string{"openai", "anthropic", "deepseek", "gemini", "openrouter", "lmstudio", "ollama", "demo"}
	}
	if c.Providers.AttemptTimeout == 0 {
		c.Providers.AttemptTimeout = 30 * time.Second
	}
	if c.Providers.FailureThreshold == 0 {
		c.Providers.FailureThreshold = 3
	}
	if c.Providers.OverrideAttempts == 0 {
		c.Providers.OverrideAttempts = 2
	}
	if c.Conversation.HistoryCapacity == 0 {
		c.Conversation.HistoryCapacity = 50
	}
	if c.Conversation.HistoryWindow == 0 {
		c.Conversation.HistoryWindow = 12
	}
	if c.Conversation.MinDelay == 0 {
		c.Conversation.MinDelay = time.Second
	}
	if c.Conversation.MaxDelay == 0 {
		c.Conversation.MaxDelay = 8 * time.Second
	}
	if c.Conversation.FailureLimit == 0 {
		c.Conversation.FailureLimit = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "pretty"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", "memory", "redis", c.Cache.Backend)
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes when auth is enabled")
	}

	if c.Conversation.MinDelay > c.Conversation.MaxDelay {
		return fmt.Errorf("conversation.min_delay %v exceeds max_delay %v", c.Conversation.MinDelay, c.Conversation.MaxDelay)
	}
	if c.Conversation.TurnLimit < 0 {
		return fmt.Errorf("conversation.turn_limit must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "pretty", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of pretty, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Auth.TokenDurationRaw != "" {
		cfg.Auth.TokenDuration, err = time.ParseDuration(cfg.Auth.TokenDurationRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.token_duration %q: %w", cfg.Auth.TokenDurationRaw, err)
		}
	}

	if cfg.Providers.AttemptTimeoutRaw != "" {
		cfg.Providers.AttemptTimeout, err = time.ParseDuration(cfg.Providers.AttemptTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing providers.attempt_timeout %q: %w", cfg.Providers.AttemptTimeoutRaw, err)
		}
	}

	if cfg.Conversation.MinDelayRaw != "" {
		cfg.Conversation.MinDelay, err = time.ParseDuration(cfg.Conversation.MinDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing conversation.min_delay %q: %w", cfg.Conversation.MinDelayRaw, err)
		}
	}

	if cfg.Conversation.MaxDelayRaw != "" {
		cfg.Conversation.MaxDelay, err = time.ParseDuration(cfg.Conversation.MaxDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing conversation.max_delay %q: %w", cfg.Conversation.MaxDelayRaw, err)
		}
	}

	return nil
}

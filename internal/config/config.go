package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/foxzi/linkfleet/internal/ledger"
	"github.com/foxzi/linkfleet/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LINKFLEET_"

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Ledger    ledger.Policy   `yaml:"ledger"`
	Planner   PlannerConfig   `yaml:"planner"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Content   ContentConfig   `yaml:"content"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Trust X-Forwarded-For / X-Real-IP for client addresses
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY"`
}

// APIConfig contains request handling settings
type APIConfig struct {
	MaxBodyBytes    int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	DefaultPageSize int   `yaml:"default_page_size" env:"DEFAULT_PAGE_SIZE"`
	MaxPageSize     int   `yaml:"max_page_size" env:"MAX_PAGE_SIZE"`
}

// AuthConfig contains token verification and admin settings
type AuthConfig struct {
	JWT  JWTConfig  `yaml:"jwt" envPrefix:"JWT_"`
	OIDC OIDCConfig `yaml:"oidc" envPrefix:"OIDC_"`

	AdminEmails []string `yaml:"admin_emails" env:"ADMIN_EMAILS" envSeparator:","`
	// Grant admin to any email containing "admin"
	AdminEmailSubstring bool `yaml:"admin_email_substring" env:"ADMIN_EMAIL_SUBSTRING"`

	// bcrypt hash of the service key accepted in X-API-Key
	ServiceKeyHash string `yaml:"service_key_hash" env:"SERVICE_KEY_HASH"`
}

// JWTConfig contains HS256 token settings
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// OIDCConfig contains ID token verification settings
type OIDCConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	IssuerURL string `yaml:"issuer_url" env:"ISSUER_URL"`
	ClientID  string `yaml:"client_id" env:"CLIENT_ID"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type PlannerConfig struct {
	MaxDomains int `yaml:"max_domains" env:"MAX_DOMAINS"`
	// Fixed seed for reproducible plans, 0 picks a random one
	Seed uint64 `yaml:"seed" env:"SEED"`
}

type ExecutorConfig struct {
	PostsPerDomain int `yaml:"posts_per_domain" env:"POSTS_PER_DOMAIN"`
}

// ContentConfig selects the article generator
type ContentConfig struct {
	Provider string            `yaml:"provider" env:"PROVIDER"` // template, http
	HTTP     HTTPContentConfig `yaml:"http" envPrefix:"HTTP_"`
}

// HTTPContentConfig contains the remote generator settings
type HTTPContentConfig struct {
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Attempts uint          `yaml:"attempts" env:"ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" env:"DELAY"`
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// SweeperConfig contains trial expiration settings
type SweeperConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	TrialTTL time.Duration `yaml:"trial_ttl" env:"TRIAL_TTL"`
}

// RateLimitConfig contains API throttling settings
type RateLimitConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`

	ratelimit.Config `yaml:",inline"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	ListenAddr     string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	Path           string        `yaml:"path" env:"PATH"`
	UpdateInterval time.Duration `yaml:"update_interval" env:"UPDATE_INTERVAL"`
	AllowedIPs     []string      `yaml:"allowed_ips" env:"ALLOWED_IPS" envSeparator:","`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, text
}

// Load reads the YAML file at path, applies LINKFLEET_* environment
// overrides, fills defaults and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides each section from LINKFLEET_<SECTION>_<KEY>. The
// ledger policy is file-only.
func (c *Config) applyEnv() error {
	sections := []struct {
		prefix string
		target any
	}{
		{"SERVER_", &c.Server},
		{"API_", &c.API},
		{"AUTH_", &c.Auth},
		{"DATABASE_", &c.Database},
		{"PLANNER_", &c.Planner},
		{"EXECUTOR_", &c.Executor},
		{"CONTENT_", &c.Content},
		{"SWEEPER_", &c.Sweeper},
		{"RATE_LIMIT_", &c.RateLimit},
		{"METRICS_", &c.Metrics},
		{"LOGGING_", &c.Logging},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("failed to parse %s%s* environment: %w", EnvPrefix, s.prefix, err)
		}
	}
	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// Execution generates content synchronously
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 1 << 20 // 1 MB
	}
	if c.API.DefaultPageSize == 0 {
		c.API.DefaultPageSize = 50
	}
	if c.API.MaxPageSize == 0 {
		c.API.MaxPageSize = 500
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/linkfleet/linkfleet.db"
	}

	c.setLedgerDefaults()

	if c.Planner.MaxDomains == 0 {
		c.Planner.MaxDomains = 5
	}
	if c.Executor.PostsPerDomain == 0 {
		c.Executor.PostsPerDomain = 2
	}

	if c.Content.Provider == "" {
		c.Content.Provider = "template"
	}
	if c.Content.HTTP.Timeout == 0 {
		c.Content.HTTP.Timeout = 60 * time.Second
	}
	if c.Content.HTTP.Attempts == 0 {
		c.Content.HTTP.Attempts = 3
	}
	if c.Content.HTTP.Delay == 0 {
		c.Content.HTTP.Delay = time.Second
	}
	if c.Content.HTTP.MaxDelay == 0 {
		c.Content.HTTP.MaxDelay = 30 * time.Second
	}

	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = time.Hour
	}
	if c.Sweeper.TrialTTL == 0 {
		c.Sweeper.TrialTTL = 24 * time.Hour
	}

	if c.RateLimit.Path == "" {
		c.RateLimit.Path = "/var/lib/linkfleet/ratelimit.db"
	}
	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.UpdateInterval == 0 {
		c.Metrics.UpdateInterval = 15 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// setLedgerDefaults fills every unset scoring constant from the default policy
func (c *Config) setLedgerDefaults() {
	d := ledger.DefaultPolicy()
	p := &c.Ledger
	if p.AgeWeight == 0 {
		p.AgeWeight = d.AgeWeight
	}
	if p.PostWeight == 0 {
		p.PostWeight = d.PostWeight
	}
	if p.MaxScore == 0 {
		p.MaxScore = d.MaxScore
	}
	if len(p.CapacityTiers) == 0 {
		p.CapacityTiers = d.CapacityTiers
	}
	if p.DefaultCapacity == 0 {
		p.DefaultCapacity = d.DefaultCapacity
	}
	if p.HighScore == 0 {
		p.HighScore = d.HighScore
	}
	if p.HighAgeDays == 0 {
		p.HighAgeDays = d.HighAgeDays
	}
	if p.MediumScore == 0 {
		p.MediumScore = d.MediumScore
	}
	if p.MediumAgeDays == 0 {
		p.MediumAgeDays = d.MediumAgeDays
	}
	*p = p.Sorted()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if c.Ledger.MaxScore <= 0 || c.Ledger.AgeWeight < 0 || c.Ledger.PostWeight < 0 {
		return fmt.Errorf("ledger weights must be non-negative and max_score positive")
	}
	for _, t := range c.Ledger.CapacityTiers {
		if t.Capacity < 0 {
			return fmt.Errorf("ledger.capacity_tiers: capacity must not be negative")
		}
	}

	if c.Planner.MaxDomains < 1 {
		return fmt.Errorf("planner.max_domains must be at least 1")
	}
	if c.Executor.PostsPerDomain < 1 {
		return fmt.Errorf("executor.posts_per_domain must be at least 1")
	}

	switch c.Content.Provider {
	case "template":
	case "http":
		if c.Content.HTTP.BaseURL == "" {
			return fmt.Errorf("content.http.base_url is required when provider is http")
		}
	default:
		return fmt.Errorf("invalid content.provider: %s (must be template or http)", c.Content.Provider)
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval < time.Minute {
		return fmt.Errorf("sweeper.interval must be at least 1m")
	}

	return nil
}

func (c *Config) validateAuth() error {
	if s := c.Auth.JWT.Secret; s != "" && len(s) < 32 {
		return fmt.Errorf("auth.jwt.secret must be at least 32 characters")
	}
	if c.Auth.OIDC.Enabled && (c.Auth.OIDC.IssuerURL == "" || c.Auth.OIDC.ClientID == "") {
		return fmt.Errorf("auth.oidc.issuer_url and auth.oidc.client_id are required when oidc is enabled")
	}
	if h := c.Auth.ServiceKeyHash; h != "" && !strings.HasPrefix(h, "$2") {
		return fmt.Errorf("auth.service_key_hash must be a bcrypt hash (use linkfleet hash-key)")
	}
	return nil
}

// AuthEnabled reports whether any token verifier is configured
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWT.Secret != "" || c.Auth.OIDC.Enabled
}

// Redacted returns a copy with secrets masked, for printing
func (c *Config) Redacted() *Config {
	cp := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	cp.Auth.JWT.Secret = mask(c.Auth.JWT.Secret)
	cp.Auth.ServiceKeyHash = mask(c.Auth.ServiceKeyHash)
	cp.Content.HTTP.APIKey = mask(c.Content.HTTP.APIKey)
	return &cp
}

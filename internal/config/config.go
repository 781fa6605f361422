package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Mailer    MailerConfig    `yaml:"mailer"`
	DKIM      DKIMConfig      `yaml:"dkim"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Templates TemplatesConfig `yaml:"templates"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Default: 1MB
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // Default: 30s
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // Default: 30s
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // Default: 60s
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains certificate files for the HTTP API
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains API authentication settings. Agents authenticate
// with HTTP Basic credentials.
type AuthConfig struct {
	Disabled bool   `yaml:"disabled"`
	Realm    string `yaml:"realm"`
}

// Mailer modes
const (
	MailerSMTP    = "smtp"
	MailerSandbox = "sandbox"
)

// MailerConfig selects how campaign messages leave the system
type MailerConfig struct {
	Mode    string        `yaml:"mode"` // smtp, sandbox
	SMTP    SMTPConfig    `yaml:"smtp"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// SMTPConfig contains relay settings
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	TLS                string        `yaml:"tls"` // none, starttls, tls
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Hostname           string        `yaml:"hostname"` // HELO name
	Timeout            time.Duration `yaml:"timeout"`
}

// SandboxConfig contains the capture store location
type SandboxConfig struct {
	Path string `yaml:"path"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// WorkerConfig contains scheduler and dispatch settings
type WorkerConfig struct {
	Disabled     bool          `yaml:"disabled"`
	PollInterval time.Duration `yaml:"poll_interval"` // Default: 30s
	Concurrency  int           `yaml:"concurrency"`   // Parallel sends per campaign, default: 5
	SkipResume   bool          `yaml:"skip_resume"`   // Leave interrupted campaigns in SENDING
}

// RateLimitConfig limits how fast campaign mail leaves the system
type RateLimitConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // Counter store, default: /var/lib/travelcrm/ratelimit.db

	// Global limits for all outgoing messages
	Global *LimitValues `yaml:"global,omitempty"`

	// Default limits per From address
	DefaultSender *LimitValues `yaml:"default_sender,omitempty"`

	// Default limits per recipient domain
	DefaultRecipientDomain *LimitValues `yaml:"default_recipient_domain,omitempty"`

	// Per recipient domain overrides, e.g. gmail.com
	RecipientDomains map[string]*LimitValues `yaml:"recipient_domains,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
}

// LimitValues contains rate limit values, zero means unlimited
type LimitValues struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TemplatesConfig contains rendering settings
type TemplatesConfig struct {
	// MissingPolicy is what happens to required variables without a value:
	// fail refuses to render, empty substitutes "".
	MissingPolicy string `yaml:"missing_policy"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/travelcrm/crm.db"
	}

	if c.Auth.Realm == "" {
		c.Auth.Realm = "travelcrm"
	}

	if c.Mailer.Mode == "" {
		c.Mailer.Mode = MailerSandbox
	}
	if c.Mailer.SMTP.Port == 0 {
		c.Mailer.SMTP.Port = 587
	}
	if c.Mailer.SMTP.TLS == "" {
		c.Mailer.SMTP.TLS = "starttls"
	}
	if c.Mailer.SMTP.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Mailer.SMTP.Hostname = hostname
	}
	if c.Mailer.SMTP.Timeout == 0 {
		c.Mailer.SMTP.Timeout = 30 * time.Second
	}
	if c.Mailer.Sandbox.Path == "" {
		c.Mailer.Sandbox.Path = "/var/lib/travelcrm/sandbox.db"
	}

	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 30 * time.Second
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 5
	}

	if c.RateLimit.Path == "" {
		c.RateLimit.Path = "/var/lib/travelcrm/ratelimit.db"
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
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Templates.MissingPolicy == "" {
		c.Templates.MissingPolicy = "fail"
	}
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

	if c.Templates.MissingPolicy != "fail" && c.Templates.MissingPolicy != "empty" {
		return fmt.Errorf("invalid templates.missing_policy: %s (must be fail or empty)", c.Templates.MissingPolicy)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
	}

	if err := c.validateMailer(); err != nil {
		return err
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	return nil
}

// validateMailer validates the outbound mail configuration
func (c *Config) validateMailer() error {
	switch c.Mailer.Mode {
	case MailerSandbox:
		return nil
	case MailerSMTP:
	default:
		return fmt.Errorf("invalid mailer.mode: %s (must be smtp or sandbox)", c.Mailer.Mode)
	}

	if c.Mailer.SMTP.Host == "" {
		return fmt.Errorf("mailer.smtp.host is required in smtp mode")
	}
	validTLS := map[string]bool{"none": true, "starttls": true, "tls": true}
	if !validTLS[c.Mailer.SMTP.TLS] {
		return fmt.Errorf("invalid mailer.smtp.tls: %s (must be none, starttls, or tls)", c.Mailer.SMTP.TLS)
	}
	if c.Mailer.SMTP.Password != "" && c.Mailer.SMTP.Username == "" {
		return fmt.Errorf("mailer.smtp.username is required when a password is set")
	}
	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}

	return nil
}

// validateRateLimit rejects negative limits
func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}

	limits := map[string]*LimitValues{
		"global":                   c.RateLimit.Global,
		"default_sender":           c.RateLimit.DefaultSender,
		"default_recipient_domain": c.RateLimit.DefaultRecipientDomain,
	}
	for domain, v := range c.RateLimit.RecipientDomains {
		limits["recipient_domains."+domain] = v
	}
	for name, v := range limits {
		if v != nil && (v.MessagesPerHour < 0 || v.MessagesPerDay < 0) {
			return fmt.Errorf("rate_limit.%s: limits must not be negative", name)
		}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  listen_addr: ":9080"
  read_timeout: 10s

database:
  path: "/tmp/crm.db"

auth:
  realm: "agencia"

mailer:
  mode: smtp
  smtp:
    host: "relay.agencia.example"
    port: 2525
    username: "ventas"
    password: "secret"
    tls: none
    timeout: 5s

dkim:
  enabled: true
  selector: "mail"
  key_file: "/etc/travelcrm/dkim.pem"
  domain: "agencia.example"

worker:
  poll_interval: 1m
  concurrency: 2

rate_limit:
  enabled: true
  global:
    messages_per_hour: 500
  default_recipient_domain:
    messages_per_day: 2000
  recipient_domains:
    gmail.com:
      messages_per_hour: 100

metrics:
  enabled: true
  allowed_ips: ["127.0.0.1", "10.0.0.0/8"]

logging:
  level: "debug"
  format: "text"

templates:
  missing_policy: empty
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9080" {
		t.Errorf("Server.ListenAddr = %v, want :9080", cfg.Server.ListenAddr)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Path != "/tmp/crm.db" {
		t.Errorf("Database.Path = %v, want /tmp/crm.db", cfg.Database.Path)
	}
	if cfg.Auth.Realm != "agencia" {
		t.Errorf("Auth.Realm = %v, want agencia", cfg.Auth.Realm)
	}
	if cfg.Mailer.Mode != MailerSMTP {
		t.Errorf("Mailer.Mode = %v, want smtp", cfg.Mailer.Mode)
	}
	if cfg.Mailer.SMTP.Host != "relay.agencia.example" || cfg.Mailer.SMTP.Port != 2525 {
		t.Errorf("Mailer.SMTP = %s:%d", cfg.Mailer.SMTP.Host, cfg.Mailer.SMTP.Port)
	}
	if cfg.Mailer.SMTP.Timeout != 5*time.Second {
		t.Errorf("Mailer.SMTP.Timeout = %v, want 5s", cfg.Mailer.SMTP.Timeout)
	}
	if !cfg.DKIM.Enabled || cfg.DKIM.Selector != "mail" {
		t.Errorf("DKIM = %+v", cfg.DKIM)
	}
	if cfg.Worker.PollInterval != time.Minute || cfg.Worker.Concurrency != 2 {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Global == nil || cfg.RateLimit.Global.MessagesPerHour != 500 {
		t.Errorf("RateLimit.Global = %+v", cfg.RateLimit.Global)
	}
	if d := cfg.RateLimit.DefaultRecipientDomain; d == nil || d.MessagesPerDay != 2000 {
		t.Errorf("RateLimit.DefaultRecipientDomain = %+v", d)
	}
	if g := cfg.RateLimit.RecipientDomains["gmail.com"]; g == nil || g.MessagesPerHour != 100 {
		t.Errorf("RateLimit.RecipientDomains = %+v", cfg.RateLimit.RecipientDomains)
	}
	if cfg.RateLimit.DefaultSender != nil {
		t.Errorf("RateLimit.DefaultSender = %+v, want nil", cfg.RateLimit.DefaultSender)
	}
	if len(cfg.Metrics.AllowedIPs) != 2 {
		t.Errorf("Metrics.AllowedIPs = %v", cfg.Metrics.AllowedIPs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if cfg.Templates.MissingPolicy != "empty" {
		t.Errorf("Templates.MissingPolicy = %v, want empty", cfg.Templates.MissingPolicy)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %v, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.MaxHeaderBytes != 1<<20 {
		t.Errorf("Server.MaxHeaderBytes = %v, want 1MB", cfg.Server.MaxHeaderBytes)
	}
	if cfg.Database.Path != "/var/lib/travelcrm/crm.db" {
		t.Errorf("Database.Path = %v", cfg.Database.Path)
	}
	if cfg.Auth.Disabled {
		t.Error("Auth.Disabled = true, want false")
	}
	if cfg.Mailer.Mode != MailerSandbox {
		t.Errorf("Mailer.Mode = %v, want sandbox", cfg.Mailer.Mode)
	}
	if cfg.Mailer.SMTP.Port != 587 || cfg.Mailer.SMTP.TLS != "starttls" {
		t.Errorf("Mailer.SMTP = %d %s, want 587 starttls", cfg.Mailer.SMTP.Port, cfg.Mailer.SMTP.TLS)
	}
	if cfg.Worker.PollInterval != 30*time.Second || cfg.Worker.Concurrency != 5 {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.RateLimit.Enabled || cfg.RateLimit.Path != "/var/lib/travelcrm/ratelimit.db" {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Metrics.Path != "/metrics" || cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
	if cfg.Templates.MissingPolicy != "fail" {
		t.Errorf("Templates.MissingPolicy = %v, want fail", cfg.Templates.MissingPolicy)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Mailer:    MailerConfig{Mode: MailerSandbox},
			Worker:    WorkerConfig{Concurrency: 1},
			Logging:   LoggingConfig{Level: "info", Format: "json"},
			Templates: TemplatesConfig{MissingPolicy: "fail"},
		}
	}

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid missing policy",
			modify:  func(c *Config) { c.Templates.MissingPolicy = "ignore" },
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr: true,
		},
		{
			name:    "unknown mailer mode",
			modify:  func(c *Config) { c.Mailer.Mode = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name:    "smtp without host",
			modify:  func(c *Config) { c.Mailer = MailerConfig{Mode: MailerSMTP, SMTP: SMTPConfig{TLS: "starttls"}} },
			wantErr: true,
		},
		{
			name: "smtp with invalid tls mode",
			modify: func(c *Config) {
				c.Mailer = MailerConfig{Mode: MailerSMTP, SMTP: SMTPConfig{Host: "relay", TLS: "ssl"}}
			},
			wantErr: true,
		},
		{
			name: "smtp valid",
			modify: func(c *Config) {
				c.Mailer = MailerConfig{Mode: MailerSMTP, SMTP: SMTPConfig{Host: "relay", TLS: "tls"}}
			},
			wantErr: false,
		},
		{
			name:    "dkim without selector",
			modify:  func(c *Config) { c.DKIM = DKIMConfig{Enabled: true, KeyFile: "k.pem", Domain: "d"} },
			wantErr: true,
		},
		{
			name: "negative rate limit",
			modify: func(c *Config) {
				c.RateLimit = RateLimitConfig{
					Enabled:          true,
					RecipientDomains: map[string]*LimitValues{"gmail.com": {MessagesPerHour: -1}},
				}
			},
			wantErr: true,
		},
		{
			name: "negative rate limit while disabled",
			modify: func(c *Config) {
				c.RateLimit = RateLimitConfig{Global: &LimitValues{MessagesPerDay: -1}}
			},
			wantErr: false,
		},
		{
			name:    "server tls without cert",
			modify:  func(c *Config) { c.Server.TLS = TLSConfig{Enabled: true, KeyFile: "key.pem"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, `invalid: yaml: content: [`))
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}

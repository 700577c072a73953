// Package config handles hub configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level hub configuration.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Auth        AuthConfig        `json:"auth"`
	Storage     StorageConfig     `json:"storage"`
	Invitations InvitationsConfig `json:"invitations,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
	RateLimit   RateLimitConfig   `json:"rate_limit,omitempty"`
	Tracing     TracingConfig     `json:"tracing,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":8080"
	PublicURL      string   `json:"public_url,omitempty"`      // base of invitation links, e.g. "https://app.agrohub.cl"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
	TrustedProxies []string `json:"trusted_proxies,omitempty"` // IPs or CIDRs whose X-Forwarded-For is honoured
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider  string   `json:"provider,omitempty"` // "builtin" (default) or "jwks"
	JWTSecret string   `json:"jwt_secret,omitempty"`
	JWTExpiry Duration `json:"jwt_expiry,omitempty"`
	JWKSURL   string   `json:"jwks_url,omitempty"` // e.g. "https://<project>.supabase.co/auth/v1/.well-known/jwks.json"
	Issuer    string   `json:"issuer,omitempty"`
	Audience  string   `json:"audience,omitempty"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver         string   `json:"driver"`                    // "sqlite" (default), "postgres" or "memory"
	DSN            string   `json:"dsn"`                       // e.g. "agrohub.db" or ":memory:"
	AuditRetention Duration `json:"audit_retention,omitempty"` // audit event retention; default 90 days
	ConnectRetries int      `json:"connect_retries,omitempty"` // attempts to reach the store at startup; default 5
}

// InvitationsConfig defines invitation behavior.
type InvitationsConfig struct {
	TTL Duration `json:"ttl,omitempty"` // default 24h
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // per user; default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
	PublicPerMinute   int     `json:"public_per_minute,omitempty"`   // per IP on public invitation routes; default 30
	RedisURL          string  `json:"redis_url,omitempty"`           // shares the public limiter across replicas when set
}

// TracingConfig defines OpenTelemetry export. Disabled by default.
type TracingConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // OTLP/HTTP host:port; default "localhost:4318"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Demo returns a ready-to-run configuration backed by the in-memory store.
func Demo(secret string) *Config {
	cfg := &Config{
		Server:  ServerConfig{Addr: ":8080", PublicURL: "http://localhost:8080"},
		Auth:    AuthConfig{Provider: "builtin", JWTSecret: secret},
		Storage: StorageConfig{Driver: "memory"},
		Logging: LoggingConfig{Format: "text"},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a config file. AGROHUB_* environment variables override
// the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv copies non-empty environment overrides onto the config.
func (c *Config) applyEnv(getenv func(string) string) {
	overrides := map[string]*string{
		"AGROHUB_ADDR":           &c.Server.Addr,
		"AGROHUB_PUBLIC_URL":     &c.Server.PublicURL,
		"AGROHUB_AUTH_PROVIDER":  &c.Auth.Provider,
		"AGROHUB_JWT_SECRET":     &c.Auth.JWTSecret,
		"AGROHUB_JWKS_URL":       &c.Auth.JWKSURL,
		"AGROHUB_STORAGE_DRIVER": &c.Storage.Driver,
		"AGROHUB_STORAGE_DSN":    &c.Storage.DSN,
		"AGROHUB_REDIS_URL":      &c.RateLimit.RedisURL,
		"AGROHUB_LOG_LEVEL":      &c.Logging.Level,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Provider {
	case "", "builtin":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when provider is jwks")
		}
	default:
		return fmt.Errorf("unknown auth.provider %q", c.Auth.Provider)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.Invitations.TTL.Duration < 0 {
		return fmt.Errorf("invitations.ttl must be positive")
	}
	for _, p := range c.Server.TrustedProxies {
		p = strings.TrimSpace(p)
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "agrohub.db"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 90 * 24 * time.Hour
	}
	if c.Storage.ConnectRetries == 0 {
		c.Storage.ConnectRetries = 5
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost" + c.Server.Addr
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Invitations.TTL.Duration == 0 {
		c.Invitations.TTL.Duration = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.PublicPerMinute == 0 {
		c.RateLimit.PublicPerMinute = 30
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4318"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "agrohub"
	}
}

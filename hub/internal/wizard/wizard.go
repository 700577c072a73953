// Package wizard provides an interactive setup wizard for the agrohub server.
package wizard

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agroops/agrohub/hub/internal/config"
	"github.com/agroops/agrohub/pkg/cli"
)

// DefaultOutput is the config path used when none is given.
const DefaultOutput = "./agrohub.json"

// Wizard drives the interactive hub config setup.
type Wizard struct {
	p *cli.Prompter
}

// New creates a Wizard using the given Prompter.
func New(p *cli.Prompter) *Wizard {
	return &Wizard{p: p}
}

func (w *Wizard) println(a ...any) {
	_, _ = fmt.Fprintln(w.p.Out, a...)
}

// Run executes the interactive wizard and writes the config file.
func (w *Wizard) Run(outputPath string) error {
	w.println()
	w.println("  AgroHub - Configuration Wizard")
	w.println(strings.Repeat("─", 34))
	w.println()

	cfg := &config.Config{}

	w.println("Server")
	cfg.Server.Addr = w.p.Ask("  Listen address", ":8080")
	cfg.Server.PublicURL = w.p.AskValid("  Public URL (used in invitation links)",
		"http://localhost"+cfg.Server.Addr, checkURL)
	w.println()

	w.println("Authentication")
	provider := w.p.Choose("  Identity provider", []string{"builtin", "jwks"}, 0)
	cfg.Auth.Provider = provider
	switch provider {
	case "builtin":
		secret, err := config.GenerateRandomSecret()
		if err != nil {
			return fmt.Errorf("generate JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		_, _ = fmt.Fprintf(w.p.Out, "  Generated JWT secret: %s\n", secret)
	case "jwks":
		cfg.Auth.JWKSURL = w.p.AskValid("  JWKS URL", "", checkURL)
		cfg.Auth.Issuer = w.p.Ask("  Token issuer (empty to skip)", "")
		cfg.Auth.Audience = w.p.Ask("  Token audience (empty to skip)", "")
	}
	w.println()

	w.println("Storage")
	driver := w.p.Choose("  Database driver", []string{"sqlite", "postgres", "memory"}, 0)
	cfg.Storage.Driver = driver
	switch driver {
	case "sqlite":
		cfg.Storage.DSN = w.p.Ask("  SQLite database path", "agrohub.db")
	case "postgres":
		host := w.p.Ask("  PostgreSQL host", "localhost:5432")
		user := w.p.Ask("  PostgreSQL user", "agrohub")
		pass := w.p.AskPassword("  PostgreSQL password")
		db := w.p.Ask("  Database name", "agrohub")
		cfg.Storage.DSN = postgresDSN(host, user, pass, db)
	case "memory":
		w.println("  Demo mode: data lives in memory and is lost on restart.")
	}
	w.println()

	w.println("Invitations")
	hours := w.p.AskInt("  Invitation lifetime (hours)", 24)
	cfg.Invitations.TTL = config.Duration{Duration: time.Duration(hours) * time.Hour}
	w.println()

	if w.p.Confirm("Share rate limits across replicas with Redis?", false) {
		cfg.RateLimit.RedisURL = w.p.AskValid("  Redis URL", "redis://localhost:6379/0", checkURL)
		w.println()
	}

	if outputPath == "" {
		outputPath = w.p.Ask("Config file output path", DefaultOutput)
	}
	if err := writeConfig(outputPath, cfg); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w.p.Out, "\n  Config written to %s\n\n", outputPath)
	w.println("  Next steps:")
	_, _ = fmt.Fprintf(w.p.Out, "    agrohub run %s\n", outputPath)
	if provider == "builtin" {
		_, _ = fmt.Fprintf(w.p.Out, "    agrohub token -c %s --email you@example.com\n", outputPath)
	}
	w.println()
	return nil
}

// RunDefaults generates a config non-interactively from AGROHUB_* environment
// variables and a freshly generated secret. Used by container entrypoints.
func (w *Wizard) RunDefaults(outputPath string) error {
	cfg := &config.Config{}

	secret, err := config.GenerateRandomSecret()
	if err != nil {
		return fmt.Errorf("generate JWT secret: %w", err)
	}
	cfg.Auth.JWTSecret = secret

	cfg.Server.Addr = envOr("AGROHUB_ADDR", ":8080")
	cfg.Server.PublicURL = os.Getenv("AGROHUB_PUBLIC_URL")

	cfg.Storage.Driver = envOr("AGROHUB_STORAGE_DRIVER", "sqlite")
	switch cfg.Storage.Driver {
	case "sqlite":
		cfg.Storage.DSN = envOr("AGROHUB_STORAGE_DSN", "/var/lib/agrohub/agrohub.db")
	case "postgres":
		cfg.Storage.DSN = os.Getenv("AGROHUB_STORAGE_DSN")
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("AGROHUB_STORAGE_DSN is required when using postgres driver")
		}
	}
	cfg.RateLimit.RedisURL = os.Getenv("AGROHUB_REDIS_URL")

	if outputPath == "" {
		outputPath = DefaultOutput
	}
	if err := writeConfig(outputPath, cfg); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w.p.Out, "Config written to %s\n", outputPath)
	return nil
}

func writeConfig(path string, cfg *config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func postgresDSN(host, user, pass, db string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     host,
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func checkURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("enter an absolute URL such as https://app.example.com")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

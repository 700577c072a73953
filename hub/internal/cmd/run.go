package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agroops/agrohub/hub/internal/auth"
	"github.com/agroops/agrohub/hub/internal/config"
	"github.com/agroops/agrohub/hub/internal/hub"
	"github.com/agroops/agrohub/hub/internal/tracing"
)

const defaultConfigPath = "agrohub.json"

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the server (default when no subcommand is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().Bool("demo", false, "run with an in-memory store and a generated secret")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadRunConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, logger, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	h, err := hub.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize hub", "error", err)
		return err
	}

	if cfg.Storage.Driver == "memory" {
		if issuer, ok := h.AuthProvider().(auth.Issuer); ok {
			tok, err := issuer.IssueToken(auth.Identity{UserID: "demo-owner", Email: "demo@agrohub.local", Name: "Demo"})
			if err == nil {
				logger.Info("demo token issued", "user_id", "demo-owner", "token", tok)
			}
		}
	}

	logger.Info("agrohub starting", "version", version, "config", configPath, "storage", cfg.Storage.Driver)

	if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("hub error", "error", err)
		return err
	}

	logger.Info("hub stopped")
	return nil
}

// loadRunConfig returns the demo config when --demo is set, the loaded file
// otherwise.
func loadRunConfig(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	if demo, _ := cmd.Flags().GetBool("demo"); demo {
		secret, err := config.GenerateRandomSecret()
		if err != nil {
			return nil, "", err
		}
		return config.Demo(secret), "(demo)", nil
	}
	configPath := resolveConfigPath(cmd, args, defaultConfigPath)
	cfg, err := config.Load(configPath)
	return cfg, configPath, err
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: logLevel}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. AGROHUB_CONFIG
// 4. Default value
func resolveConfigPath(cmd *cobra.Command, args []string, defaultPath string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if p := os.Getenv("AGROHUB_CONFIG"); p != "" {
		return p
	}
	return defaultPath
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agroops/agrohub/hub/internal/config"
	"github.com/agroops/agrohub/hub/internal/hub"
	"github.com/agroops/agrohub/hub/internal/tenancy"
)

// adminEnv is what the admin commands work with: the loaded config and the tenancy
// services over a direct store connection.
type adminEnv struct {
	cfg   *config.Config
	svc   *tenancy.Service
	close func()
}

func openAdmin(ctx context.Context, cmd *cobra.Command) (*adminEnv, error) {
	cfg, err := config.Load(resolveConfigPath(cmd, nil, defaultConfigPath))
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver == "memory" {
		return nil, fmt.Errorf("admin commands need a persistent store, config uses the memory driver")
	}
	// Admin commands keep stdout for their output.
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := hub.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	return &adminEnv{
		cfg:   cfg,
		svc:   hub.NewServices(s, cfg, logger),
		close: func() { _ = s.Close() },
	}, nil
}

// withAdmin runs fn with an open admin environment.
func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, env *adminEnv) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := openAdmin(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()
	return fn(ctx, env)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

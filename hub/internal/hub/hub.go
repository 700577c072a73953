// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agroops/agrohub/hub/internal/api"
	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/auth"
	"github.com/agroops/agrohub/hub/internal/billing"
	"github.com/agroops/agrohub/hub/internal/config"
	"github.com/agroops/agrohub/hub/internal/metrics"
	"github.com/agroops/agrohub/hub/internal/retry"
	"github.com/agroops/agrohub/hub/internal/store"
	"github.com/agroops/agrohub/hub/internal/tenancy"
)

// Hub is the main hub process.
type Hub struct {
	cfg          *config.Config
	store        store.Store
	svc          *tenancy.Service
	authProvider auth.Provider
	api          *api.Server
	redis        *api.RedisLimiter
	logger       *slog.Logger
	now          func() time.Time
}

// OpenStore connects to the configured store, retrying while it is unreachable.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.Store, error) {
	rc := retry.DefaultConfig()
	if cfg.ConnectRetries > 0 {
		rc.MaxAttempts = cfg.ConnectRetries
	}
	return retry.Do(ctx, rc, logger, "open store", func(ctx context.Context) (store.Store, error) {
		s, err := store.New(cfg)
		if err != nil {
			return nil, apperr.Infra("open store", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, apperr.Infra("ping store", err)
		}
		return s, nil
	})
}

// NewServices wires the tenancy services over s.
func NewServices(s store.Store, cfg *config.Config, logger *slog.Logger) *tenancy.Service {
	return tenancy.New(s, billing.NewQuota(logger), logger, tenancy.Options{
		PublicURL:     cfg.Server.PublicURL,
		InvitationTTL: cfg.Invitations.TTL.Duration,
	})
}

// New creates a new hub from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authProvider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	var opts api.Options
	var redisLimiter *api.RedisLimiter
	if cfg.RateLimit.RedisURL != "" {
		redisLimiter, err = api.NewRedisLimiter(cfg.RateLimit.RedisURL, cfg.RateLimit.PublicPerMinute)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init rate limiter: %w", err)
		}
		opts.PublicLimiter = redisLimiter
	}

	svc := NewServices(db, cfg, logger)
	h := &Hub{
		cfg:          cfg,
		store:        db,
		svc:          svc,
		authProvider: authProvider,
		api:          api.NewServer(db, svc, authProvider, cfg, logger, opts),
		redis:        redisLimiter,
		logger:       logger.With("component", "hub"),
		now:          time.Now,
	}

	// Startup validation warnings.
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			h.logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if cfg.Storage.Driver == "memory" {
		h.logger.Warn("demo mode: in-memory store, all data is lost on exit")
	}

	return h, nil
}

// Services returns the tenancy services of the hub.
func (h *Hub) Services() *tenancy.Service { return h.svc }

// AuthProvider returns the configured identity provider.
func (h *Hub) AuthProvider() auth.Provider { return h.authProvider }

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.cfg.Server.Addr,
		Handler:           h.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.api.StartBackgroundTasks(ctx)

	if h.cfg.Storage.AuditRetention.Duration > 0 {
		go h.runAuditPurger(ctx, time.Hour, h.cfg.Storage.AuditRetention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr, "public_url", h.cfg.Server.PublicURL)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.Close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		h.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases the store and the rate-limit backend.
func (h *Hub) Close() {
	if h.redis != nil {
		_ = h.redis.Close()
	}
	h.logger.Info("closing store")
	_ = h.store.Close()
}

func (h *Hub) runAuditPurger(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = h.purgeAuditEvents(ctx, retention)
		}
	}
}

// purgeAuditEvents deletes audit events older than retention.
func (h *Hub) purgeAuditEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := h.now().Add(-retention)
	n, err := h.store.PurgeOldAuditEvents(ctx, cutoff)
	if err != nil {
		h.logger.Warn("retention purge: audit events failed", "error", err)
		return 0, err
	}
	if n > 0 {
		metrics.ObserveAuditPurge(n)
		h.logger.Info("retention purge: deleted old audit events", "count", n)
	}
	return n, nil
}

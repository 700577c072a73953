// Package api provides the HTTP API and middleware for the hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agroops/agrohub/hub/internal/auth"
	"github.com/agroops/agrohub/hub/internal/config"
	"github.com/agroops/agrohub/hub/internal/metrics"
	"github.com/agroops/agrohub/hub/internal/store"
	"github.com/agroops/agrohub/hub/internal/tenancy"
)

// Options tunes optional server collaborators.
type Options struct {
	// PublicLimiter guards the unauthenticated invitation routes. Defaults to an
	// in-process limiter built from cfg.RateLimit.PublicPerMinute.
	PublicLimiter Limiter
}

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	svc          *tenancy.Service
	authProvider auth.Provider
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	rl           *rateLimiter
	publicRL     Limiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, svc *tenancy.Service, ap auth.Provider, cfg *config.Config, logger *slog.Logger, opts Options) *Server {
	srv := &Server{
		store:        s,
		svc:          svc,
		authProvider: ap,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		rl:           newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		publicRL:     opts.PublicLimiter,
	}
	if srv.publicRL == nil {
		srv.publicRL = NewPerMinuteLimiter(cfg.RateLimit.PublicPerMinute)
	}
	publicRL := ipRateLimitMiddleware(srv.publicRL, srv.logger)

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(realIPMiddleware(parseTrustedProxies(cfg.Server.TrustedProxies, srv.logger)))
	mux.Use(metrics.HTTPMetricsMiddleware)
	mux.Use(securityHeadersMiddleware)
	mux.Use(corsMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Handle("/metrics", metrics.Handler())

	// Invitation preview is what the accept-invitation page shows before login.
	mux.With(publicRL).Get("/api/invitations/{token}", srv.handlePreviewInvitation)

	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.With(publicRL).Post("/api/invitations/accept", srv.handleAcceptInvitation)

		r.Get("/api/me", srv.handleGetMe)
		r.Get("/api/me/tenants", srv.handleListMyTenants)
		r.Post("/api/tenants", srv.handleCreateTenant)

		r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/", srv.handleGetTenant)
			r.Patch("/", srv.handleUpdateTenant)
			r.Get("/limits", srv.handleGetLimits)
			r.Put("/plan", srv.handleChangePlan)
			r.Get("/audit", srv.handleListAuditEvents)

			r.Get("/members", srv.handleListMembers)
			r.Put("/members/{membershipID}/role", srv.handleChangeRole)
			r.Delete("/members/{membershipID}", srv.handleRemoveMember)

			r.Get("/invitations", srv.handleListInvitations)
			r.Post("/invitations", srv.handleInvite)
			r.Post("/invitations/{invitationID}/revoke", srv.handleRevokeInvitation)

			r.Get("/workers", srv.handleListWorkers)
			r.Post("/workers", srv.handleCreateWorker)
			r.Post("/workers/{workerID}/link", srv.handleLinkWorker)
			r.Delete("/workers/{workerID}", srv.handleRemoveWorker)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler, instrumented for tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "agrohub.api")
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	if rl, ok := s.publicRL.(*rateLimiter); ok {
		rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    identity.UserID,
		"email": identity.Email,
		"name":  identity.Name,
	})
}

// --- Helpers ---

// decodeBody reads a JSON request body into dst, bounded by maxBodyBytes.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "body_required", "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		}
		return false
	}
	return true
}

// fail writes err as a classified API error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeAppError(w, s.logger, r, err)
}

// pageParams reads limit/offset query parameters. Invalid values are ignored.
func pageParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a failure raised by the HTTP layer itself, outside the domain
// error kinds.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

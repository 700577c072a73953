package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"

	"github.com/agroops/agrohub/hub/internal/auth"
)

type stubProvider struct {
	identity *auth.Identity
	err      error
}

func (p stubProvider) ValidateToken(context.Context, string) (*auth.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	id := *p.identity
	return &id, nil
}

func (stubProvider) Name() string { return "stub" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthMiddlewareErrorBodies(t *testing.T) {
	tests := []struct {
		name     string
		provider stubProvider
		header   string
		wantCode string
	}{
		{"no header", stubProvider{identity: &auth.Identity{UserID: "u"}}, "", "missing_credentials"},
		{"wrong scheme", stubProvider{identity: &auth.Identity{UserID: "u"}}, "Basic dXNlcjpwYXNz", "missing_credentials"},
		{"empty bearer", stubProvider{identity: &auth.Identity{UserID: "u"}}, "Bearer ", "missing_credentials"},
		{"rejected token", stubProvider{err: auth.ErrUnauthorized}, "Bearer abc", "invalid_token"},
		{"blank subject", stubProvider{identity: &auth.Identity{UserID: "  ", Email: "a@b.cl"}}, "Bearer abc", "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{authProvider: tt.provider, logger: discardLogger()}
			h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			resp := expectErrorCode(t, w, http.StatusUnauthorized, tt.wantCode)
			if resp.Error == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestAuthMiddlewareNormalizesIdentity(t *testing.T) {
	s := &Server{
		authProvider: stubProvider{identity: &auth.Identity{UserID: " user-1 ", Email: " Ana@Fundo.CL "}},
		logger:       discardLogger(),
	}
	var got *auth.Identity
	h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = getIdentityFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "bearer abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.UserID != "user-1" || got.Email != "ana@fundo.cl" {
		t.Fatalf("identity = %+v", got)
	}
}

// publicChain mirrors the middleware order of the public invitation routes.
func publicChain(trusted []netip.Prefix, perMinute int) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return realIPMiddleware(trusted)(ipRateLimitMiddleware(NewPerMinuteLimiter(perMinute), discardLogger())(ok))
}

func TestForwardedHeadersIgnoredWithoutTrustedProxies(t *testing.T) {
	h := publicChain(nil, 2)

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/invitations/x", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		req.Header.Set("X-Real-IP", "192.0.2."+strconv.Itoa(i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("rotating forwarding headers let %d requests through, want 2", allowed)
	}
}

func TestForwardedHeadersFromTrustedProxy(t *testing.T) {
	trusted := parseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5", "not-an-ip"}, discardLogger())
	if len(trusted) != 2 {
		t.Fatalf("parsed %d prefixes, want 2", len(trusted))
	}
	h := publicChain(trusted, 1)

	send := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/invitations/x", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	// Distinct clients behind the load balancer get their own buckets.
	if send("10.0.0.1:5000", "198.51.100.1") != http.StatusOK || send("10.0.0.1:5001", "198.51.100.2") != http.StatusOK {
		t.Fatal("clients behind a trusted proxy should be told apart")
	}
	// A client-supplied first hop does not hide the address the proxy appended.
	if code := send("10.0.0.1:5002", "6.6.6.6, 198.51.100.1, 192.168.1.5"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for the rightmost untrusted hop, got %d", code)
	}
	// Headers from an untrusted peer are not honoured.
	if send("203.0.113.9:1", "198.51.100.3") != http.StatusOK {
		t.Fatal("first request from the untrusted peer should pass")
	}
	if code := send("203.0.113.9:2", "198.51.100.4"); code != http.StatusTooManyRequests {
		t.Fatalf("untrusted peer rotated its way past the limiter: %d", code)
	}
}

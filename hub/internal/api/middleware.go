package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// authMiddleware resolves the bearer token to an Identity. Failures are answered with
// the same error body as every other handler, code missing_credentials or invalid_token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeAppError(w, s.logger, r, apperr.ErrMissingCredentials)
			return
		}

		identity, err := s.authProvider.ValidateToken(r.Context(), token)
		if err != nil {
			s.logger.Debug("token rejected", "provider", s.authProvider.Name(), "error", err)
			writeAppError(w, s.logger, r, apperr.ErrInvalidCredentials)
			return
		}
		// Memberships are keyed by user ID.
		identity.UserID = strings.TrimSpace(identity.UserID)
		if identity.UserID == "" {
			writeAppError(w, s.logger, r, apperr.Errorf(apperr.ErrInvalidCredentials, "token has no subject"))
			return
		}
		identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header. The
// scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func getIdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

// realIPMiddleware rewrites r.RemoteAddr from X-Forwarded-For / X-Real-IP, but only
// when the direct peer is one of the trusted proxies. Any other peer could rotate the
// headers to escape the per-IP limiter.
func realIPMiddleware(trusted []netip.Prefix) func(http.Handler) http.Handler {
	isTrusted := func(ip netip.Addr) bool {
		for _, p := range trusted {
			if p.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, err := netip.ParseAddr(clientIP(r))
			if err == nil && isTrusted(peer.Unmap()) {
				if ip := forwardedFor(r, isTrusted); ip != "" {
					r.RemoteAddr = ip
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedFor walks X-Forwarded-For from the nearest hop and returns the first
// address that is not a trusted proxy, falling back to X-Real-IP.
func forwardedFor(r *http.Request, isTrusted func(netip.Addr) bool) string {
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !isTrusted(ip.Unmap()) {
			return ip.String()
		}
	}
	if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return ip.String()
	}
	return ""
}

// parseTrustedProxies accepts single addresses and CIDR ranges. Invalid entries are
// skipped with a warning; config validation rejects them before we get here.
func parseTrustedProxies(entries []string, logger *slog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		logger.Warn("ignoring invalid trusted proxy", "entry", e)
	}
	return out
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "no-referrer",
	"Cache-Control":          "no-store",
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights itself. "*" allows any origin.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			switch _, listed := origins[origin]; {
			case allowAll:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && listed:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package auth

import (
	"fmt"

	"github.com/agroops/agrohub/hub/internal/config"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "builtin":
		return NewService(cfg), nil
	case "jwks":
		return NewJWKSProvider(cfg.JWKSURL, cfg.Issuer, cfg.Audience)
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}

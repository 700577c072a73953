package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSProvider validates tokens issued by an external identity provider
// (Supabase, Clerk, Auth0, ...) against its published JSON Web Key Set.
type JWKSProvider struct {
	issuer   string
	audience string
	jwks     keyfunc.Keyfunc
}

// NewJWKSProvider fetches the key set at jwksURL and keeps it refreshed in the
// background.
func NewJWKSProvider(jwksURL, issuer, audience string) (*JWKSProvider, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return newJWKSProvider(jwks, issuer, audience), nil
}

func newJWKSProvider(jwks keyfunc.Keyfunc, issuer, audience string) *JWKSProvider {
	return &JWKSProvider{issuer: issuer, audience: audience, jwks: jwks}
}

// ValidateToken parses an externally issued JWT and returns an Identity.
func (p *JWKSProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthorized
	}

	name := ""
	switch {
	case claimStr(claims, "name") != "":
		name = claimStr(claims, "name")
	case claimStr(claims, "given_name") != "" || claimStr(claims, "family_name") != "":
		name = strings.TrimSpace(claimStr(claims, "given_name") + " " + claimStr(claims, "family_name"))
	}

	return &Identity{
		UserID: sub,
		Email:  claimStr(claims, "email"),
		Name:   name,
	}, nil
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

// Name returns the provider name.
func (p *JWKSProvider) Name() string { return "jwks" }

// Package auth provides bearer-token authentication for the hub.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/agroops/agrohub/hub/internal/config"
)

var ErrUnauthorized = errors.New("unauthorized")

// Claims represents the JWT token claims of a builtin token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service validates and issues HS256 tokens signed with the configured secret.
// It implements Provider and Issuer.
type Service struct {
	jwtSecret []byte
	jwtExpiry time.Duration
	issuer    string
	now       func() time.Time
}

// NewService creates a new builtin auth service.
func NewService(cfg config.AuthConfig) *Service {
	return &Service{
		jwtSecret: []byte(cfg.JWTSecret),
		jwtExpiry: cfg.JWTExpiry.Duration,
		issuer:    cfg.Issuer,
		now:       time.Now,
	}
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// ValidateToken validates a bearer token and returns an Identity.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := s.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
	}, nil
}

// validateJWT validates a JWT token and returns the claims.
func (s *Service) validateJWT(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now)}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// IssueToken signs a token for the given identity. A missing UserID gets a
// fresh UUID.
func (s *Service) IssueToken(id Identity) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		id.UserID = uuid.NewString()
	}
	now := s.now()
	claims := &Claims{
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

package auth

import "context"

// Identity is the authenticated caller as seen by the hub. User accounts live
// in the identity provider; the hub only stores their stable user ID.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Provider validates bearer tokens and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// Issuer is implemented by providers that can mint tokens locally.
type Issuer interface {
	IssueToken(id Identity) (string, error)
}

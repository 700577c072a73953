package tenancy

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/store"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]{3,50}$`)

// NormalizeSlug lowercases and trims s, then checks the slug format.
func NormalizeSlug(s string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(s))
	if !slugPattern.MatchString(slug) {
		return "", apperr.Validation("slug", "must be 3-50 characters of a-z, 0-9 and '-'")
	}
	return slug, nil
}

func normalizeName(s string) (string, error) {
	name := strings.TrimSpace(s)
	if n := utf8.RuneCountInString(name); n < 2 || n > 100 {
		return "", apperr.Validation("name", "must be 2-100 characters")
	}
	return name, nil
}

// NormalizeEmail lowercases and trims s and requires a bare address.
func NormalizeEmail(s string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", apperr.Validation("email", "must be a valid email address")
	}
	return email, nil
}

func parseRole(s string, allowOwner bool) (store.Role, error) {
	role, ok := store.ParseRole(s)
	if !ok {
		return "", apperr.Validation("role_code", "unknown role "+s)
	}
	if role == store.RoleOwner && !allowOwner {
		return "", apperr.Validation("role_code", "owner role cannot be assigned here")
	}
	return role, nil
}

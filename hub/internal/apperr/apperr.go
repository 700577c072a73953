// Package apperr classifies the errors returned by the tenancy core. Every domain
// failure carries a Kind; anything unclassified is treated as Infrastructure.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure, used by callers to decide how to react.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindForbidden
	KindNotFound
	KindConflict
	KindExpired
	KindCapacity
	KindUnauthenticated
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExpired:
		return "expired"
	case KindCapacity:
		return "capacity_exceeded"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Code is a stable machine-readable reason.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Sentinels. Wrap them with fmt.Errorf("...: %w", ErrX) to add context.
var (
	ErrForbidden = newErr(KindForbidden, "forbidden", "caller lacks the required role")

	ErrTenantNotFound     = newErr(KindNotFound, "tenant_not_found", "tenant not found")
	ErrMembershipNotFound = newErr(KindNotFound, "membership_not_found", "membership not found")
	ErrInvitationNotFound = newErr(KindNotFound, "invitation_not_found", "invitation not found")
	ErrWorkerNotFound     = newErr(KindNotFound, "worker_not_found", "worker not found")

	ErrSlugTaken                 = newErr(KindConflict, "slug_taken", "slug is already taken")
	ErrDuplicatePending          = newErr(KindConflict, "duplicate_pending", "a pending invitation already exists for this email")
	ErrDuplicateActiveMembership = newErr(KindConflict, "duplicate_active_membership", "user is already an active member of this tenant")
	ErrAlreadyUsedOrRevoked      = newErr(KindConflict, "already_used_or_revoked", "invitation was already used or revoked")
	ErrAlreadyTerminal           = newErr(KindConflict, "already_terminal", "invitation is already accepted, revoked or expired")
	ErrLastOwner                 = newErr(KindConflict, "last_owner", "tenant must keep at least one active owner")
	ErrWorkerAlreadyLinked       = newErr(KindConflict, "worker_already_linked", "worker is already linked to a membership")

	ErrExpired = newErr(KindExpired, "expired", "invitation has expired")

	ErrTenantFull     = newErr(KindCapacity, "tenant_full", "tenant has reached its user limit")
	ErrFieldQuotaFull = newErr(KindCapacity, "field_quota_full", "tenant has reached its field limit")
	ErrPlanBelowUsage = newErr(KindCapacity, "plan_below_usage", "plan limits are below current usage")

	ErrMissingCredentials = newErr(KindUnauthenticated, "missing_credentials", "no bearer token was presented")
	ErrInvalidCredentials = newErr(KindUnauthenticated, "invalid_token", "bearer token is invalid or expired")
)

// Validation reports malformed input for a named field.
func Validation(field, msg string) error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Field: field, Message: msg}
}

// Infra wraps a store or network failure.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindInfrastructure, Code: "infrastructure", Message: op, Err: err}
}

// KindOf classifies err. Errors that carry no kind are Infrastructure.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the stable reason code of err.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if err == nil {
		return ""
	}
	return "infrastructure"
}

// Retryable reports whether err may be retried by the caller. Only infrastructure
// failures qualify; domain errors describe a state the caller must change first.
func Retryable(err error) bool {
	return KindOf(err) == KindInfrastructure
}

// Errorf wraps a sentinel with formatted context.
func Errorf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

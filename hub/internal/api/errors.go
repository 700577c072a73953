package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/agroops/agrohub/hub/internal/apperr"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindCapacity:
		return http.StatusPaymentRequired
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// userMessages holds the text shown for specific reason codes.
var userMessages = map[string]string{
	"tenant_not_found":            "this organization does not exist or you are not a member",
	"invitation_not_found":        "this invitation link is not valid",
	"slug_taken":                  "that identifier is already in use, choose another",
	"duplicate_pending":           "this email already has a pending invitation",
	"duplicate_active_membership": "you are already a member of this organization",
	"already_used_or_revoked":     "this invitation was already used or revoked",
	"already_terminal":            "this invitation is no longer pending",
	"last_owner":                  "the organization needs at least one owner",
	"worker_already_linked":       "this worker is already linked to a user",
	"field_quota_full":            "upgrade your plan to add more fields",
	"plan_below_usage":            "the selected plan does not cover your current usage",
}

// messageOf returns the user-facing message for err.
func messageOf(err error) string {
	if msg, ok := userMessages[apperr.CodeOf(err)]; ok {
		return msg
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Message != "" {
			return ae.Message
		}
		return "invalid input"
	case apperr.KindForbidden:
		return "you do not have permission to do this"
	case apperr.KindNotFound:
		return "not found"
	case apperr.KindConflict:
		return "the request conflicts with the current state"
	case apperr.KindExpired:
		return "this invitation has expired, request a new one"
	case apperr.KindCapacity:
		return "upgrade your plan to add more users"
	case apperr.KindUnauthenticated:
		return "sign in to continue"
	default:
		return "service temporarily unavailable, try again"
	}
}

// writeAppError writes a classified error. Infrastructure details are logged, never
// returned.
func writeAppError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInfrastructure || kind == apperr.KindUnknown {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	resp := errorResponse{Error: messageOf(err), Code: apperr.CodeOf(err)}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.Field = ae.Field
	}
	writeJSON(w, statusOf(kind), resp)
}

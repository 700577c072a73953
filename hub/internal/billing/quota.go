// Package billing holds the plan-limit table and the quota enforcer that guards the
// per-tenant usage counters.
package billing

import (
	"context"
	"log/slog"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/metrics"
	"github.com/agroops/agrohub/hub/internal/store"
)

// Enforcer checks plan limits before allowing resource creation. Every method takes the
// Repo to run against so callers can compose it into their own transaction.
type Enforcer interface {
	Check(ctx context.Context, r store.Repo, tenantID string, c store.Counter) error
	Increment(ctx context.Context, r store.Repo, tenantID string, c store.Counter) error
	Decrement(ctx context.Context, r store.Repo, tenantID string, c store.Counter) error
}

// Quota is the Enforcer backed by the store's conditional counter updates.
type Quota struct {
	logger *slog.Logger
}

// NewQuota creates a quota enforcer.
func NewQuota(logger *slog.Logger) *Quota {
	return &Quota{logger: logger.With("component", "quota")}
}

var _ Enforcer = (*Quota)(nil)

// Check is an advisory read: it fails when the counter is already at its limit.
// It does not reserve capacity; Increment is the authoritative gate.
func (q *Quota) Check(ctx context.Context, r store.Repo, tenantID string, c store.Counter) error {
	t, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		return apperr.Infra("get tenant", err)
	}
	if t == nil {
		return apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
	}
	l := LimitsOf(t)
	u := l.Users
	if c == store.CounterFields {
		u = l.Fields
	}
	if u.Full() {
		metrics.ObserveQuotaRejection(string(c))
		return fullErr(c, tenantID)
	}
	return nil
}

// Increment adds one unit in a single conditional update. When no row matches, a
// follow-up read tells a missing tenant apart from a full one.
func (q *Quota) Increment(ctx context.Context, r store.Repo, tenantID string, c store.Counter) error {
	ok, err := r.AdjustUsage(ctx, tenantID, c, 1)
	if err != nil {
		return apperr.Infra("increment usage", err)
	}
	if ok {
		return nil
	}

	t, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		return apperr.Infra("get tenant", err)
	}
	if t == nil {
		return apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
	}
	metrics.ObserveQuotaRejection(string(c))
	q.logger.Info("quota exhausted", "tenant_id", tenantID, "counter", c)
	return fullErr(c, tenantID)
}

// Decrement removes one unit, flooring at zero.
func (q *Quota) Decrement(ctx context.Context, r store.Repo, tenantID string, c store.Counter) error {
	ok, err := r.AdjustUsage(ctx, tenantID, c, -1)
	if err != nil {
		return apperr.Infra("decrement usage", err)
	}
	if ok {
		return nil
	}

	t, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		return apperr.Infra("get tenant", err)
	}
	if t == nil {
		return apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
	}
	q.logger.Warn("usage counter already at zero", "tenant_id", tenantID, "counter", c)
	return nil
}

func (q *Quota) IncrementUsers(ctx context.Context, r store.Repo, tenantID string) error {
	return q.Increment(ctx, r, tenantID, store.CounterUsers)
}

func (q *Quota) DecrementUsers(ctx context.Context, r store.Repo, tenantID string) error {
	return q.Decrement(ctx, r, tenantID, store.CounterUsers)
}

func (q *Quota) IncrementFields(ctx context.Context, r store.Repo, tenantID string) error {
	return q.Increment(ctx, r, tenantID, store.CounterFields)
}

func (q *Quota) DecrementFields(ctx context.Context, r store.Repo, tenantID string) error {
	return q.Decrement(ctx, r, tenantID, store.CounterFields)
}

func fullErr(c store.Counter, tenantID string) error {
	if c == store.CounterFields {
		return apperr.Errorf(apperr.ErrFieldQuotaFull, "tenant %s", tenantID)
	}
	return apperr.Errorf(apperr.ErrTenantFull, "tenant %s", tenantID)
}

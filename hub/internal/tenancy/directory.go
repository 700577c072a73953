package tenancy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/billing"
	"github.com/agroops/agrohub/hub/internal/metrics"
	"github.com/agroops/agrohub/hub/internal/store"
)

// Directory manages tenants and their plans.
type Directory struct {
	*core
	members *Memberships
	logger  *slog.Logger
}

// CreateTenantInput is the payload for CreateTenant.
type CreateTenantInput struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	Plan string `json:"plan"`
}

// UpdateTenantInput is the payload for UpdateTenant. Empty fields keep their value.
type UpdateTenantInput struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// CreateTenant registers a tenant and makes ownerID its owner. The tenant, the owner
// membership and its user slot are written in one transaction.
func (d *Directory) CreateTenant(ctx context.Context, in CreateTenantInput, ownerID string) (*store.Tenant, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	slug, err := NormalizeSlug(in.Slug)
	if err != nil {
		return nil, err
	}
	plan := store.PlanBasic
	if in.Plan != "" {
		p, ok := store.ParsePlan(in.Plan)
		if !ok {
			return nil, apperr.Validation("plan", "unknown plan "+in.Plan)
		}
		plan = p
	}
	if ownerID == "" {
		return nil, apperr.Validation("owner", "required")
	}
	limits, _ := billing.GetLimits(plan)

	now := d.now()
	t := &store.Tenant{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      slug,
		Plan:      plan,
		MaxUsers:  limits.MaxUsers,
		MaxFields: limits.MaxFields,
		CreatedBy: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = d.inTx(ctx, "tenancy.CreateTenant", func(r store.Repo) error {
		existing, err := r.GetTenantBySlug(ctx, slug)
		if err != nil {
			return apperr.Infra("get tenant by slug", err)
		}
		if existing != nil {
			return apperr.Errorf(apperr.ErrSlugTaken, "slug %s", slug)
		}
		if err := r.CreateTenant(ctx, t); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Errorf(apperr.ErrSlugTaken, "slug %s", slug)
			}
			return apperr.Infra("create tenant", err)
		}
		if _, err := d.members.addMember(ctx, r, t.ID, ownerID, store.RoleOwner, ""); err != nil {
			return err
		}
		t.CurrentUsers = 1
		return d.audit(ctx, r, t.ID, "tenant.created", ownerID, t.ID,
			map[string]string{"slug": slug, "plan": string(plan)})
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveTenantCreated()
	d.logger.Info("tenant created", "tenant_id", t.ID, "slug", slug, "plan", plan, "owner", ownerID)
	return t, nil
}

// GetLimits returns the plan and usage counters of a tenant.
func (d *Directory) GetLimits(ctx context.Context, tenantID string) (billing.Limits, error) {
	t, err := d.store.GetTenant(ctx, tenantID)
	if err != nil {
		return billing.Limits{}, apperr.Infra("get tenant", err)
	}
	if t == nil {
		return billing.Limits{}, apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
	}
	return billing.LimitsOf(t), nil
}

// GetTenant returns a tenant to any of its active members.
func (d *Directory) GetTenant(ctx context.Context, tenantID, actorID string) (*store.Tenant, error) {
	if _, err := d.members.RequireRole(ctx, tenantID, actorID); err != nil {
		return nil, err
	}
	t, err := d.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, apperr.Infra("get tenant", err)
	}
	if t == nil {
		return nil, apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
	}
	return t, nil
}

// UpdateTenant renames a tenant. Owner only; the new slug must be free.
func (d *Directory) UpdateTenant(ctx context.Context, tenantID string, in UpdateTenantInput, actorID string) (*store.Tenant, error) {
	var updated *store.Tenant
	err := d.inTx(ctx, "tenancy.UpdateTenant", func(r store.Repo) error {
		if _, err := requireRole(ctx, r, tenantID, actorID, store.RoleOwner); err != nil {
			return err
		}
		t, err := r.GetTenant(ctx, tenantID)
		if err != nil {
			return apperr.Infra("get tenant", err)
		}
		if t == nil {
			return apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
		}

		name, slug := t.Name, t.Slug
		if in.Name != "" {
			if name, err = normalizeName(in.Name); err != nil {
				return err
			}
		}
		if in.Slug != "" {
			if slug, err = NormalizeSlug(in.Slug); err != nil {
				return err
			}
		}
		if slug != t.Slug {
			other, err := r.GetTenantBySlug(ctx, slug)
			if err != nil {
				return apperr.Infra("get tenant by slug", err)
			}
			if other != nil {
				return apperr.Errorf(apperr.ErrSlugTaken, "slug %s", slug)
			}
		}

		matched, err := r.UpdateTenantProfile(ctx, tenantID, name, slug)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Errorf(apperr.ErrSlugTaken, "slug %s", slug)
			}
			return apperr.Infra("update tenant", err)
		}
		if !matched {
			return apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
		}
		if err := d.audit(ctx, r, tenantID, "tenant.updated", actorID, tenantID,
			map[string]string{"name": name, "slug": slug}); err != nil {
			return err
		}
		t.Name, t.Slug, t.UpdatedAt = name, slug, d.now()
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ChangePlan moves a tenant to another plan. Owner only. A downgrade whose limits
// are below current usage is refused.
func (d *Directory) ChangePlan(ctx context.Context, tenantID, planCode, actorID string) (*store.Tenant, error) {
	plan, ok := store.ParsePlan(planCode)
	if !ok {
		return nil, apperr.Validation("plan", "unknown plan "+planCode)
	}
	limits, _ := billing.GetLimits(plan)

	var updated *store.Tenant
	err := d.inTx(ctx, "tenancy.ChangePlan", func(r store.Repo) error {
		if _, err := requireRole(ctx, r, tenantID, actorID, store.RoleOwner); err != nil {
			return err
		}
		t, err := r.GetTenant(ctx, tenantID)
		if err != nil {
			return apperr.Infra("get tenant", err)
		}
		if t == nil {
			return apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
		}
		applied, err := r.SetTenantPlan(ctx, tenantID, plan, limits.MaxUsers, limits.MaxFields)
		if err != nil {
			return apperr.Infra("set tenant plan", err)
		}
		if !applied {
			return apperr.Errorf(apperr.ErrPlanBelowUsage, "plan %s for tenant %s", plan, tenantID)
		}
		if err := d.audit(ctx, r, tenantID, "tenant.plan_changed", actorID, tenantID,
			map[string]string{"from": string(t.Plan), "to": string(plan)}); err != nil {
			return err
		}
		t.Plan, t.MaxUsers, t.MaxFields, t.UpdatedAt = plan, limits.MaxUsers, limits.MaxFields, d.now()
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("plan changed", "tenant_id", tenantID, "plan", plan)
	return updated, nil
}

// ListTenantsForUser returns the tenants where userID has an active membership.
func (d *Directory) ListTenantsForUser(ctx context.Context, userID string) ([]store.Tenant, error) {
	tenants, err := d.store.ListTenantsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Infra("list tenants", err)
	}
	return tenants, nil
}

// ListAuditEvents returns the tenant's audit log, newest first. Owner/admin only.
func (d *Directory) ListAuditEvents(ctx context.Context, tenantID, actorID string, limit, offset int) ([]store.AuditEvent, error) {
	if _, err := d.members.RequireRole(ctx, tenantID, actorID, store.RoleOwner, store.RoleAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	events, err := d.store.ListAuditEvents(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, apperr.Infra("list audit events", err)
	}
	return events, nil
}

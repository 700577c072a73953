package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/store"
)

// Memberships is the registry of user-to-tenant bindings.
type Memberships struct {
	*core
	logger *slog.Logger
}

// GetActiveMembership returns the active membership of userID in tenantID, or nil.
func (m *Memberships) GetActiveMembership(ctx context.Context, tenantID, userID string) (*store.Membership, error) {
	mem, err := m.store.GetActiveMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, apperr.Infra("get active membership", err)
	}
	return mem, nil
}

// RequireRole returns the caller's active membership if its role is one of allowed.
// With no allowed roles any active membership passes.
func (m *Memberships) RequireRole(ctx context.Context, tenantID, userID string, allowed ...store.Role) (*store.Membership, error) {
	return requireRole(ctx, m.store, tenantID, userID, allowed...)
}

func requireRole(ctx context.Context, r store.Repo, tenantID, userID string, allowed ...store.Role) (*store.Membership, error) {
	if userID == "" {
		return nil, apperr.ErrForbidden
	}
	mem, err := r.GetActiveMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, apperr.Infra("get active membership", err)
	}
	if mem == nil {
		return nil, apperr.Errorf(apperr.ErrForbidden, "user %s is not a member of tenant %s", userID, tenantID)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, mem.Role) {
		return nil, apperr.Errorf(apperr.ErrForbidden, "role %s not allowed", mem.Role)
	}
	return mem, nil
}

// CreateMembership adds userID to the tenant directly and takes one user slot.
func (m *Memberships) CreateMembership(ctx context.Context, tenantID, userID string, role store.Role, invitedBy string) (*store.Membership, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id", "required")
	}
	if !role.Valid() {
		return nil, apperr.Validation("role_code", "unknown role "+string(role))
	}

	var created *store.Membership
	err := m.inTx(ctx, "tenancy.CreateMembership", func(r store.Repo) error {
		t, err := r.GetTenant(ctx, tenantID)
		if err != nil {
			return apperr.Infra("get tenant", err)
		}
		if t == nil {
			return apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", tenantID)
		}
		created, err = m.addMember(ctx, r, tenantID, userID, role, invitedBy)
		if err != nil {
			return err
		}
		return m.audit(ctx, r, tenantID, "member.added", invitedBy, created.ID,
			map[string]string{"user_id": userID, "role_code": string(role)})
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("membership created", "tenant_id", tenantID, "user_id", userID, "role", role)
	return created, nil
}

// addMember enforces one active membership per (tenant, user), takes a user slot and
// inserts the row. It must run inside the caller's transaction.
func (m *Memberships) addMember(ctx context.Context, r store.Repo, tenantID, userID string, role store.Role, invitedBy string) (*store.Membership, error) {
	existing, err := r.GetActiveMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, apperr.Infra("get active membership", err)
	}
	if existing != nil {
		return nil, apperr.Errorf(apperr.ErrDuplicateActiveMembership, "user %s", userID)
	}
	if err := m.quota.Increment(ctx, r, tenantID, store.CounterUsers); err != nil {
		return nil, err
	}

	now := m.now()
	mem := &store.Membership{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		UserID:     userID,
		Role:       role,
		Status:     store.MembershipActive,
		InvitedBy:  invitedBy,
		AcceptedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.CreateMembership(ctx, mem); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Errorf(apperr.ErrDuplicateActiveMembership, "user %s", userID)
		}
		return nil, apperr.Infra("create membership", err)
	}
	return mem, nil
}

// Deactivate marks a membership inactive and frees its user slot. Deactivating an
// inactive membership is a no-op.
func (m *Memberships) Deactivate(ctx context.Context, membershipID string) error {
	return m.inTx(ctx, "tenancy.Deactivate", func(r store.Repo) error {
		mem, err := r.GetMembership(ctx, membershipID)
		if err != nil {
			return apperr.Infra("get membership", err)
		}
		if mem == nil {
			return apperr.Errorf(apperr.ErrMembershipNotFound, "membership %s", membershipID)
		}
		return m.deactivate(ctx, r, mem, "")
	})
}

func (m *Memberships) deactivate(ctx context.Context, r store.Repo, mem *store.Membership, actorID string) error {
	if !mem.IsActive() {
		return nil
	}
	if mem.Role == store.RoleOwner {
		if err := ensureAnotherOwner(ctx, r, mem.TenantID); err != nil {
			return err
		}
	}

	changed, err := r.SetMembershipStatus(ctx, mem.ID, store.MembershipActive, store.MembershipInactive)
	if err != nil {
		return apperr.Infra("deactivate membership", err)
	}
	if !changed {
		return nil
	}
	if err := m.quota.Decrement(ctx, r, mem.TenantID, store.CounterUsers); err != nil {
		return err
	}
	m.logger.Info("membership deactivated", "tenant_id", mem.TenantID, "membership_id", mem.ID)
	return m.audit(ctx, r, mem.TenantID, "member.deactivated", actorID, mem.ID,
		map[string]string{"user_id": mem.UserID, "role_code": string(mem.Role)})
}

func ensureAnotherOwner(ctx context.Context, r store.Repo, tenantID string) error {
	owners, err := r.CountActiveMemberships(ctx, tenantID, store.RoleOwner)
	if err != nil {
		return apperr.Infra("count owners", err)
	}
	if owners <= 1 {
		return apperr.Errorf(apperr.ErrLastOwner, "tenant %s", tenantID)
	}
	return nil
}

// RemoveMember deactivates a membership on behalf of an owner or admin. Only owners
// may remove owners.
func (m *Memberships) RemoveMember(ctx context.Context, tenantID, membershipID, actorID string) error {
	return m.inTx(ctx, "tenancy.RemoveMember", func(r store.Repo) error {
		actor, err := requireRole(ctx, r, tenantID, actorID, store.RoleOwner, store.RoleAdmin)
		if err != nil {
			return err
		}
		target, err := getTenantMembership(ctx, r, tenantID, membershipID)
		if err != nil {
			return err
		}
		if target.Role == store.RoleOwner && actor.Role != store.RoleOwner {
			return apperr.Errorf(apperr.ErrForbidden, "only owners can remove owners")
		}
		return m.deactivate(ctx, r, target, actorID)
	})
}

// ChangeRole moves an active membership to a new role. Granting or revoking owner
// is reserved to owners and the last owner cannot be demoted.
func (m *Memberships) ChangeRole(ctx context.Context, tenantID, membershipID, roleCode, actorID string) (*store.Membership, error) {
	role, err := parseRole(roleCode, true)
	if err != nil {
		return nil, err
	}

	var updated *store.Membership
	err = m.inTx(ctx, "tenancy.ChangeRole", func(r store.Repo) error {
		actor, err := requireRole(ctx, r, tenantID, actorID, store.RoleOwner, store.RoleAdmin)
		if err != nil {
			return err
		}
		target, err := getTenantMembership(ctx, r, tenantID, membershipID)
		if err != nil {
			return err
		}
		if !target.IsActive() {
			return apperr.Errorf(apperr.ErrMembershipNotFound, "membership %s is inactive", membershipID)
		}
		if target.Role == role {
			updated = target
			return nil
		}
		if (role == store.RoleOwner || target.Role == store.RoleOwner) && actor.Role != store.RoleOwner {
			return apperr.Errorf(apperr.ErrForbidden, "only owners can grant or revoke owner")
		}
		if target.Role == store.RoleOwner {
			if err := ensureAnotherOwner(ctx, r, tenantID); err != nil {
				return err
			}
		}
		if err := r.SetMembershipRole(ctx, target.ID, role); err != nil {
			return apperr.Infra("set membership role", err)
		}
		from := target.Role
		target.Role = role
		target.UpdatedAt = m.now()
		updated = target
		return m.audit(ctx, r, tenantID, "member.role_changed", actorID, target.ID,
			map[string]string{"from": string(from), "to": string(role)})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListMembers returns every membership of the tenant, active or not. Owner/admin only.
func (m *Memberships) ListMembers(ctx context.Context, tenantID, actorID string) ([]store.Membership, error) {
	if _, err := m.RequireRole(ctx, tenantID, actorID, store.RoleOwner, store.RoleAdmin); err != nil {
		return nil, err
	}
	members, err := m.store.ListMemberships(ctx, tenantID)
	if err != nil {
		return nil, apperr.Infra("list memberships", err)
	}
	return members, nil
}

func getTenantMembership(ctx context.Context, r store.Repo, tenantID, membershipID string) (*store.Membership, error) {
	mem, err := r.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, apperr.Infra("get membership", err)
	}
	if mem == nil || mem.TenantID != tenantID {
		return nil, apperr.Errorf(apperr.ErrMembershipNotFound, "membership %s", membershipID)
	}
	return mem, nil
}

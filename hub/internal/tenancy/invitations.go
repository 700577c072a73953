package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/metrics"
	"github.com/agroops/agrohub/hub/internal/store"
)

// Invitations drives the invitation state machine:
// Pending -> Accepted | Revoked (stored) | Expired (derived from the clock).
type Invitations struct {
	*core
	members   *Memberships
	publicURL string
	ttl       time.Duration
	logger    *slog.Logger
}

// InviteInput is the payload for Invite.
type InviteInput struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Role     string `json:"role_code"`
}

// IssuedInvitation is returned once, at creation. Token is never stored.
type IssuedInvitation struct {
	Invitation *store.Invitation `json:"invitation"`
	Token      string            `json:"token"`
	AcceptURL  string            `json:"accept_url"`
}

// AcceptInput is the payload for Accept. UserID and Email come from the identity provider.
type AcceptInput struct {
	Token    string `json:"token"`
	UserID   string `json:"-"`
	Email    string `json:"-"`
	FullName string `json:"full_name"`
}

// AcceptResult reports what Accept created. WorkerID is set when an existing worker
// record was linked to the new membership.
type AcceptResult struct {
	TenantID     string `json:"tenant_id"`
	MembershipID string `json:"membership_id"`
	WorkerID     string `json:"worker_id,omitempty"`
}

// Preview is the public view of a pending invitation.
type Preview struct {
	TenantName string     `json:"tenant_name"`
	TenantSlug string     `json:"tenant_slug"`
	Email      string     `json:"email"`
	Role       store.Role `json:"role_code"`
	RoleLabel  string     `json:"role_label"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// InvitationView is an invitation with its derived status.
type InvitationView struct {
	store.Invitation
	Status    store.InvitationStatus `json:"status"`
	RoleLabel string                 `json:"role_label"`
}

// Invite issues an invitation for an email to join a tenant. Only owners and admins
// may invite, the tenant must have a free user slot and no other invitation for the
// email may be pending. An expired pending invitation is revoked and replaced.
func (iv *Invitations) Invite(ctx context.Context, in InviteInput, invitedBy string) (*IssuedInvitation, error) {
	token, err := newToken()
	if err != nil {
		return nil, apperr.Infra("invite", err)
	}

	var inv *store.Invitation
	err = iv.inTx(ctx, "tenancy.Invite", func(r store.Repo) error {
		if _, err := requireRole(ctx, r, in.TenantID, invitedBy, store.RoleOwner, store.RoleAdmin); err != nil {
			return err
		}
		if err := iv.quota.Check(ctx, r, in.TenantID, store.CounterUsers); err != nil {
			return err
		}
		email, err := NormalizeEmail(in.Email)
		if err != nil {
			return err
		}
		role, err := parseRole(in.Role, false)
		if err != nil {
			return err
		}

		now := iv.now()
		pending, err := r.GetPendingInvitation(ctx, in.TenantID, email)
		if err != nil {
			return apperr.Infra("get pending invitation", err)
		}
		if pending != nil {
			if !pending.Expired(now) {
				return apperr.Errorf(apperr.ErrDuplicatePending, "email %s", email)
			}
			if _, err := r.MarkInvitationRevoked(ctx, pending.ID, invitedBy, now); err != nil {
				return apperr.Infra("revoke expired invitation", err)
			}
			if err := iv.audit(ctx, r, in.TenantID, "invitation.replaced", invitedBy, pending.ID, nil); err != nil {
				return err
			}
		}

		inv = &store.Invitation{
			ID:        uuid.New().String(),
			TenantID:  in.TenantID,
			Email:     email,
			Role:      role,
			TokenHash: hashToken(token),
			InvitedBy: invitedBy,
			CreatedAt: now,
			ExpiresAt: now.Add(iv.ttl),
		}
		if err := r.CreateInvitation(ctx, inv); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Errorf(apperr.ErrDuplicatePending, "email %s", email)
			}
			return apperr.Infra("create invitation", err)
		}
		return iv.audit(ctx, r, in.TenantID, "invitation.created", invitedBy, inv.ID,
			map[string]string{"email": email, "role_code": string(role)})
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveInvitation("issued")
	iv.logger.Info("invitation issued", "tenant_id", inv.TenantID, "invitation_id", inv.ID, "role", inv.Role)
	return &IssuedInvitation{Invitation: inv, Token: token, AcceptURL: iv.AcceptURL(token)}, nil
}

// AcceptURL builds the link sent to the invitee. The token is the only parameter.
func (iv *Invitations) AcceptURL(token string) string {
	return strings.TrimRight(iv.publicURL, "/") + "/accept-invitation?token=" + url.QueryEscape(token)
}

// GetByToken resolves a token to its pending invitation. Expiry is checked before
// terminal state, so an invitation past expires_at always reports Expired.
func (iv *Invitations) GetByToken(ctx context.Context, token string) (*store.Invitation, error) {
	return iv.lookup(ctx, iv.store, token)
}

func (iv *Invitations) lookup(ctx context.Context, r store.Repo, token string) (*store.Invitation, error) {
	if token == "" {
		return nil, apperr.ErrInvitationNotFound
	}
	hash := hashToken(token)
	inv, err := r.GetInvitationByTokenHash(ctx, hash)
	if err != nil {
		return nil, apperr.Infra("get invitation by token", err)
	}
	if inv == nil || !hashesEqual(inv.TokenHash, hash) {
		return nil, apperr.ErrInvitationNotFound
	}
	if inv.Expired(iv.now()) {
		return nil, apperr.Errorf(apperr.ErrExpired, "invitation %s", inv.ID)
	}
	if inv.Terminal() {
		return nil, apperr.Errorf(apperr.ErrAlreadyUsedOrRevoked, "invitation %s", inv.ID)
	}
	return inv, nil
}

// Preview returns what an invitee needs to see before accepting.
func (iv *Invitations) Preview(ctx context.Context, token string) (*Preview, error) {
	inv, err := iv.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	t, err := iv.store.GetTenant(ctx, inv.TenantID)
	if err != nil {
		return nil, apperr.Infra("get tenant", err)
	}
	if t == nil {
		return nil, apperr.Errorf(apperr.ErrTenantNotFound, "tenant %s", inv.TenantID)
	}
	return &Preview{
		TenantName: t.Name,
		TenantSlug: t.Slug,
		Email:      inv.Email,
		Role:       inv.Role,
		RoleLabel:  inv.Role.Label(),
		ExpiresAt:  inv.ExpiresAt,
	}, nil
}

// Accept consumes an invitation. Revalidation, the membership insert, the user slot,
// the accepted mark and the worker backfill are one transaction: either all of them
// happen or none does.
func (iv *Invitations) Accept(ctx context.Context, in AcceptInput) (*AcceptResult, error) {
	if in.UserID == "" {
		return nil, apperr.Validation("user_id", "required")
	}

	var res *AcceptResult
	err := iv.inTx(ctx, "tenancy.Accept", func(r store.Repo) error {
		inv, err := iv.lookup(ctx, r, in.Token)
		if err != nil {
			return err
		}
		mem, err := iv.members.addMember(ctx, r, inv.TenantID, in.UserID, inv.Role, inv.InvitedBy)
		if err != nil {
			return err
		}
		marked, err := r.MarkInvitationAccepted(ctx, inv.ID, in.UserID, iv.now())
		if err != nil {
			return apperr.Infra("mark invitation accepted", err)
		}
		if !marked {
			return apperr.Errorf(apperr.ErrAlreadyUsedOrRevoked, "invitation %s", inv.ID)
		}
		workerID, err := r.BackfillWorkerMembership(ctx, inv.TenantID, inv.Email, mem.ID)
		if err != nil {
			return apperr.Infra("link worker", err)
		}

		res = &AcceptResult{TenantID: inv.TenantID, MembershipID: mem.ID, WorkerID: workerID}
		return iv.audit(ctx, r, inv.TenantID, "invitation.accepted", in.UserID, inv.ID, map[string]string{
			"membership_id": mem.ID,
			"worker_id":     workerID,
			"email":         in.Email,
			"full_name":     in.FullName,
		})
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindExpired {
			metrics.ObserveInvitation("expired")
		}
		return nil, err
	}

	metrics.ObserveInvitation("accepted")
	iv.logger.Info("invitation accepted", "tenant_id", res.TenantID, "membership_id", res.MembershipID,
		"user_id", in.UserID, "worker_id", res.WorkerID)
	return res, nil
}

// Revoke cancels a pending invitation. Owner/admin only; revoking an accepted,
// revoked or expired invitation fails with ErrAlreadyTerminal.
func (iv *Invitations) Revoke(ctx context.Context, invitationID, revokedBy string) error {
	return iv.revoke(ctx, "", invitationID, revokedBy)
}

// RevokeInTenant is Revoke scoped to one tenant; invitations of other tenants are NotFound.
func (iv *Invitations) RevokeInTenant(ctx context.Context, tenantID, invitationID, revokedBy string) error {
	return iv.revoke(ctx, tenantID, invitationID, revokedBy)
}

func (iv *Invitations) revoke(ctx context.Context, tenantID, invitationID, revokedBy string) error {
	err := iv.inTx(ctx, "tenancy.Revoke", func(r store.Repo) error {
		inv, err := r.GetInvitation(ctx, invitationID)
		if err != nil {
			return apperr.Infra("get invitation", err)
		}
		if inv == nil || (tenantID != "" && inv.TenantID != tenantID) {
			return apperr.Errorf(apperr.ErrInvitationNotFound, "invitation %s", invitationID)
		}
		if _, err := requireRole(ctx, r, inv.TenantID, revokedBy, store.RoleOwner, store.RoleAdmin); err != nil {
			return err
		}
		now := iv.now()
		if inv.Terminal() || inv.Expired(now) {
			return apperr.Errorf(apperr.ErrAlreadyTerminal, "invitation %s", invitationID)
		}
		revoked, err := r.MarkInvitationRevoked(ctx, inv.ID, revokedBy, now)
		if err != nil {
			return apperr.Infra("revoke invitation", err)
		}
		if !revoked {
			return apperr.Errorf(apperr.ErrAlreadyTerminal, "invitation %s", invitationID)
		}
		return iv.audit(ctx, r, inv.TenantID, "invitation.revoked", revokedBy, inv.ID,
			map[string]string{"email": inv.Email})
	})
	if err != nil {
		return err
	}
	metrics.ObserveInvitation("revoked")
	iv.logger.Info("invitation revoked", "invitation_id", invitationID, "revoked_by", revokedBy)
	return nil
}

// ListInvitations returns the tenant's invitations, newest first. Owner/admin only.
func (iv *Invitations) ListInvitations(ctx context.Context, tenantID, actorID string) ([]InvitationView, error) {
	if _, err := iv.members.RequireRole(ctx, tenantID, actorID, store.RoleOwner, store.RoleAdmin); err != nil {
		return nil, err
	}
	invs, err := iv.store.ListInvitations(ctx, tenantID)
	if err != nil {
		return nil, apperr.Infra("list invitations", err)
	}
	now := iv.now()
	views := make([]InvitationView, 0, len(invs))
	for _, inv := range invs {
		views = append(views, InvitationView{Invitation: inv, Status: inv.Status(now), RoleLabel: inv.Role.Label()})
	}
	return views, nil
}

package tenancy

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/store"
)

// Workers manages operational personnel records. A worker may exist before its
// person has a login; the membership link is filled in later, either explicitly
// or when an invitation for the same email is accepted.
type Workers struct {
	*core
	members *Memberships
	logger  *slog.Logger
}

// WorkerInput is the payload for CreateWorker.
type WorkerInput struct {
	FullName     string `json:"full_name"`
	DocumentID   string `json:"document_id"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	AreaModule   string `json:"area_module"`
	MembershipID string `json:"membership_id"`
}

// CreateWorker adds a worker record. Owner/admin only.
func (wk *Workers) CreateWorker(ctx context.Context, tenantID string, in WorkerInput, actorID string) (*store.Worker, error) {
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return nil, apperr.Validation("full_name", "required")
	}
	area, err := parseRole(in.AreaModule, false)
	if err != nil {
		return nil, apperr.Validation("area_module", "must be one of admin, campo, empaque, finanzas")
	}
	email := ""
	if strings.TrimSpace(in.Email) != "" {
		if email, err = NormalizeEmail(in.Email); err != nil {
			return nil, err
		}
	}

	now := wk.now()
	w := &store.Worker{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		FullName:   fullName,
		DocumentID: strings.TrimSpace(in.DocumentID),
		Email:      email,
		Phone:      strings.TrimSpace(in.Phone),
		AreaModule: area,
		Status:     store.WorkerActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = wk.inTx(ctx, "tenancy.CreateWorker", func(r store.Repo) error {
		if _, err := requireRole(ctx, r, tenantID, actorID, store.RoleOwner, store.RoleAdmin); err != nil {
			return err
		}
		if in.MembershipID != "" {
			mem, err := getTenantMembership(ctx, r, tenantID, in.MembershipID)
			if err != nil {
				return err
			}
			if !mem.IsActive() {
				return apperr.Errorf(apperr.ErrMembershipNotFound, "membership %s is inactive", mem.ID)
			}
			w.MembershipID = mem.ID
		}
		if err := r.CreateWorker(ctx, w); err != nil {
			return apperr.Infra("create worker", err)
		}
		return wk.audit(ctx, r, tenantID, "worker.created", actorID, w.ID,
			map[string]string{"full_name": fullName, "area_module": string(area)})
	})
	if err != nil {
		return nil, err
	}
	wk.logger.Info("worker created", "tenant_id", tenantID, "worker_id", w.ID, "linked", w.MembershipID != "")
	return w, nil
}

// LinkMembership attaches an unlinked worker to an active membership of the same tenant.
func (wk *Workers) LinkMembership(ctx context.Context, tenantID, workerID, membershipID, actorID string) (*store.Worker, error) {
	var linked *store.Worker
	err := wk.inTx(ctx, "tenancy.LinkMembership", func(r store.Repo) error {
		if _, err := requireRole(ctx, r, tenantID, actorID, store.RoleOwner, store.RoleAdmin); err != nil {
			return err
		}
		w, err := getTenantWorker(ctx, r, tenantID, workerID)
		if err != nil {
			return err
		}
		if w.MembershipID != "" {
			return apperr.Errorf(apperr.ErrWorkerAlreadyLinked, "worker %s", workerID)
		}
		mem, err := getTenantMembership(ctx, r, tenantID, membershipID)
		if err != nil {
			return err
		}
		if !mem.IsActive() {
			return apperr.Errorf(apperr.ErrMembershipNotFound, "membership %s is inactive", membershipID)
		}
		ok, err := r.LinkWorkerMembership(ctx, workerID, membershipID)
		if err != nil {
			return apperr.Infra("link worker", err)
		}
		if !ok {
			return apperr.Errorf(apperr.ErrWorkerAlreadyLinked, "worker %s", workerID)
		}
		w.MembershipID = membershipID
		linked = w
		return wk.audit(ctx, r, tenantID, "worker.linked", actorID, workerID,
			map[string]string{"membership_id": membershipID})
	})
	if err != nil {
		return nil, err
	}
	return linked, nil
}

// RemoveWorker marks a worker inactive. A linked active membership is deactivated in
// the same transaction, freeing its user slot.
func (wk *Workers) RemoveWorker(ctx context.Context, tenantID, workerID, actorID string) error {
	return wk.inTx(ctx, "tenancy.RemoveWorker", func(r store.Repo) error {
		actor, err := requireRole(ctx, r, tenantID, actorID, store.RoleOwner, store.RoleAdmin)
		if err != nil {
			return err
		}
		w, err := getTenantWorker(ctx, r, tenantID, workerID)
		if err != nil {
			return err
		}
		if w.Status == store.WorkerInactive {
			return nil
		}
		if w.MembershipID != "" {
			mem, err := r.GetMembership(ctx, w.MembershipID)
			if err != nil {
				return apperr.Infra("get membership", err)
			}
			if mem != nil && mem.IsActive() {
				if mem.Role == store.RoleOwner && actor.Role != store.RoleOwner {
					return apperr.Errorf(apperr.ErrForbidden, "only owners can remove owners")
				}
				if err := wk.members.deactivate(ctx, r, mem, actorID); err != nil {
					return err
				}
			}
		}
		if err := r.SetWorkerStatus(ctx, workerID, store.WorkerInactive); err != nil {
			return apperr.Infra("set worker status", err)
		}
		return wk.audit(ctx, r, tenantID, "worker.removed", actorID, workerID, nil)
	})
}

// ListWorkers returns the tenant's workers to any active member.
func (wk *Workers) ListWorkers(ctx context.Context, tenantID, actorID string) ([]store.Worker, error) {
	if _, err := wk.members.RequireRole(ctx, tenantID, actorID); err != nil {
		return nil, err
	}
	workers, err := wk.store.ListWorkers(ctx, tenantID)
	if err != nil {
		return nil, apperr.Infra("list workers", err)
	}
	return workers, nil
}

func getTenantWorker(ctx context.Context, r store.Repo, tenantID, workerID string) (*store.Worker, error) {
	w, err := r.GetWorker(ctx, workerID)
	if err != nil {
		return nil, apperr.Infra("get worker", err)
	}
	if w == nil || w.TenantID != tenantID {
		return nil, apperr.Errorf(apperr.ErrWorkerNotFound, "worker %s", workerID)
	}
	return w, nil
}

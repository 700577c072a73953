// Package tenancy implements the tenant directory, membership registry, invitation
// lifecycle and worker registry on top of a store.Store.
package tenancy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/billing"
	"github.com/agroops/agrohub/hub/internal/store"
)

// DefaultInvitationTTL is how long an invitation stays acceptable.
const DefaultInvitationTTL = 24 * time.Hour

var tracer = otel.Tracer("github.com/agroops/agrohub/hub/internal/tenancy")

// Options configures the tenancy services.
type Options struct {
	// PublicURL is the externally reachable base URL used to build accept links.
	PublicURL string
	// InvitationTTL defaults to DefaultInvitationTTL.
	InvitationTTL time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Service bundles the tenancy components over one store.
type Service struct {
	Tenants     *Directory
	Members     *Memberships
	Invitations *Invitations
	Workers     *Workers
}

// New wires the tenancy components. The store is owned by the caller.
func New(s store.Store, quota billing.Enforcer, logger *slog.Logger, opts Options) *Service {
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = DefaultInvitationTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &core{store: s, quota: quota, now: func() time.Time { return opts.Clock().UTC() }}

	members := &Memberships{core: c, logger: logger.With("component", "memberships")}
	return &Service{
		Tenants: &Directory{core: c, members: members, logger: logger.With("component", "tenants")},
		Members: members,
		Invitations: &Invitations{
			core:      c,
			members:   members,
			publicURL: opts.PublicURL,
			ttl:       opts.InvitationTTL,
			logger:    logger.With("component", "invitations"),
		},
		Workers: &Workers{core: c, members: members, logger: logger.With("component", "workers")},
	}
}

// core is the state shared by every component.
type core struct {
	store store.Store
	quota billing.Enforcer
	now   func() time.Time
}

// inTx runs fn in one store transaction inside a span named op. Domain errors pass
// through untouched; anything else is reported as Infrastructure.
func (c *core) inTx(ctx context.Context, op string, fn func(r store.Repo) error) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	err := apperr.Infra(op, c.store.InTx(ctx, func(r store.Repo) error {
		return fn(r)
	}))
	if err != nil && apperr.KindOf(err) == apperr.KindInfrastructure {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// audit records an event in the caller's transaction.
func (c *core) audit(ctx context.Context, r store.Repo, tenantID, action, actorID, subjectID string, detail any) error {
	var raw json.RawMessage
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return apperr.Infra("marshal audit detail", err)
		}
		raw = b
	}
	err := r.LogAuditEvent(ctx, &store.AuditEvent{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Action:    action,
		ActorID:   actorID,
		SubjectID: subjectID,
		Detail:    raw,
		CreatedAt: c.now(),
	})
	return apperr.Infra("log audit event", err)
}

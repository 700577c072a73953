// Package store defines the storage interface for the hub and provides SQLite, PostgreSQL
// and in-memory (demo mode) implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicate is returned (wrapped) when a write would violate a uniqueness rule:
// tenant slug, one active membership per (tenant, user), one pending invitation per
// (tenant, email) or invitation token hash.
var ErrDuplicate = errors.New("store: duplicate key")

// Repo is the set of reads and writes over the tenancy relations. Get methods return
// (nil, nil) when the row does not exist. Conditional writes report whether a row matched.
type Repo interface {
	// Tenants
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListTenantsByUser(ctx context.Context, userID string) ([]Tenant, error)
	UpdateTenantProfile(ctx context.Context, id, name, slug string) (bool, error)
	// SetTenantPlan applies new limits only if current usage fits under them.
	SetTenantPlan(ctx context.Context, id string, plan Plan, maxUsers, maxFields int) (bool, error)
	// AdjustUsage atomically moves a usage counter by +1 or -1. Increments only match
	// while the counter is below its maximum; decrements only while it is above zero.
	AdjustUsage(ctx context.Context, tenantID string, c Counter, delta int) (bool, error)

	// Memberships
	CreateMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, id string) (*Membership, error)
	GetActiveMembership(ctx context.Context, tenantID, userID string) (*Membership, error)
	ListMemberships(ctx context.Context, tenantID string) ([]Membership, error)
	CountActiveMemberships(ctx context.Context, tenantID string, role Role) (int, error)
	SetMembershipStatus(ctx context.Context, id string, from, to MembershipStatus) (bool, error)
	SetMembershipRole(ctx context.Context, id string, role Role) error

	// Invitations
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	GetPendingInvitation(ctx context.Context, tenantID, email string) (*Invitation, error)
	ListInvitations(ctx context.Context, tenantID string) ([]Invitation, error)
	MarkInvitationAccepted(ctx context.Context, id, userID string, at time.Time) (bool, error)
	MarkInvitationRevoked(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// Workers
	CreateWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, id string) (*Worker, error)
	ListWorkers(ctx context.Context, tenantID string) ([]Worker, error)
	LinkWorkerMembership(ctx context.Context, workerID, membershipID string) (bool, error)
	// BackfillWorkerMembership links the oldest active, unlinked worker of the tenant whose
	// email matches. Returns the linked worker id or "" when none matched.
	BackfillWorkerMembership(ctx context.Context, tenantID, email, membershipID string) (string, error)
	SetWorkerStatus(ctx context.Context, id string, status WorkerStatus) error

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, tenantID string, limit, offset int) ([]AuditEvent, error)
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)
}

// Store is the persistence interface for the hub.
type Store interface {
	Repo

	// InTx runs fn inside one transaction. Every write made through the Repo handed to fn
	// is committed together when fn returns nil and discarded otherwise.
	InTx(ctx context.Context, fn func(Repo) error) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Counter names a tenant usage counter.
type Counter string

const (
	CounterUsers  Counter = "users"
	CounterFields Counter = "fields"
)

// Tenant represents an isolated customer organization.
type Tenant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Plan          Plan      `json:"plan"`
	MaxUsers      int       `json:"max_users"` // -1 = unlimited
	CurrentUsers  int       `json:"current_users"`
	MaxFields     int       `json:"max_fields"` // -1 = unlimited
	CurrentFields int       `json:"current_fields"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Membership binds a user to a tenant with a role.
type Membership struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenant_id"`
	UserID     string           `json:"user_id"`
	Role       Role             `json:"role_code"`
	Status     MembershipStatus `json:"status"`
	InvitedBy  string           `json:"invited_by,omitempty"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// IsActive reports whether the membership grants access.
func (m *Membership) IsActive() bool {
	return m.Status == MembershipActive
}

// Invitation is a single-use, time-limited offer for an email to join a tenant.
// Only the SHA-256 of the token is stored.
type Invitation struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Email      string     `json:"email"`
	Role       Role       `json:"role_code"`
	TokenHash  string     `json:"-"`
	InvitedBy  string     `json:"invited_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy string     `json:"accepted_by,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	RevokedBy  string     `json:"revoked_by,omitempty"`
}

// Terminal reports whether the invitation was accepted or revoked.
func (inv *Invitation) Terminal() bool {
	return inv.AcceptedAt != nil || inv.RevokedAt != nil
}

// Expired reports whether now is past the expiry instant.
func (inv *Invitation) Expired(now time.Time) bool {
	return now.After(inv.ExpiresAt)
}

// Status derives the lifecycle state. Stored terminal states win over expiry.
func (inv *Invitation) Status(now time.Time) InvitationStatus {
	switch {
	case inv.AcceptedAt != nil:
		return InvitationAccepted
	case inv.RevokedAt != nil:
		return InvitationRevoked
	case inv.Expired(now):
		return InvitationExpired
	default:
		return InvitationPending
	}
}

// Worker is an operational personnel record, optionally linked to a membership.
type Worker struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	FullName     string       `json:"full_name"`
	DocumentID   string       `json:"document_id,omitempty"`
	Email        string       `json:"email,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	AreaModule   Role         `json:"area_module"`
	MembershipID string       `json:"membership_id,omitempty"` // "" until linked
	Status       WorkerStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// AuditEvent is a log entry for audit purposes.
type AuditEvent struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

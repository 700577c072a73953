package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It backs demo mode and tests;
// nothing survives a restart.
type MemoryStore struct {
	memRepo
	mu sync.Mutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	s := &MemoryStore{}
	s.memRepo = memRepo{mu: &s.mu, data: newMemData()}
	return s
}

// InTx runs fn against a private copy of the data and swaps it in on success.
// The store lock is held for the whole call, so transactions are serialized.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memRepo{data: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

type memData struct {
	tenants     map[string]Tenant
	memberships map[string]Membership
	invitations map[string]Invitation
	workers     map[string]Worker
	audit       []AuditEvent
}

func newMemData() *memData {
	return &memData{
		tenants:     make(map[string]Tenant),
		memberships: make(map[string]Membership),
		invitations: make(map[string]Invitation),
		workers:     make(map[string]Worker),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.tenants {
		c.tenants[k] = v
	}
	for k, v := range d.memberships {
		c.memberships[k] = v
	}
	for k, v := range d.invitations {
		c.invitations[k] = v
	}
	for k, v := range d.workers {
		c.workers[k] = v
	}
	c.audit = append([]AuditEvent(nil), d.audit...)
	return c
}

// memRepo implements Repo over memData. mu is nil inside InTx, where the
// store lock is already held.
type memRepo struct {
	mu   *sync.Mutex
	data *memData
}

func (r *memRepo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func dup(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDuplicate, fmt.Sprintf(format, args...))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// --- Tenants ---

func (r *memRepo) CreateTenant(_ context.Context, t *Tenant) error {
	defer r.lock()()
	if _, ok := r.data.tenants[t.ID]; ok {
		return dup("tenant id %s", t.ID)
	}
	for _, existing := range r.data.tenants {
		if existing.Slug == t.Slug {
			return dup("tenant slug %s", t.Slug)
		}
	}
	r.data.tenants[t.ID] = *t
	return nil
}

func (r *memRepo) GetTenant(_ context.Context, id string) (*Tenant, error) {
	defer r.lock()()
	t, ok := r.data.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *memRepo) GetTenantBySlug(_ context.Context, slug string) (*Tenant, error) {
	defer r.lock()()
	for _, t := range r.data.tenants {
		if t.Slug == slug {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListTenantsByUser(_ context.Context, userID string) ([]Tenant, error) {
	defer r.lock()()
	var tenants []Tenant
	for _, m := range r.data.memberships {
		if m.UserID != userID || m.Status != MembershipActive {
			continue
		}
		if t, ok := r.data.tenants[m.TenantID]; ok {
			tenants = append(tenants, t)
		}
	}
	sort.Slice(tenants, func(i, j int) bool {
		if tenants[i].Name != tenants[j].Name {
			return tenants[i].Name < tenants[j].Name
		}
		return tenants[i].ID < tenants[j].ID
	})
	return tenants, nil
}

func (r *memRepo) UpdateTenantProfile(_ context.Context, id, name, slug string) (bool, error) {
	defer r.lock()()
	t, ok := r.data.tenants[id]
	if !ok {
		return false, nil
	}
	for _, other := range r.data.tenants {
		if other.ID != id && other.Slug == slug {
			return false, dup("tenant slug %s", slug)
		}
	}
	t.Name, t.Slug, t.UpdatedAt = name, slug, time.Now().UTC()
	r.data.tenants[id] = t
	return true, nil
}

func (r *memRepo) SetTenantPlan(_ context.Context, id string, plan Plan, maxUsers, maxFields int) (bool, error) {
	defer r.lock()()
	t, ok := r.data.tenants[id]
	if !ok {
		return false, nil
	}
	if (maxUsers >= 0 && t.CurrentUsers > maxUsers) || (maxFields >= 0 && t.CurrentFields > maxFields) {
		return false, nil
	}
	t.Plan, t.MaxUsers, t.MaxFields, t.UpdatedAt = plan, maxUsers, maxFields, time.Now().UTC()
	r.data.tenants[id] = t
	return true, nil
}

func (r *memRepo) AdjustUsage(_ context.Context, tenantID string, c Counter, delta int) (bool, error) {
	defer r.lock()()
	if delta != 1 && delta != -1 {
		return false, fmt.Errorf("usage delta must be +1 or -1, got %d", delta)
	}
	t, ok := r.data.tenants[tenantID]
	if !ok {
		return false, nil
	}
	var cur, lim *int
	switch c {
	case CounterUsers:
		cur, lim = &t.CurrentUsers, &t.MaxUsers
	case CounterFields:
		cur, lim = &t.CurrentFields, &t.MaxFields
	default:
		return false, fmt.Errorf("unknown counter %q", c)
	}
	if delta > 0 && *lim >= 0 && *cur >= *lim {
		return false, nil
	}
	if delta < 0 && *cur <= 0 {
		return false, nil
	}
	*cur += delta
	t.UpdatedAt = time.Now().UTC()
	r.data.tenants[tenantID] = t
	return true, nil
}

// --- Memberships ---

func (r *memRepo) CreateMembership(_ context.Context, m *Membership) error {
	defer r.lock()()
	if _, ok := r.data.memberships[m.ID]; ok {
		return dup("membership id %s", m.ID)
	}
	if _, ok := r.data.tenants[m.TenantID]; !ok {
		return fmt.Errorf("membership references unknown tenant %s", m.TenantID)
	}
	if m.Status == MembershipActive {
		for _, existing := range r.data.memberships {
			if existing.TenantID == m.TenantID && existing.UserID == m.UserID && existing.Status == MembershipActive {
				return dup("active membership for user %s", m.UserID)
			}
		}
	}
	r.data.memberships[m.ID] = *m
	return nil
}

func (r *memRepo) GetMembership(_ context.Context, id string) (*Membership, error) {
	defer r.lock()()
	m, ok := r.data.memberships[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *memRepo) GetActiveMembership(_ context.Context, tenantID, userID string) (*Membership, error) {
	defer r.lock()()
	for _, m := range r.data.memberships {
		if m.TenantID == tenantID && m.UserID == userID && m.Status == MembershipActive {
			return &m, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListMemberships(_ context.Context, tenantID string) ([]Membership, error) {
	defer r.lock()()
	var members []Membership
	for _, m := range r.data.memberships {
		if m.TenantID == tenantID {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID < members[j].ID
	})
	return members, nil
}

func (r *memRepo) CountActiveMemberships(_ context.Context, tenantID string, role Role) (int, error) {
	defer r.lock()()
	n := 0
	for _, m := range r.data.memberships {
		if m.TenantID == tenantID && m.Role == role && m.Status == MembershipActive {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) SetMembershipStatus(_ context.Context, id string, from, to MembershipStatus) (bool, error) {
	defer r.lock()()
	m, ok := r.data.memberships[id]
	if !ok || m.Status != from {
		return false, nil
	}
	if to == MembershipActive {
		for _, other := range r.data.memberships {
			if other.ID != id && other.TenantID == m.TenantID && other.UserID == m.UserID && other.Status == MembershipActive {
				return false, dup("active membership for user %s", m.UserID)
			}
		}
	}
	m.Status, m.UpdatedAt = to, time.Now().UTC()
	r.data.memberships[id] = m
	return true, nil
}

func (r *memRepo) SetMembershipRole(_ context.Context, id string, role Role) error {
	defer r.lock()()
	m, ok := r.data.memberships[id]
	if !ok {
		return nil
	}
	m.Role, m.UpdatedAt = role, time.Now().UTC()
	r.data.memberships[id] = m
	return nil
}

// --- Invitations ---

func (r *memRepo) CreateInvitation(_ context.Context, inv *Invitation) error {
	defer r.lock()()
	if _, ok := r.data.invitations[inv.ID]; ok {
		return dup("invitation id %s", inv.ID)
	}
	if _, ok := r.data.tenants[inv.TenantID]; !ok {
		return fmt.Errorf("invitation references unknown tenant %s", inv.TenantID)
	}
	for _, existing := range r.data.invitations {
		if existing.TokenHash == inv.TokenHash {
			return dup("invitation token")
		}
		if !inv.Terminal() && !existing.Terminal() &&
			existing.TenantID == inv.TenantID && existing.Email == inv.Email {
			return dup("pending invitation for %s", inv.Email)
		}
	}
	r.data.invitations[inv.ID] = *inv
	return nil
}

func (r *memRepo) GetInvitation(_ context.Context, id string) (*Invitation, error) {
	defer r.lock()()
	inv, ok := r.data.invitations[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r *memRepo) GetInvitationByTokenHash(_ context.Context, tokenHash string) (*Invitation, error) {
	defer r.lock()()
	for _, inv := range r.data.invitations {
		if inv.TokenHash == tokenHash {
			return &inv, nil
		}
	}
	return nil, nil
}

func (r *memRepo) GetPendingInvitation(_ context.Context, tenantID, email string) (*Invitation, error) {
	defer r.lock()()
	for _, inv := range r.data.invitations {
		if inv.TenantID == tenantID && inv.Email == email && !inv.Terminal() {
			return &inv, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListInvitations(_ context.Context, tenantID string) ([]Invitation, error) {
	defer r.lock()()
	var invs []Invitation
	for _, inv := range r.data.invitations {
		if inv.TenantID == tenantID {
			invs = append(invs, inv)
		}
	}
	sort.Slice(invs, func(i, j int) bool {
		if !invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
			return invs[i].CreatedAt.After(invs[j].CreatedAt)
		}
		return invs[i].ID < invs[j].ID
	})
	return invs, nil
}

func (r *memRepo) MarkInvitationAccepted(_ context.Context, id, userID string, at time.Time) (bool, error) {
	defer r.lock()()
	inv, ok := r.data.invitations[id]
	if !ok || inv.Terminal() {
		return false, nil
	}
	inv.AcceptedAt, inv.AcceptedBy = timePtr(at.UTC()), userID
	r.data.invitations[id] = inv
	return true, nil
}

func (r *memRepo) MarkInvitationRevoked(_ context.Context, id, userID string, at time.Time) (bool, error) {
	defer r.lock()()
	inv, ok := r.data.invitations[id]
	if !ok || inv.Terminal() {
		return false, nil
	}
	inv.RevokedAt, inv.RevokedBy = timePtr(at.UTC()), userID
	r.data.invitations[id] = inv
	return true, nil
}

// --- Workers ---

func (r *memRepo) CreateWorker(_ context.Context, w *Worker) error {
	defer r.lock()()
	if _, ok := r.data.workers[w.ID]; ok {
		return dup("worker id %s", w.ID)
	}
	if _, ok := r.data.tenants[w.TenantID]; !ok {
		return fmt.Errorf("worker references unknown tenant %s", w.TenantID)
	}
	r.data.workers[w.ID] = *w
	return nil
}

func (r *memRepo) GetWorker(_ context.Context, id string) (*Worker, error) {
	defer r.lock()()
	w, ok := r.data.workers[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *memRepo) ListWorkers(_ context.Context, tenantID string) ([]Worker, error) {
	defer r.lock()()
	var workers []Worker
	for _, w := range r.data.workers {
		if w.TenantID == tenantID {
			workers = append(workers, w)
		}
	}
	sort.Slice(workers, func(i, j int) bool {
		if workers[i].FullName != workers[j].FullName {
			return workers[i].FullName < workers[j].FullName
		}
		return workers[i].ID < workers[j].ID
	})
	return workers, nil
}

func (r *memRepo) LinkWorkerMembership(_ context.Context, workerID, membershipID string) (bool, error) {
	defer r.lock()()
	return r.linkWorker(workerID, membershipID), nil
}

func (r *memRepo) linkWorker(workerID, membershipID string) bool {
	w, ok := r.data.workers[workerID]
	if !ok || w.MembershipID != "" {
		return false
	}
	w.MembershipID, w.UpdatedAt = membershipID, time.Now().UTC()
	r.data.workers[workerID] = w
	return true
}

func (r *memRepo) BackfillWorkerMembership(_ context.Context, tenantID, email, membershipID string) (string, error) {
	defer r.lock()()
	var match *Worker
	for _, w := range r.data.workers {
		if w.TenantID != tenantID || w.MembershipID != "" || w.Status != WorkerActive || w.Email != email {
			continue
		}
		if match == nil || w.CreatedAt.Before(match.CreatedAt) ||
			(w.CreatedAt.Equal(match.CreatedAt) && w.ID < match.ID) {
			w := w
			match = &w
		}
	}
	if match == nil || !r.linkWorker(match.ID, membershipID) {
		return "", nil
	}
	return match.ID, nil
}

func (r *memRepo) SetWorkerStatus(_ context.Context, id string, status WorkerStatus) error {
	defer r.lock()()
	w, ok := r.data.workers[id]
	if !ok {
		return nil
	}
	w.Status, w.UpdatedAt = status, time.Now().UTC()
	r.data.workers[id] = w
	return nil
}

// --- Audit ---

func (r *memRepo) LogAuditEvent(_ context.Context, event *AuditEvent) error {
	defer r.lock()()
	r.data.audit = append(r.data.audit, *event)
	return nil
}

func (r *memRepo) ListAuditEvents(_ context.Context, tenantID string, limit, offset int) ([]AuditEvent, error) {
	defer r.lock()()
	var events []AuditEvent
	for _, e := range r.data.audit {
		if e.TenantID == tenantID {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if offset >= len(events) {
		return nil, nil
	}
	events = events[offset:]
	if limit >= 0 && limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

func (r *memRepo) PurgeOldAuditEvents(_ context.Context, before time.Time) (int64, error) {
	defer r.lock()()
	kept := r.data.audit[:0]
	var purged int64
	for _, e := range r.data.audit {
		if e.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.data.audit = kept
	return purged, nil
}

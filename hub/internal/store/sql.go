package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the differences between the SQL backends. Queries are written
// with ? placeholders and rebound per dialect.
type dialect struct {
	numbered   bool // $1, $2, ... placeholders
	rowLocks   bool // supports SELECT ... FOR UPDATE
	uniqueViol func(error) bool
}

// sqlRepo implements Repo over a database handle or an open transaction.
type sqlRepo struct {
	db   dbtx
	d    dialect
	inTx bool
}

// sqlStore is the transaction-capable base shared by SQLiteStore and PostgresStore.
type sqlStore struct {
	sqlRepo
	conn *sql.DB
}

func newSQLStore(db *sql.DB, d dialect) sqlStore {
	return sqlStore{sqlRepo: sqlRepo{db: db, d: d}, conn: db}
}

func (s *sqlStore) InTx(ctx context.Context, fn func(Repo) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlRepo{db: tx, d: s.d, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.conn.Close()
}

func (r *sqlRepo) q(query string) string {
	if !r.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// forUpdate locks the selected row for the rest of the transaction where supported.
func (r *sqlRepo) forUpdate() string {
	if r.inTx && r.d.rowLocks {
		return " FOR UPDATE"
	}
	return ""
}

func (r *sqlRepo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil && r.d.uniqueViol != nil && r.d.uniqueViol(err) {
		return nil, fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return res, err
}

// execMatched runs a conditional write and reports whether any row matched.
func (r *sqlRepo) execMatched(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return u
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

// --- Tenants ---

const tenantCols = "id, name, slug, plan, max_users, current_users, max_fields, current_fields, created_by, created_at, updated_at"

func scanTenant(sc scanner) (*Tenant, error) {
	var t Tenant
	err := sc.Scan(&t.ID, &t.Name, &t.Slug, &t.Plan, &t.MaxUsers, &t.CurrentUsers,
		&t.MaxFields, &t.CurrentFields, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func (r *sqlRepo) CreateTenant(ctx context.Context, t *Tenant) error {
	_, err := r.exec(ctx,
		`INSERT INTO tenants (id, name, slug, plan, max_users, current_users, max_fields, current_fields, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Slug, t.Plan, t.MaxUsers, t.CurrentUsers, t.MaxFields, t.CurrentFields,
		t.CreatedBy, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	return err
}

func (r *sqlRepo) getTenant(ctx context.Context, where string, arg any) (*Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		r.q("SELECT "+tenantCols+" FROM tenants WHERE "+where+" = ?"+r.forUpdate()), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *sqlRepo) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return r.getTenant(ctx, "id", id)
}

func (r *sqlRepo) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return r.getTenant(ctx, "slug", slug)
}

func (r *sqlRepo) ListTenantsByUser(ctx context.Context, userID string) ([]Tenant, error) {
	rows, err := r.db.QueryContext(ctx, r.q(
		`SELECT t.id, t.name, t.slug, t.plan, t.max_users, t.current_users, t.max_fields, t.current_fields, t.created_by, t.created_at, t.updated_at
		 FROM tenants t JOIN memberships m ON m.tenant_id = t.id
		 WHERE m.user_id = ? AND m.status = 'active'
		 ORDER BY t.name, t.id`), userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tenants []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func (r *sqlRepo) UpdateTenantProfile(ctx context.Context, id, name, slug string) (bool, error) {
	return r.execMatched(ctx,
		"UPDATE tenants SET name = ?, slug = ?, updated_at = ? WHERE id = ?",
		name, slug, time.Now().UTC(), id)
}

func (r *sqlRepo) SetTenantPlan(ctx context.Context, id string, plan Plan, maxUsers, maxFields int) (bool, error) {
	query := "UPDATE tenants SET plan = ?, max_users = ?, max_fields = ?, updated_at = ? WHERE id = ?"
	args := []any{plan, maxUsers, maxFields, time.Now().UTC(), id}
	if maxUsers >= 0 {
		query += " AND current_users <= ?"
		args = append(args, maxUsers)
	}
	if maxFields >= 0 {
		query += " AND current_fields <= ?"
		args = append(args, maxFields)
	}
	return r.execMatched(ctx, query, args...)
}

func (r *sqlRepo) AdjustUsage(ctx context.Context, tenantID string, c Counter, delta int) (bool, error) {
	var cur, lim string
	switch c {
	case CounterUsers:
		cur, lim = "current_users", "max_users"
	case CounterFields:
		cur, lim = "current_fields", "max_fields"
	default:
		return false, fmt.Errorf("unknown counter %q", c)
	}

	var query string
	switch delta {
	case 1:
		query = fmt.Sprintf("UPDATE tenants SET %[1]s = %[1]s + 1, updated_at = ? WHERE id = ? AND (%[2]s < 0 OR %[1]s < %[2]s)", cur, lim)
	case -1:
		query = fmt.Sprintf("UPDATE tenants SET %[1]s = %[1]s - 1, updated_at = ? WHERE id = ? AND %[1]s > 0", cur)
	default:
		return false, fmt.Errorf("usage delta must be +1 or -1, got %d", delta)
	}
	return r.execMatched(ctx, query, time.Now().UTC(), tenantID)
}

// --- Memberships ---

const membershipCols = "id, tenant_id, user_id, role_code, status, invited_by, accepted_at, created_at, updated_at"

func scanMembership(sc scanner) (*Membership, error) {
	var m Membership
	var accepted sql.NullTime
	err := sc.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.Status, &m.InvitedBy,
		&accepted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.AcceptedAt = utcPtr(accepted)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (r *sqlRepo) CreateMembership(ctx context.Context, m *Membership) error {
	_, err := r.exec(ctx,
		`INSERT INTO memberships (id, tenant_id, user_id, role_code, status, invited_by, accepted_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.UserID, m.Role, m.Status, m.InvitedBy, nullTime(m.AcceptedAt),
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return err
}

func (r *sqlRepo) GetMembership(ctx context.Context, id string) (*Membership, error) {
	m, err := scanMembership(r.db.QueryRowContext(ctx,
		r.q("SELECT "+membershipCols+" FROM memberships WHERE id = ?"+r.forUpdate()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *sqlRepo) GetActiveMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	m, err := scanMembership(r.db.QueryRowContext(ctx,
		r.q("SELECT "+membershipCols+" FROM memberships WHERE tenant_id = ? AND user_id = ? AND status = 'active'"+r.forUpdate()),
		tenantID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *sqlRepo) ListMemberships(ctx context.Context, tenantID string) ([]Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q("SELECT "+membershipCols+" FROM memberships WHERE tenant_id = ? ORDER BY created_at, id"), tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (r *sqlRepo) CountActiveMemberships(ctx context.Context, tenantID string, role Role) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		r.q("SELECT COUNT(*) FROM memberships WHERE tenant_id = ? AND role_code = ? AND status = 'active'"),
		tenantID, role).Scan(&n)
	return n, err
}

func (r *sqlRepo) SetMembershipStatus(ctx context.Context, id string, from, to MembershipStatus) (bool, error) {
	return r.execMatched(ctx,
		"UPDATE memberships SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, time.Now().UTC(), id, from)
}

func (r *sqlRepo) SetMembershipRole(ctx context.Context, id string, role Role) error {
	_, err := r.exec(ctx,
		"UPDATE memberships SET role_code = ?, updated_at = ? WHERE id = ?",
		role, time.Now().UTC(), id)
	return err
}

// --- Invitations ---

const invitationCols = "id, tenant_id, email, role_code, token_hash, invited_by, created_at, expires_at, accepted_at, accepted_by, revoked_at, revoked_by"

func scanInvitation(sc scanner) (*Invitation, error) {
	var inv Invitation
	var accepted, revoked sql.NullTime
	err := sc.Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.InvitedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &accepted, &inv.AcceptedBy, &revoked, &inv.RevokedBy)
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	inv.AcceptedAt = utcPtr(accepted)
	inv.RevokedAt = utcPtr(revoked)
	return &inv, nil
}

func (r *sqlRepo) CreateInvitation(ctx context.Context, inv *Invitation) error {
	_, err := r.exec(ctx,
		`INSERT INTO invitations (id, tenant_id, email, role_code, token_hash, invited_by, created_at, expires_at, accepted_at, accepted_by, revoked_at, revoked_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.TenantID, inv.Email, inv.Role, inv.TokenHash, inv.InvitedBy,
		inv.CreatedAt.UTC(), inv.ExpiresAt.UTC(), nullTime(inv.AcceptedAt), inv.AcceptedBy,
		nullTime(inv.RevokedAt), inv.RevokedBy,
	)
	return err
}

func (r *sqlRepo) getInvitation(ctx context.Context, where string, args ...any) (*Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRowContext(ctx,
		r.q("SELECT "+invitationCols+" FROM invitations WHERE "+where+r.forUpdate()), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

func (r *sqlRepo) GetInvitation(ctx context.Context, id string) (*Invitation, error) {
	return r.getInvitation(ctx, "id = ?", id)
}

func (r *sqlRepo) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	return r.getInvitation(ctx, "token_hash = ?", tokenHash)
}

func (r *sqlRepo) GetPendingInvitation(ctx context.Context, tenantID, email string) (*Invitation, error) {
	return r.getInvitation(ctx,
		"tenant_id = ? AND email = ? AND accepted_at IS NULL AND revoked_at IS NULL", tenantID, email)
}

func (r *sqlRepo) ListInvitations(ctx context.Context, tenantID string) ([]Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q("SELECT "+invitationCols+" FROM invitations WHERE tenant_id = ? ORDER BY created_at DESC, id"), tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var invs []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, *inv)
	}
	return invs, rows.Err()
}

func (r *sqlRepo) MarkInvitationAccepted(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	return r.execMatched(ctx,
		`UPDATE invitations SET accepted_at = ?, accepted_by = ?
		 WHERE id = ? AND accepted_at IS NULL AND revoked_at IS NULL`,
		at.UTC(), userID, id)
}

func (r *sqlRepo) MarkInvitationRevoked(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	return r.execMatched(ctx,
		`UPDATE invitations SET revoked_at = ?, revoked_by = ?
		 WHERE id = ? AND accepted_at IS NULL AND revoked_at IS NULL`,
		at.UTC(), userID, id)
}

// --- Workers ---

const workerCols = "id, tenant_id, full_name, document_id, email, phone, area_module, membership_id, status, created_at, updated_at"

func scanWorker(sc scanner) (*Worker, error) {
	var w Worker
	err := sc.Scan(&w.ID, &w.TenantID, &w.FullName, &w.DocumentID, &w.Email, &w.Phone,
		&w.AreaModule, &w.MembershipID, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

func (r *sqlRepo) CreateWorker(ctx context.Context, w *Worker) error {
	_, err := r.exec(ctx,
		`INSERT INTO workers (id, tenant_id, full_name, document_id, email, phone, area_module, membership_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.TenantID, w.FullName, w.DocumentID, w.Email, w.Phone, w.AreaModule,
		w.MembershipID, w.Status, w.CreatedAt.UTC(), w.UpdatedAt.UTC(),
	)
	return err
}

func (r *sqlRepo) GetWorker(ctx context.Context, id string) (*Worker, error) {
	w, err := scanWorker(r.db.QueryRowContext(ctx,
		r.q("SELECT "+workerCols+" FROM workers WHERE id = ?"+r.forUpdate()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (r *sqlRepo) ListWorkers(ctx context.Context, tenantID string) ([]Worker, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q("SELECT "+workerCols+" FROM workers WHERE tenant_id = ? ORDER BY full_name, id"), tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var workers []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

func (r *sqlRepo) LinkWorkerMembership(ctx context.Context, workerID, membershipID string) (bool, error) {
	return r.execMatched(ctx,
		"UPDATE workers SET membership_id = ?, updated_at = ? WHERE id = ? AND membership_id = ''",
		membershipID, time.Now().UTC(), workerID)
}

func (r *sqlRepo) BackfillWorkerMembership(ctx context.Context, tenantID, email, membershipID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, r.q(
		`SELECT id FROM workers
		 WHERE tenant_id = ? AND email = ? AND membership_id = '' AND status = 'active'
		 ORDER BY created_at, id LIMIT 1`+r.forUpdate()),
		tenantID, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	ok, err := r.LinkWorkerMembership(ctx, id, membershipID)
	if err != nil || !ok {
		return "", err
	}
	return id, nil
}

func (r *sqlRepo) SetWorkerStatus(ctx context.Context, id string, status WorkerStatus) error {
	_, err := r.exec(ctx,
		"UPDATE workers SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	return err
}

// --- Audit ---

func (r *sqlRepo) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	detail := ""
	if event.Detail != nil {
		detail = string(event.Detail)
	}
	_, err := r.exec(ctx,
		`INSERT INTO audit_events (id, tenant_id, action, actor_id, subject_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.TenantID, event.Action, event.ActorID, event.SubjectID, detail, event.CreatedAt.UTC(),
	)
	return err
}

func (r *sqlRepo) ListAuditEvents(ctx context.Context, tenantID string, limit, offset int) ([]AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.q(
		`SELECT id, tenant_id, action, actor_id, subject_id, detail, created_at
		 FROM audit_events WHERE tenant_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &e.ActorID, &e.SubjectID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			e.Detail = json.RawMessage(detail)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *sqlRepo) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.exec(ctx, "DELETE FROM audit_events WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package tenancy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/billing"
	"github.com/agroops/agrohub/hub/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *Service
	store store.Store
	clock *fakeClock
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	svc := New(s, billing.NewQuota(testLogger()), testLogger(), Options{
		PublicURL: "https://app.agrohub.test",
		Clock:     clock.Now,
	})
	return &fixture{svc: svc, store: s, clock: clock}
}

// forEachStore runs fn against a fresh SQLite store and a fresh memory store, so both
// backends are held to the same behaviour.
func forEachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		s, err := store.NewSQLite(":memory:")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		fn(t, newFixture(t, s))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, newFixture(t, store.NewMemory()))
	})
}

func (f *fixture) createTenant(t *testing.T, slug, ownerID string) *store.Tenant {
	t.Helper()
	tn, err := f.svc.Tenants.CreateTenant(context.Background(),
		CreateTenantInput{Name: "Fundo " + slug, Slug: slug, Plan: "basic"}, ownerID)
	if err != nil {
		t.Fatalf("CreateTenant(%s): %v", slug, err)
	}
	return tn
}

func (f *fixture) invite(t *testing.T, tenantID, email, role, by string) *IssuedInvitation {
	t.Helper()
	issued, err := f.svc.Invitations.Invite(context.Background(),
		InviteInput{TenantID: tenantID, Email: email, Role: role}, by)
	if err != nil {
		t.Fatalf("Invite(%s): %v", email, err)
	}
	return issued
}

func (f *fixture) addMember(t *testing.T, tenantID, userID string, role store.Role) *store.Membership {
	t.Helper()
	m, err := f.svc.Members.CreateMembership(context.Background(), tenantID, userID, role, "owner-1")
	if err != nil {
		t.Fatalf("CreateMembership(%s): %v", userID, err)
	}
	return m
}

func (f *fixture) currentUsers(t *testing.T, tenantID string) int {
	t.Helper()
	l, err := f.svc.Tenants.GetLimits(context.Background(), tenantID)
	if err != nil {
		t.Fatal(err)
	}
	return l.Users.Current
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func expectKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); got != want {
		t.Fatalf("expected kind %v, got %v (%v)", want, got, err)
	}
}

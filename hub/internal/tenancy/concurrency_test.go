package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/store"
)

// runConcurrently starts n goroutines at once and collects their errors.
func runConcurrently(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func countOutcomes(t *testing.T, errs []error, want error) (ok, matched int) {
	t.Helper()
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, want):
			matched++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	return ok, matched
}

func TestConcurrentAcceptSameToken(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		tn := f.createTenant(t, "acme", "owner-1")
		issued := f.invite(t, tn.ID, "bob@acme.com", "campo", "owner-1")

		errs := runConcurrently(10, func(i int) error {
			_, err := f.svc.Invitations.Accept(ctx, AcceptInput{Token: issued.Token, UserID: fmt.Sprintf("user-%d", i)})
			return err
		})
		ok, conflicts := countOutcomes(t, errs, apperr.ErrAlreadyUsedOrRevoked)
		if ok != 1 || conflicts != 9 {
			t.Fatalf("ok=%d conflicts=%d, want 1/9", ok, conflicts)
		}
		if got := f.currentUsers(t, tn.ID); got != 2 {
			t.Fatalf("current_users = %d, want 2", got)
		}
	})
}

func TestConcurrentInviteSameEmail(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		tn := f.createTenant(t, "acme", "owner-1")

		errs := runConcurrently(8, func(int) error {
			_, err := f.svc.Invitations.Invite(ctx, InviteInput{TenantID: tn.ID, Email: "bob@acme.com", Role: "campo"}, "owner-1")
			return err
		})
		ok, dupes := countOutcomes(t, errs, apperr.ErrDuplicatePending)
		if ok != 1 || dupes != 7 {
			t.Fatalf("ok=%d duplicates=%d, want 1/7", ok, dupes)
		}
	})
}

func TestConcurrentAcceptAtQuotaBoundary(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		tn := f.createTenant(t, "acme", "owner-1")
		if _, err := f.store.SetTenantPlan(ctx, tn.ID, store.PlanBasic, 2, 5); err != nil {
			t.Fatal(err)
		}
		tokens := make([]string, 5)
		for i := range tokens {
			tokens[i] = f.invite(t, tn.ID, fmt.Sprintf("user%d@acme.com", i), "campo", "owner-1").Token
		}

		errs := runConcurrently(len(tokens), func(i int) error {
			_, err := f.svc.Invitations.Accept(ctx, AcceptInput{Token: tokens[i], UserID: fmt.Sprintf("user-%d", i)})
			return err
		})
		ok, full := countOutcomes(t, errs, apperr.ErrTenantFull)
		if ok != 1 || full != 4 {
			t.Fatalf("ok=%d full=%d, want 1/4", ok, full)
		}
		if got := f.currentUsers(t, tn.ID); got != 2 {
			t.Fatalf("current_users = %d, want 2", got)
		}
	})
}

func TestConcurrentAcceptSameUserTwoInvitations(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		tn := f.createTenant(t, "acme", "owner-1")
		a := f.invite(t, tn.ID, "bob@acme.com", "campo", "owner-1")
		b := f.invite(t, tn.ID, "bob@personal.com", "empaque", "owner-1")
		tokens := []string{a.Token, b.Token}

		errs := runConcurrently(2, func(i int) error {
			_, err := f.svc.Invitations.Accept(ctx, AcceptInput{Token: tokens[i], UserID: "bob-id"})
			return err
		})
		ok, dupes := countOutcomes(t, errs, apperr.ErrDuplicateActiveMembership)
		if ok != 1 || dupes != 1 {
			t.Fatalf("ok=%d duplicates=%d, want 1/1", ok, dupes)
		}

		members, _ := f.svc.Members.ListMembers(ctx, tn.ID, "owner-1")
		active := 0
		for _, m := range members {
			if m.UserID == "bob-id" && m.IsActive() {
				active++
			}
		}
		if active != 1 {
			t.Fatalf("active memberships for bob = %d", active)
		}
	})
}

func TestConcurrentCreateTenantSameSlug(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		errs := runConcurrently(6, func(i int) error {
			_, err := f.svc.Tenants.CreateTenant(ctx, CreateTenantInput{Name: "Acme", Slug: "acme"}, fmt.Sprintf("owner-%d", i))
			return err
		})
		ok, taken := countOutcomes(t, errs, apperr.ErrSlugTaken)
		if ok != 1 || taken != 5 {
			t.Fatalf("ok=%d taken=%d, want 1/5", ok, taken)
		}
	})
}

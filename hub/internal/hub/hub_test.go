package hub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/agroops/agrohub/hub/internal/apperr"
	"github.com/agroops/agrohub/hub/internal/config"
	"github.com/agroops/agrohub/hub/internal/store"
	"github.com/agroops/agrohub/hub/internal/tenancy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	cfg := config.Demo("test-secret-at-least-32-chars-long")
	cfg.Server.Addr = "127.0.0.1:0"
	h, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestNewDemoHub(t *testing.T) {
	h := newTestHub(t)
	t.Cleanup(h.Close)

	if h.AuthProvider().Name() != "builtin" {
		t.Errorf("provider: got %q", h.AuthProvider().Name())
	}
	tn, err := h.Services().Tenants.CreateTenant(context.Background(),
		tenancy.CreateTenantInput{Name: "Fundo Demo", Slug: "fundo-demo"}, "owner-1")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if tn.Plan != store.PlanBasic {
		t.Errorf("default plan: got %q", tn.Plan)
	}
}

func TestPurgeAuditEvents(t *testing.T) {
	h := newTestHub(t)
	t.Cleanup(h.Close)
	ctx := context.Background()

	if _, err := h.Services().Tenants.CreateTenant(ctx,
		tenancy.CreateTenantInput{Name: "Fundo Viejo", Slug: "fundo-viejo"}, "owner-1"); err != nil {
		t.Fatal(err)
	}

	n, err := h.purgeAuditEvents(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("fresh events must survive: n=%d err=%v", n, err)
	}

	h.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = h.purgeAuditEvents(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("expected old audit events to be purged")
	}
}

func TestOpenStoreUnsupportedDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StorageConfig{Driver: "mysql", ConnectRetries: 1}, testLogger())
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRunShutsDown(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled && err != nil && err != http.ErrServerClosed {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not shut down")
	}
}

func TestQuotaLogsTagComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	cfg := config.Demo("test-secret-at-least-32-chars-long")
	svc := NewServices(store.NewMemory(), cfg, logger)
	ctx := context.Background()

	tn, err := svc.Tenants.CreateTenant(ctx, tenancy.CreateTenantInput{Name: "Fundo Lleno", Slug: "fundo-lleno"}, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	for i := tn.CurrentUsers; i < tn.MaxUsers; i++ {
		if _, err := svc.Members.CreateMembership(ctx, tn.ID, fmt.Sprintf("user-%d", i), store.RoleCampo, "owner-1"); err != nil {
			t.Fatal(err)
		}
	}
	_, err = svc.Members.CreateMembership(ctx, tn.ID, "one-too-many", store.RoleCampo, "owner-1")
	if !errors.Is(err, apperr.ErrTenantFull) {
		t.Fatalf("expected tenant full, got %v", err)
	}

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "quota exhausted") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no quota log line in %s", buf.String())
	}
	if n := strings.Count(line, `"component":"quota"`); n != 1 {
		t.Errorf("component attribute appears %d times: %s", n, line)
	}
}

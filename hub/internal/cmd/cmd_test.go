package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]any{
		"server":  map[string]any{"addr": ":0", "public_url": "https://app.example.com"},
		"auth":    map[string]any{"jwt_secret": "cmd-test-secret-that-is-long-enough-1234"},
		"storage": map[string]any{"driver": "sqlite", "dsn": filepath.Join(dir, "agrohub.db")},
		"logging": map[string]any{"level": "error"},
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "agrohub.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--env-file", ""))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "agrohub test" {
		t.Errorf("output = %q", out)
	}
}

func TestTokenCmd(t *testing.T) {
	path := writeTestConfig(t)
	out, err := execute(t, "token", "-c", path, "--user-id", "u-1", "--email", "ana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("expected a JWT, got %q", out)
	}
}

func TestTenantAndInviteCmds(t *testing.T) {
	path := writeTestConfig(t)

	out, err := execute(t, "tenant", "create", "-c", path, "--name", "Fundo Los Robles", "--slug", "los-robles", "--owner", "owner-1")
	if err != nil {
		t.Fatalf("tenant create: %v", err)
	}
	var tenant struct {
		ID           string `json:"id"`
		Slug         string `json:"slug"`
		CurrentUsers int    `json:"current_users"`
	}
	if err := json.Unmarshal([]byte(out), &tenant); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if tenant.Slug != "los-robles" || tenant.CurrentUsers != 1 {
		t.Errorf("tenant = %+v", tenant)
	}

	out, err = execute(t, "tenant", "list", "-c", path, "--user", "owner-1")
	if err != nil {
		t.Fatalf("tenant list: %v", err)
	}
	if !strings.Contains(out, tenant.ID) {
		t.Errorf("list output missing tenant: %s", out)
	}

	out, err = execute(t, "invite", "-c", path, "--tenant", tenant.ID, "--email", "Pedro@Example.com", "--as", "owner-1")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if !strings.Contains(out, "pedro@example.com") || !strings.Contains(out, "https://app.example.com/") {
		t.Errorf("invite output = %s", out)
	}

	out, err = execute(t, "invite", "list", "-c", path, "--tenant", tenant.ID, "--as", "owner-1")
	if err != nil {
		t.Fatalf("invite list: %v", err)
	}
	if !strings.Contains(out, "pedro@example.com") {
		t.Errorf("invite list output = %s", out)
	}

	out, err = execute(t, "tenant", "limits", "-c", path, tenant.ID)
	if err != nil {
		t.Fatalf("tenant limits: %v", err)
	}
	if !strings.Contains(out, `"plan": "basic"`) {
		t.Errorf("limits output = %s", out)
	}

	if _, err := execute(t, "invite", "-c", path, "--tenant", tenant.ID, "--email", "x@example.com", "--as", "stranger"); err == nil {
		t.Error("expected non-member invite to fail")
	}
}

func TestAdminRejectsMemoryDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agrohub.json")
	cfg := `{"server":{"addr":":0"},"auth":{"jwt_secret":"cmd-test-secret-that-is-long-enough-1234"},"storage":{"driver":"memory"}}`
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "tenant", "list", "-c", path, "--user", "u"); err == nil {
		t.Error("expected error for memory driver")
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}

func TestResolveConfigPathEnv(t *testing.T) {
	t.Setenv("AGROHUB_CONFIG", "/etc/agrohub.json")
	root := NewRootCmd("test")
	if got := resolveConfigPath(root, nil, defaultConfigPath); got != "/etc/agrohub.json" {
		t.Errorf("got %q", got)
	}
	if got := resolveConfigPath(root, []string{"x.json"}, defaultConfigPath); got != "x.json" {
		t.Errorf("got %q", got)
	}
}

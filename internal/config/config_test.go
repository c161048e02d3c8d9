package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/wirectl/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadUsers(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
[[users]]
name = "neo"
token = "red-pill"

[[users]]
name = "trinity"
token = "white-rabbit"
`)
	cfg, err := LoadUsers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(cfg.Users))
	}
	table := cfg.Table()
	if err := table.Authenticate("trinity", "white-rabbit"); err != nil {
		t.Fatalf("expected trinity accepted: %v", err)
	}
}

func TestLoadUsersRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing name", body: "[[users]]\ntoken = \"x\"\n", want: "name is required"},
		{name: "missing token", body: "[[users]]\nname = \"x\"\n", want: "token is required"},
		{name: "duplicate", body: "[[users]]\nname = \"x\"\ntoken = \"a\"\n[[users]]\nname = \"x\"\ntoken = \"b\"\n", want: "duplicate"},
		{name: "bad toml", body: "[[users]\n", want: "config parse failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadUsers(writeFile(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if _, err := LoadUsers(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTemplates(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "users.toml")
	if err := WriteTemplate(path, "users", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "users", false); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if _, err := LoadUsers(path); err != nil {
		t.Fatalf("users template should load: %v", err)
	}
	if _, err := Template("cluster"); err == nil {
		t.Fatal("expected unknown kind error")
	}
	if s, err := Template(" Server "); err != nil || !strings.Contains(s, "admin_addr") {
		t.Fatalf("unexpected server template: %v", err)
	}
}

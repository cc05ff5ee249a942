package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
[[profile]]
name = "work"
host = "imap.example.com"
port = 993
security = "tls"
username = "alice"
sasl_mechanisms = ["PLAIN"]
mailbox = "INBOX"
idle_keepalive_minutes = 10

[[profile]]
name = "home"
host = "mail.example.net"
port = 143
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(cfg.Profiles))
	}

	work := cfg.Lookup("work")
	if work == nil {
		t.Fatalf("Lookup(work) = nil")
	}
	if work.Security != TLSModeImplicit {
		t.Fatalf("security = %q, want tls", work.Security)
	}
	if work.Addr() != "imap.example.com:993" {
		t.Fatalf("Addr = %q", work.Addr())
	}
	if work.IdleKeepalive() != 10*time.Minute {
		t.Fatalf("IdleKeepalive = %v", work.IdleKeepalive())
	}

	home := cfg.Lookup("home")
	if home.Security != TLSModeStartTLS {
		t.Fatalf("security should default to starttls, got %q", home.Security)
	}
	if home.IdleKeepalive() != 25*time.Minute {
		t.Fatalf("keepalive should default to 25m, got %v", home.IdleKeepalive())
	}

	if cfg.Lookup("nope") != nil {
		t.Fatalf("Lookup of a missing profile must be nil")
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeConfig(t, `
[[profile]]
name = "a"
host = "h"
port = 143

[[profile]]
name = "a"
host = "h2"
port = 143
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate-name error, got %v", err)
	}
}

func TestLoadRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"no name", "[[profile]]\nhost = \"h\"\nport = 143\n"},
		{"no host", "[[profile]]\nname = \"a\"\nport = 143\n"},
		{"no port", "[[profile]]\nname = \"a\"\nhost = \"h\"\n"},
	}
	for _, c := range cases {
		path := writeConfig(t, c.toml)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}

func TestLoadRejectsUnknownSecurityMode(t *testing.T) {
	path := writeConfig(t, `
[[profile]]
name = "a"
host = "h"
port = 143
security = "ssl3"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "security") {
		t.Fatalf("expected security-mode error, got %v", err)
	}
}

func TestLoadRejectsContradictoryFolderFilters(t *testing.T) {
	path := writeConfig(t, `
[[profile]]
name = "a"
host = "h"
port = 143
allowed_folders = ["INBOX"]
blocked_folders = ["Spam"]
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for allowed+blocked both set")
	}
}

func TestFolderAllowed(t *testing.T) {
	p := &Profile{AllowedFolders: []string{"INBOX", "Archive"}}
	if !p.FolderAllowed("INBOX") {
		t.Fatalf("INBOX should pass the allow list")
	}
	if !p.FolderAllowed("inbox/Sub") {
		t.Fatalf("children of an allowed folder pass, case-insensitively for INBOX")
	}
	if p.FolderAllowed("Spam") {
		t.Fatalf("Spam is not in the allow list")
	}

	blocked := &Profile{BlockedFolders: []string{"Spam"}}
	if blocked.FolderAllowed("Spam") || blocked.FolderAllowed("Spam/Old") {
		t.Fatalf("blocked folders and their children must not pass")
	}
	if !blocked.FolderAllowed("INBOX") {
		t.Fatalf("unblocked folders pass")
	}

	open := &Profile{}
	if !open.FolderAllowed("Anything") {
		t.Fatalf("no filter means everything passes")
	}
}

func TestNormalizeINBOX(t *testing.T) {
	cases := []struct{ in, want string }{
		{"inbox", "INBOX"},
		{"Inbox/Sub", "INBOX/Sub"},
		{"INBOXES", "INBOXES"},
		{"Other", "Other"},
	}
	for _, c := range cases {
		if got := normalizeINBOX(c.in); got != c.want {
			t.Errorf("normalizeINBOX(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

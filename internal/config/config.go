// Package config loads IMAP server-connection profiles from a TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is a TOML file listing one or more connection profiles.
type Config struct {
	Profiles []Profile `toml:"profile"`
}

// TLSMode selects how a profile establishes transport security.
type TLSMode string

const (
	TLSModeNone     TLSMode = "none"
	TLSModeImplicit TLSMode = "tls"
	TLSModeStartTLS TLSMode = "starttls"
)

// Profile is everything needed to connect to and authenticate against one
// IMAP server: address, security mode, credentials, and preferences for
// which SASL mechanisms to try and how often to recycle an IDLE.
type Profile struct {
	Name string `toml:"name"`

	Host     string  `toml:"host"`
	Port     int     `toml:"port"`
	Security TLSMode `toml:"security"`

	Username string `toml:"username"`
	Password string `toml:"password"`

	SASLMechanisms []string `toml:"sasl_mechanisms"`

	Mailbox           string `toml:"mailbox"`
	IdleKeepaliveMins int    `toml:"idle_keepalive_minutes"`

	AllowedFolders []string `toml:"allowed_folders"`
	BlockedFolders []string `toml:"blocked_folders"`
}

// IdleKeepalive returns the configured keepalive interval, defaulting to
// 25 minutes to stay under RFC 2177's 29-minute server-side IDLE timeout.
func (p *Profile) IdleKeepalive() time.Duration {
	if p.IdleKeepaliveMins <= 0 {
		return 25 * time.Minute
	}
	return time.Duration(p.IdleKeepaliveMins) * time.Minute
}

// Addr returns the "host:port" dial target for this profile.
func (p *Profile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// HasFolderFilter reports whether the profile narrows which folders it
// will operate on.
func (p *Profile) HasFolderFilter() bool {
	return len(p.AllowedFolders) > 0 || len(p.BlockedFolders) > 0
}

// FolderAllowed reports whether name passes this profile's folder filter.
func (p *Profile) FolderAllowed(name string) bool {
	if len(p.AllowedFolders) > 0 {
		return matchesAny(name, p.AllowedFolders)
	}
	if len(p.BlockedFolders) > 0 {
		return !matchesAny(name, p.BlockedFolders)
	}
	return true
}

func matchesAny(name string, entries []string) bool {
	for _, entry := range entries {
		if folderMatch(name, entry) {
			return true
		}
	}
	return false
}

func folderMatch(name, pattern string) bool {
	n := normalizeINBOX(name)
	p := normalizeINBOX(pattern)
	if n == p {
		return true
	}
	return len(n) > len(p) && n[len(p)] == '/' && n[:len(p)] == p
}

// normalizeINBOX uppercases the INBOX prefix, since INBOX is
// case-insensitive in IMAP but everything after a hierarchy delimiter
// isn't.
func normalizeINBOX(s string) string {
	if len(s) >= 5 && equalFoldASCII(s[:5], "INBOX") {
		if len(s) == 5 || s[5] == '/' {
			return "INBOX" + s[5:]
		}
	}
	return s
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Load reads a TOML config file from path, validates it, and returns the
// Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	seen := make(map[string]bool, len(cfg.Profiles))
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		if p.Name == "" {
			return nil, fmt.Errorf("config: profile %d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("config: duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Host == "" {
			return nil, fmt.Errorf("config: profile %q: host is required", p.Name)
		}
		if p.Port == 0 {
			return nil, fmt.Errorf("config: profile %q: port is required", p.Name)
		}
		switch p.Security {
		case "", TLSModeNone, TLSModeImplicit, TLSModeStartTLS:
		default:
			return nil, fmt.Errorf("config: profile %q: unknown security mode %q", p.Name, p.Security)
		}
		if p.Security == "" {
			p.Security = TLSModeStartTLS
		}

		if len(p.AllowedFolders) > 0 && len(p.BlockedFolders) > 0 {
			return nil, fmt.Errorf("config: profile %q: allowed_folders and blocked_folders cannot both be set", p.Name)
		}
	}

	return &cfg, nil
}

// Lookup returns the named profile, or nil if it isn't present.
func (c *Config) Lookup(name string) *Profile {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i]
		}
	}
	return nil
}

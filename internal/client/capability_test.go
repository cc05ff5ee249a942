package client

import "testing"

func TestCapSetHasCaseInsensitive(t *testing.T) {
	cs := newCapSet([]string{"IMAP4rev1", "STARTTLS", "AUTH=PLAIN", "AUTH=LOGIN", "LITERAL+"})

	if !cs.Has("starttls") {
		t.Fatalf("expected Has(starttls) to match STARTTLS")
	}
	if !cs.Has("LITERAL+") {
		t.Fatalf("expected Has(LITERAL+)")
	}
	if cs.Has("IDLE") {
		t.Fatalf("did not expect Has(IDLE)")
	}
}

func TestCapSetHasAuth(t *testing.T) {
	cs := newCapSet([]string{"AUTH=PLAIN", "AUTH=LOGIN"})
	if !cs.HasAuth("plain") {
		t.Fatalf("expected HasAuth(plain)")
	}
	if cs.HasAuth("XOAUTH2") {
		t.Fatalf("did not expect HasAuth(XOAUTH2)")
	}
}

func TestCapSetAuthMechanisms(t *testing.T) {
	cs := newCapSet([]string{"IMAP4rev1", "AUTH=PLAIN", "AUTH=LOGIN"})
	mechs := cs.AuthMechanisms()
	if len(mechs) != 2 {
		t.Fatalf("expected 2 mechanisms, got %v", mechs)
	}
}

func TestCapSetValueCarryingCapabilities(t *testing.T) {
	cs := newCapSet([]string{"IMAP4rev1", "APPENDLIMIT=35882577", "I18NLEVEL=1", "RIGHTS=texk"})

	limit, ok := cs.AppendLimit()
	if !ok || limit != 35882577 {
		t.Fatalf("AppendLimit = %d, %v", limit, ok)
	}
	if cs.I18NLevel() != 1 {
		t.Fatalf("I18NLevel = %d, want 1", cs.I18NLevel())
	}
	if cs.ExtraRights() != "texk" {
		t.Fatalf("ExtraRights = %q, want texk", cs.ExtraRights())
	}

	bare := newCapSet([]string{"IMAP4rev1"})
	if _, ok := bare.AppendLimit(); ok {
		t.Fatalf("AppendLimit must report absence")
	}
	if bare.I18NLevel() != 0 || bare.ExtraRights() != "" {
		t.Fatalf("absent value-capabilities must be zero-valued")
	}
}

func TestCapSetNilIsSafe(t *testing.T) {
	var cs *CapSet
	if cs.Has("ANY") {
		t.Fatalf("nil CapSet must report no capabilities")
	}
	if cs.HasAuth("PLAIN") {
		t.Fatalf("nil CapSet must report no auth mechanisms")
	}
	if cs.All() != nil {
		t.Fatalf("nil CapSet.All() must be nil")
	}
}

func TestCapSetCloneIsIndependent(t *testing.T) {
	cs := newCapSet([]string{"IDLE"})
	clone := cs.Clone()
	clone.names["EXTRA"] = "EXTRA"
	if cs.Has("EXTRA") {
		t.Fatalf("mutating the clone must not affect the original")
	}
}

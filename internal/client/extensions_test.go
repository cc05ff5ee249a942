package client

import (
	"strings"
	"testing"

	"goimapcore/internal/imap"
)

// Scenario: STARTTLS succeeds, the transport is swapped, and capabilities
// are re-queried over the new transport (the pre-handshake list is never
// trusted afterward).
func TestStartTLSUpgradesTransportAndRefreshesCapabilities(t *testing.T) {
	pre := newFakeTransport("* OK [CAPABILITY IMAP4rev1 STARTTLS LOGINDISABLED] ready\r\n" +
		"A001 OK begin TLS negotiation\r\n")
	post := newFakeTransport("* CAPABILITY IMAP4rev1 AUTH=PLAIN\r\n" +
		"A002 OK CAPABILITY completed\r\n")
	eng := NewEngine(pre, nil)

	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var upgradeCalled bool
	err := eng.StartTLS(bgCtx(), func(old imap.Transport) (imap.Transport, error) {
		upgradeCalled = true
		if old != pre {
			t.Errorf("upgrade got transport %v, want the original", old)
		}
		return post, nil
	})
	if err != nil {
		t.Fatalf("StartTLS: %v", err)
	}
	if !upgradeCalled {
		t.Fatalf("upgrade callback never ran")
	}

	if !strings.Contains(pre.written(), "A001 STARTTLS\r\n") {
		t.Fatalf("STARTTLS not written pre-handshake: %q", pre.written())
	}
	if !strings.Contains(post.written(), "A002 CAPABILITY\r\n") {
		t.Fatalf("CAPABILITY not re-queried post-handshake: %q", post.written())
	}
	if !eng.Capabilities().Has("AUTH=PLAIN") {
		t.Fatalf("expected post-TLS capabilities to be in effect")
	}
	if eng.Capabilities().Has("LOGINDISABLED") {
		t.Fatalf("pre-TLS capabilities must be discarded")
	}
}

func TestStartTLSRequiresConnectedState(t *testing.T) {
	eng, _ := newTestEngine("* PREAUTH [CAPABILITY IMAP4rev1 STARTTLS] hi\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := eng.StartTLS(bgCtx(), nil)
	if _, ok := err.(*InvalidState); !ok {
		t.Fatalf("expected *InvalidState, got %T: %v", err, err)
	}
}

func TestStartTLSNotAdvertised(t *testing.T) {
	eng, _ := newTestEngine("* OK [CAPABILITY IMAP4rev1] ready\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := eng.StartTLS(bgCtx(), nil)
	if _, ok := err.(*NotSupported); !ok {
		t.Fatalf("expected *NotSupported, got %T: %v", err, err)
	}
}

func TestCompressDeflateIllegalWhenSelected(t *testing.T) {
	eng, _ := newTestEngine("* OK [CAPABILITY IMAP4rev1 COMPRESS=DEFLATE] ready\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eng.setState(StateSelected)

	err := eng.CompressDeflate(bgCtx())
	if _, ok := err.(*InvalidState); !ok {
		t.Fatalf("expected *InvalidState, got %T: %v", err, err)
	}
}

func TestCompressDeflateNotAdvertised(t *testing.T) {
	eng, _ := newTestEngine("* OK [CAPABILITY IMAP4rev1] ready\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := eng.CompressDeflate(bgCtx())
	if _, ok := err.(*NotSupported); !ok {
		t.Fatalf("expected *NotSupported, got %T: %v", err, err)
	}
}

func TestCompressDeflateWritesCommand(t *testing.T) {
	eng, ft := newTestEngine("* OK [CAPABILITY IMAP4rev1 COMPRESS=DEFLATE] ready\r\n" +
		"A001 OK DEFLATE active\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := eng.CompressDeflate(bgCtx()); err != nil {
		t.Fatalf("CompressDeflate: %v", err)
	}
	if !strings.Contains(ft.written(), "A001 COMPRESS DEFLATE\r\n") {
		t.Fatalf("COMPRESS DEFLATE not written: %q", ft.written())
	}
}

// Scenario: ENABLE UTF8=ACCEPT takes effect only if the ENABLED untagged
// list echoes the feature back.
func TestEnableUTF8Accept(t *testing.T) {
	eng, ft := newTestEngine("* OK [CAPABILITY IMAP4rev1 UTF8=ACCEPT] ready\r\n" +
		"* ENABLED UTF8=ACCEPT\r\n" +
		"A001 OK features enabled\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eng.setState(StateAuthenticated)

	if err := eng.EnableUTF8Accept(bgCtx()); err != nil {
		t.Fatalf("EnableUTF8Accept: %v", err)
	}
	if !eng.UTF8Enabled() {
		t.Fatalf("expected UTF8Enabled after ENABLED echo")
	}
	if !strings.Contains(ft.written(), "A001 ENABLE UTF8=ACCEPT\r\n") {
		t.Fatalf("ENABLE not written: %q", ft.written())
	}
}

func TestEnableUTF8AcceptNotEchoedStaysOff(t *testing.T) {
	eng, _ := newTestEngine("* OK [CAPABILITY IMAP4rev1 UTF8=ACCEPT] ready\r\n" +
		"* ENABLED\r\n" +
		"A001 OK nothing enabled\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eng.setState(StateAuthenticated)

	if err := eng.EnableUTF8Accept(bgCtx()); err != nil {
		t.Fatalf("EnableUTF8Accept: %v", err)
	}
	if eng.UTF8Enabled() {
		t.Fatalf("UTF8Enabled must stay false when the server didn't echo it")
	}
}

func TestEnableIllegalOnceSelected(t *testing.T) {
	eng, _ := newTestEngine("* OK [CAPABILITY IMAP4rev1 UTF8=ACCEPT] ready\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eng.setState(StateSelected)

	err := eng.EnableUTF8Accept(bgCtx())
	if _, ok := err.(*InvalidState); !ok {
		t.Fatalf("expected *InvalidState, got %T: %v", err, err)
	}
}

// Scenario: ID exchanges key/value maps; the server's reply map is
// surfaced to the caller.
func TestIDExchangesMaps(t *testing.T) {
	eng, ft := newTestEngine("* OK [CAPABILITY IMAP4rev1 ID] ready\r\n" +
		"* ID (\"name\" \"Dovecot\" \"version\" \"2.3\")\r\n" +
		"A001 OK ID completed\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got, err := eng.ID(bgCtx(), map[string]string{"name": "imapcore"})
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if got["name"] != "Dovecot" || got["version"] != "2.3" {
		t.Fatalf("server ID map = %v", got)
	}
	if !strings.Contains(ft.written(), `A001 ID ("name" "imapcore")`+"\r\n") {
		t.Fatalf("client ID line mismatch: %q", ft.written())
	}
}

func TestIDNilSendsNIL(t *testing.T) {
	eng, ft := newTestEngine("* OK [CAPABILITY IMAP4rev1 ID] ready\r\n" +
		"* ID NIL\r\n" +
		"A001 OK ID completed\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := eng.ID(bgCtx(), nil); err != nil {
		t.Fatalf("ID: %v", err)
	}
	if !strings.Contains(ft.written(), "A001 ID NIL\r\n") {
		t.Fatalf("expected ID NIL, got %q", ft.written())
	}
}

// Scenario: NOTIFY SET serializes (filter (events)) groups; NOTIFY NONE
// turns everything off.
func TestNotifySerializesEventGroups(t *testing.T) {
	eng, ft := newTestEngine("* OK [CAPABILITY IMAP4rev1 NOTIFY] ready\r\n" +
		"A001 OK NOTIFY completed\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eng.setState(StateAuthenticated)

	groups := []NotifyGroup{{
		Filter: NotifyFilter{Kind: "SELECTED"},
		Events: []string{"MessageNew", "MessageExpunge"},
	}}
	if err := eng.Notify(bgCtx(), groups); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	want := "A001 NOTIFY SET (SELECTED (MessageNew MessageExpunge))\r\n"
	if !strings.Contains(ft.written(), want) {
		t.Fatalf("got %q, want it to contain %q", ft.written(), want)
	}
}

func TestNotifyExplicitMailboxList(t *testing.T) {
	eng, ft := newTestEngine("* OK [CAPABILITY IMAP4rev1 NOTIFY] ready\r\n" +
		"A001 OK NOTIFY completed\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eng.setState(StateAuthenticated)

	groups := []NotifyGroup{{
		Filter: NotifyFilter{Kind: "MAILBOXES", Folders: []string{"INBOX", "Archive"}},
		Events: []string{"MessageNew"},
	}}
	if err := eng.Notify(bgCtx(), groups); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	want := "A001 NOTIFY SET (MAILBOXES (INBOX Archive) (MessageNew))\r\n"
	if !strings.Contains(ft.written(), want) {
		t.Fatalf("got %q, want it to contain %q", ft.written(), want)
	}
}

func TestDisableNotify(t *testing.T) {
	eng, ft := newTestEngine("* OK [CAPABILITY IMAP4rev1 NOTIFY] ready\r\n" +
		"A001 OK NOTIFY completed\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	eng.setState(StateAuthenticated)

	if err := eng.DisableNotify(bgCtx()); err != nil {
		t.Fatalf("DisableNotify: %v", err)
	}
	if !strings.Contains(ft.written(), "A001 NOTIFY NONE\r\n") {
		t.Fatalf("expected NOTIFY NONE, got %q", ft.written())
	}
}

func TestNotifyNotAdvertised(t *testing.T) {
	eng, _ := newTestEngine("* OK [CAPABILITY IMAP4rev1] ready\r\n")
	if err := eng.Connect(bgCtx()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := eng.Notify(bgCtx(), nil); err == nil {
		t.Fatalf("expected NotSupported")
	}
	if err := eng.DisableNotify(bgCtx()); err == nil {
		t.Fatalf("expected NotSupported")
	}
}

package client

import (
	"compress/flate"
	"context"
	"io"
	"strings"

	"goimapcore/internal/imap"
)

// TLSUpgrader performs the actual TLS handshake over an established
// transport and returns the wrapped connection. Cipher-suite negotiation
// and certificate validation belong to the caller; the engine only knows
// to invoke the upgrader after STARTTLS succeeds and to swap the result
// into its ByteStream.
type TLSUpgrader func(imap.Transport) (imap.Transport, error)

// StartTLS issues STARTTLS and, on success, upgrades the transport and
// re-queries capabilities: a capability list from before the handshake
// must never be trusted afterward.
func (e *Engine) StartTLS(ctx context.Context, upgrade TLSUpgrader) error {
	if e.State() != StateConnected {
		return &InvalidState{Verb: "STARTTLS", Current: e.State()}
	}
	if !e.capsHas("STARTTLS") {
		return &NotSupported{Feature: "STARTTLS"}
	}

	cmd, err := e.Do(ctx, "STARTTLS")
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}

	upgraded, err := upgrade(e.rawTransport)
	if err != nil {
		e.fail(err)
		return err
	}
	e.rawTransport = upgraded
	if err := e.bs.Upgrade(upgraded); err != nil {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	e.caps = newCapSet(nil)
	e.mu.Unlock()
	return e.refreshCapabilities(ctx)
}

// deflateTransport wraps a Transport with a DEFLATE stream in each
// direction, as COMPRESS=DEFLATE requires (RFC 4978).
type deflateTransport struct {
	imap.Transport
	fr io.ReadCloser
	fw *flate.Writer
}

func newDeflateTransport(t imap.Transport) (*deflateTransport, error) {
	fw, err := flate.NewWriter(t, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	return &deflateTransport{Transport: t, fr: flate.NewReader(t), fw: fw}, nil
}

func (d *deflateTransport) Read(p []byte) (int, error)  { return d.fr.Read(p) }
func (d *deflateTransport) Write(p []byte) (int, error) {
	n, err := d.fw.Write(p)
	if err != nil {
		return n, err
	}
	return n, d.fw.Flush()
}

// CompressDeflate issues COMPRESS DEFLATE (RFC 4978) and, on success,
// wraps the transport in a flate stream.
func (e *Engine) CompressDeflate(ctx context.Context) error {
	s := e.State()
	if s != StateConnected && s != StateAuthenticated {
		return &InvalidState{Verb: "COMPRESS", Current: s}
	}
	if !e.capsHas("COMPRESS=DEFLATE") {
		return &NotSupported{Feature: "COMPRESS=DEFLATE"}
	}

	cmd, err := e.Do(ctx, "COMPRESS", RawArg("DEFLATE"))
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}

	wrapped, err := newDeflateTransport(e.rawTransport)
	if err != nil {
		e.fail(err)
		return err
	}
	e.rawTransport = wrapped
	return e.bs.Upgrade(wrapped)
}

// EnableUTF8Accept issues ENABLE UTF8=ACCEPT (RFC 6855) and records whether
// the server agreed, letting callers switch mailbox-name rendering from
// modified UTF-7 to raw UTF-8.
func (e *Engine) EnableUTF8Accept(ctx context.Context) error {
	if e.State() != StateAuthenticated {
		return &InvalidState{Verb: "ENABLE", Current: e.State()}
	}
	if !e.capsHas("UTF8=ACCEPT") {
		return &NotSupported{Feature: "UTF8=ACCEPT"}
	}

	cmd, err := e.Do(ctx, "ENABLE", RawArg("UTF8=ACCEPT"))
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}

	for _, line := range cmd.Responses {
		if line.Verb != "ENABLED" {
			continue
		}
		for _, f := range line.Fields {
			if strings.EqualFold(f.AsString(), "UTF8=ACCEPT") {
				e.mu.Lock()
				e.utf8Enabled = true
				e.mu.Unlock()
			}
		}
	}
	return nil
}

// UTF8Enabled reports whether ENABLE UTF8=ACCEPT has taken effect.
func (e *Engine) UTF8Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.utf8Enabled
}

// ID exchanges client/server identification fields (RFC 2971). A nil
// params map sends "ID NIL".
func (e *Engine) ID(ctx context.Context, params map[string]string) (map[string]string, error) {
	if !e.capsHas("ID") {
		return nil, &NotSupported{Feature: "ID"}
	}

	var arg Arg
	if params == nil {
		arg = RawArg("NIL")
	} else {
		arg = idParamsArg(params)
	}

	cmd, err := e.Do(ctx, "ID", arg)
	if err != nil {
		return nil, err
	}
	if cmd.Result != ResultOk {
		return nil, cmd.Err
	}

	out := make(map[string]string)
	for _, line := range cmd.Responses {
		if line.Verb != "ID" || len(line.Fields) == 0 {
			continue
		}
		list := line.Fields[0]
		if list.Kind != imap.FList {
			continue
		}
		for i := 0; i+1 < len(list.List); i += 2 {
			out[list.List[i].AsString()] = list.List[i+1].AsString()
		}
	}
	return out, nil
}

type idParamsArg map[string]string

// ID field names and values are strings, never atoms (RFC 2971), so each
// one is quoted regardless of its bytes.
func (a idParamsArg) appendTo(parts *[]cmdPart) {
	*parts = append(*parts, cmdPart{text: []byte("(")})
	first := true
	for k, v := range a {
		if !first {
			*parts = append(*parts, cmdPart{text: []byte(" ")})
		}
		first = false
		*parts = append(*parts, cmdPart{text: []byte(`"` + escapeQuotedArg(k) + `"`)})
		*parts = append(*parts, cmdPart{text: []byte(" ")})
		*parts = append(*parts, cmdPart{text: []byte(`"` + escapeQuotedArg(v) + `"`)})
	}
	*parts = append(*parts, cmdPart{text: []byte(")")})
}

// NotifyFilter selects which mailboxes a NotifyGroup's events apply to
// (RFC 5465): Kind is one of "selected", "selected-delayed",
// "personal", "inboxes", "subscribed", or "mailboxes" (the last paired
// with explicit Folders).
type NotifyFilter struct {
	Kind    string
	Folders []string
}

// NotifyGroup pairs a mailbox filter with the event names to report for it
// (e.g. "MessageNew", "MessageExpunge", "FlagChange").
type NotifyGroup struct {
	Filter NotifyFilter
	Events []string
}

// Notify issues NOTIFY SET with the given groups (RFC 5465).
func (e *Engine) Notify(ctx context.Context, groups []NotifyGroup) error {
	if !e.capsHas("NOTIFY") {
		return &NotSupported{Feature: "NOTIFY"}
	}
	cmd, err := e.Do(ctx, "NOTIFY", RawArg("SET"), notifyGroupsArg(groups))
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}
	return nil
}

// DisableNotify issues NOTIFY NONE, turning off unsolicited status events.
func (e *Engine) DisableNotify(ctx context.Context) error {
	if !e.capsHas("NOTIFY") {
		return &NotSupported{Feature: "NOTIFY"}
	}
	cmd, err := e.Do(ctx, "NOTIFY", RawArg("NONE"))
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}
	return nil
}

type notifyGroupsArg []NotifyGroup

func (a notifyGroupsArg) appendTo(parts *[]cmdPart) {
	for i, g := range a {
		if i > 0 {
			*parts = append(*parts, cmdPart{text: []byte(" ")})
		}
		*parts = append(*parts, cmdPart{text: []byte("(")})
		if len(g.Filter.Folders) == 0 {
			*parts = append(*parts, cmdPart{text: []byte(g.Filter.Kind)})
		} else {
			*parts = append(*parts, cmdPart{text: []byte(g.Filter.Kind + " (")})
			for j, f := range g.Filter.Folders {
				if j > 0 {
					*parts = append(*parts, cmdPart{text: []byte(" ")})
				}
				*parts = append(*parts, encodeAstring(encodeUTF7(f)))
			}
			*parts = append(*parts, cmdPart{text: []byte(")")})
		}
		*parts = append(*parts, cmdPart{text: []byte(" (")})
		for j, ev := range g.Events {
			if j > 0 {
				*parts = append(*parts, cmdPart{text: []byte(" ")})
			}
			*parts = append(*parts, cmdPart{text: []byte(ev)})
		}
		*parts = append(*parts, cmdPart{text: []byte("))")})
	}
}

package client

import (
	"context"
	"fmt"
	"sync"

	"goimapcore/internal/imap"
)

// FolderDescriptor is what the engine itself learns about a mailbox from a
// LIST response: name, hierarchy delimiter, and \Noselect/\HasChildren-style
// attribute flags. Anything deeper (fetching, searching, sorting messages)
// is the mail-store layer's job, outside this package.
type FolderDescriptor struct {
	Name      string
	Delimiter string
	Flags     []string
}

// NamespaceEntry is one (prefix, delimiter) pair from a NAMESPACE response.
type NamespaceEntry struct {
	Prefix    string
	Delimiter string
}

// Engine drives one IMAP connection: greeting processing, capability
// tracking, command submission/pumping, and untagged-event dispatch.
// Exactly one goroutine may call its methods at a time; running a command
// pumps *all* traffic while blocked, not only that command's own, so
// unrelated untagged data (EXISTS, EXPUNGE, ...) still reaches its
// handler.
//
// The engine keeps at most one command in flight at a time.
type Engine struct {
	bs           *imap.ByteStream
	parser       *imap.ResponseParser
	redactor     *imap.Redactor
	logger       *ProtocolLogger
	rawTransport imap.Transport

	mu          sync.Mutex
	state       State
	caps        *CapSet
	capsVersion uint64
	utf8Enabled bool

	selected string

	personalNS []NamespaceEntry
	sharedNS   []NamespaceEntry
	otherNS    []NamespaceEntry
	folders    map[string]*FolderDescriptor

	tagSeq uint64

	closed   bool
	closeErr error
	doneCh   chan struct{}
}

// NewEngine wraps transport in an Engine. Connect must be called before any
// command is submitted.
func NewEngine(transport imap.Transport, logger *ProtocolLogger) *Engine {
	bs := imap.NewByteStream(transport)
	return &Engine{
		bs:           bs,
		parser:       imap.NewResponseParser(bs),
		redactor:     imap.NewRedactor(),
		logger:       logger,
		rawTransport: transport,
		state:        StateDisconnected,
		caps:         newCapSet(nil),
		doneCh:       make(chan struct{}),
	}
}

// Connect reads and processes the server greeting. The first untagged
// line must be OK, PREAUTH, or BYE; anything else is a ProtocolError.
// PREAUTH transitions directly to Authenticated. If the greeting didn't
// carry a CAPABILITY resp-code, Connect issues CAPABILITY.
func (e *Engine) Connect(ctx context.Context) error {
	line, err := e.parser.ReadLine(ctx)
	if err != nil {
		e.fail(err)
		return err
	}
	if line.Kind != imap.LineUntagged {
		err := &imap.ProtocolError{Msg: "unexpected token: greeting must be untagged"}
		e.fail(err)
		return err
	}

	switch line.Status {
	case "OK":
		e.setState(StateConnected)
	case "PREAUTH":
		e.setState(StateAuthenticated)
	case "BYE":
		err := &CommandError{Verb: "CONNECT", Result: ResultBye, Code: line.Code, Text: line.Text}
		e.fail(err)
		return err
	default:
		err := &imap.ProtocolError{Msg: "unexpected token: bad greeting status " + line.Status}
		e.fail(err)
		return err
	}

	if line.Code != nil && line.Code.Kind == imap.RCCapability {
		e.applyCapabilities(line.Code.Args)
		return nil
	}
	return e.refreshCapabilities(ctx)
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Capabilities returns the most recently observed capability set.
func (e *Engine) Capabilities() *CapSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

// CapabilitiesVersion returns a monotonic counter that strictly increases
// every time the capability set is replaced, so callers can detect whether
// a command they just ran already refreshed capabilities.
func (e *Engine) CapabilitiesVersion() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capsVersion
}

func (e *Engine) capsHas(name string) bool {
	e.mu.Lock()
	c := e.caps
	e.mu.Unlock()
	return c.Has(name)
}

func (e *Engine) applyCapabilities(raw []string) {
	e.mu.Lock()
	e.caps = newCapSet(raw)
	e.capsVersion++
	e.mu.Unlock()
}

// SelectedMailbox returns the name of the currently selected mailbox, or
// "" if none is selected.
func (e *Engine) SelectedMailbox() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Folders returns a snapshot of the folder cache populated from LIST
// responses seen so far.
func (e *Engine) Folders() map[string]*FolderDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*FolderDescriptor, len(e.folders))
	for k, v := range e.folders {
		out[k] = v
	}
	return out
}

// PersonalNamespaces returns the personal namespace table from the last
// NAMESPACE response, if any.
func (e *Engine) PersonalNamespaces() []NamespaceEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]NamespaceEntry(nil), e.personalNS...)
}

// Done returns a channel closed when the connection is no longer usable
// (I/O failure, protocol error, or BYE), so callers can select on
// connection loss instead of polling.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

// Err returns the reason Done closed, or nil before that.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

// Close marks the engine unusable and releases anything blocked on Done.
// It does not close the transport; the caller owns that, since the
// transport was injected.
func (e *Engine) Close() {
	e.fail(fmt.Errorf("imap: connection closed"))
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.closeErr = err
		close(e.doneCh)
	}
	e.state = StateDisconnected
	e.mu.Unlock()
}

func (e *Engine) nextTag() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tagSeq++
	return fmt.Sprintf("A%03d", e.tagSeq)
}

func (e *Engine) prepare(verb string, args []Arg) (*Command, error) {
	if !commandAllowed(verb, e.State()) {
		return nil, &InvalidState{Verb: verb, Current: e.State()}
	}
	return newCommand(e.nextTag(), verb, args), nil
}

// Do builds, writes, and runs a command to completion: it blocks until the
// tagged reply arrives, pumping all traffic in the meantime.
func (e *Engine) Do(ctx context.Context, verb string, args ...Arg) (*Command, error) {
	cmd, err := e.prepare(verb, args)
	if err != nil {
		return nil, err
	}
	if err := e.writeCommand(ctx, cmd); err != nil {
		e.fail(err)
		return cmd, err
	}
	if err := e.pumpUntil(ctx, cmd); err != nil {
		return cmd, err
	}
	return cmd, cmd.Err
}

// writeCommand renders cmd's parts to the wire, synchronizing on `+`
// continuations for literals unless LITERAL+ lets it stream immediately.
// Every chunk passes through the redactor before the protocol logger sees
// it.
func (e *Engine) writeCommand(ctx context.Context, cmd *Command) error {
	e.redactor.Reset()
	var buf []byte

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		ranges := e.redactor.Scan(buf)
		if e.logger != nil {
			e.logger.LogClient(buf, ranges)
		}
		err := e.bs.Write(buf)
		buf = nil
		return err
	}

	writeLiteralBody := func(payload []byte) error {
		ranges := e.redactor.Scan(payload)
		if e.logger != nil {
			e.logger.LogClient(payload, ranges)
		}
		return e.bs.Write(payload)
	}

	for _, p := range cmd.parts {
		if p.literal == nil {
			buf = append(buf, p.text...)
			continue
		}

		nonSync := e.capsHas("LITERAL+")
		if nonSync {
			buf = append(buf, []byte(fmt.Sprintf("{%d+}\r\n", len(p.literal)))...)
			if err := flush(); err != nil {
				return err
			}
			if err := e.bs.Flush(); err != nil {
				return err
			}
			if err := writeLiteralBody(p.literal); err != nil {
				return err
			}
			continue
		}

		buf = append(buf, []byte(fmt.Sprintf("{%d}\r\n", len(p.literal)))...)
		if err := flush(); err != nil {
			return err
		}
		if err := e.bs.Flush(); err != nil {
			return err
		}
		line, err := e.parser.ReadLine(ctx)
		if err != nil {
			return err
		}
		if line.Kind != imap.LineContinuation {
			return &imap.ProtocolError{Msg: "unexpected token: expected '+' before literal payload, got " + lineKindString(line)}
		}
		if err := writeLiteralBody(p.literal); err != nil {
			return err
		}
	}

	if err := flush(); err != nil {
		return err
	}
	return e.bs.Flush()
}

// writeRaw sends buf immediately, through the redactor and logger, for
// writes the command renderer doesn't model directly (SASL continuation
// responses, IDLE's DONE).
func (e *Engine) writeRaw(buf []byte) error {
	ranges := e.redactor.Scan(buf)
	if e.logger != nil {
		e.logger.LogClient(buf, ranges)
	}
	if err := e.bs.Write(buf); err != nil {
		return err
	}
	return e.bs.Flush()
}

// pumpUntil reads lines until cmd's tagged reply arrives (or the
// connection fails), dispatching continuations and untagged data as it
// goes.
func (e *Engine) pumpUntil(ctx context.Context, cmd *Command) error {
	for {
		line, err := e.parser.ReadLine(ctx)
		if err != nil {
			e.fail(err)
			return err
		}
		if e.logger != nil {
			e.logger.LogServer([]byte(lineSummary(line)))
		}

		switch line.Kind {
		case imap.LineContinuation:
			if cmd.OnContinuation == nil {
				err := &imap.ProtocolError{Msg: "unexpected token: unsolicited continuation request"}
				e.fail(err)
				return err
			}
			resp, err := cmd.OnContinuation(ctx, line.ContinuationText)
			if err != nil {
				return err
			}
			if resp != nil {
				if err := e.writeRaw(resp); err != nil {
					return err
				}
			}

		case imap.LineTagged:
			if line.Tag != cmd.Tag {
				err := &imap.ProtocolError{Msg: "unexpected token: tagged reply for unknown tag " + line.Tag}
				e.fail(err)
				return err
			}
			// Servers commonly piggyback a fresh capability list on the
			// tagged OK that completes AUTHENTICATE/LOGIN.
			if line.Code != nil && line.Code.Kind == imap.RCCapability {
				e.applyCapabilities(line.Code.Args)
			}
			result, cmdErr := resultFor(cmd, line)
			cmd.complete(result, line.Code, line.Text, cmdErr)
			return nil

		default: // LineUntagged
			e.handleUntagged(line, cmd)
			if line.Status == "BYE" {
				byeErr := &CommandError{Verb: cmd.Verb, Result: ResultBye, Code: line.Code, Text: line.Text}
				e.fail(fmt.Errorf("imap: server sent BYE: %s", line.Text))
				cmd.complete(ResultBye, line.Code, line.Text, byeErr)
				return byeErr
			}
		}
	}
}

func resultFor(cmd *Command, line *imap.Line) (CommandResult, error) {
	switch line.Status {
	case "OK":
		return ResultOk, nil
	case "NO":
		return ResultNo, &CommandError{Verb: cmd.Verb, Result: ResultNo, Code: line.Code, Text: line.Text}
	case "BAD":
		return ResultBad, &CommandError{Verb: cmd.Verb, Result: ResultBad, Code: line.Code, Text: line.Text}
	default:
		return ResultBad, &imap.ProtocolError{Msg: "unexpected token: unknown tagged status " + line.Status}
	}
}

func (e *Engine) handleUntagged(line *imap.Line, cmd *Command) {
	if cmd != nil {
		cmd.Responses = append(cmd.Responses, line)
		if cmd.OnUntagged != nil && cmd.OnUntagged(line) {
			return
		}
	}
	switch {
	case line.Verb == "CAPABILITY":
		e.applyCapabilities(fieldStrings(line.Fields))
	case line.Status == "OK" && line.Code != nil && line.Code.Kind == imap.RCCapability:
		e.applyCapabilities(line.Code.Args)
	case line.Verb == "LIST":
		e.applyListLine(line)
	case line.Verb == "NAMESPACE":
		e.applyNamespaceLine(line)
	}
}

func fieldStrings(fields []imap.Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.AsString())
	}
	return out
}

func (e *Engine) applyListLine(line *imap.Line) {
	if len(line.Fields) < 3 {
		return
	}
	var flags []string
	if line.Fields[0].Kind == imap.FList {
		for _, f := range line.Fields[0].List {
			if f.Kind == imap.FFlag {
				flags = append(flags, `\`+f.Atom)
				continue
			}
			flags = append(flags, f.AsString())
		}
	}
	delim := line.Fields[1].AsString()
	name := line.Fields[2].AsString()
	if decoded, err := decodeUTF7(name); err == nil {
		name = decoded
	}

	e.mu.Lock()
	if e.folders == nil {
		e.folders = make(map[string]*FolderDescriptor)
	}
	e.folders[name] = &FolderDescriptor{Name: name, Delimiter: delim, Flags: flags}
	e.mu.Unlock()
}

func (e *Engine) applyNamespaceLine(line *imap.Line) {
	if len(line.Fields) < 3 {
		return
	}
	personal := parseNamespaceField(line.Fields[0])
	shared := parseNamespaceField(line.Fields[1])
	other := parseNamespaceField(line.Fields[2])

	e.mu.Lock()
	e.personalNS = personal
	e.sharedNS = shared
	e.otherNS = other
	e.mu.Unlock()
}

func parseNamespaceField(f imap.Field) []NamespaceEntry {
	if f.Kind != imap.FList {
		return nil
	}
	var out []NamespaceEntry
	for _, entry := range f.List {
		if entry.Kind != imap.FList || len(entry.List) < 2 {
			continue
		}
		out = append(out, NamespaceEntry{Prefix: entry.List[0].AsString(), Delimiter: entry.List[1].AsString()})
	}
	return out
}

func (e *Engine) refreshCapabilities(ctx context.Context) error {
	cmd, err := e.Do(ctx, "CAPABILITY")
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}
	return nil
}

func lineKindString(line *imap.Line) string {
	switch line.Kind {
	case imap.LineTagged:
		return "tagged " + line.Tag
	case imap.LineUntagged:
		return "untagged " + line.Verb
	default:
		return "continuation"
	}
}

// lineSummary renders line back to an approximate wire form for the
// protocol log's server side. It is not byte-exact — the tokenizer/parser
// chain doesn't retain the original bytes — but it reproduces the
// information content of what the server sent.
func lineSummary(line *imap.Line) string {
	switch line.Kind {
	case imap.LineContinuation:
		return "+ " + line.ContinuationText
	case imap.LineTagged:
		return line.Tag + " " + line.Status + " " + line.Text
	default:
		if line.HasNum {
			return fmt.Sprintf("* %d %s", line.Num, line.Verb)
		}
		if line.Verb != "" && line.Status == "" {
			return "* " + line.Verb
		}
		return "* " + line.Status + " " + line.Text
	}
}

// Select issues SELECT and, on success, records the mailbox and enters
// Selected.
func (e *Engine) Select(ctx context.Context, mailbox string) (*Command, error) {
	cmd, err := e.Do(ctx, "SELECT", FolderArg(mailbox))
	if err != nil {
		return cmd, err
	}
	if cmd.Result == ResultOk {
		e.mu.Lock()
		e.selected = mailbox
		e.state = StateSelected
		e.mu.Unlock()
	}
	return cmd, nil
}

// CloseMailbox issues CLOSE and, on success, returns to Authenticated.
func (e *Engine) CloseMailbox(ctx context.Context) (*Command, error) {
	cmd, err := e.Do(ctx, "CLOSE")
	if err != nil {
		return cmd, err
	}
	if cmd.Result == ResultOk {
		e.mu.Lock()
		e.selected = ""
		e.state = StateAuthenticated
		e.mu.Unlock()
	}
	return cmd, nil
}

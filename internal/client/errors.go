// Package client implements the command engine, state machine, IDLE
// controller, authenticator, and extension flows of an IMAP4rev1 client on
// top of internal/imap's lexical and wire primitives.
package client

import (
	"fmt"

	"goimapcore/internal/imap"
)

// Re-exported so callers don't need to import internal/imap directly just
// to type-switch on a transport or protocol failure.
type IoError = imap.IoError
type ProtocolError = imap.ProtocolError
type Cancelled = imap.Cancelled

// CommandResult is the final disposition of a completed command.
type CommandResult int

const (
	ResultPending CommandResult = iota
	ResultOk
	ResultNo
	ResultBad
	ResultBye
)

func (r CommandResult) String() string {
	switch r {
	case ResultOk:
		return "OK"
	case ResultNo:
		return "NO"
	case ResultBad:
		return "BAD"
	case ResultBye:
		return "BYE"
	default:
		return "PENDING"
	}
}

// CommandError reports a NO/BAD (or connection-ending BYE) tagged reply
// to a specific command. The connection remains usable after a NO/BAD; a
// BYE always accompanies the engine transitioning to Disconnected.
type CommandError struct {
	Verb   string
	Result CommandResult
	Code   *imap.RespCode
	Text   string
}

func (e *CommandError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("imap: %s %s [%s]: %s", e.Verb, e.Result, e.Code.Name, e.Text)
	}
	return fmt.Sprintf("imap: %s %s: %s", e.Verb, e.Result, e.Text)
}

// AuthenticationError reports that every ranked SASL mechanism the server
// advertised failed and that the LOGIN fallback either failed too or was
// not attempted because the server advertised LOGINDISABLED.
type AuthenticationError struct {
	Attempted []string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("imap: authentication failed (tried %v): %v", e.Attempted, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// InvalidState reports that a command was rejected locally because the
// engine wasn't in a state that permits it; nothing was written to the wire.
type InvalidState struct {
	Verb     string
	Required State
	Current  State
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("imap: %s not legal in state %s", e.Verb, e.Current)
}

// NotSupported reports that the caller invoked an extension the server
// never advertised in its capability set.
type NotSupported struct {
	Feature string
}

func (e *NotSupported) Error() string {
	return fmt.Sprintf("imap: server does not support %s", e.Feature)
}

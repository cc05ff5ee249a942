package client

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/emersion/go-sasl"
)

// Credentials carries what the wired SASL mechanisms need: a
// username/password pair for PLAIN and LOGIN, or a bearer token for
// OAUTHBEARER. Mechanisms needing more than this (client certificates)
// are out of this package's scope.
type Credentials struct {
	Username string
	Password string

	// Token is the OAUTHBEARER bearer token; required only when that
	// mechanism is in the rank list.
	Token string
}

// SASLRank is the caller's preference order for SASL mechanism names; the
// engine tries each the server also advertises, in order, before falling
// back to LOGIN.
type SASLRank []string

func newSASLClient(mechanism string, creds Credentials) (sasl.Client, error) {
	switch mechanism {
	case "PLAIN":
		return sasl.NewPlainClient("", creds.Username, creds.Password), nil
	case "LOGIN":
		return sasl.NewLoginClient(creds.Username, creds.Password), nil
	case "OAUTHBEARER":
		if creds.Token == "" {
			return nil, fmt.Errorf("imap: OAUTHBEARER requires a bearer token")
		}
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: creds.Username,
			Token:    creds.Token,
		}), nil
	default:
		return nil, &NotSupported{Feature: "AUTH=" + mechanism}
	}
}

// Authenticate tries each mechanism in rank that the server also advertises
// via AUTH=xxx, in order, then falls back to LOGIN unless the server
// advertised LOGINDISABLED.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials, rank SASLRank) error {
	caps := e.Capabilities()
	startVersion := e.CapabilitiesVersion()

	var attempted []string
	var lastErr error
	for _, mech := range rank {
		if !caps.HasAuth(mech) {
			continue
		}
		attempted = append(attempted, mech)
		sc, err := newSASLClient(mech, creds)
		if err != nil {
			lastErr = err
			continue
		}
		ok, err := e.authenticateMechanism(ctx, mech, sc, caps.Has("SASL-IR"))
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return e.finishAuthentication(ctx, startVersion)
		}
		lastErr = fmt.Errorf("imap: AUTHENTICATE %s rejected", mech)
	}

	if caps.Has("LOGINDISABLED") {
		return &AuthenticationError{Attempted: attempted, Err: orNil(lastErr)}
	}

	if err := e.login(ctx, creds); err != nil {
		attempted = append(attempted, "LOGIN")
		return &AuthenticationError{Attempted: attempted, Err: err}
	}
	return e.finishAuthentication(ctx, startVersion)
}

func orNil(err error) error {
	if err == nil {
		return fmt.Errorf("imap: no mechanisms attempted")
	}
	return err
}

// authenticateMechanism drives one AUTHENTICATE exchange to completion,
// feeding each base64 server challenge through sc.Next and writing its
// base64-encoded response as the continuation reply.
func (e *Engine) authenticateMechanism(ctx context.Context, mech string, sc sasl.Client, saslIR bool) (bool, error) {
	cmd, err := e.prepare("AUTHENTICATE", nil)
	if err != nil {
		return false, err
	}

	_, ir, err := sc.Start()
	if err != nil {
		return false, err
	}

	// The initial response rides on the AUTHENTICATE line only when the
	// server advertises SASL-IR and the mechanism actually produced one
	// (RFC 4959). A nil ir means the mechanism is server-first: it has
	// nothing to say until the first challenge, so the bare form goes out
	// even under SASL-IR. "=" marks a present-but-empty initial response
	// and is valid only in the command-line slot.
	useIR := saslIR && ir != nil

	parts := []cmdPart{{text: []byte(cmd.Tag + " AUTHENTICATE " + mech)}}
	if useIR {
		if len(ir) == 0 {
			parts = append(parts, cmdPart{text: []byte(" =")})
		} else {
			parts = append(parts, cmdPart{text: []byte(" " + base64.StdEncoding.EncodeToString(ir))})
		}
	}
	parts = append(parts, cmdPart{text: []byte("\r\n")})
	cmd.parts = parts

	// A client-first mechanism that couldn't use SASL-IR still owes its
	// initial response; it answers the server's first challenge. Every
	// other continuation feeds the decoded challenge through sc.Next.
	irPending := !useIR && ir != nil

	cmd.OnContinuation = func(ctx context.Context, text string) ([]byte, error) {
		if irPending {
			irPending = false
			return []byte(base64.StdEncoding.EncodeToString(ir) + "\r\n"), nil
		}

		var challenge []byte
		if text != "" {
			decoded, err := base64.StdEncoding.DecodeString(text)
			if err != nil {
				return []byte("*\r\n"), nil
			}
			challenge = decoded
		}

		resp, err := sc.Next(challenge)
		if err != nil {
			return []byte("*\r\n"), nil
		}
		if len(resp) == 0 {
			return []byte("\r\n"), nil
		}
		return []byte(base64.StdEncoding.EncodeToString(resp) + "\r\n"), nil
	}

	if err := e.writeCommand(ctx, cmd); err != nil {
		return false, err
	}
	if err := e.pumpUntil(ctx, cmd); err != nil {
		return false, err
	}
	return cmd.Result == ResultOk, nil
}

// login issues a plain LOGIN with the username and password rendered as
// SecretArgs so the Redactor masks them in the protocol log.
func (e *Engine) login(ctx context.Context, creds Credentials) error {
	cmd, err := e.Do(ctx, "LOGIN", SecretArg(creds.Username), SecretArg(creds.Password))
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}
	return nil
}

// finishAuthentication transitions to Authenticated and populates the
// namespace/folder caches. A server that didn't
// include a CAPABILITY resp-code on its authenticated OK gets a fresh
// CAPABILITY round-trip; one that lacks NAMESPACE support is tolerated.
func (e *Engine) finishAuthentication(ctx context.Context, startVersion uint64) error {
	e.setState(StateAuthenticated)

	if e.CapabilitiesVersion() == startVersion {
		if err := e.refreshCapabilities(ctx); err != nil {
			return err
		}
	}

	if e.capsHas("NAMESPACE") {
		if _, err := e.Do(ctx, "NAMESPACE"); err != nil {
			return err
		}
	}

	cmd, err := e.Do(ctx, "LIST", AStringArg(""), AStringArg("*"))
	if err != nil {
		return err
	}
	if cmd.Result != ResultOk {
		return cmd.Err
	}
	return nil
}

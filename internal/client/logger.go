package client

import (
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"goimapcore/internal/imap"
)

const placeholder = "****"

// ProtocolLogger records wire traffic and connection lifecycle events
// through structured slog logging, keyed by a per-connection id so
// concurrent connections interleave legibly. Byte counts are rendered with
// go-humanize.
//
// The server side is an approximate reconstruction (see lineSummary in
// engine.go): the streaming tokenizer/parser chain doesn't retain the raw
// bytes a line arrived as, so what reaches LogServer is the parsed line
// rendered back to text, not a byte-exact transcript.
type ProtocolLogger struct {
	id     string
	logger *slog.Logger
}

// NewProtocolLogger stamps a fresh connection id and wraps logger.
func NewProtocolLogger(logger *slog.Logger) *ProtocolLogger {
	return &ProtocolLogger{id: uuid.NewString(), logger: logger}
}

// ConnID returns the connection id stamped for this logger.
func (l *ProtocolLogger) ConnID() string { return l.id }

// LogConnect records that a connection to uri was established.
func (l *ProtocolLogger) LogConnect(uri string) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("imap connect", "conn", l.id, "uri", uri)
}

// LogClient records outbound bytes, redacting the ranges the Redactor
// identified as credential material.
func (l *ProtocolLogger) LogClient(buf []byte, secrets []imap.Range) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Debug("imap client",
		"conn", l.id,
		"bytes", humanize.Bytes(uint64(len(buf))),
		"data", redactedString(buf, secrets),
	)
}

// LogServer records inbound (reconstructed) line text.
func (l *ProtocolLogger) LogServer(buf []byte) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Debug("imap server",
		"conn", l.id,
		"bytes", humanize.Bytes(uint64(len(buf))),
		"data", string(buf),
	)
}

func redactedString(buf []byte, secrets []imap.Range) string {
	if len(secrets) == 0 {
		return string(buf)
	}
	out := make([]byte, 0, len(buf))
	pos := 0
	for _, r := range secrets {
		if r.Offset < pos || r.Offset+r.Length > len(buf) {
			continue
		}
		out = append(out, buf[pos:r.Offset]...)
		out = append(out, placeholder...)
		pos = r.Offset + r.Length
	}
	out = append(out, buf[pos:]...)
	return string(out)
}

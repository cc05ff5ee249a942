package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ProtocolError marks malformed server data or an unexpected token. The
// connection must be discarded.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "imap: protocol error: " + e.Msg }

const (
	specials = "()[]{ \t\r\n\"\\"
)

// Tokenizer lexes a Token at a time from a ByteStream. It never buffers a
// literal's body: after it emits KindLiteral, the caller must read Num
// bytes from the ByteStream before asking for the next token.
type Tokenizer struct {
	bs     *ByteStream
	peeked *Token
}

// NewTokenizer creates a Tokenizer over bs.
func NewTokenizer(bs *ByteStream) *Tokenizer {
	return &Tokenizer{bs: bs}
}

// Peek returns the next token without consuming it.
func (tz *Tokenizer) Peek(ctx context.Context) (Token, error) {
	if tz.peeked != nil {
		return *tz.peeked, nil
	}
	tok, err := tz.next(ctx)
	if err != nil {
		return Token{}, err
	}
	tz.peeked = &tok
	return tok, nil
}

// Next returns and consumes the next token.
func (tz *Tokenizer) Next(ctx context.Context) (Token, error) {
	if tz.peeked != nil {
		tok := *tz.peeked
		tz.peeked = nil
		return tok, nil
	}
	return tz.next(ctx)
}

func (tz *Tokenizer) next(ctx context.Context) (Token, error) {
	b, err := tz.skipSpaces(ctx)
	if err != nil {
		return Token{}, err
	}

	switch b {
	case '\r':
		nb, err := tz.bs.ReadByte(ctx)
		if err != nil {
			return Token{}, err
		}
		if nb != '\n' {
			return Token{}, &ProtocolError{Msg: fmt.Sprintf("unexpected token: bare CR (followed by %q)", nb)}
		}
		return Token{Kind: KindEoln}, nil
	case '\n':
		// Bare LF tolerated as a line terminator.
		return Token{Kind: KindEoln}, nil
	case '(':
		return Token{Kind: KindOpenParen}, nil
	case ')':
		return Token{Kind: KindCloseParen}, nil
	case '[':
		return Token{Kind: KindOpenBracket}, nil
	case ']':
		return Token{Kind: KindCloseBracket}, nil
	case '*':
		return Token{Kind: KindAsterisk}, nil
	case '"':
		return tz.readQuoted(ctx)
	case '{':
		return tz.readLiteralHeader(ctx)
	case '\\':
		return tz.readFlag(ctx)
	default:
		return tz.readAtom(ctx, b)
	}
}

// skipSpaces consumes run of plain spaces/tabs (but not CR/LF) and returns
// the first non-space byte.
func (tz *Tokenizer) skipSpaces(ctx context.Context) (byte, error) {
	for {
		b, err := tz.bs.ReadByte(ctx)
		if err != nil {
			return 0, err
		}
		if b == ' ' || b == '\t' {
			continue
		}
		return b, nil
	}
}

func (tz *Tokenizer) readQuoted(ctx context.Context) (Token, error) {
	var out []byte
	for {
		b, err := tz.bs.ReadByte(ctx)
		if err != nil {
			return Token{}, err
		}
		switch b {
		case '"':
			return Token{Kind: KindQString, Text: string(out)}, nil
		case '\\':
			nb, err := tz.bs.ReadByte(ctx)
			if err != nil {
				return Token{}, err
			}
			if nb != '"' && nb != '\\' {
				return Token{}, &ProtocolError{Msg: fmt.Sprintf("unexpected token: bad quoted-string escape \\%c", nb)}
			}
			out = append(out, nb)
		case '\r', '\n':
			return Token{}, &ProtocolError{Msg: "unexpected token: unterminated quoted string"}
		default:
			out = append(out, b)
		}
	}
}

func (tz *Tokenizer) readFlag(ctx context.Context) (Token, error) {
	var out []byte
	for {
		b, err := tz.bs.ReadByte(ctx)
		if err != nil {
			// EOF right after the flag's bytes ends the flag.
			if len(out) > 0 && errors.Is(err, io.EOF) {
				break
			}
			return Token{}, err
		}
		if isSpecial(b) {
			_ = tz.bs.UnreadByte()
			break
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return Token{}, &ProtocolError{Msg: "unexpected token: bare backslash"}
	}
	return Token{Kind: KindFlag, Text: string(out)}, nil
}

func (tz *Tokenizer) readAtom(ctx context.Context, first byte) (Token, error) {
	out := []byte{first}
	for {
		b, err := tz.bs.ReadByte(ctx)
		if err != nil {
			// EOF right after the atom's bytes ends the atom.
			if errors.Is(err, io.EOF) {
				break
			}
			return Token{}, err
		}
		if isSpecial(b) {
			_ = tz.bs.UnreadByte()
			break
		}
		out = append(out, b)
	}
	text := string(out)
	if text == "NIL" {
		return Token{Kind: KindNil}, nil
	}
	return Token{Kind: KindAtom, Text: text}, nil
}

// readLiteralHeader lexes `{n}` or `{n+}` up to (but not including) the
// trailing CRLF, then consumes the CRLF itself, producing a KindLiteral
// token carrying only the declared byte count.
func (tz *Tokenizer) readLiteralHeader(ctx context.Context) (Token, error) {
	var digits []byte
	for {
		b, err := tz.bs.ReadByte(ctx)
		if err != nil {
			return Token{}, err
		}
		if b == '+' {
			// Non-synchronizing literal (LITERAL+). It is surfaced as the
			// same KindLiteral; the token does not record the '+'.
			nb, err := tz.bs.ReadByte(ctx)
			if err != nil {
				return Token{}, err
			}
			if nb != '}' {
				return Token{}, &ProtocolError{Msg: "unexpected token: malformed literal header"}
			}
			break
		}
		if b == '}' {
			break
		}
		if b < '0' || b > '9' {
			return Token{}, &ProtocolError{Msg: fmt.Sprintf("unexpected token: bad literal length digit %q", b)}
		}
		digits = append(digits, b)
	}
	if len(digits) == 0 {
		return Token{}, &ProtocolError{Msg: "unexpected token: empty literal length"}
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return Token{}, &ProtocolError{Msg: "unexpected token: literal length overflow"}
	}

	cr, err := tz.bs.ReadByte(ctx)
	if err != nil {
		return Token{}, err
	}
	if cr != '\r' {
		return Token{}, &ProtocolError{Msg: "unexpected token: literal header not followed by CRLF"}
	}
	lf, err := tz.bs.ReadByte(ctx)
	if err != nil {
		return Token{}, err
	}
	if lf != '\n' {
		return Token{}, &ProtocolError{Msg: "unexpected token: literal header not followed by CRLF"}
	}

	return Token{Kind: KindLiteral, Num: n}, nil
}

func isSpecial(b byte) bool {
	for i := 0; i < len(specials); i++ {
		if specials[i] == b {
			return true
		}
	}
	return false
}

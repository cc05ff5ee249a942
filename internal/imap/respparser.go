package imap

import (
	"context"
	"strconv"
	"strings"
)

// LineKind discriminates the three shapes a response line can take.
type LineKind int

const (
	LineUntagged LineKind = iota
	LineTagged
	LineContinuation
)

// Line is a fully parsed response line. Which fields are meaningful
// depends on Kind:
//
//	LineContinuation: only ContinuationText.
//	LineTagged:        Tag, Status, Code, Text.
//	LineUntagged:      Status+Code+Text (for "* OK ..."/"* BYE ..."),
//	                   or Num+Verb+Fields (for "* 4 EXISTS"),
//	                   or Verb+Fields (for "* CAPABILITY ...", "* LIST ...").
type Line struct {
	Kind             LineKind
	Tag              string
	Status           string
	Code             *RespCode
	Text             string
	Verb             string
	Num              int64
	HasNum           bool
	Fields           []Field
	ContinuationText string
}

// ResponseParser turns a token stream into Lines.
type ResponseParser struct {
	bs *ByteStream
	tz *Tokenizer
	fr *fieldReader
}

// NewResponseParser builds a parser reading from bs.
func NewResponseParser(bs *ByteStream) *ResponseParser {
	tz := NewTokenizer(bs)
	return &ResponseParser{bs: bs, tz: tz, fr: &fieldReader{tz: tz, bs: bs}}
}

func isStatusWord(s string) bool {
	switch s {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
		return true
	default:
		return false
	}
}

// ReadLine reads and parses the next full response line, dispatching on its
// first token: '+' -> continuation, '*' -> untagged, anything else -> a
// tagged reply matched by the caller against its in-flight command map.
func (p *ResponseParser) ReadLine(ctx context.Context) (*Line, error) {
	b, err := p.bs.PeekByte()
	if err != nil {
		return nil, err
	}
	if b == '+' {
		raw, err := p.bs.ReadLineOrBytes(ctx, 0)
		if err != nil {
			return nil, err
		}
		text := strings.TrimRight(string(raw), "\r\n")
		text = strings.TrimPrefix(text, "+")
		text = strings.TrimPrefix(text, " ")
		return &Line{Kind: LineContinuation, ContinuationText: text}, nil
	}

	tok, err := p.tz.Next(ctx)
	if err != nil {
		return nil, err
	}

	switch tok.Kind {
	case KindAsterisk:
		return p.readUntagged(ctx)
	case KindAtom:
		return p.readTagged(ctx, tok.Text)
	default:
		return nil, &ProtocolError{Msg: "unexpected token: expected '*', a tag, or '+' at line start, got " + tok.String()}
	}
}

func (p *ResponseParser) readUntagged(ctx context.Context) (*Line, error) {
	tok, err := p.tz.Next(ctx)
	if err != nil {
		return nil, err
	}
	if tok.Kind != KindAtom {
		return nil, &ProtocolError{Msg: "unexpected token: expected word after '*', got " + tok.String()}
	}
	word := tok.Text
	upper := strings.ToUpper(word)

	if isStatusWord(upper) {
		return p.readStatusTail(ctx, LineUntagged, "", upper)
	}

	if n, numErr := strconv.ParseInt(word, 10, 64); numErr == nil {
		verbTok, err := p.tz.Next(ctx)
		if err != nil {
			return nil, err
		}
		if verbTok.Kind != KindAtom {
			return nil, &ProtocolError{Msg: "unexpected token: expected verb after untagged number, got " + verbTok.String()}
		}
		fields, err := p.fr.readUntilEoln(ctx)
		if err != nil {
			return nil, err
		}
		return &Line{Kind: LineUntagged, Num: n, HasNum: true, Verb: strings.ToUpper(verbTok.Text), Fields: fields}, nil
	}

	fields, err := p.fr.readUntilEoln(ctx)
	if err != nil {
		return nil, err
	}
	return &Line{Kind: LineUntagged, Verb: upper, Fields: fields}, nil
}

func (p *ResponseParser) readTagged(ctx context.Context, tag string) (*Line, error) {
	tok, err := p.tz.Next(ctx)
	if err != nil {
		return nil, err
	}
	if tok.Kind != KindAtom {
		return nil, &ProtocolError{Msg: "unexpected token: expected status word after tag, got " + tok.String()}
	}
	status := strings.ToUpper(tok.Text)
	if !isStatusWord(status) {
		return nil, &ProtocolError{Msg: "unexpected token: unknown tagged status " + status}
	}
	return p.readStatusTail(ctx, LineTagged, tag, status)
}

func (p *ResponseParser) readStatusTail(ctx context.Context, kind LineKind, tag, status string) (*Line, error) {
	var code *RespCode

	peeked, err := p.tz.Peek(ctx)
	if err != nil {
		return nil, err
	}
	if peeked.Kind == KindOpenBracket {
		if _, err := p.tz.Next(ctx); err != nil {
			return nil, err
		}
		sub, err := p.fr.readUntil(ctx, KindCloseBracket)
		if err != nil {
			return nil, err
		}
		rc, err := respCodeFromBracket(sub)
		if err != nil {
			return nil, err
		}
		code = &rc
	}

	var parts []string
	for {
		t, err := p.tz.Next(ctx)
		if err != nil {
			return nil, err
		}
		if t.Kind == KindEoln {
			break
		}
		parts = append(parts, textOfToken(t))
	}

	return &Line{Kind: kind, Tag: tag, Status: status, Code: code, Text: strings.Join(parts, " ")}, nil
}

func textOfToken(t Token) string {
	switch t.Kind {
	case KindAtom, KindQString:
		return t.Text
	case KindFlag:
		return "\\" + t.Text
	default:
		return t.Serialize()
	}
}

func respCodeFromBracket(fields []Field) (RespCode, error) {
	if len(fields) == 0 {
		return RespCode{Kind: RCUnknown}, nil
	}
	name := fields[0].AsString()
	kind, ok := respCodeNames[strings.ToUpper(name)]
	if !ok {
		kind = RCUnknown
	}

	argText := func(f Field) string {
		if f.Kind == FFlag {
			return "\\" + f.Atom
		}
		return f.AsString()
	}
	var args []string
	for _, f := range fields[1:] {
		if f.Kind == FList {
			for _, sub := range f.List {
				args = append(args, argText(sub))
			}
		} else {
			args = append(args, argText(f))
		}
	}

	if numericArgCodes[kind] {
		if len(args) != 1 {
			return RespCode{}, &ProtocolError{Msg: "unexpected token: " + strings.ToUpper(name) + " resp-code requires exactly one argument"}
		}
		if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
			return RespCode{}, &ProtocolError{Msg: "unexpected token: " + strings.ToUpper(name) + " resp-code argument " + args[0] + " is not numeric"}
		}
	}

	return RespCode{Kind: kind, Name: strings.ToUpper(name), Args: args}, nil
}

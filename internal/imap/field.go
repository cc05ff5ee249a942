package imap

import (
	"context"
	"strconv"
)

// FieldKind discriminates the nodes of a parsed response-line field tree.
// Fields are the generic parse result for response data with no dedicated
// structured event (FETCH data items, SEARCH number lists, and the like);
// decoding those further is the mail-store layer's job, out of this
// package's scope.
type FieldKind int

const (
	FAtom FieldKind = iota
	FString
	FNil
	FList    // parenthesized list
	FBracket // bracketed resp-code payload
	FLiteral
	FFlag
)

// Field is one node of a parsed response line.
type Field struct {
	Kind    FieldKind
	Atom    string
	Str     string
	List    []Field
	Literal []byte
}

// AsNumber parses an atom field as a base-10 integer; ok is false if the
// field isn't numeric.
func (f Field) AsNumber() (int64, bool) {
	if f.Kind != FAtom {
		return 0, false
	}
	n, err := strconv.ParseInt(f.Atom, 10, 64)
	return n, err == nil
}

// AsString returns the best string representation of an atom, quoted
// string, or literal field.
func (f Field) AsString() string {
	switch f.Kind {
	case FAtom:
		return f.Atom
	case FString:
		return f.Str
	case FLiteral:
		return string(f.Literal)
	default:
		return ""
	}
}

// fieldReader turns tokens into a Field tree, fetching literal bodies from
// the ByteStream as soon as a KindLiteral token is seen, per the tokenizer's
// contract.
type fieldReader struct {
	tz *Tokenizer
	bs *ByteStream
}

// readUntilEoln reads fields up to (and consuming) the line's KindEoln.
func (fr *fieldReader) readUntilEoln(ctx context.Context) ([]Field, error) {
	return fr.readUntil(ctx, KindEoln)
}

// readUntil reads fields until a token of the given terminator kind is
// consumed (KindEoln, KindCloseParen, or KindCloseBracket).
func (fr *fieldReader) readUntil(ctx context.Context, terminator Kind) ([]Field, error) {
	var fields []Field
	for {
		tok, err := fr.tz.Next(ctx)
		if err != nil {
			return nil, err
		}
		if tok.Kind == terminator {
			return fields, nil
		}
		f, err := fr.fieldFor(ctx, tok)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
}

func (fr *fieldReader) fieldFor(ctx context.Context, tok Token) (Field, error) {
	switch tok.Kind {
	case KindAtom:
		return Field{Kind: FAtom, Atom: tok.Text}, nil
	case KindQString:
		return Field{Kind: FString, Str: tok.Text}, nil
	case KindNil:
		return Field{Kind: FNil}, nil
	case KindFlag:
		return Field{Kind: FFlag, Atom: tok.Text}, nil
	case KindAsterisk:
		return Field{Kind: FAtom, Atom: "*"}, nil
	case KindLiteral:
		body, err := fr.bs.ReadLiteral(ctx, tok.Num)
		if err != nil {
			return Field{}, err
		}
		return Field{Kind: FLiteral, Literal: body}, nil
	case KindOpenParen:
		sub, err := fr.readUntil(ctx, KindCloseParen)
		if err != nil {
			return Field{}, err
		}
		return Field{Kind: FList, List: sub}, nil
	case KindOpenBracket:
		sub, err := fr.readUntil(ctx, KindCloseBracket)
		if err != nil {
			return Field{}, err
		}
		return Field{Kind: FBracket, List: sub}, nil
	default:
		return Field{}, &ProtocolError{Msg: "unexpected token: " + tok.String()}
	}
}

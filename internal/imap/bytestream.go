package imap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is the minimal surface ByteStream needs from the underlying
// connection. net.Conn satisfies it; tests use net.Pipe() ends directly.
type Transport interface {
	io.Reader
	io.Writer
}

// deadlineSetter is implemented by net.Conn. When the transport supports it,
// ByteStream uses read deadlines to make reads cancellable: a context
// cancellation nudges the deadline into the past, which unblocks the
// in-flight Read with a timeout error that we translate to Cancelled.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// IoError wraps a transport failure. The connection must be discarded.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("imap: io error during %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// Cancelled is returned when an operation is aborted through a context.
type Cancelled struct {
	Op string
}

func (e *Cancelled) Error() string { return fmt.Sprintf("imap: %s cancelled", e.Op) }

// ByteStream is a buffered, cancellation-aware reader/writer over a
// Transport that can be swapped mid-stream (STARTTLS, COMPRESS).
//
// Only one read and one write may be in flight at a time; callers are
// expected to drive it from a single goroutine.
type ByteStream struct {
	mu        sync.Mutex
	transport Transport
	r         *bufio.Reader
	w         *bufio.Writer
	reading   bool
}

// NewByteStream wraps transport in a ByteStream with default buffer sizes.
func NewByteStream(transport Transport) *ByteStream {
	return &ByteStream{
		transport: transport,
		r:         bufio.NewReader(transport),
		w:         bufio.NewWriter(transport),
	}
}

// Upgrade atomically swaps the underlying transport, discarding any
// buffered-but-unread bytes read from the old one. Precondition: no read is
// in flight and nothing has been written without a Flush. Callers upgrade
// after STARTTLS/COMPRESS once the tagged OK has been consumed.
func (bs *ByteStream) Upgrade(transport Transport) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.reading {
		return errors.New("imap: upgrade called with a read in flight")
	}
	if bs.w.Buffered() > 0 {
		return errors.New("imap: upgrade called with unflushed output pending")
	}
	bs.transport = transport
	bs.r = bufio.NewReader(transport)
	bs.w = bufio.NewWriter(transport)
	return nil
}

// withDeadline arranges for ctx cancellation to unblock a pending read on
// transports that support SetReadDeadline (net.Conn, including net.Pipe
// ends); on other transports ctx is not observed during the read.
func (bs *ByteStream) withDeadline(ctx context.Context, fn func() error) error {
	ds, ok := bs.transport.(deadlineSetter)
	if !ok || ctx.Done() == nil {
		return fn()
	}

	done := make(chan struct{})
	var cancelled atomic.Bool
	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			_ = ds.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	err := fn()
	close(done)

	if cancelled.Load() && err != nil {
		_ = ds.SetReadDeadline(time.Time{})
		return &Cancelled{Op: "read"}
	}
	return err
}

// ReadLineOrBytes returns bytes up to and including the next CRLF, or up to
// max bytes if no CRLF appears first. The returned slice includes the CRLF
// when one terminated it.
func (bs *ByteStream) ReadLineOrBytes(ctx context.Context, max int) ([]byte, error) {
	bs.mu.Lock()
	bs.reading = true
	bs.mu.Unlock()
	defer func() {
		bs.mu.Lock()
		bs.reading = false
		bs.mu.Unlock()
	}()

	var line []byte
	err := bs.withDeadline(ctx, func() error {
		if max > 0 {
			// Read byte by byte so nothing past max is consumed.
			for len(line) < max {
				c, rerr := bs.r.ReadByte()
				if rerr != nil {
					return rerr
				}
				line = append(line, c)
				if c == '\n' {
					break
				}
			}
			return nil
		}
		b, rerr := bs.r.ReadSlice('\n')
		if rerr != nil && rerr != bufio.ErrBufferFull {
			if len(b) == 0 {
				return rerr
			}
		}
		if rerr == bufio.ErrBufferFull || (max > 0 && len(b) > max) {
			n := len(b)
			if max > 0 && n > max {
				n = max
			}
			line = append(line, b[:n]...)
			return nil
		}
		line = append(line, b...)
		return rerr
	})

	var cancelled *Cancelled
	if errors.As(err, &cancelled) {
		return nil, err
	}
	if err != nil && err != io.EOF {
		return line, &IoError{Op: "read", Err: err}
	}
	if len(line) == 0 && err == io.EOF {
		return nil, &IoError{Op: "read", Err: io.EOF}
	}
	return line, nil
}

// ReadLiteral blocks until exactly n bytes have been read from the stream.
func (bs *ByteStream) ReadLiteral(ctx context.Context, n int64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("imap: negative literal length %d", n)
	}
	bs.mu.Lock()
	bs.reading = true
	bs.mu.Unlock()
	defer func() {
		bs.mu.Lock()
		bs.reading = false
		bs.mu.Unlock()
	}()

	buf := make([]byte, n)
	err := bs.withDeadline(ctx, func() error {
		_, rerr := io.ReadFull(bs.r, buf)
		return rerr
	})

	var cancelled *Cancelled
	if errors.As(err, &cancelled) {
		return nil, err
	}
	if err != nil {
		return nil, &IoError{Op: "read literal", Err: err}
	}
	return buf, nil
}

// ReadByte reads and consumes a single byte, for the tokenizer's
// character-at-a-time lexing. It is cancellation-aware like the other
// blocking reads.
func (bs *ByteStream) ReadByte(ctx context.Context) (byte, error) {
	bs.mu.Lock()
	bs.reading = true
	bs.mu.Unlock()
	defer func() {
		bs.mu.Lock()
		bs.reading = false
		bs.mu.Unlock()
	}()

	var b byte
	err := bs.withDeadline(ctx, func() error {
		var rerr error
		b, rerr = bs.r.ReadByte()
		return rerr
	})

	var cancelled *Cancelled
	if errors.As(err, &cancelled) {
		return 0, err
	}
	if err != nil {
		return 0, &IoError{Op: "read byte", Err: err}
	}
	return b, nil
}

// UnreadByte pushes the last byte read by ReadByte back onto the stream.
func (bs *ByteStream) UnreadByte() error {
	return bs.r.UnreadByte()
}

// PeekByte returns the next byte without consuming it.
func (bs *ByteStream) PeekByte() (byte, error) {
	b, err := bs.r.Peek(1)
	if err != nil {
		return 0, &IoError{Op: "peek", Err: err}
	}
	return b[0], nil
}

// Write buffers bytes for the next Flush. It does not block on the
// transport by itself; Flush does.
func (bs *ByteStream) Write(p []byte) error {
	if _, err := bs.w.Write(p); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	return nil
}

// Flush pushes buffered output to the transport.
func (bs *ByteStream) Flush() error {
	if err := bs.w.Flush(); err != nil {
		return &IoError{Op: "flush", Err: err}
	}
	return nil
}

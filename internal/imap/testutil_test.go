package imap

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// fakeTransport is an in-memory Transport for tests that don't need real
// cancellation semantics (those use net.Pipe instead, in bytestream_test.go).
type fakeTransport struct {
	mu  sync.Mutex
	r   *bytes.Reader
	out bytes.Buffer
}

func newFakeTransport(in string) *fakeTransport {
	return &fakeTransport{r: bytes.NewReader([]byte(in))}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, io.EOF
	}
	return n, err
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

func (f *fakeTransport) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func bgCtx() context.Context { return context.Background() }

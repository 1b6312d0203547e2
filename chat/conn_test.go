package chat

import (
	"bytes"
	"io"
	"sync"
)

type fakeConn struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	out      bytes.Buffer
	exitCode int
	closed   bool
}

func newFakeConn() *fakeConn {
	r, w := io.Pipe()
	return &fakeConn{r: r, w: w, exitCode: -1}
}

func (f *fakeConn) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.out.Write(p)
}

func (f *fakeConn) Exit(code int) error {
	f.mu.Lock()
	f.exitCode = code
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.r.Close()
}

func (f *fakeConn) Type(s string) {
	_, _ = f.w.Write([]byte(s))
}

func (f *fakeConn) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func (f *fakeConn) ExitCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode
}

func (f *fakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

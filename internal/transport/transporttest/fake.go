// Package transporttest provides an in-memory transport for exercising the
// registry, supervisor and pump without the NDI SDK.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/function-store/RpiSimpleNDI/internal/transport"
)

// Fake is an in-memory transport. Sources are set by tests; connections
// deliver frames queued via PushFrame.
type Fake struct {
	mu       sync.Mutex
	sources  []string
	listErr  error
	conns    map[string]*FakeConn
	connects []string
	closed   bool
}

func New(sources ...string) *Fake {
	return &Fake{
		sources: append([]string(nil), sources...),
		conns:   make(map[string]*FakeConn),
	}
}

// SetSources replaces the discoverable source list.
func (f *Fake) SetSources(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append([]string(nil), names...)
}

// SetListError makes the next discovery polls fail with err (nil to clear).
func (f *Fake) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *Fake) ListSources(ctx context.Context, scanTimeout time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.sources...), nil
}

func (f *Fake) Connect(name string) (transport.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	found := false
	for _, s := range f.sources {
		if s == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("source %q not found", name)
	}

	conn := &FakeConn{name: name, frames: make(chan *transport.RawFrame, 64)}
	f.conns[name] = conn
	f.connects = append(f.connects, name)
	return conn, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Connects returns the order of Connect calls so far.
func (f *Fake) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

// Conn returns the live connection for name, or nil.
func (f *Fake) Conn(name string) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[name]
}

// FakeConn is an in-memory connection fed by PushFrame.
type FakeConn struct {
	mu     sync.Mutex
	name   string
	frames chan *transport.RawFrame
	closed bool
}

// PushFrame queues a frame for delivery to the next Receive call.
func (c *FakeConn) PushFrame(frame *transport.RawFrame) {
	c.frames <- frame
}

func (c *FakeConn) Receive(timeout time.Duration) (*transport.RawFrame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-time.After(timeout):
		return nil, transport.ErrTimeout
	}
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

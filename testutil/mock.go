package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Common test errors
var (
	ErrMockFailed     = errors.New("mock operation failed")
	ErrMockConnection = errors.New("mock connection error")
)

// MockUpstream stands in for the AIS websocket feed. Its Dial method hands out
// MockConns that tests drive frame by frame. Wrap it in a type with the
// stream client's Dialer signature to inject it.
type MockUpstream struct {
	conns chan *MockConn
	dials atomic.Int32

	// FailDials makes the next N dials fail with ErrMockConnection.
	FailDials atomic.Int32
}

// NewMockUpstream creates a mock upstream.
func NewMockUpstream() *MockUpstream {
	return &MockUpstream{conns: make(chan *MockConn, 16)}
}

// Dial opens a new mock connection.
func (u *MockUpstream) Dial(ctx context.Context, _ string) (*MockConn, error) {
	u.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.FailDials.Load() > 0 {
		u.FailDials.Add(-1)
		return nil, ErrMockConnection
	}

	c := &MockConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	select {
	case u.conns <- c:
	default:
	}
	return c, nil
}

// Dials returns how many times Dial was called.
func (u *MockUpstream) Dials() int {
	return int(u.dials.Load())
}

// Next waits for the next dialed connection.
func (u *MockUpstream) Next(timeout time.Duration) (*MockConn, bool) {
	select {
	case c := <-u.conns:
		return c, true
	case <-time.After(timeout):
		return nil, false
	}
}

// MockConn is one mock upstream connection. Frames queued with Send are
// returned by ReadMessage in order.
type MockConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

// Send queues a text frame for the reader.
func (c *MockConn) Send(frame []byte) {
	select {
	case c.frames <- frame:
	case <-c.closed:
	}
}

// Drop closes the connection from the upstream side.
func (c *MockConn) Drop() {
	c.once.Do(func() { close(c.closed) })
}

// Closed reports whether either side closed the connection.
func (c *MockConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Writes returns copies of every frame written by the client.
func (c *MockConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// ReadMessage blocks for the next frame or connection close.
func (c *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "mock connection closed"}
	}
}

// WriteJSON records v.
func (c *MockConn) WriteJSON(v any) error {
	if c.Closed() {
		return ErrMockConnection
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.writes = append(c.writes, data)
	c.mu.Unlock()
	return nil
}

// SetReadDeadline is a no-op.
func (c *MockConn) SetReadDeadline(time.Time) error {
	return nil
}

// Close closes the connection from the client side.
func (c *MockConn) Close() error {
	c.Drop()
	return nil
}

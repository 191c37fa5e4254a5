package health

import (
	"sync"
	"time"
)

// ConnectionSnapshot is a point-in-time copy of the upstream connection state.
type ConnectionSnapshot struct {
	IsConnected     bool
	LastConnectedAt *time.Time
}

// ConnectionState records whether the upstream feed is live and when it was
// last successfully opened. Writers are the stream client; readers are query
// handlers. LastConnectedAt is never cleared once set.
type ConnectionState struct {
	mu              sync.RWMutex
	isConnected     bool
	lastConnectedAt *time.Time
}

// NewConnectionState returns a disconnected state with no prior connection.
func NewConnectionState() *ConnectionState {
	return &ConnectionState{}
}

// MarkConnected records a successful open at now.
func (c *ConnectionState) MarkConnected(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isConnected = true
	c.lastConnectedAt = &now
}

// MarkDisconnected clears the live flag and keeps the last connection time.
func (c *ConnectionState) MarkDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isConnected = false
}

// Snapshot returns a consistent copy of both fields.
func (c *ConnectionState) Snapshot() ConnectionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := ConnectionSnapshot{IsConnected: c.isConnected}
	if c.lastConnectedAt != nil {
		ts := *c.lastConnectedAt
		snap.LastConnectedAt = &ts
	}
	return snap
}

// Status reports the connection as a health status for the named component.
func (c *ConnectionState) Status(component string) Status {
	snap := c.Snapshot()
	switch {
	case snap.IsConnected:
		return NewHealthy(component, "connected")
	case snap.LastConnectedAt != nil:
		return NewDegraded(component, "disconnected since last connection at "+
			snap.LastConnectedAt.UTC().Format(time.RFC3339))
	default:
		return NewDegraded(component, "no successful connection yet")
	}
}

package aisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/shipstream/vessel"
)

// Conn is one live upstream connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens upstream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	ReadBufferSize   int
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  d.HandshakeTimeout,
		ReadBufferSize:    d.ReadBufferSize,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// subscription is the first frame sent on every connection.
type subscription struct {
	APIKey             string               `json:"APIKey"`
	BoundingBoxes      []vessel.BoundingBox `json:"BoundingBoxes"`
	FiltersShipMMSI    []string             `json:"FiltersShipMMSI,omitempty"`
	FilterMessageTypes []string             `json:"FilterMessageTypes"`
}

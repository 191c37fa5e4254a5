package aisstream

import (
	"time"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/vessel"
)

// DefaultURL is the public AISStream endpoint.
const DefaultURL = "wss://stream.aisstream.io/v0/stream"

// Config holds configuration for the AIS stream client
type Config struct {
	URL           string               `json:"url"`
	APIKey        string               `json:"api_key"`
	BoundingBoxes []vessel.BoundingBox `json:"bounding_boxes"`

	// MMSIFilter restricts the subscription to the listed vessels. Empty means all.
	MMSIFilter []string `json:"mmsi_filter,omitempty"`

	Reconnect        ReconnectConfig `json:"reconnect"`
	HandshakeTimeout time.Duration   `json:"handshake_timeout"`
	// ReadTimeout closes a connection that has been silent this long. Zero disables it.
	ReadTimeout time.Duration `json:"read_timeout"`
	EventBuffer int           `json:"event_buffer"`
}

// ReconnectConfig controls the delay between connection attempts.
// Multiplier 1 with no jitter gives a fixed delay of InitialInterval.
type ReconnectConfig struct {
	MaxRetries      int           `json:"max_retries"` // 0 = unlimited
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
	Jitter          float64       `json:"jitter"`
}

// DefaultConfig returns a client configuration subscribed to the whole globe.
func DefaultConfig() Config {
	return Config{
		URL:           DefaultURL,
		BoundingBoxes: []vessel.BoundingBox{vessel.WorldBox},
		Reconnect: ReconnectConfig{
			InitialInterval: time.Second,
			MaxInterval:     60 * time.Second,
			Multiplier:      2.0,
			Jitter:          0.1,
		},
		HandshakeTimeout: 45 * time.Second,
		EventBuffer:      256,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "aisstream", "Validate", "url check")
	}
	if c.APIKey == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "aisstream", "Validate", "api key check")
	}
	if err := vessel.ValidateBoxes(c.BoundingBoxes); err != nil {
		return err
	}
	if c.Reconnect.InitialInterval <= 0 || c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "aisstream", "Validate", "reconnect interval check")
	}
	if c.Reconnect.Multiplier < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "aisstream", "Validate", "reconnect multiplier check")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "aisstream", "Validate", "reconnect jitter check")
	}
	if c.Reconnect.MaxRetries < 0 || c.ReadTimeout < 0 || c.HandshakeTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "aisstream", "Validate", "limit check")
	}
	return nil
}

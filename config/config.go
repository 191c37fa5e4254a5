package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/pkg/tlsutil"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

// Config is the complete service configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log" json:"log"`
	Upstream    UpstreamConfig    `mapstructure:"upstream" yaml:"upstream" json:"upstream"`
	Registry    RegistryConfig    `mapstructure:"registry" yaml:"registry" json:"registry"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence" json:"persistence"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage" json:"storage"`
	Query       QueryConfig       `mapstructure:"query" yaml:"query" json:"query"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http" json:"http"`
	NATS        NATSConfig        `mapstructure:"nats" yaml:"nats" json:"nats"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format" json:"format"` // json, text
}

// UpstreamConfig defines the AIS feed subscription.
type UpstreamConfig struct {
	URL              string               `mapstructure:"url" yaml:"url" json:"url"`
	APIKey           string               `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	BoundingBoxes    []vessel.BoundingBox `mapstructure:"bounding_boxes" yaml:"bounding_boxes" json:"bounding_boxes"`
	MMSIFilter       []string             `mapstructure:"mmsi_filter" yaml:"mmsi_filter" json:"mmsi_filter"`
	HandshakeTimeout time.Duration        `mapstructure:"handshake_timeout" yaml:"handshake_timeout" json:"handshake_timeout"`
	ReadTimeout      time.Duration        `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	Reconnect        ReconnectConfig      `mapstructure:"reconnect" yaml:"reconnect" json:"reconnect"`
}

// ReconnectConfig controls reconnect backoff. Multiplier 1 and jitter 0 give
// a fixed delay.
type ReconnectConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval" json:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
	Jitter          float64       `mapstructure:"jitter" yaml:"jitter" json:"jitter"`
}

// RegistryConfig controls the in-memory registry.
type RegistryConfig struct {
	// Hydrate loads storage into the registry at startup.
	Hydrate bool `mapstructure:"hydrate" yaml:"hydrate" json:"hydrate"`
}

// PersistenceConfig controls flushing and retention.
type PersistenceConfig struct {
	FlushInterval     time.Duration `mapstructure:"flush_interval" yaml:"flush_interval" json:"flush_interval"`
	FlushMode         string        `mapstructure:"flush_mode" yaml:"flush_mode" json:"flush_mode"`
	FinalFlushTimeout time.Duration `mapstructure:"final_flush_timeout" yaml:"final_flush_timeout" json:"final_flush_timeout"`
	Retention         time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" json:"sweep_interval"`
	PruneRegistry     bool          `mapstructure:"prune_registry" yaml:"prune_registry" json:"prune_registry"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	Backend     string           `mapstructure:"backend" yaml:"backend" json:"backend"`
	InitTimeout time.Duration    `mapstructure:"init_timeout" yaml:"init_timeout" json:"init_timeout"`
	NATSKV      NATSBucketConfig `mapstructure:"nats_kv" yaml:"nats_kv" json:"nats_kv"`
	NATSObject  NATSBucketConfig `mapstructure:"nats_object" yaml:"nats_object" json:"nats_object"`
	Postgres    PostgresConfig   `mapstructure:"postgres" yaml:"postgres" json:"postgres"`
	SQLite      SQLiteConfig     `mapstructure:"sqlite" yaml:"sqlite" json:"sqlite"`
}

// NATSBucketConfig names a JetStream bucket.
type NATSBucketConfig struct {
	Bucket   string        `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Replicas int           `mapstructure:"replicas" yaml:"replicas" json:"replicas"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns" json:"max_conns"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// QueryConfig selects where queries read from.
type QueryConfig struct {
	Source string `mapstructure:"source" yaml:"source" json:"source"` // registry, storage
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	EnableCORS     bool          `mapstructure:"enable_cors" yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins    []string      `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	MaxRequestSize int64         `mapstructure:"max_request_size" yaml:"max_request_size" json:"max_request_size"`

	TLS tlsutil.ServerConfig `mapstructure:"tls" yaml:"tls" json:"tls"`
}

// NATSConfig defines NATS connection settings, used by the nats-kv and
// nats-object backends.
type NATSConfig struct {
	URLs          []string      `mapstructure:"urls" yaml:"urls" json:"urls"`
	Name          string        `mapstructure:"name" yaml:"name" json:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait" json:"reconnect_wait"`
	PingInterval  time.Duration `mapstructure:"ping_interval" yaml:"ping_interval" json:"ping_interval"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout" json:"drain_timeout"`
	Username      string        `mapstructure:"username" yaml:"username" json:"username"`
	Password      string        `mapstructure:"password" yaml:"password" json:"password"`
	Token         string        `mapstructure:"token" yaml:"token" json:"token"`

	TLS tlsutil.ClientConfig `mapstructure:"tls" yaml:"tls" json:"tls"`
}

// Query sources.
const (
	QuerySourceRegistry = "registry"
	QuerySourceStorage  = "storage"
)

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Upstream: UpstreamConfig{
			URL:              "wss://stream.aisstream.io/v0/stream",
			BoundingBoxes:    []vessel.BoundingBox{vessel.WorldBox},
			MMSIFilter:       []string{},
			HandshakeTimeout: 45 * time.Second,
			Reconnect: ReconnectConfig{
				InitialInterval: time.Second,
				MaxInterval:     60 * time.Second,
				Multiplier:      2,
				Jitter:          0.1,
			},
		},
		Registry: RegistryConfig{Hydrate: true},
		Persistence: PersistenceConfig{
			FlushInterval:     5 * time.Minute,
			FlushMode:         "incremental",
			FinalFlushTimeout: 30 * time.Second,
			Retention:         24 * time.Hour,
			SweepInterval:     time.Hour,
			PruneRegistry:     true,
		},
		Storage: StorageConfig{
			Backend:     storage.BackendMemory,
			InitTimeout: 30 * time.Second,
			NATSKV:      NATSBucketConfig{Bucket: "ships", Replicas: 1, Timeout: 5 * time.Second},
			NATSObject:  NATSBucketConfig{Bucket: "ships", Replicas: 1, Timeout: 30 * time.Second},
			Postgres:    PostgresConfig{MaxConns: 10},
			SQLite:      SQLiteConfig{Path: "shipstream.db"},
		},
		Query: QueryConfig{Source: QuerySourceRegistry},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 20 * time.Second,
			CORSOrigins:    []string{},
			MaxRequestSize: 64 * 1024,
			TLS:            tlsutil.ServerConfig{ClientCAFiles: []string{}},
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://127.0.0.1:4222"},
			Name:          "shipstream",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			PingInterval:  30 * time.Second,
			DrainTimeout:  30 * time.Second,
			TLS:           tlsutil.ClientConfig{CAFiles: []string{}},
		},
	}
}

// Validate checks cross-field constraints. Component constructors validate
// their own sections again.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return invalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	if c.Upstream.URL == "" {
		return invalid("upstream.url", "is required")
	}
	if c.Upstream.APIKey == "" {
		return invalid("upstream.api_key", "is required")
	}
	if err := vessel.ValidateBoxes(c.Upstream.BoundingBoxes); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "upstream.bounding_boxes")
	}

	p := c.Persistence
	if p.FlushInterval <= 0 || p.SweepInterval <= 0 || p.Retention <= 0 || p.FinalFlushTimeout <= 0 {
		return invalid("persistence", "intervals, retention and final_flush_timeout must be positive")
	}
	if p.FlushMode != "incremental" && p.FlushMode != "snapshot" {
		return invalid("persistence.flush_mode", fmt.Sprintf("unknown mode %q", p.FlushMode))
	}

	if !slices.Contains(storage.Backends(), c.Storage.Backend) {
		return invalid("storage.backend", fmt.Sprintf("unknown backend %q (want one of %s)",
			c.Storage.Backend, strings.Join(storage.Backends(), ", ")))
	}
	switch c.Storage.Backend {
	case storage.BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return invalid("storage.postgres.dsn", "is required for the postgres backend")
		}
	case storage.BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return invalid("storage.sqlite.path", "is required for the sqlite backend")
		}
	case storage.BackendNATSKV, storage.BackendNATSObject:
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls", "is required for NATS backends")
		}
		if c.NATS.PingInterval < 0 || c.NATS.DrainTimeout < 0 {
			return invalid("nats", "ping_interval and drain_timeout must not be negative")
		}
	}

	if c.Query.Source != QuerySourceRegistry && c.Query.Source != QuerySourceStorage {
		return invalid("query.source", fmt.Sprintf("unknown source %q", c.Query.Source))
	}
	if c.Query.Source == QuerySourceStorage && c.Storage.Backend == storage.BackendMemory {
		return invalid("query.source", "storage source needs a durable backend")
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "is required")
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == "") {
		return invalid("http.tls", "cert_file and key_file are required when enabled")
	}

	return nil
}

func invalid(field, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s %s", errors.ErrInvalidConfig, field, reason),
		"Config", "Validate", field)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Upstream.APIKey = mask(c.Upstream.APIKey)
	out.NATS.Password = mask(c.NATS.Password)
	out.NATS.Token = mask(c.NATS.Token)
	if c.Storage.Postgres.DSN != "" {
		out.Storage.Postgres.DSN = redactDSN(c.Storage.Postgres.DSN)
	}
	return &out
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "********"
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, _ := strings.Cut(userinfo, ":")
	return scheme + "://" + user + ":********@" + host
}

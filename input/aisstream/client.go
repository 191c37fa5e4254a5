package aisstream

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/metric"
	"github.com/c360/shipstream/registry"
	"github.com/c360/shipstream/vessel"
)

const componentName = "aisstream"

type eventKind int

const (
	eventOpened eventKind = iota
	eventMessage
	eventClosed
	eventSetBoxes
)

// event is the only way state reaches the receiver loop. gen identifies the
// connection that produced it; events from an abandoned connection are ignored.
type event struct {
	kind  eventKind
	gen   uint64
	data  []byte
	err   error
	boxes []vessel.BoundingBox
	done  chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default tagged with the component name.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics exports client metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Client) {
		c.metricsReg = registry
	}
}

// WithDialer replaces the websocket dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithClock sets the time source used for connection timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client maintains the subscription to the AIS feed and applies every decoded
// position report to the registry.
//
// All connection state is owned by one receiver goroutine. Each live
// connection has a reader goroutine that turns frames and read errors into
// events; filter changes from other goroutines arrive as events too.
type Client struct {
	config     Config
	registry   *registry.Registry
	state      *health.ConnectionState
	dialer     Dialer
	logger     *slog.Logger
	metricsReg *metric.MetricsRegistry
	metrics    *Metrics
	now        func() time.Time
	decodeLog  *rate.Limiter

	boxesMu sync.RWMutex
	boxes   []vessel.BoundingBox

	events chan event

	// Receiver loop state
	conn     Conn
	gen      uint64
	session  string
	backoff  *backoff.ExponentialBackOff
	attempts int
	retry    *time.Timer

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     atomic.Bool
	cancel      context.CancelFunc
	stopped     chan struct{}
	wg          sync.WaitGroup
}

// NewClient creates a stream client writing into reg and reporting connection
// changes to state.
func NewClient(cfg Config, reg *registry.Registry, state *health.ConnectionState, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil || state == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "NewClient", "dependency check")
	}

	c := &Client{
		config:    cfg,
		registry:  reg,
		state:     state,
		dialer:    WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger:    slog.Default().With("component", componentName),
		now:       time.Now,
		decodeLog: rate.NewLimiter(rate.Every(time.Second), 5),
		boxes:     slices.Clone(cfg.BoundingBoxes),
	}
	for _, opt := range opts {
		opt(c)
	}

	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	c.events = make(chan event, buffer)
	c.metrics = newMetrics(c.metricsReg, componentName)

	c.backoff = backoff.NewExponentialBackOff()
	c.backoff.InitialInterval = cfg.Reconnect.InitialInterval
	c.backoff.MaxInterval = cfg.Reconnect.MaxInterval
	c.backoff.Multiplier = cfg.Reconnect.Multiplier
	c.backoff.RandomizationFactor = cfg.Reconnect.Jitter
	c.backoff.Reset()

	return c, nil
}

// Start connects to the feed and begins processing frames. It returns
// immediately; connection failures are retried in the background.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, componentName, "Start", "state check")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	c.started.Store(true)

	c.wg.Add(1)
	go c.run(loopCtx, c.stopped)

	c.logger.Info("Stream client started", "url", c.config.URL, "bounding_boxes", len(c.BoundingBoxes()))
	return nil
}

// Stop cancels any pending reconnect, closes the connection and waits for
// goroutines to exit.
func (c *Client) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.started.Load() {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, componentName, "Stop", "goroutine shutdown")
	}

	c.started.Store(false)
	c.logger.Info("Stream client stopped")
	return nil
}

// BoundingBoxes returns a copy of the active subscription filter.
func (c *Client) BoundingBoxes() []vessel.BoundingBox {
	c.boxesMu.RLock()
	defer c.boxesMu.RUnlock()
	return slices.Clone(c.boxes)
}

func (c *Client) setBoxes(boxes []vessel.BoundingBox) {
	c.boxesMu.Lock()
	c.boxes = boxes
	c.boxesMu.Unlock()
}

// UpdateBoundingBoxes replaces the subscription filter and reconnects so the
// new filter takes effect. It returns once the receiver loop has accepted the
// change, without waiting for the new connection.
func (c *Client) UpdateBoundingBoxes(ctx context.Context, boxes []vessel.BoundingBox) error {
	if err := vessel.ValidateBoxes(boxes); err != nil {
		return err
	}
	boxes = slices.Clone(boxes)

	c.lifecycleMu.Lock()
	if !c.started.Load() {
		c.setBoxes(boxes)
		c.lifecycleMu.Unlock()
		return nil
	}
	stopped := c.stopped
	c.lifecycleMu.Unlock()

	ev := event{kind: eventSetBoxes, boxes: boxes, done: make(chan struct{})}
	select {
	case c.events <- ev:
	case <-stopped:
		return errors.WrapTransient(errors.ErrShuttingDown, componentName, "UpdateBoundingBoxes", "submit filter")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), componentName, "UpdateBoundingBoxes", "submit filter")
	}

	select {
	case <-ev.done:
		return nil
	case <-stopped:
		return errors.WrapTransient(errors.ErrShuttingDown, componentName, "UpdateBoundingBoxes", "apply filter")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), componentName, "UpdateBoundingBoxes", "apply filter")
	}
}

// Health reports the upstream connection as a health status.
func (c *Client) Health() health.Status {
	return c.state.Status(componentName)
}

func (c *Client) run(ctx context.Context, stopped chan struct{}) {
	defer c.wg.Done()
	defer close(stopped)
	defer c.shutdown()

	c.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.retryC():
			c.retry = nil
			c.connect(ctx)
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Client) retryC() <-chan time.Time {
	if c.retry == nil {
		return nil
	}
	return c.retry.C
}

func (c *Client) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) shutdown() {
	c.stopRetry()
	c.closeConn()
	c.state.MarkDisconnected()
	c.metrics.disconnected()
}

func (c *Client) handle(ctx context.Context, ev event) {
	if ev.kind == eventSetBoxes {
		c.setBoxes(ev.boxes)
		close(ev.done)
		c.logger.Info("Bounding boxes updated, reconnecting", "bounding_boxes", len(ev.boxes))

		c.stopRetry()
		c.attempts = 0
		c.backoff.Reset()
		c.connect(ctx)
		return
	}

	if ev.gen != c.gen {
		if ev.kind == eventMessage {
			c.metrics.dropped("stale_connection")
		}
		return
	}

	switch ev.kind {
	case eventOpened:
		c.onOpened()
	case eventMessage:
		c.onMessage(ev.data)
	case eventClosed:
		c.onClosed(ev.err)
	}
}

// connect replaces any current connection with a new one subscribed to the
// active filter. Failures arm the reconnect timer.
func (c *Client) connect(ctx context.Context) {
	c.closeConn()
	c.gen++
	gen := c.gen

	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.config.HandshakeTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.config.HandshakeTimeout)
	}
	conn, err := c.dialer.Dial(dialCtx, c.config.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.trackError("dial")
		c.logger.Warn("Upstream dial failed", "url", c.config.URL, "attempt", c.attempts, "error", err)
		c.scheduleReconnect()
		return
	}

	sub := subscription{
		APIKey:             c.config.APIKey,
		BoundingBoxes:      c.BoundingBoxes(),
		FiltersShipMMSI:    c.config.MMSIFilter,
		FilterMessageTypes: []string{"PositionReport"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		c.metrics.trackError("handshake")
		c.logger.Warn("Subscription handshake failed",
			"error", errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrHandshakeFailed, err),
				componentName, "connect", "send subscription"))
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.session = uuid.NewString()

	c.wg.Add(1)
	go c.readLoop(ctx, gen, conn)
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("Error closing upstream connection", "session", c.session, "error", err)
	}
	c.conn = nil
	c.state.MarkDisconnected()
	c.metrics.disconnected()
}

// readLoop forwards frames from one connection until it fails or is closed.
func (c *Client) readLoop(ctx context.Context, gen uint64, conn Conn) {
	defer c.wg.Done()

	if !c.post(ctx, event{kind: eventOpened, gen: gen}) {
		return
	}

	for {
		if c.config.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
				c.post(ctx, event{kind: eventClosed, gen: gen, err: err})
				return
			}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.post(ctx, event{kind: eventClosed, gen: gen, err: err})
			return
		}
		if !c.post(ctx, event{kind: eventMessage, gen: gen, data: data}) {
			return
		}
	}
}

func (c *Client) post(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) onOpened() {
	c.state.MarkConnected(c.now())
	c.backoff.Reset()
	c.attempts = 0
	c.metrics.connected()

	c.logger.Info("Connected to upstream feed",
		"url", c.config.URL,
		"session", c.session,
		"bounding_boxes", len(c.BoundingBoxes()))
}

func (c *Client) onMessage(data []byte) {
	c.metrics.received()

	update, ok, err := Decode(data)
	switch {
	case errors.Is(err, ErrUpstreamRejected):
		c.metrics.dropped("upstream_error")
		c.logger.Warn("Upstream reported an error", "session", c.session, "error", err)
	case err != nil:
		c.metrics.dropped("decode")
		if c.decodeLog.Allow() {
			c.logger.Warn("Dropping undecodable message", "session", c.session, "bytes", len(data), "error", err)
		}
	case !ok:
		c.metrics.ignored()
	default:
		c.registry.Upsert(update)
		c.metrics.decoded()
	}
}

func (c *Client) onClosed(cause error) {
	c.closeConn()

	err := errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, cause),
		componentName, "readLoop", "read frame")
	c.metrics.trackError("connection")
	c.logger.Warn("Upstream connection closed", "session", c.session, "error", err)

	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	maxRetries := c.config.Reconnect.MaxRetries
	if maxRetries > 0 && c.attempts >= maxRetries {
		c.metrics.trackError("reconnect_exhausted")
		c.logger.Error("Giving up on upstream connection", "attempts", c.attempts)
		return
	}

	c.attempts++
	delay := c.backoff.NextBackOff()
	c.metrics.reconnecting()
	c.logger.Info("Scheduling reconnect", "delay", delay, "attempt", c.attempts)

	c.stopRetry()
	c.retry = time.NewTimer(delay)
}

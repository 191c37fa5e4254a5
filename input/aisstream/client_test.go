package aisstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/metric"
	"github.com/c360/shipstream/registry"
	"github.com/c360/shipstream/vessel"
)

// =============================================================================
// FAKE UPSTREAM
// =============================================================================

// fakeUpstream accepts websocket connections, records each subscription and
// hands the server side of the connection to the test.
type fakeUpstream struct {
	server *httptest.Server
	subs   chan subscription
	conns  chan *websocket.Conn

	mu   sync.Mutex
	open []*websocket.Conn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{
		subs:  make(chan subscription, 16),
		conns: make(chan *websocket.Conn, 16),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}

		var sub subscription
		if err := conn.ReadJSON(&sub); err != nil {
			conn.Close()
			return
		}

		f.mu.Lock()
		f.open = append(f.open, conn)
		f.mu.Unlock()

		f.subs <- sub
		f.conns <- conn
	}))

	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.open {
			c.Close()
		}
		f.mu.Unlock()
		f.server.Close()
	})
	return f
}

func (f *fakeUpstream) url() string {
	return "ws" + f.server.URL[4:] // Replace http with ws
}

func (f *fakeUpstream) accept(t *testing.T) (subscription, *websocket.Conn) {
	t.Helper()
	select {
	case sub := <-f.subs:
		return sub, <-f.conns
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return subscription{}, nil
	}
}

func positionFrame(mmsi string, lat, lon float64) []byte {
	return []byte(fmt.Sprintf(`{"MessageType":"PositionReport",`+
		`"MetaData":{"MMSI_String":"%s","time_utc":"2024-05-01 12:00:00.5 +0000 UTC"},`+
		`"Message":{"PositionReport":{"Latitude":%v,"Longitude":%v,"Sog":12.5,"Cog":270}}}`,
		mmsi, lat, lon))
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.APIKey = "test-key"
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.Reconnect.InitialInterval = 10 * time.Millisecond
	cfg.Reconnect.MaxInterval = 50 * time.Millisecond
	cfg.Reconnect.Jitter = 0
	return cfg
}

type harness struct {
	client *Client
	reg    *registry.Registry
	state  *health.ConnectionState
}

func startClient(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	reg, err := registry.New()
	require.NoError(t, err)
	state := health.NewConnectionState()

	client, err := NewClient(cfg, reg, state, opts...)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() {
		_ = client.Stop(2 * time.Second)
	})

	return &harness{client: client, reg: reg, state: state}
}

// =============================================================================
// CONNECTION LIFECYCLE TESTS
// =============================================================================

func TestClient_SubscribesAndAppliesReports(t *testing.T) {
	upstream := newFakeUpstream(t)
	h := startClient(t, testConfig(upstream.url()))

	sub, conn := upstream.accept(t)
	assert.Equal(t, "test-key", sub.APIKey)
	assert.Equal(t, []vessel.BoundingBox{vessel.WorldBox}, sub.BoundingBoxes)
	assert.Equal(t, []string{"PositionReport"}, sub.FilterMessageTypes)

	require.Eventually(t, func() bool { return h.state.Snapshot().IsConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, positionFrame("002320001", 51.5, -0.1)))

	require.Eventually(t, func() bool {
		_, ok := h.reg.Get("002320001")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rec, _ := h.reg.Get("002320001")
	assert.Equal(t, 51.5, rec.Lat)
	assert.Equal(t, -0.1, rec.Lon)
	assert.Equal(t, 12.5, rec.Speed)
	assert.Equal(t, 270.0, rec.Course)
	assert.Equal(t, 1, h.reg.PendingCount())
}

func TestClient_MalformedFrameKeepsConnection(t *testing.T) {
	upstream := newFakeUpstream(t)
	h := startClient(t, testConfig(upstream.url()))
	_, conn := upstream.accept(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"Api Key Is Not Valid"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, positionFrame("111", 1, 2)))

	require.Eventually(t, func() bool { return h.reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.state.Snapshot().IsConnected)

	select {
	case <-upstream.subs:
		t.Fatal("client reconnected after a malformed frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ReconnectsAfterClose(t *testing.T) {
	upstream := newFakeUpstream(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := startClient(t, testConfig(upstream.url()), WithClock(func() time.Time { return now }))

	_, conn := upstream.accept(t)
	require.Eventually(t, func() bool { return h.state.Snapshot().IsConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return !h.state.Snapshot().IsConnected }, 2*time.Second, 5*time.Millisecond)
	snap := h.state.Snapshot()
	require.NotNil(t, snap.LastConnectedAt)
	assert.Equal(t, now, *snap.LastConnectedAt)

	upstream.accept(t)
	require.Eventually(t, func() bool { return h.state.Snapshot().IsConnected }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_UpdateBoundingBoxesReconnects(t *testing.T) {
	upstream := newFakeUpstream(t)
	h := startClient(t, testConfig(upstream.url()))
	upstream.accept(t)

	boxes := []vessel.BoundingBox{{{50, -5}, {60, 5}}}
	require.NoError(t, h.client.UpdateBoundingBoxes(context.Background(), boxes))
	assert.Equal(t, boxes, h.client.BoundingBoxes())

	sub, _ := upstream.accept(t)
	assert.Equal(t, boxes, sub.BoundingBoxes)
}

func TestClient_UpdateBoundingBoxesValidates(t *testing.T) {
	upstream := newFakeUpstream(t)
	h := startClient(t, testConfig(upstream.url()))

	err := h.client.UpdateBoundingBoxes(context.Background(), []vessel.BoundingBox{{{0, 0}, {0, 181}}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, []vessel.BoundingBox{vessel.WorldBox}, h.client.BoundingBoxes())
}

func TestClient_UpdateBoundingBoxesBeforeStart(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)
	client, err := NewClient(testConfig("ws://127.0.0.1:1"), reg, health.NewConnectionState())
	require.NoError(t, err)

	boxes := []vessel.BoundingBox{{{1, 1}, {2, 2}}}
	require.NoError(t, client.UpdateBoundingBoxes(context.Background(), boxes))
	assert.Equal(t, boxes, client.BoundingBoxes())
}

func TestClient_StopMarksDisconnected(t *testing.T) {
	upstream := newFakeUpstream(t)
	h := startClient(t, testConfig(upstream.url()))
	upstream.accept(t)
	require.Eventually(t, func() bool { return h.state.Snapshot().IsConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.client.Stop(2*time.Second))
	snap := h.state.Snapshot()
	assert.False(t, snap.IsConnected)
	assert.NotNil(t, snap.LastConnectedAt)

	// Stop is idempotent
	assert.NoError(t, h.client.Stop(time.Second))
}

func TestClient_StartTwice(t *testing.T) {
	upstream := newFakeUpstream(t)
	h := startClient(t, testConfig(upstream.url()))

	err := h.client.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

// =============================================================================
// RETRY TESTS
// =============================================================================

type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestClient_MaxRetries(t *testing.T) {
	dialer := &failingDialer{}
	cfg := testConfig("ws://unused")
	cfg.Reconnect.MaxRetries = 2

	h := startClient(t, cfg, WithDialer(dialer))

	require.Eventually(t, func() bool { return dialer.calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), dialer.calls.Load())

	snap := h.state.Snapshot()
	assert.False(t, snap.IsConnected)
	assert.Nil(t, snap.LastConnectedAt)
}

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestClient_Metrics(t *testing.T) {
	upstream := newFakeUpstream(t)
	metrics := metric.NewMetricsRegistry()
	h := startClient(t, testConfig(upstream.url()), WithMetrics(metrics))
	_, conn := upstream.accept(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, positionFrame("1", 1, 1)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"MessageType":"ShipStaticData","Message":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))

	m := h.client.metrics
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.messagesReceived) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDecoded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesIgnored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDropped.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionActive))
}

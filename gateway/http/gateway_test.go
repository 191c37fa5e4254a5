package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/metric"
	"github.com/c360/shipstream/query"
	"github.com/c360/shipstream/registry"
	"github.com/c360/shipstream/vessel"
)

type fakeFilter struct {
	mu    sync.Mutex
	boxes []vessel.BoundingBox
	err   error
}

func (f *fakeFilter) BoundingBoxes() []vessel.BoundingBox {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boxes
}

func (f *fakeFilter) UpdateBoundingBoxes(_ context.Context, boxes []vessel.BoundingBox) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.boxes = boxes
	return nil
}

type fixture struct {
	gateway *Gateway
	reg     *registry.Registry
	state   *health.ConnectionState
	filter  *fakeFilter
	metrics *metric.MetricsRegistry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	reg, err := registry.New()
	require.NoError(t, err)
	state := health.NewConnectionState()
	engine, err := query.NewEngine(query.RegistrySource{Registry: reg}, state, nil)
	require.NoError(t, err)

	f := &fixture{
		reg:     reg,
		state:   state,
		filter:  &fakeFilter{boxes: []vessel.BoundingBox{vessel.WorldBox}},
		metrics: metric.NewMetricsRegistry(),
	}
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	f.gateway, err = NewGateway(DefaultConfig(), engine, f.filter, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.gateway.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// SHIP ENDPOINT TESTS
// =============================================================================

func TestListShips(t *testing.T) {
	f := newFixture(t)
	f.reg.Put(
		vessel.ShipRecord{MMSI: "3", Speed: 0, Timestamp: t0},
		vessel.ShipRecord{MMSI: "1", Speed: 5, Timestamp: t0},
		vessel.ShipRecord{MMSI: "2", Speed: 15, Timestamp: t0},
	)
	f.state.MarkConnected(t0)

	rec := f.do(t, http.MethodGet, "/api/ships?speedMin=0&speedMax=10&limit=1&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp query.Response
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.TotalResults)
	assert.Equal(t, 2, resp.TotalPages)
	assert.Equal(t, 2, resp.CurrentPage)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "3", resp.Data[0].MMSI)
	assert.True(t, resp.IsConnected)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListShips_HugePage(t *testing.T) {
	f := newFixture(t)
	f.reg.Put(vessel.ShipRecord{MMSI: "1", Timestamp: t0}, vessel.ShipRecord{MMSI: "2", Timestamp: t0})

	for _, page := range []string{"92233720368547760", "9223372036854775807"} {
		rec := f.do(t, http.MethodGet, "/api/ships?limit=1000&page="+page, "")
		require.Equal(t, http.StatusOK, rec.Code, page)

		var resp query.Response
		decode(t, rec, &resp)
		assert.NotNil(t, resp.Data)
		assert.Empty(t, resp.Data)
		assert.Equal(t, 2, resp.TotalResults)
		assert.Equal(t, 1, resp.TotalPages)
	}
}

func TestListShips_BadParameter(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/ships?latMin=north", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Contains(t, body["error"], "latMin")
	assert.Equal(t, 400.0, body["status"])
}

func TestListShips_DisconnectedStillServes(t *testing.T) {
	f := newFixture(t)
	f.reg.Put(vessel.ShipRecord{MMSI: "1", Timestamp: t0})
	f.state.MarkConnected(t0)
	f.state.MarkDisconnected()

	rec := f.do(t, http.MethodGet, "/api/ships", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp query.Response
	decode(t, rec, &resp)
	assert.False(t, resp.IsConnected)
	assert.Len(t, resp.Data, 1)
	assert.Contains(t, resp.Message, "2024-05-01T12:00:00Z")
}

func TestGetShip(t *testing.T) {
	f := newFixture(t)
	f.reg.Put(vessel.ShipRecord{MMSI: "002320001", Lat: 1.5, Timestamp: t0})

	rec := f.do(t, http.MethodGet, "/api/ships/002320001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ship vessel.ShipRecord
	decode(t, rec, &ship)
	assert.Equal(t, 1.5, ship.Lat)

	rec = f.do(t, http.MethodGet, "/api/ships/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BOUNDING BOX ENDPOINT TESTS
// =============================================================================

func TestBoundingBox_Get(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/bounding-box", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body boundingBoxesResponse
	decode(t, rec, &body)
	assert.Equal(t, []vessel.BoundingBox{vessel.WorldBox}, body.BoundingBoxes)
}

func TestBoundingBox_Set(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		want   []vessel.BoundingBox
	}{
		{"single box", http.MethodPost, `[[50,-5],[60,5]]`, []vessel.BoundingBox{{{50, -5}, {60, 5}}}},
		{"wrapped list", http.MethodPut, `{"boundingBoxes":[[[1,2],[3,4]],[[5,6],[7,8]]]}`,
			[]vessel.BoundingBox{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, tt.method, "/api/bounding-box", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var body boundingBoxesResponse
			decode(t, rec, &body)
			assert.Equal(t, tt.want, body.BoundingBoxes)
			assert.Equal(t, tt.want, f.filter.BoundingBoxes())
		})
	}
}

func TestBoundingBox_SetRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`not json`, `[[91,0],[0,0]]`, `{"other":1}`,
		`[[10,20]]`, `[[[10,20]]]`, `[[1],[2]]`, `[[1,2,3],[4,5,6]]`, `[[1,2],[3,4],[5,6]]`,
	} {
		rec := f.do(t, http.MethodPost, "/api/bounding-box", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, []vessel.BoundingBox{vessel.WorldBox}, f.filter.BoundingBoxes())

	rec := f.do(t, http.MethodPost, "/api/bounding-box", strings.Repeat(" ", 70*1024)+"[]")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBoundingBox_ShuttingDown(t *testing.T) {
	f := newFixture(t)
	f.filter.err = errors.WrapTransient(errors.ErrShuttingDown, "aisstream", "UpdateBoundingBoxes", "submit filter")

	rec := f.do(t, http.MethodPost, "/api/bounding-box", `[[0,0],[1,1]]`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// HEALTH, METRICS AND MIDDLEWARE TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	status := health.NewDegraded("shipstream", "upstream down")
	f := newFixture(t, WithHealth(func() health.Status { return status }))

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	status = health.NewUnhealthy("shipstream", "storage gone")
	rec = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/ships", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `shipstream_http_requests_total{code="200",method="GET",route="/api/ships"} 1`)
}

func TestRequestIDPropagated(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "existing-request-id-12345")
	rec := httptest.NewRecorder()
	f.gateway.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "existing-request-id-12345", rec.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	reg, err := registry.New()
	require.NoError(t, err)
	engine, err := query.NewEngine(query.RegistrySource{Registry: reg}, health.NewConnectionState(), nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.EnableCORS = true
	cfg.CORSOrigins = []string{"https://app.example.com"}
	g, err := NewGateway(cfg, engine, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/ships", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"invalid error maps to 400", errors.WrapInvalid(errors.ErrInvalidData, "test", "test", "invalid input"), http.StatusBadRequest},
		{"timeout error maps to 504", errors.WrapTransient(errors.ErrConnectionTimeout, "test", "test", "timeout occurred"), http.StatusGatewayTimeout},
		{"transient error maps to 503", errors.WrapTransient(errors.ErrStorageUnavailable, "test", "test", "read storage"), http.StatusServiceUnavailable},
		{"fatal error maps to 500", errors.WrapFatal(errors.ErrSchemaInit, "test", "test", "fatal error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, mapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCORS = true
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxRequestSize = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(64*1024), cfg.MaxRequestSize)

	cfg.Addr = ""
	assert.True(t, errors.IsInvalid(cfg.Validate()))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.gateway.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_TLS(t *testing.T) {
	// Borrow httptest's self-signed certificate and a client that trusts it.
	ref := httptest.NewTLSServer(http.NotFoundHandler())
	defer ref.Close()

	f := newFixture(t, WithTLS(&tls.Config{Certificates: ref.TLS.Certificates}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.gateway.Serve(ctx, ln) }()

	client := ref.Client()
	require.Eventually(t, func() bool {
		resp, err := client.Get("https://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
}

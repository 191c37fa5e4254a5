package query

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/registry"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

// Source supplies the records a query runs against.
type Source interface {
	Snapshot(ctx context.Context) ([]vessel.ShipRecord, error)
}

// RegistrySource reads the in-memory registry.
type RegistrySource struct {
	Registry *registry.Registry
}

// Snapshot implements Source.
func (s RegistrySource) Snapshot(_ context.Context) ([]vessel.ShipRecord, error) {
	return s.Registry.Snapshot(), nil
}

// StorageSource reads durable storage directly.
type StorageSource struct {
	Store storage.Store
}

// Snapshot implements Source.
func (s StorageSource) Snapshot(ctx context.Context) ([]vessel.ShipRecord, error) {
	records, err := s.Store.GetAll(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "query", "StorageSource.Snapshot", "read storage")
	}
	return records, nil
}

// Response is the body of a ship query.
type Response struct {
	Data                    []vessel.ShipRecord `json:"data"`
	IsConnected             bool                `json:"isConnected"`
	LastConnectionTimestamp *string             `json:"lastConnectionTimestamp"`
	TotalResults            int                 `json:"totalResults"`
	CurrentPage             int                 `json:"currentPage"`
	TotalPages              int                 `json:"totalPages"`
	Message                 string              `json:"message,omitempty"`
}

// Engine answers filtered, paginated ship queries and annotates each answer
// with the upstream connection state.
type Engine struct {
	source Source
	state  *health.ConnectionState
	logger *slog.Logger
}

// NewEngine creates an engine over source.
func NewEngine(source Source, state *health.ConnectionState, logger *slog.Logger) (*Engine, error) {
	if source == nil || state == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "query", "NewEngine", "dependency check")
	}
	if logger == nil {
		logger = slog.Default().With("component", "query")
	}
	return &Engine{source: source, state: state, logger: logger}, nil
}

// Query filters the source, sorts by MMSI and returns the requested page.
// Pages past the end are empty. Data is served whether or not the upstream
// is connected.
func (e *Engine) Query(ctx context.Context, p Params) (Response, error) {
	p = p.normalize()

	records, err := e.source.Snapshot(ctx)
	if err != nil {
		return Response{}, err
	}

	matched := Filter(records, p)
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].MMSI < matched[j].MMSI })

	resp := Response{
		Data:         paginate(matched, p.Page, p.Limit),
		TotalResults: len(matched),
		CurrentPage:  p.Page,
		TotalPages:   (len(matched) + p.Limit - 1) / p.Limit,
	}
	e.annotate(&resp)

	e.logger.Debug("Ship query served",
		"matched", resp.TotalResults,
		"page", resp.CurrentPage,
		"returned", len(resp.Data))
	return resp, nil
}

// Get returns a single record by MMSI from the source.
func (e *Engine) Get(ctx context.Context, mmsi string) (vessel.ShipRecord, bool, error) {
	resp, err := e.Query(ctx, Params{MMSI: &mmsi, Page: 1, Limit: 1})
	if err != nil || len(resp.Data) == 0 {
		return vessel.ShipRecord{}, false, err
	}
	return resp.Data[0], true, nil
}

func (e *Engine) annotate(resp *Response) {
	snap := e.state.Snapshot()
	resp.IsConnected = snap.IsConnected

	if snap.LastConnectedAt != nil {
		ts := snap.LastConnectedAt.UTC().Format(time.RFC3339)
		resp.LastConnectionTimestamp = &ts
	}

	if !snap.IsConnected {
		if resp.LastConnectionTimestamp != nil {
			resp.Message = "Data reflects the last successful connection at " + *resp.LastConnectionTimestamp
		} else {
			resp.Message = "No successful connection yet"
		}
	}
}

// paginate returns the page-th window of limit records. Pages past the end
// are empty; the bound is checked before multiplying so huge pages cannot
// overflow.
func paginate(records []vessel.ShipRecord, page, limit int) []vessel.ShipRecord {
	if len(records) == 0 || page < 1 || limit < 1 || page-1 > (len(records)-1)/limit {
		return []vessel.ShipRecord{}
	}
	start := (page - 1) * limit
	end := min(start+limit, len(records))
	return records[start:end]
}

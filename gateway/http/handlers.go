package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/query"
	"github.com/c360/shipstream/vessel"
)

type boundingBoxesResponse struct {
	BoundingBoxes []vessel.BoundingBox `json:"boundingBoxes"`
	Message       string               `json:"message,omitempty"`
}

func (g *Gateway) handleListShips(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseParams(r.URL.Query())
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}

	resp, err := g.engine.Query(r.Context(), params)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleGetShip(w http.ResponseWriter, r *http.Request) {
	mmsi := chi.URLParam(r, "mmsi")

	rec, ok, err := g.engine.Get(r.Context(), mmsi)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	if !ok {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("ship %s not found", mmsi))
		return
	}

	g.writeJSON(w, http.StatusOK, rec)
}

func (g *Gateway) handleGetBoundingBoxes(w http.ResponseWriter, _ *http.Request) {
	if g.filter == nil {
		g.writeError(w, http.StatusServiceUnavailable, "stream client not configured")
		return
	}
	g.writeJSON(w, http.StatusOK, boundingBoxesResponse{BoundingBoxes: g.filter.BoundingBoxes()})
}

func (g *Gateway) handleSetBoundingBoxes(w http.ResponseWriter, r *http.Request) {
	if g.filter == nil {
		g.writeError(w, http.StatusServiceUnavailable, "stream client not configured")
		return
	}

	// Close body when done (must be before any error returns to prevent resource leak)
	defer r.Body.Close()

	// Read request body with size limit + 1 to detect if request exceeds limit
	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return
	}

	boxes, err := vessel.ParseBoundingBoxes(body)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}

	if err := g.filter.UpdateBoundingBoxes(r.Context(), boxes); err != nil {
		g.writeFailure(w, r, err)
		return
	}

	g.logger.Info("Subscription filter replaced",
		"bounding_boxes", len(boxes),
		"request_id", middleware.GetReqID(r.Context()))

	g.writeJSON(w, http.StatusOK, boundingBoxesResponse{
		BoundingBoxes: boxes,
		Message:       "Bounding boxes updated",
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := health.NewHealthy("shipstream", "ok")
	if g.health != nil {
		status = g.health()
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

// writeFailure maps err to a status code and a sanitized message. Full details
// are logged.
func (g *Gateway) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
	}

	msg := sanitizeError(err)
	if errors.IsInvalid(err) {
		// Validation messages name the offending parameter and are safe to return.
		msg = err.Error()
	}
	g.writeError(w, status, msg)
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.Is(err, errors.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "deadline") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a safe error message for external clients
func sanitizeError(err error) string {
	switch mapErrorToHTTPStatus(err) {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusGatewayTimeout:
		return "request timeout"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to encode response", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		g.logger.Debug("Failed to write response", "error", err)
	}
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}

	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}

// Package api serves the dashboard query surface: alert listings and
// summaries from the relational store, raw and windowed time series from
// InfluxDB, plus the health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/c360/agrostream/component"
	"github.com/c360/agrostream/storage/tsdb"
	"github.com/c360/agrostream/telemetry"
)

const (
	defaultAlertLimit  = 100
	maxAlertLimit      = 1000
	defaultSeriesLimit = 500
	maxSeriesLimit     = 5000

	defaultSummaryMinutes = 60
	maxSummaryMinutes     = 7 * 24 * 60

	defaultSeriesRange = 24 * time.Hour
)

// AlertRepo is the query surface of the relational alert store.
// Satisfied by alertdb.Store.
type AlertRepo interface {
	ListLatest(ctx context.Context, limit int) ([]telemetry.Alert, error)
	ListByPlot(ctx context.Context, plotID string, limit int) ([]telemetry.Alert, error)
	Summarize(ctx context.Context, since time.Time) (map[string]map[string]int64, error)
}

// SeriesRepo is the query surface of the time-series store. Satisfied by
// tsdb.Reader.
type SeriesRepo interface {
	QueryRange(ctx context.Context, plotID, metric string, from, to time.Time, limit int) ([]tsdb.Point, error)
	QueryWindowed(ctx context.Context, plotID, metric string, from, to time.Time, window time.Duration, limit int) ([]tsdb.Point, error)
}

// HealthReporter exposes stage health for the health endpoint.
// Satisfied by component.Manager.
type HealthReporter interface {
	Healthy() bool
	HealthByStage() map[string]component.HealthStatus
}

// Handlers holds the query endpoints.
type Handlers struct {
	alerts AlertRepo
	series SeriesRepo
	health HealthReporter
	logger *slog.Logger
	now    func() time.Time
}

// NewHandlers builds the query handlers. health may be nil; the health
// endpoint then only reports the process as up.
func NewHandlers(alerts AlertRepo, series SeriesRepo, health HealthReporter, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		alerts: alerts,
		series: series,
		health: health,
		logger: logger,
		now:    time.Now,
	}
}

// Routes registers the query endpoints on the mux.
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/alerts", h.listAlerts)
	mux.HandleFunc("GET /v1/alerts/summary", h.summarizeAlerts)
	mux.HandleFunc("GET /v1/alerts/{plotID}", h.listAlertsByPlot)
	mux.HandleFunc("GET /v1/plots/{plotID}/metrics/{metric}", h.queryRange)
	mux.HandleFunc("GET /v1/plots/{plotID}/metrics/{metric}/windowed", h.queryWindowed)
	mux.HandleFunc("GET /healthz", h.healthz)
}

type errorResponse struct {
	Error string `json:"error"`
}

type alertsResponse struct {
	Alerts []telemetry.Alert `json:"alerts"`
}

type summaryResponse struct {
	WindowMinutes int                         `json:"window_minutes"`
	Summary       map[string]map[string]int64 `json:"summary"`
}

type seriesResponse struct {
	PlotID string       `json:"plot_id"`
	Metric string       `json:"metric"`
	Points []tsdb.Point `json:"points"`
}

func (h *Handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r, defaultAlertLimit, maxAlertLimit)
	if !ok {
		return
	}

	alerts, err := h.alerts.ListLatest(r.Context(), limit)
	if err != nil {
		h.storeError(w, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: emptyIfNil(alerts)})
}

func (h *Handlers) listAlertsByPlot(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r, defaultAlertLimit, maxAlertLimit)
	if !ok {
		return
	}

	alerts, err := h.alerts.ListByPlot(r.Context(), r.PathValue("plotID"), limit)
	if err != nil {
		h.storeError(w, "list alerts by plot", err)
		return
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: emptyIfNil(alerts)})
}

func (h *Handlers) summarizeAlerts(w http.ResponseWriter, r *http.Request) {
	minutes := defaultSummaryMinutes
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "minutes must be a positive integer"})
			return
		}
		minutes = parsed
	}
	if minutes > maxSummaryMinutes {
		minutes = maxSummaryMinutes
	}

	since := h.now().UTC().Add(-time.Duration(minutes) * time.Minute)
	summary, err := h.alerts.Summarize(r.Context(), since)
	if err != nil {
		h.storeError(w, "summarize alerts", err)
		return
	}
	if summary == nil {
		summary = map[string]map[string]int64{}
	}
	writeJSON(w, http.StatusOK, summaryResponse{WindowMinutes: minutes, Summary: summary})
}

func (h *Handlers) queryRange(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r, defaultSeriesLimit, maxSeriesLimit)
	if !ok {
		return
	}
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	plotID, metric := r.PathValue("plotID"), r.PathValue("metric")
	points, err := h.series.QueryRange(r.Context(), plotID, metric, from, to, limit)
	if err != nil {
		h.storeError(w, "query series", err)
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{PlotID: plotID, Metric: metric, Points: emptyIfNil(points)})
}

func (h *Handlers) queryWindowed(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r, defaultSeriesLimit, maxSeriesLimit)
	if !ok {
		return
	}
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	window := 5 * time.Minute
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < time.Millisecond {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "window must be a duration of at least 1ms, such as 5m"})
			return
		}
		window = parsed
	}

	plotID, metric := r.PathValue("plotID"), r.PathValue("metric")
	points, err := h.series.QueryWindowed(r.Context(), plotID, metric, from, to, window, limit)
	if err != nil {
		h.storeError(w, "query windowed series", err)
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{PlotID: plotID, Metric: metric, Points: emptyIfNil(points)})
}

type healthResponse struct {
	Status string                            `json:"status"`
	Stages map[string]component.HealthStatus `json:"stages,omitempty"`
}

func (h *Handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	if !h.health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "degraded",
			Stages: h.health.HealthByStage(),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Stages: h.health.HealthByStage(),
	})
}

// limitParam parses the limit query parameter with a default and cap.
func (h *Handlers) limitParam(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		return 0, false
	}
	if limit > max {
		limit = max
	}
	return limit, true
}

// rangeParams parses from/to, defaulting to the trailing 24 hours.
func (h *Handlers) rangeParams(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	to := h.now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to must be RFC3339"})
			return time.Time{}, time.Time{}, false
		}
		to = parsed.UTC()
	}

	from := to.Add(-defaultSeriesRange)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from must be RFC3339"})
			return time.Time{}, time.Time{}, false
		}
		from = parsed.UTC()
	}

	if !from.Before(to) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from must be before to"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *Handlers) storeError(w http.ResponseWriter, operation string, err error) {
	h.logger.Error("query failed",
		"component", "api",
		"operation", operation,
		"error", err)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "backing store unavailable"})
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ghpulse/ghpulse/internal/ghcore"
	"github.com/ghpulse/ghpulse/internal/ghevent"
	"github.com/ghpulse/ghpulse/internal/ingest"
	"github.com/ghpulse/ghpulse/internal/monitor"
	"github.com/ghpulse/ghpulse/internal/query"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// HealthHandler handles GET /api/health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	respondJSON(w, http.StatusOK, response)
}

// NewHealthHandler creates a health handler with service checks.
func NewHealthHandler(dbHealthChecker interface{ Health(context.Context) error }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string)
		status := "ok"

		if dbHealthChecker != nil {
			if err := dbHealthChecker.Health(r.Context()); err != nil {
				slog.Error("database health check failed", "error", err)
				services["database"] = "unhealthy"
				status = "degraded"
			} else {
				services["database"] = "healthy"
			}
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Services:  services,
		}
		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, response)
	}
}

// parseJSON is a helper to decode JSON request bodies.
func parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeEngineError maps an engine error to the HTTP status §7's error
// taxonomy implies: InvalidArgument is a client error, InsufficientData is
// a distinguished non-error success value handled by the caller, anything
// else is an internal failure.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ghcore.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ghcore.ErrInsufficientData):
		respondJSON(w, http.StatusOK, map[string]string{"status": "insufficient_data"})
	default:
		slog.Error("query failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// MetricsHandler serves C5's query contracts (§6 "Downstream exposed").
type MetricsHandler struct {
	engine *query.Engine
}

func NewMetricsHandler(engine *query.Engine) *MetricsHandler {
	return &MetricsHandler{engine: engine}
}

// EventCounts handles GET /api/v1/event-counts?offset_minutes=&repo=
func (h *MetricsHandler) EventCounts(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.Atoi(r.URL.Query().Get("offset_minutes"))
	if err != nil {
		http.Error(w, "offset_minutes must be an integer", http.StatusBadRequest)
		return
	}
	repo := r.URL.Query().Get("repo")

	result, err := h.engine.EventCounts(r.Context(), offset, repo)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"offset_minutes":        result.OffsetMinutes,
		"total":                 result.Total,
		"counts":                result.Counts,
		"fell_back_to_alltime":  result.FellBackToAllTime,
		"timestamp":             result.Timestamp,
	})
}

// AvgPRInterval handles GET /api/v1/avg-pr-interval?repo=
func (h *MetricsHandler) AvgPRInterval(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}

	stats, err := h.engine.AvgPRInterval(r.Context(), repo)
	if err != nil {
		if errors.Is(err, ghcore.ErrInsufficientData) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "insufficient"})
			return
		}
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"repo":           stats.Repo,
		"pr_count":       stats.PRCount,
		"avg_seconds":    stats.AvgSeconds,
		"median_seconds": stats.MedianSeconds,
		"min_seconds":    stats.MinSeconds,
		"max_seconds":    stats.MaxSeconds,
	})
}

// RepositoryActivity handles GET /api/v1/repository-activity?repo=&hours=
func (h *MetricsHandler) RepositoryActivity(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}
	hours, err := parseHours(r, 24)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.engine.RepositoryActivity(r.Context(), repo, hours)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"repo":                 result.Repo,
		"hours":                result.Hours,
		"total":                result.Total,
		"activity":             result.Activity,
		"fell_back_to_alltime": result.FellBackToAllTime,
		"timestamp":            result.Timestamp,
	})
}

// Trending handles GET /api/v1/trending?hours=&limit=
func (h *MetricsHandler) Trending(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHours(r, 24)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	results, err := h.engine.Trending(r.Context(), hours, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// EventCountsTimeseries handles GET /api/v1/event-counts-timeseries?hours=&bucket_minutes=&repo=
func (h *MetricsHandler) EventCountsTimeseries(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHours(r, 24)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bucketMinutes := 60
	if b := r.URL.Query().Get("bucket_minutes"); b != "" {
		n, err := strconv.Atoi(b)
		if err != nil {
			http.Error(w, "bucket_minutes must be an integer", http.StatusBadRequest)
			return
		}
		bucketMinutes = n
	}
	repo := r.URL.Query().Get("repo")

	buckets, err := h.engine.EventCountsTimeseries(r.Context(), hours, bucketMinutes, repo)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, buckets)
}

// PRMergeTime handles GET /api/v1/pr-merge-time?repo=&hours=
func (h *MetricsHandler) PRMergeTime(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}
	hours, err := parseHours(r, 168)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := h.engine.PRMergeTime(r.Context(), repo, hours)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// IssueFirstResponse handles GET /api/v1/issue-first-response?repo=&hours=
func (h *MetricsHandler) IssueFirstResponse(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}
	hours, err := parseHours(r, 168)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := h.engine.IssueFirstResponse(r.Context(), repo, hours)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// RepositoryHealth handles GET /api/v1/repository-health?repo=&hours=
func (h *MetricsHandler) RepositoryHealth(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}
	hours, err := parseHours(r, 168)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	score, err := h.engine.RepositoryHealthScore(r.Context(), repo, hours)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, score)
}

// Anomalies handles GET /api/v1/anomalies?repo=&hours=
func (h *MetricsHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}
	hours, err := parseHours(r, 24)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	anomalies, err := h.engine.DetectAnomalies(r.Context(), repo, hours)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []query.Anomaly{}
	}
	respondJSON(w, http.StatusOK, anomalies)
}

func parseHours(r *http.Request, def float64) (float64, error) {
	h := r.URL.Query().Get("hours")
	if h == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(h, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("hours must be a positive number")
	}
	return n, nil
}

// IngestHandler serves C4's on-demand command surface.
type IngestHandler struct {
	coordinator *ingest.Coordinator
}

func NewIngestHandler(c *ingest.Coordinator) *IngestHandler {
	return &IngestHandler{coordinator: c}
}

type collectNowRequest struct {
	Limit int      `json:"limit"`
	Repos []string `json:"repos"`
}

// CollectNow handles POST /api/v1/collect-now.
func (h *IngestHandler) CollectNow(w http.ResponseWriter, r *http.Request) {
	var req collectNowRequest
	if r.ContentLength != 0 {
		if err := parseJSON(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	inserted, err := h.coordinator.CollectNow(r.Context(), req.Limit, req.Repos)
	if err != nil {
		slog.Error("collect-now failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"inserted": inserted})
}

// MonitorHandler serves C6's live monitor lifecycle.
type MonitorHandler struct {
	registry *monitor.Registry
}

func NewMonitorHandler(r *monitor.Registry) *MonitorHandler {
	return &MonitorHandler{registry: r}
}

type startMonitorRequest struct {
	Repo     string   `json:"repo"`
	Kinds    []string `json:"kinds"`
	Interval int      `json:"interval_seconds"`
}

// Start handles POST /api/v1/monitors.
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startMonitorRequest
	if err := parseJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}

	kinds := make([]ghevent.Kind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kind := ghevent.Kind(strings.TrimSpace(k))
		if !ghevent.In(kind) {
			http.Error(w, "unknown kind: "+k, http.StatusBadRequest)
			return
		}
		kinds = append(kinds, kind)
	}

	interval := time.Duration(req.Interval) * time.Second
	// The worker outlives this request; it ends on Stop or StopAll.
	id := h.registry.Start(context.WithoutCancel(r.Context()), req.Repo, kinds, interval)
	respondJSON(w, http.StatusOK, map[string]string{"monitor_id": id})
}

// Stop handles DELETE /api/v1/monitors/{id}.
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Stop(id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/monitors.
func (h *MonitorHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.List())
}

// GetEvents handles GET /api/v1/monitors/{id}/events?limit=
func (h *MonitorHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 1000
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.registry.GetEvents(id, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// GetGrouped handles GET /api/v1/monitors/{id}/grouped.
func (h *MonitorHandler) GetGrouped(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	grouped, err := h.registry.GetGrouped(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, grouped)
}

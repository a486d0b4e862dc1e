package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ghpulse/ghpulse/internal/ingest"
	"github.com/ghpulse/ghpulse/internal/monitor"
	"github.com/ghpulse/ghpulse/internal/query"
)

// RouterConfig holds the collaborators the external HTTP layer sits over.
type RouterConfig struct {
	Database    interface{ Health(context.Context) error }
	Engine      *query.Engine
	Coordinator *ingest.Coordinator
	Monitors    *monitor.Registry
}

// RouterResult holds the router and resources that need cleanup.
type RouterResult struct {
	Router       *chi.Mux
	RateLimiters *RateLimiters
}

// NewRouter creates and configures the HTTP router.
// Caller must call result.RateLimiters.Stop() on shutdown.
func NewRouter(cfg *RouterConfig) *RouterResult {
	r := chi.NewRouter()

	rateLimiters := NewRateLimiters()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)
	r.Use(rateLimiters.Global.Middleware)

	if cfg.Database != nil {
		r.Get("/api/health", NewHealthHandler(cfg.Database))
	} else {
		r.Get("/api/health", HealthHandler)
	}

	metrics := NewMetricsHandler(cfg.Engine)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/event-counts", metrics.EventCounts)
		r.Get("/avg-pr-interval", metrics.AvgPRInterval)
		r.Get("/repository-activity", metrics.RepositoryActivity)
		r.Get("/trending", metrics.Trending)
		r.Get("/event-counts-timeseries", metrics.EventCountsTimeseries)
		r.Get("/pr-merge-time", metrics.PRMergeTime)
		r.Get("/issue-first-response", metrics.IssueFirstResponse)
		r.Get("/repository-health", metrics.RepositoryHealth)
		r.Get("/anomalies", metrics.Anomalies)

		if cfg.Coordinator != nil {
			ingestHandler := NewIngestHandler(cfg.Coordinator)
			// collect-now triggers an on-demand upstream fetch: strict
			// rate limit (2/min/IP) + concurrency cap (3 global).
			r.With(CommandGuardMiddleware(rateLimiters.Command)).
				Post("/collect-now", ingestHandler.CollectNow)
		}

		if cfg.Monitors != nil {
			monitors := NewMonitorHandler(cfg.Monitors)
			r.Route("/monitors", func(r chi.Router) {
				r.With(CommandGuardMiddleware(rateLimiters.Command)).
					Post("/", monitors.Start)
				r.Get("/", monitors.List)
				r.Delete("/{id}", monitors.Stop)
				r.Get("/{id}/events", monitors.GetEvents)
				r.Get("/{id}/grouped", monitors.GetGrouped)
			})
		}
	})

	return &RouterResult{
		Router:       r,
		RateLimiters: rateLimiters,
	}
}

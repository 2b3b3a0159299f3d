package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/memos-platform/memos/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Memo handlers
	ListMemos    http.HandlerFunc
	CreateMemo   http.HandlerFunc
	GetMemo      http.HandlerFunc
	UpdateMemo   http.HandlerFunc
	DeleteMemo   http.HandlerFunc
	SearchMemos  http.HandlerFunc
	BackfillMemo http.HandlerFunc

	// API key handlers
	CreateAPIKey http.HandlerFunc
	ListAPIKeys  http.HandlerFunc
	RevokeAPIKey http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// HealthCheck is a named readiness probe for one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimiter        func(http.Handler) http.Handler
	ReadinessChecks    []HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(mw.CORS(cfg.CORSAllowedOrigins))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for _, c := range cfg.ReadinessChecks {
			if c.Check == nil {
				health[c.Name] = "not configured"
				continue
			}
			if err := c.Check(ctx); err != nil {
				health[c.Name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[c.Name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1, authenticated and rate limited per owner
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter)
		}

		r.Route("/memos", func(r chi.Router) {
			r.Get("/", h.ListMemos)
			r.Post("/", h.CreateMemo)
			r.Post("/search", h.SearchMemos)
			r.Post("/embeddings/backfill", h.BackfillMemo)

			r.Route("/{memoID}", func(r chi.Router) {
				r.Get("/", h.GetMemo)
				r.Put("/", h.UpdateMemo)
				r.Delete("/", h.DeleteMemo)
			})
		})

		r.Route("/api-keys", func(r chi.Router) {
			r.Post("/", h.CreateAPIKey)
			r.Get("/", h.ListAPIKeys)
			r.Delete("/{keyID}", h.RevokeAPIKey)
		})
	})

	return r
}

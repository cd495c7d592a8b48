package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Appello-Prototypes/fedgate/internal/api/middleware"
	"github.com/Appello-Prototypes/fedgate/internal/config"
	"github.com/Appello-Prototypes/fedgate/internal/handlers"
	"github.com/Appello-Prototypes/fedgate/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, h *handlers.Handler, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body, invocation messages included
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	// CORS - allow all origins (federated peers call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Fed-Org", "X-Fed-Nonce", "X-Fed-Timestamp", "X-Fed-Signature"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.NewAuthMiddleware(db, redisStore)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root) // JSON API info
	r.Get("/health", h.Health)
	r.Post("/orgs", h.RegisterOrg)
	r.Get("/orgs/{slug}", h.GetOrg)
	r.Get("/discover/{orgSlug}/{agentSlug}", h.Discover)

	// Authenticated routes (require signature)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/agreements", h.CreateAgreement)
		r.Get("/agreements", h.ListAgreements)
		r.Get("/agreements/{id}", h.GetAgreement)
		r.Post("/agreements/{id}/accept", h.AcceptAgreement)
		r.Post("/agreements/{id}/suspend", h.SuspendAgreement)
		r.Post("/agreements/{id}/resume", h.ResumeAgreement)
		r.Post("/agreements/{id}/revoke", h.RevokeAgreement)
		r.Post("/agreements/{id}/rotate-key", h.RotateChannelKey)

		r.Post("/exposures", h.CreateExposure)
		r.Delete("/exposures/{id}", h.DisableExposure)

		r.Post("/invoke", h.Invoke)

		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
	})

	return r
}

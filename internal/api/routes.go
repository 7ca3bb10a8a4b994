package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/shiftcheck/internal/config"
	"github.com/yegors/shiftcheck/internal/metrics"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	metrics    *metrics.Collector
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router. collector may be nil when metrics are
// disabled.
func NewRouter(handler *Handler, collector *metrics.Collector, config *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler:    handler,
		middleware: NewMiddleware(logger),
		metrics:    collector,
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	if r.metrics != nil {
		router.Use(r.middleware.Metrics(r.metrics))
	}
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	router.Get("/health", r.handler.GetHealth)

	if r.metrics != nil && r.config.Metrics.Enabled {
		router.Handle(r.config.Metrics.Path, r.metrics.Handler())
	}

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		router.Post("/sessions", r.handler.CreateSession)
		router.Get("/sessions/{id}", r.handler.GetSession)
		router.Get("/sessions/{id}/responses", r.handler.GetResponses)
		router.Post("/sessions/{id}/stop", r.handler.StopWalk)
		router.Get("/on-hand", r.handler.GetOnHand)

		// Voice websocket
		router.Get("/sessions/{id}/voice", r.handler.HandleVoice)
	})

	return router
}

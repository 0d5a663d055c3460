// Package api provides the REST API for the processing service.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/api3dao/commons-go/internal/config"
	"github.com/api3dao/commons-go/internal/metrics"
	"github.com/api3dao/commons-go/pkg/auth"
	"github.com/api3dao/commons-go/pkg/logger"
	"github.com/api3dao/commons-go/pkg/processing"
)

// Server is the HTTP server for the processing API.
type Server struct {
	config  *config.Config
	auth    *auth.ServiceAuth
	metrics *metrics.Metrics
	logger  *logger.Logger
	router  chi.Router
	handler *Handler
}

// Dependencies are the collaborators a Server is built from. Endpoints and
// Metrics may be nil.
type Dependencies struct {
	Processor *processing.Processor
	Endpoints *config.Endpoints
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		config:  cfg,
		auth:    auth.NewServiceAuth(cfg.Auth.ServiceToken),
		metrics: deps.Metrics,
		logger:  log,
	}

	s.handler = NewHandler(deps.Processor, deps.Endpoints, deps.Metrics, log)
	s.router = s.setupRoutes()

	return s
}

// setupRoutes configures the router with all API routes.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}

	// Health check and metrics (no auth required)
	r.Get("/health", s.handler.HealthCheck)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// API routes (with auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/preprocess", s.handler.PreProcess)
		r.Post("/postprocess", s.handler.PostProcess)

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", s.handler.ListEndpoints)
			r.Post("/{name}/preprocess", s.handler.PreProcessNamed)
			r.Post("/{name}/postprocess", s.handler.PostProcessNamed)
		})
	})

	return r
}

// requestLogger logs every request and counts it by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := logger.WithFields(r.Context(), logger.Fields{"requestId": middleware.GetReqID(r.Context())})
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.logger.Info(ctx, "Handled request", logger.Fields{
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"durationMs": time.Since(start).Milliseconds(),
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}


// Package api provides the HTTP API server and handlers for the ReadTrail server.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/readtrailapp/readtrail-server/internal/ingest"
	"github.com/readtrailapp/readtrail-server/internal/store/sqlite"
)

// Server holds dependencies for HTTP handlers.
//
// Read endpoints are registered through huma so the OpenAPI document stays
// accurate. The ingest endpoint accepts a polymorphic body (a single event
// or an array of events) and is registered directly on chi.
type Server struct {
	store     *sqlite.Store
	ingest    *ingest.Service
	router    *chi.Mux
	api       huma.API
	logger    *slog.Logger
	authToken string
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(store *sqlite.Store, ingestService *ingest.Service, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		store:     store,
		ingest:    ingestService,
		router:    chi.NewRouter(),
		logger:    logger,
		authToken: authToken,
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("ReadTrail API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:   "http",
			Scheme: "bearer",
		},
	}
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerIngestRoutes()
	s.registerReadingRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(s.requireAuth)
}

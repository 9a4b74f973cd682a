// Package api provides HTTP handlers and routing for the orchestrator service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	ws       http.Handler
}

// NewServer creates a new API server with the given handlers. ws is the
// websocket endpoint handler; pass nil to leave /ws unrouted.
func NewServer(h *Handlers, ws http.Handler) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		ws:       ws,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server. CORS
// wraps the mux itself so preflight requests get handled even when the
// target route only matches another method.
func (s *Server) Router() http.Handler {
	return s.handlers.CORSMiddleware(s.router)
}

func (s *Server) setupRoutes() {
	// Health and observability endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Build management
	api.HandleFunc("/builds", s.handlers.CreateBuild).Methods("POST")
	api.HandleFunc("/builds/current", s.handlers.CurrentBuild).Methods("GET")
	api.HandleFunc("/reset", s.handlers.ResetAll).Methods("POST")

	// Graph and message inspection
	api.HandleFunc("/graph", s.handlers.Graph).Methods("GET")
	api.HandleFunc("/nodes/{id}", s.handlers.GetNode).Methods("GET")
	api.HandleFunc("/messages", s.handlers.Messages).Methods("GET")
	api.HandleFunc("/files", s.handlers.Files).Methods("GET")

	// Preview and sandbox control
	api.HandleFunc("/preview", s.handlers.Preview).Methods("GET")
	api.HandleFunc("/preview/page", s.handlers.PreviewPage).Methods("GET")
	api.HandleFunc("/sandbox/mode", s.handlers.SetSandboxMode).Methods("POST")

	// Artifact export
	api.HandleFunc("/export", s.handlers.Export).Methods("POST")

	// Event streaming
	api.HandleFunc("/events", s.handlers.StreamEvents).Methods("GET")
	if s.ws != nil {
		api.Handle("/ws", s.ws).Methods("GET")
	}

	// Apply middleware
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server wraps the HTTP server hosting the worker and admin APIs.
type Server struct {
	handler http.Handler
	router  *chi.Mux
	server  *http.Server
}

// NewServer builds the router for h. secret must be non-empty; the caller
// validates configuration before getting here.
func NewServer(h *Handlers, secret string, allowedOrigins []string) *Server {
	router := SetupRoutes(h, secret, allowedOrigins)
	return &Server{handler: router, router: router}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}

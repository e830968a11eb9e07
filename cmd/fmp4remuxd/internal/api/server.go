// Package api implements the fmp4remuxd HTTP surface: a single-job remux
// endpoint and a batch endpoint that fans independent jobs out with a
// bounded concurrency limit.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server wires the chi router for the fmp4remuxd API.
type Server struct {
	router *chi.Mux
	logger *slog.Logger
}

// NewServer builds a Server ready to serve requests.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	h := &handler{logger: logger}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", h.handleJob)
		r.Post("/batch", h.handleBatch)
	})

	return &Server{router: r, logger: logger}
}

// Router returns the underlying chi router for http.Server to serve.
func (s *Server) Router() *chi.Mux {
	return s.router
}

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/metrics"
)

// Server is the FuelGuard HTTP front end.
type Server struct {
	router  *chi.Mux
	handler *Handler
	http    *http.Server
}

// NewServer builds the router. stream serves GET /ws/alerts and may be nil.
func NewServer(cfg domain.ServerConfig, deps Deps, stream http.Handler) *Server {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(
		CORSMiddleware(cfg.CORSOrigins),
		TracingMiddleware,
		RecoverMiddleware,
		LoggingMiddleware,
		middleware.RealIP,
	)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", metrics.Handler())

	// Hijacked connections cannot sit behind the compressor.
	if stream != nil {
		r.Handle("/ws/alerts", stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Post("/events/{kind}", h.Evaluate)

		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Get("/{id}", h.GetCase)
			r.Patch("/{id}/status", h.UpdateCaseStatus)
		})
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/reload", h.ReloadRules)
			r.Get("/{id}", h.GetRule)
		})
		r.Route("/patterns", func(r chi.Router) {
			r.Get("/", h.ListPatterns)
			r.Post("/", h.CreatePattern)
			r.Post("/reload", h.ReloadPatterns)
		})

		r.Get("/accuracy", h.Accuracy)
		r.Get("/monitor", h.Monitor)
	})

	return &Server{
		router:  r,
		handler: h,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           r,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful stop.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the mux, mainly for httptest.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) Handler() *Handler {
	return s.handler
}

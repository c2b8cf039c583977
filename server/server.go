// Package server exposes the executor over HTTP: streaming turns, resume
// after review, the structured messaging-channel variant, health and
// metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/runner"
)

// Options configures the HTTP boundary.
type Options struct {
	// Structured runs the JSON variant. Defaults to a runner derived from the
	// main one that auto-approves review and does not dispatch.
	Structured *runner.Runner
	// CORSOrigins lists allowed origins. Empty allows any.
	CORSOrigins []string
	// RateLimitRequests per RateLimitWindow and client IP. Zero disables it.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Ready reports dependency health for GET /ready.
	Ready func(ctx context.Context) error
	// Logging services.
	Logger logging.Logger
}

// Server holds the handlers.
type Server struct {
	runner     *runner.Runner
	structured *runner.Runner
	opts       Options
	logger     logging.Logger
}

// New creates a Server in front of r.
func New(r *runner.Runner, optFns ...func(o *Options)) *Server {
	opts := Options{
		RateLimitWindow: time.Minute,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Structured == nil {
		opts.Structured = r.Derive(func(o *runner.Options) {
			o.Review = runner.ReviewNever
			o.Dispatcher = nil
		})
	}
	return &Server{runner: r, structured: opts.Structured, opts: opts, logger: opts.Logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(s.logger))
	r.Use(chimiddleware.Recoverer)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Run-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.opts.RateLimitRequests > 0 {
			r.Use(RateLimit(s.opts.RateLimitRequests, s.opts.RateLimitWindow))
		}

		r.Post("/agent", s.agent)
		r.Post("/agent/resume", s.resume)
		r.Post("/whatsapp", s.whatsapp)
		r.Get("/threads/{id}", s.thread)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

package api

import (
	"context"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/config"
	"github.com/snarg/diarist/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions wires the HTTP server. Jobs and WebFS may be nil.
type ServerOptions struct {
	Config    *config.Config
	Processor Processor
	Jobs      JobQueue
	Health    *HealthHandler
	WebFS     fs.FS
	Log       zerolog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// Health and metrics, no auth
	r.Get("/api/v1/health", opts.Health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		// Multipart framing on top of the file itself
		r.Use(MaxBodySize(cfg.MaxUploadMB<<20 + 1<<20))
		NewProcessHandler(opts.Processor, opts.Jobs, cfg.MaxUploadMB, opts.Log).Routes(r)
	})

	if opts.WebFS != nil {
		r.Handle("/*", WebHandler(opts.WebFS))
	}

	return r
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

// Package api provides the REST API over current flight state and trails.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/logging"
	"flight_tracker/internal/pipeline"
)

// Store is the read side of the flight and trail store.
type Store interface {
	GetAll(ctx context.Context, maxAge time.Duration) ([]flight.Flight, error)
	GetSince(ctx context.Context, since int64, maxAge time.Duration) ([]flight.Flight, error)
	GetByID(ctx context.Context, id string) (*flight.Flight, error)
	GetTrail(ctx context.Context, flightID string, limit int) ([]flight.TrailPoint, error)
	GetAllTrails(ctx context.Context, maxAge time.Duration, maxPoints int) (map[string][]flight.TrailPoint, error)
	Stats(ctx context.Context) (flight.Stats, error)
}

// History serves archived positions beyond the trail cap.
type History interface {
	History(ctx context.Context, flightID string, from, to time.Time) ([]flight.TrailPoint, error)
}

// Ingester runs an ingestion tick on demand.
type Ingester interface {
	Tick(ctx context.Context) (pipeline.TickResult, error)
}

// Config holds configuration for the API server.
type Config struct {
	Addr           string        `yaml:"addr"`
	AuthEnabled    bool          `yaml:"auth_enabled"`
	APIKeys        []string      `yaml:"api_keys"` // List of valid API keys.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Defaults for reads that do not pass max_age or max_points.
	MaxAge         time.Duration `yaml:"-"`
	MaxTrailPoints int           `yaml:"-"`
}

// Server provides REST API access to flight state.
type Server struct {
	store    Store
	history  History
	ingester Ingester
	cfg      Config
	apiKeys  map[string]bool // Simple API key auth (when enabled).
	log      *slog.Logger
	now      func() time.Time
}

// Option enables optional endpoints.
type Option func(*Server)

// WithHistory enables GET /flights/{id}/history.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithIngester enables POST /ingest.
func WithIngester(i Ingester) Option {
	return func(s *Server) { s.ingester = i }
}

// NewServer creates a new API server.
func NewServer(st Store, cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = pipeline.DefaultConfig().MaxAge
	}
	if cfg.MaxTrailPoints <= 0 {
		cfg.MaxTrailPoints = flight.DefaultMaxTrailPoints
	}

	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}

	s := &Server{
		store:   st,
		cfg:     cfg,
		apiKeys: keys,
		log:     logging.Component("api"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the full handler tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	// CORS for browser access.
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required).
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.cfg.AuthEnabled {
				r.Use(s.authMiddleware)
			}

			r.Get("/flights", s.handleFlights)
			r.Get("/flights/since/{ts}", s.handleFlightsSince)
			r.Get("/flights/{id}", s.handleFlight)
			r.Get("/flights/{id}/trail", s.handleTrail)
			if s.history != nil {
				r.Get("/flights/{id}/history", s.handleHistory)
			}
			r.Get("/trails", s.handleTrails)
			r.Get("/stats", s.handleStats)
			if s.ingester != nil {
				r.Post("/ingest", s.handleIngest)
			}
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API listening", "addr", s.cfg.Addr, "auth", s.cfg.AuthEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs one line per request through the component logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check X-API-Key header first.
		apiKey := r.Header.Get("X-API-Key")

		// Fall back to Authorization: Bearer <key>.
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

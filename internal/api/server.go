// Package api serves the buffer analysis over HTTP.
package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/sells-group/geobuffer/internal/analysis"
	"github.com/sells-group/geobuffer/internal/geospatial"
)

// Store is the database surface the API uses.
type Store interface {
	analysis.Source
	ListTables(ctx context.Context) ([]geospatial.GeometryColumn, error)
	Tile(ctx context.Context, gc geospatial.GeometryColumn, z, x, y int) ([]byte, error)
	Ping(ctx context.Context) error
}

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error)
}

// Downloads opens staged artifacts by file name.
type Downloads interface {
	Open(name string) (*os.File, string, error)
}

// Metrics records requests and exposes the registry.
type Metrics interface {
	Handler() http.Handler
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Config holds the request-facing settings of the API.
type Config struct {
	DatabaseName      string
	RateLimit         float64 // analyses per second; 0 disables limiting
	RateBurst         int
	CORSOrigins       []string
	DefaultBufferSize float64
	DefaultTierColumn string
	TileCache         *geospatial.TileCache // nil disables tile caching
}

// Server wires the HTTP routes to the store, the analyzer and the staging
// directory.
type Server struct {
	cfg       Config
	store     Store
	analyzer  Analyzer
	downloads Downloads
	metrics   Metrics
	limiter   *rate.Limiter
}

// New creates a server. metrics may be nil.
func New(cfg Config, store Store, analyzer Analyzer, downloads Downloads, metrics Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		analyzer:  analyzer,
		downloads: downloads,
		metrics:   metrics,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/databases", s.handleDatabases)
		r.Get("/tables", s.handleTables)
		r.Post("/tables", s.handleTables)
		r.With(s.rateLimit).Post("/analyze", s.handleAnalyze)
		r.Get("/download/{filename}", s.handleDownload)
		r.Get("/tiles/{table}/{z}/{x}/{y}", s.handleTile)
	})
	return r
}

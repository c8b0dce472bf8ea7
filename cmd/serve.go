package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geobuffer/internal/analysis"
	"github.com/sells-group/geobuffer/internal/api"
	"github.com/sells-group/geobuffer/internal/config"
	"github.com/sells-group/geobuffer/internal/db"
	"github.com/sells-group/geobuffer/internal/export"
	"github.com/sells-group/geobuffer/internal/geospatial"
	"github.com/sells-group/geobuffer/internal/metrics"
	"github.com/sells-group/geobuffer/internal/resilience"
)

const shutdownGrace = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := openPool(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := cfg.EnsureStagingDir(); err != nil {
			return err
		}

		prov := metrics.New(metrics.BuildInfo{Version: version, Commit: commit})
		prov.Register(poolCollectors(pool)...)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildHandler(cfg, pool, prov),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv, shutdownGrace)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildHandler wires the store, analyzer and exporter behind the API routes.
// Database calls go through a circuit breaker whose state is published as a
// metric.
func buildHandler(c *config.Config, pool db.Pool, prov *metrics.Provider) http.Handler {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("database circuit state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			prov.SetCircuitState(int(to))
		},
	})
	store := api.NewGuardedStore(geospatial.NewPostgresStore(pool, c.Analysis.Schema), breaker, resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	})
	exporter := export.NewExporter(c.Analysis.StagingDir)

	var tiles *geospatial.TileCache
	if c.Server.TileCacheSize > 0 {
		tiles = geospatial.NewTileCache(c.Server.TileCacheSize, c.Server.TileCacheTTL)
		prov.Register(tileCacheCollectors(tiles)...)
	}

	analyzer := &analysis.Analyzer{
		Source:            store,
		Exporter:          exporter,
		Recorder:          prov,
		Timeout:           c.Analysis.Timeout,
		DefaultBufferSize: c.Analysis.DefaultBuffer,
		DefaultTierColumn: c.Analysis.DefaultTierColumn,
	}

	srv := api.New(api.Config{
		DatabaseName:      db.DatabaseName(c.Database.URL),
		RateLimit:         c.Server.RateLimit,
		RateBurst:         c.Server.RateBurst,
		CORSOrigins:       c.Server.CORSOrigins,
		DefaultBufferSize: c.Analysis.DefaultBuffer,
		DefaultTierColumn: c.Analysis.DefaultTierColumn,
		TileCache:         tiles,
	}, store, analyzer, exporter, prov)
	return srv.Routes()
}

// runServer serves until ctx is done, then drains in-flight requests for at
// most grace.
func runServer(ctx context.Context, srv *http.Server, grace time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return eris.Wrap(srv.Shutdown(sctx), "server shutdown")
	})

	return g.Wait()
}

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/geobuffer/internal/config"
	"github.com/sells-group/geobuffer/internal/db"
	"github.com/sells-group/geobuffer/internal/geospatial"
)

// openPool validates the config for mode and connects to PostGIS.
func openPool(ctx context.Context, c *config.Config, mode string) (*pgxpool.Pool, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	return db.Open(ctx, c.Database.URL, db.PoolConfig{
		MaxConns:       c.Database.MaxConns,
		MinConns:       c.Database.MinConns,
		ConnectRetries: c.Database.ConnectRetries,
	})
}

// poolCollectors exposes connection pool gauges.
func poolCollectors(pool *pgxpool.Pool) []prometheus.Collector {
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "geobuffer",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(pool.Stat()) })
	}
	return []prometheus.Collector{
		gauge("total_conns", "Connections currently open.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("acquired_conns", "Connections checked out by queries.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("idle_conns", "Idle connections.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("max_conns", "Configured pool size.", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
	}
}

// tileCacheCollectors exposes tile cache usage.
func tileCacheCollectors(cache *geospatial.TileCache) []prometheus.Collector {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "geobuffer", Subsystem: "tile_cache", Name: name, Help: help}
	}
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("entries", "Tiles currently cached.")),
			func() float64 { return float64(cache.Stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("hits_total", "Tile requests served from the cache.")),
			func() float64 { return float64(cache.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("misses_total", "Tile requests rendered by PostGIS.")),
			func() float64 { return float64(cache.Stats().Misses) }),
	}
}

package api

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geobuffer/internal/geospatial"
	"github.com/sells-group/geobuffer/internal/resilience"
)

// GuardedStore runs every store call through a circuit breaker and retries
// transient failures.
type GuardedStore struct {
	store   Store
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

// NewGuardedStore wraps store. Calls rejected by an open breaker are not
// retried.
func NewGuardedStore(store Store, breaker *resilience.Breaker, retry resilience.RetryConfig) *GuardedStore {
	retry.ShouldRetry = func(err error) bool {
		return !eris.Is(err, resilience.ErrCircuitOpen) && resilience.IsTransient(err)
	}
	return &GuardedStore{store: store, breaker: breaker, retry: retry}
}

func guard[T any](ctx context.Context, g *GuardedStore, operation string, fn func(context.Context) (T, error)) (T, error) {
	cfg := g.retry
	cfg.OnRetry = resilience.RetryLogger(operation)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		var out T
		err := g.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx)
			return err
		})
		return out, err
	})
}

// Ping checks the database.
func (g *GuardedStore) Ping(ctx context.Context) error {
	_, err := guard(ctx, g, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.store.Ping(ctx)
	})
	return err
}

// ListTables lists the spatial tables of the schema.
func (g *GuardedStore) ListTables(ctx context.Context) ([]geospatial.GeometryColumn, error) {
	return guard(ctx, g, "list tables", g.store.ListTables)
}

// ResolveGeometryColumns resolves the geometry column of each table.
func (g *GuardedStore) ResolveGeometryColumns(ctx context.Context, tables ...string) (map[string]geospatial.GeometryColumn, error) {
	return guard(ctx, g, "resolve geometry columns", func(ctx context.Context) (map[string]geospatial.GeometryColumn, error) {
		return g.store.ResolveGeometryColumns(ctx, tables...)
	})
}

// ReadCollection reads one table.
func (g *GuardedStore) ReadCollection(ctx context.Context, gc geospatial.GeometryColumn) (*geospatial.Collection, error) {
	return guard(ctx, g, "read "+gc.Table, func(ctx context.Context) (*geospatial.Collection, error) {
		return g.store.ReadCollection(ctx, gc)
	})
}

// Tile renders one vector tile.
func (g *GuardedStore) Tile(ctx context.Context, gc geospatial.GeometryColumn, z, x, y int) ([]byte, error) {
	return guard(ctx, g, "tile "+gc.Table, func(ctx context.Context) ([]byte, error) {
		return g.store.Tile(ctx, gc, z, x, y)
	})
}

// Transform converts geometries between coordinate systems.
func (g *GuardedStore) Transform(ctx context.Context, gs []geom.T, from, to geospatial.CRS) ([]geom.T, error) {
	return guard(ctx, g, "transform", func(ctx context.Context) ([]geom.T, error) {
		return g.store.Transform(ctx, gs, from, to)
	})
}

// Buffer renders buffer polygons.
func (g *GuardedStore) Buffer(ctx context.Context, gs []geom.T, radius float64, native, working geospatial.CRS) ([]geom.T, error) {
	return guard(ctx, g, "buffer", func(ctx context.Context) ([]geom.T, error) {
		return g.store.Buffer(ctx, gs, radius, native, working)
	})
}

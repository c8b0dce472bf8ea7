package api

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geobuffer/internal/geospatial"
	"github.com/sells-group/geobuffer/internal/resilience"
)

// flakyStore fails the first n calls with err.
type flakyStore struct {
	fakeStore
	n     int
	calls int
	fail  error
}

func (f *flakyStore) ListTables(ctx context.Context) ([]geospatial.GeometryColumn, error) {
	f.calls++
	if f.calls <= f.n {
		return nil, f.fail
	}
	return f.fakeStore.ListTables(ctx)
}

func (f *flakyStore) Transform(ctx context.Context, gs []geom.T, from, to geospatial.CRS) ([]geom.T, error) {
	f.calls++
	if f.calls <= f.n {
		return nil, f.fail
	}
	return f.fakeStore.Transform(ctx, gs, from, to)
}

func (f *flakyStore) Ping(context.Context) error {
	f.calls++
	if f.calls <= f.n {
		return f.fail
	}
	return nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func TestGuardedStore_RetriesTransient(t *testing.T) {
	store := &flakyStore{
		fakeStore: fakeStore{tables: []geospatial.GeometryColumn{{Table: "roads"}}},
		n:         2,
		fail:      &pgconn.PgError{Code: "57P03"},
	}
	g := NewGuardedStore(store, resilience.NewBreaker(resilience.BreakerConfig{}), fastRetry())

	got, err := g.ListTables(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, store.calls)
}

func TestGuardedStore_DoesNotRetryPermanent(t *testing.T) {
	store := &flakyStore{n: 5, fail: eris.New("relation does not exist")}
	g := NewGuardedStore(store, resilience.NewBreaker(resilience.BreakerConfig{}), fastRetry())

	_, err := g.ListTables(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
}

func TestGuardedStore_OpenCircuitShortCircuits(t *testing.T) {
	var states []resilience.CircuitState
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		OnStateChange: func(_, to resilience.CircuitState) {
			states = append(states, to)
		},
	})
	store := &flakyStore{n: 100, fail: &pgconn.PgError{Code: "08006"}}
	g := NewGuardedStore(store, breaker, fastRetry())

	err := g.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, 2, store.calls, "third attempt is rejected by the breaker")
	assert.Equal(t, []resilience.CircuitState{resilience.CircuitOpen}, states)

	err = g.Ping(context.Background())
	assert.True(t, eris.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 503, statusFor(err))
}

func TestGuardedStore_PassesThroughReads(t *testing.T) {
	store := &fakeStore{
		tables: []geospatial.GeometryColumn{{Table: "roads"}, {Table: "crashes"}},
		tile:   []byte("mvt"),
	}
	g := NewGuardedStore(store, resilience.NewBreaker(resilience.BreakerConfig{}), fastRetry())

	_, err := g.ResolveGeometryColumns(context.Background(), "roads", "crashes")
	assert.NoError(t, err)
	_, err = g.ReadCollection(context.Background(), geospatial.GeometryColumn{Table: "roads"})
	assert.NoError(t, err)
	tile, err := g.Tile(context.Background(), geospatial.GeometryColumn{Table: "roads"}, 1, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, []byte("mvt"), tile)

	pts := []geom.T{geom.NewPointFlat(geom.XY, []float64{1, 2})}
	out, err := g.Transform(context.Background(), pts, geospatial.CRS{SRID: 27700}, geospatial.CRS{SRID: 4326})
	assert.NoError(t, err)
	assert.Equal(t, pts, out)
	assert.Equal(t, 1, store.transforms)
	polys, err := g.Buffer(context.Background(), pts, 30, geospatial.CRS{SRID: 4326}, geospatial.CRS{SRID: 32632})
	assert.NoError(t, err)
	assert.Len(t, polys, 1)
}

func TestGuardedStore_TransformRetriesOnlyTransient(t *testing.T) {
	store := &flakyStore{n: 1, fail: &pgconn.PgError{Code: "57P03"}}
	g := NewGuardedStore(store, resilience.NewBreaker(resilience.BreakerConfig{}), fastRetry())

	_, err := g.Transform(context.Background(), []geom.T{nil}, geospatial.CRS{SRID: 27700}, geospatial.CRS{SRID: 4326})
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)

	// A rejected coordinate system is not retried.
	store = &flakyStore{n: 5, fail: &pgconn.PgError{Code: "XX000", Message: "transform: couldn't project point"}}
	g = NewGuardedStore(store, resilience.NewBreaker(resilience.BreakerConfig{}), fastRetry())
	_, err = g.Transform(context.Background(), []geom.T{nil}, geospatial.CRS{SRID: 27700}, geospatial.CRS{SRID: 4326})
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
}

package geospatial

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

const (
	// MaxTileZoom is the deepest zoom level served.
	MaxTileZoom = 22

	tileExtent  = 4096
	tileBuffer  = 256
	webMercator = 3857
)

var (
	// ErrTileOutOfRange is returned for tile coordinates outside the pyramid.
	ErrTileOutOfRange = eris.New("tile coordinates out of range")
	// ErrNoSRID is returned when a table's geometry has no SRID to reproject from.
	ErrNoSRID = eris.New("geometry has no srid")
)

// ValidTile reports whether z/x/y addresses a tile of the web mercator pyramid.
func ValidTile(z, x, y int) bool {
	if z < 0 || z > MaxTileZoom {
		return false
	}
	n := 1 << z
	return x >= 0 && x < n && y >= 0 && y < n
}

// Tile renders the geometries of one table that fall in tile z/x/y as a
// Mapbox Vector Tile. The layer is named after the table. An empty tile
// yields an empty slice.
func (s *PostgresStore) Tile(ctx context.Context, gc GeometryColumn, z, x, y int) ([]byte, error) {
	if !ValidTile(z, x, y) {
		return nil, eris.Wrapf(ErrTileOutOfRange, "%d/%d/%d", z, x, y)
	}
	if gc.SRID == 0 {
		return nil, eris.Wrapf(ErrNoSRID, "%s.%s", gc.Table, gc.Column)
	}
	schema := gc.Schema
	if schema == "" {
		schema = s.schema
	}

	col := pgx.Identifier{gc.Column}.Sanitize()
	sql := fmt.Sprintf(`
		SELECT COALESCE(ST_AsMVT(q, $4, %[1]d, 'geom'), ''::bytea) FROM (
			SELECT ST_AsMVTGeom(
					ST_Transform(t.%[3]s, %[5]d),
					ST_TileEnvelope($1, $2, $3),
					%[1]d, %[2]d, true
				) AS geom
			FROM %[4]s AS t
			WHERE t.%[3]s && ST_Transform(ST_TileEnvelope($1, $2, $3), %[6]d)
		) q`,
		tileExtent, tileBuffer, col,
		pgx.Identifier{schema, gc.Table}.Sanitize(),
		webMercator, gc.SRID,
	)

	var tile []byte
	if err := s.pool.QueryRow(ctx, sql, z, x, y, gc.Table).Scan(&tile); err != nil {
		return nil, eris.Wrapf(err, "geospatial: tile %s %d/%d/%d", gc.Table, z, x, y)
	}
	return tile, nil
}

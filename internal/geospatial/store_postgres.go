package geospatial

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/geobuffer/internal/db"
)

// ErrGeometryNotFound is returned when a table has no registered geometry
// column in the configured schema.
var ErrGeometryNotFound = eris.New("geometry columns not found")

// ewkbAlias names the EWKB copy of the geometry column added to every read.
const ewkbAlias = "__geobuffer_ewkb"

// PostgresStore reads spatial tables from one PostGIS schema.
type PostgresStore struct {
	pool   db.Pool
	schema string
	log    *zap.Logger
}

// NewPostgresStore creates a PostgresStore scoped to schema.
func NewPostgresStore(pool db.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = "public"
	}
	return &PostgresStore{
		pool:   pool,
		schema: schema,
		log:    zap.L().With(zap.String("component", "geospatial")),
	}
}

// Schema returns the schema the store reads from.
func (s *PostgresStore) Schema() string { return s.schema }

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "geospatial: ping")
}

// ListTables returns every registered geometry column in the schema ordered
// by table name.
func (s *PostgresStore) ListTables(ctx context.Context) ([]GeometryColumn, error) {
	sql := `
		SELECT f_table_name, f_geometry_column, type, srid
		FROM geometry_columns
		WHERE f_table_schema = $1
		ORDER BY f_table_name, f_geometry_column
	`
	rows, err := s.pool.Query(ctx, sql, s.schema)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: list tables")
	}
	defer rows.Close()

	var out []GeometryColumn
	for rows.Next() {
		gc := GeometryColumn{Schema: s.schema}
		if err := rows.Scan(&gc.Table, &gc.Column, &gc.Type, &gc.SRID); err != nil {
			return nil, eris.Wrap(err, "geospatial: scan geometry column")
		}
		out = append(out, gc)
	}
	return out, eris.Wrap(rows.Err(), "geospatial: list tables")
}

// ResolveGeometryColumns looks up the geometry column of each table. Names
// are matched case-sensitively. A table with several geometry columns
// resolves to the first in name order. If any table is missing the error
// wraps ErrGeometryNotFound and names every missing table.
func (s *PostgresStore) ResolveGeometryColumns(ctx context.Context, tables ...string) (map[string]GeometryColumn, error) {
	sql := `
		SELECT f_table_name, f_geometry_column, type, srid
		FROM geometry_columns
		WHERE f_table_schema = $1 AND f_table_name = ANY($2)
		ORDER BY f_table_name, f_geometry_column
	`
	rows, err := s.pool.Query(ctx, sql, s.schema, tables)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: resolve geometry columns")
	}
	defer rows.Close()

	found := make(map[string]GeometryColumn, len(tables))
	for rows.Next() {
		gc := GeometryColumn{Schema: s.schema}
		if err := rows.Scan(&gc.Table, &gc.Column, &gc.Type, &gc.SRID); err != nil {
			return nil, eris.Wrap(err, "geospatial: scan geometry column")
		}
		if _, ok := found[gc.Table]; !ok {
			found[gc.Table] = gc
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geospatial: resolve geometry columns")
	}

	var missing []string
	seen := map[string]bool{}
	for _, t := range tables {
		if _, ok := found[t]; !ok && !seen[t] {
			missing = append(missing, fmt.Sprintf("%q", t))
			seen[t] = true
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return found, eris.Wrapf(ErrGeometryNotFound, "%s.%s", s.schema, strings.Join(missing, ", "))
	}
	return found, nil
}

// LookupCRS resolves an SRID through spatial_ref_sys, falling back to the
// built-in EPSG table when the row is absent. SRID 0 yields an unknown CRS.
func (s *PostgresStore) LookupCRS(ctx context.Context, srid int) (CRS, error) {
	if srid == 0 {
		return CRS{}, nil
	}

	var (
		authName, srtext, proj4 string
		authCode                int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(auth_name, ''), COALESCE(auth_srid, 0), COALESCE(srtext, ''), COALESCE(proj4text, '')
		FROM spatial_ref_sys WHERE srid = $1
	`, srid).Scan(&authName, &authCode, &srtext, &proj4)
	if errors.Is(err, pgx.ErrNoRows) {
		if c, ok := CRSFromEPSG(srid); ok {
			return c, nil
		}
		return CRS{SRID: srid}, nil
	}
	if err != nil {
		return CRS{}, eris.Wrapf(err, "geospatial: lookup srid %d", srid)
	}
	return NewCRS(srid, authName, authCode, proj4, srtext), nil
}

// ReadCollection reads every row of the table as a feature, in table order.
func (s *PostgresStore) ReadCollection(ctx context.Context, gc GeometryColumn) (*Collection, error) {
	schema := gc.Schema
	if schema == "" {
		schema = s.schema
	}
	sql := fmt.Sprintf(`SELECT t.*, ST_AsEWKB(t.%s) AS %s FROM %s AS t`,
		pgx.Identifier{gc.Column}.Sanitize(),
		pgx.Identifier{ewkbAlias}.Sanitize(),
		pgx.Identifier{schema, gc.Table}.Sanitize(),
	)

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrapf(err, "geospatial: read %s", gc.Table)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var columns []string
	keep := make([]bool, len(fields))
	wkbIdx := -1
	for i, f := range fields {
		switch f.Name {
		case ewkbAlias:
			wkbIdx = i
		case gc.Column:
		default:
			keep[i] = true
			columns = append(columns, f.Name)
		}
	}
	if wkbIdx < 0 {
		return nil, eris.Errorf("geospatial: read %s: geometry not returned", gc.Table)
	}

	c := &Collection{
		Name:           gc.Table,
		GeometryColumn: gc.Column,
		GeometryType:   gc.Type,
		Columns:        columns,
	}
	srid := gc.SRID
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, eris.Wrapf(err, "geospatial: read %s row %d", gc.Table, len(c.Features))
		}

		f := Feature{Attributes: make([]Attribute, 0, len(columns))}
		for i, v := range values {
			if keep[i] {
				f.Attributes = append(f.Attributes, Attribute{Name: fields[i].Name, Value: normalizeValue(v)})
			}
		}
		if b, ok := values[wkbIdx].([]byte); ok && len(b) > 0 {
			g, err := ewkb.Unmarshal(b)
			if err != nil {
				return nil, eris.Wrapf(err, "geospatial: decode %s row %d", gc.Table, len(c.Features))
			}
			f.Geometry = g
			if srid == 0 {
				srid = g.SRID()
			}
		}
		c.Features = append(c.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "geospatial: read %s", gc.Table)
	}

	crs, err := s.LookupCRS(ctx, srid)
	if err != nil {
		return nil, err
	}
	c.CRS = crs

	s.log.Debug("read collection",
		zap.String("table", gc.Table),
		zap.Int("features", len(c.Features)),
		zap.String("crs", crs.String()),
	)
	return c, nil
}

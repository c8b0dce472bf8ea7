// Package ingest loads shapefiles into PostGIS tables the analysis can read.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobuffer/internal/db"
)

// Column names added to every loaded table.
const (
	KeyColumn      = "gid"
	GeometryColumn = "geom"
)

const defaultSRID = 4326

var identRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Options configures one shapefile load.
type Options struct {
	Path      string // .shp file or a .zip holding one
	Schema    string // default "public"
	Table     string // default: the file name
	SRID      int    // SRID of the source coordinates, default 4326
	Replace   bool   // drop an existing table first
	BatchSize int    // rows per COPY, default db.CopyBatchSize
	TempDir   string // where archives are extracted
}

// Summary describes a completed load.
type Summary struct {
	Schema       string `json:"schema"`
	Table        string `json:"table"`
	GeometryType string `json:"geometry_type"`
	SRID         int    `json:"srid"`
	Columns      int    `json:"columns"`
	Rows         int64  `json:"rows"`
	Skipped      int    `json:"skipped"`
}

// TableName derives a table name from a file path.
func TableName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := strings.Trim(identRe.ReplaceAllString(strings.ToLower(base), "_"), "_")
	if name == "" {
		return "shapes"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}

// Load creates a table for the shapefile at opts.Path and copies every
// record with a geometry into it, then indexes the geometry column.
func Load(ctx context.Context, pool db.Pool, opts Options) (*Summary, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, eris.New("ingest: no shapefile path")
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.Table == "" {
		opts.Table = TableName(opts.Path)
	}
	if opts.SRID <= 0 {
		opts.SRID = defaultSRID
	}

	path := opts.Path
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp(opts.TempDir, "geobuffer-ingest-")
		if err != nil {
			return nil, eris.Wrap(err, "ingest: create extract dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		if path, err = extractShapefile(opts.Path, dir); err != nil {
			return nil, err
		}
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	geomType, ok := postgisType(reader.GeometryType)
	if !ok {
		return nil, eris.Errorf("ingest: unsupported shape type %d in %s", reader.GeometryType, path)
	}
	cols := columnsOf(reader.Fields())

	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("table", opts.Schema+"."+opts.Table),
	)

	if err := createTable(ctx, pool, opts, cols, geomType); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		names = append(names, c.Name)
	}
	names = append(names, GeometryColumn)

	sum := &Summary{
		Schema:       opts.Schema,
		Table:        opts.Table,
		GeometryType: geomType,
		SRID:         opts.SRID,
		Columns:      len(cols),
	}
	next := func() ([]any, bool, error) {
		for reader.Next() {
			if err := ctx.Err(); err != nil {
				return nil, false, eris.Wrap(err, "ingest: load")
			}
			_, shape := reader.Shape()
			g, err := encodeEWKB(shape, opts.SRID)
			if err != nil {
				return nil, false, err
			}
			if g == nil {
				sum.Skipped++
				continue
			}
			row := make([]any, 0, len(names))
			for i, c := range cols {
				row = append(row, c.value(reader.Attribute(i)))
			}
			row = append(row, g)
			return row, true, nil
		}
		return nil, false, eris.Wrap(reader.Err(), "ingest: read shapefile")
	}

	n, err := db.CopyInBatches(ctx, pool, opts.Schema, opts.Table, names, opts.BatchSize, next)
	sum.Rows = n
	if err != nil {
		return sum, eris.Wrapf(err, "ingest: copy into %s.%s", opts.Schema, opts.Table)
	}

	if err := finishTable(ctx, pool, opts); err != nil {
		return sum, err
	}

	log.Info("shapefile loaded",
		zap.String("geometry_type", geomType),
		zap.Int("srid", opts.SRID),
		zap.Int64("rows", sum.Rows),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

func createTable(ctx context.Context, pool db.Pool, opts Options, cols []Column, geomType string) error {
	table := pgx.Identifier{opts.Schema, opts.Table}.Sanitize()

	if opts.Replace {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return eris.Wrapf(err, "ingest: drop %s.%s", opts.Schema, opts.Table)
		}
	}

	defs := make([]string, 0, len(cols)+2)
	defs = append(defs, pgx.Identifier{KeyColumn}.Sanitize()+" serial PRIMARY KEY")
	for _, c := range cols {
		defs = append(defs, pgx.Identifier{c.Name}.Sanitize()+" "+c.Type)
	}
	defs = append(defs, fmt.Sprintf("%s geometry(%s, %d)", pgx.Identifier{GeometryColumn}.Sanitize(), geomType, opts.SRID))

	sql := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "ingest: create %s.%s", opts.Schema, opts.Table)
	}
	return nil
}

func finishTable(ctx context.Context, pool db.Pool, opts Options) error {
	table := pgx.Identifier{opts.Schema, opts.Table}.Sanitize()
	index := pgx.Identifier{opts.Table + "_" + GeometryColumn + "_idx"}.Sanitize()

	sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gist (%s)",
		index, table, pgx.Identifier{GeometryColumn}.Sanitize())
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "ingest: index %s.%s", opts.Schema, opts.Table)
	}
	if _, err := pool.Exec(ctx, "ANALYZE "+table); err != nil {
		return eris.Wrapf(err, "ingest: analyze %s.%s", opts.Schema, opts.Table)
	}
	return nil
}

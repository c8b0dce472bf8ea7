package export

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10200
	geometryColumn    = "geom"
	fidColumn         = "fid"
)

const gpkgSchema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER NOT NULL PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);
`

// WKT of the two undefined systems every GeoPackage must register.
const undefinedDefinition = "undefined"

var gpkgGeometryTypes = []string{
	"GEOMETRYCOLLECTION", "MULTILINESTRING", "MULTIPOLYGON", "MULTIPOINT",
	"LINESTRING", "POLYGON", "POINT", "GEOMETRY",
}

// GeoPackage writes feature layers into an OGC GeoPackage file.
type GeoPackage struct {
	db   *sql.DB
	path string
}

// CreateGeoPackage creates a new GeoPackage at path with the required
// metadata tables. The file must not exist.
func CreateGeoPackage(ctx context.Context, path string) (*GeoPackage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: open")
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
		gpkgSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, eris.Wrap(err, "gpkg: initialize")
		}
	}

	g := &GeoPackage{db: db, path: path}
	for _, row := range []struct {
		name, org string
		id, code  int
		def, desc string
	}{
		{"WGS 84 geodetic", "EPSG", 4326, 4326, wgs84Definition(), "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
		{"Undefined cartesian SRS", "NONE", -1, -1, undefinedDefinition, "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", "NONE", 0, 0, undefinedDefinition, "undefined geographic coordinate reference system"},
	} {
		if err := insertSRS(ctx, g.db, row.name, row.id, row.org, row.code, row.def, row.desc); err != nil {
			db.Close()
			return nil, err
		}
	}
	return g, nil
}

func wgs84Definition() string {
	c, ok := geospatial.CRSFromEPSG(4326)
	if !ok || c.WKT == "" {
		return undefinedDefinition
	}
	return c.WKT
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSRS(ctx context.Context, ex execer, name string, id int, org string, code int, def, desc string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition, description) VALUES (?, ?, ?, ?, ?, ?)`,
		name, id, org, code, def, desc,
	)
	if err != nil {
		return eris.Wrapf(err, "gpkg: register srs %d", id)
	}
	return nil
}

// srsID registers c and returns the srs_id layers in c should reference.
// Only the two undefined systems may carry an undefined definition, so a CRS
// without WKT is written as one of them.
func srsID(ctx context.Context, ex execer, c geospatial.CRS) (int, error) {
	if c.SRID <= 0 || c.WKT == "" {
		if c.Geographic {
			return 0, nil
		}
		return -1, nil
	}
	org, code := c.AuthName, c.AuthCode
	if org == "" || code == 0 {
		org, code = "NONE", c.SRID
	}
	name := c.String()
	if err := insertSRS(ctx, ex, name, c.SRID, org, code, c.WKT, c.Proj4); err != nil {
		return 0, err
	}
	return c.SRID, nil
}

// WriteLayer writes c as a feature table named name. Attribute columns keep
// their order; names that collide with fid, geom or each other are suffixed.
func (g *GeoPackage) WriteLayer(ctx context.Context, name string, c *geospatial.Collection) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "gpkg: begin %s", name)
	}
	defer tx.Rollback() //nolint:errcheck

	srs, err := srsID(ctx, tx, c.CRS)
	if err != nil {
		return err
	}

	columns := layerColumns(c)
	defs := []string{
		quoteIdent(fidColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		quoteIdent(geometryColumn) + " " + geometryTypeName(c.GeometryType),
	}
	for _, col := range columns {
		defs = append(defs, quoteIdent(col.name)+" "+col.sqlType)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))); err != nil {
		return eris.Wrapf(err, "gpkg: create %s", name)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)+1), ", ")
	names := []string{quoteIdent(geometryColumn)}
	for _, col := range columns {
		names = append(names, quoteIdent(col.name))
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), strings.Join(names, ", "), placeholders))
	if err != nil {
		return eris.Wrapf(err, "gpkg: prepare insert %s", name)
	}
	defer stmt.Close()

	bounds := geom.NewBounds(geom.XY)
	hasZ, hasM := false, false
	args := make([]any, len(columns)+1)
	for i, f := range c.Features {
		blob, err := EncodeGeometry(f.Geometry, srs)
		if err != nil {
			return eris.Wrapf(err, "gpkg: encode %s feature %d", name, i)
		}
		args[0] = blob
		for j, col := range columns {
			v, _ := f.Attr(col.source)
			args[j+1] = sqliteValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "gpkg: insert %s feature %d", name, i)
		}
		if f.Geometry != nil && !f.Geometry.Empty() {
			bounds.Extend(f.Geometry)
			switch f.Geometry.Layout() {
			case geom.XYZ:
				hasZ = true
			case geom.XYM:
				hasM = true
			case geom.XYZM:
				hasZ, hasM = true, true
			}
		}
	}

	var minX, minY, maxX, maxY any
	if !bounds.IsEmpty() {
		minX, minY, maxX, maxY = bounds.Min(0), bounds.Min(1), bounds.Max(0), bounds.Max(1)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, description, last_change, min_x, min_y, max_x, max_y, srs_id) VALUES (?, 'features', ?, '', ?, ?, ?, ?, ?, ?)`,
		name, name, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), minX, minY, maxX, maxY, srs,
	); err != nil {
		return eris.Wrapf(err, "gpkg: register contents %s", name)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, ?, ?, ?, ?, ?)`,
		name, geometryColumn, geometryTypeName(c.GeometryType), srs, boolFlag(hasZ), boolFlag(hasM),
	); err != nil {
		return eris.Wrapf(err, "gpkg: register geometry column %s", name)
	}

	return eris.Wrapf(tx.Commit(), "gpkg: commit %s", name)
}

// Path returns the file the package is written to.
func (g *GeoPackage) Path() string { return g.path }

// Close closes the underlying database.
func (g *GeoPackage) Close() error {
	return g.db.Close()
}

type layerColumn struct {
	source  string
	name    string
	sqlType string
}

func layerColumns(c *geospatial.Collection) []layerColumn {
	used := map[string]bool{fidColumn: true, geometryColumn: true}
	out := make([]layerColumn, 0, len(c.Columns))
	for _, src := range c.Columns {
		name := src
		for n := 1; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", src, n)
		}
		used[strings.ToLower(name)] = true
		out = append(out, layerColumn{source: src, name: name, sqlType: columnType(c, src)})
	}
	return out
}

// columnType infers a GeoPackage column type from the first non-NULL value.
func columnType(c *geospatial.Collection, column string) string {
	for _, f := range c.Features {
		v, _ := f.Attr(column)
		switch v.(type) {
		case nil:
			continue
		case int64:
			return "INTEGER"
		case float64:
			return "REAL"
		case bool:
			return "BOOLEAN"
		case time.Time:
			return "DATETIME"
		case []byte:
			return "BLOB"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

func sqliteValue(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, []byte, string:
		return x
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return geospatial.FormatValue(v)
}

func geometryTypeName(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	for _, name := range gpkgGeometryTypes {
		if strings.HasPrefix(t, name) {
			return name
		}
	}
	return "GEOMETRY"
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// EncodeGeometry returns the GeoPackage binary form of g: the "GP" header
// with an XY envelope followed by little-endian WKB. A nil geometry encodes
// as NULL.
func EncodeGeometry(g geom.T, srs int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: marshal wkb")
	}

	empty := g.Empty()
	// Flags: little-endian, XY envelope unless empty.
	flags := byte(0x01)
	headerLen := 8
	if empty {
		flags |= 0x10
	} else {
		flags |= 0x02
		headerLen += 32
	}

	out := make([]byte, headerLen, headerLen+len(body))
	out[0], out[1], out[2], out[3] = 'G', 'P', 0, flags
	binary.LittleEndian.PutUint32(out[4:8], uint32(int32(srs)))
	if !empty {
		b := g.Bounds()
		for i, v := range []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)} {
			binary.LittleEndian.PutUint64(out[8+8*i:], math.Float64bits(v))
		}
	}
	return append(out, body...), nil
}

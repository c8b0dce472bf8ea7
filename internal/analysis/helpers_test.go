package analysis

import (
	"context"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

func wgs84(t *testing.T) geospatial.CRS {
	t.Helper()
	return epsg(t, 4326)
}

// epsg returns a well-known CRS as spatial_ref_sys would describe it.
func epsg(t *testing.T, code int) geospatial.CRS {
	t.Helper()
	c, ok := geospatial.CRSFromEPSG(code)
	require.True(t, ok, "EPSG:%d", code)
	return geospatial.NewCRS(code, "EPSG", code, c.Proj4, c.WKT)
}

func line(srid int, coords ...float64) *geom.LineString {
	return geom.NewLineStringFlat(geom.XY, coords).SetSRID(srid)
}

func point(srid int, x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y}).SetSRID(srid)
}

func feature(g geom.T, attrs ...any) geospatial.Feature {
	f := geospatial.Feature{Geometry: g}
	for i := 0; i+1 < len(attrs); i += 2 {
		f.Attributes = append(f.Attributes, geospatial.Attribute{Name: attrs[i].(string), Value: attrs[i+1]})
	}
	return f
}

func collection(name string, crs geospatial.CRS, columns []string, features ...geospatial.Feature) *geospatial.Collection {
	return &geospatial.Collection{
		Name:           name,
		GeometryColumn: "geom",
		Columns:        columns,
		CRS:            crs,
		Features:       features,
	}
}

// fakeSource serves collections from memory and stands in for the
// database's coordinate work with a local equirectangular approximation of
// UTM and spherical mercator.
type fakeSource struct {
	tables  map[string]*geospatial.Collection
	reads   []string
	readErr error

	// reject makes conversions into or out of the named CRSs fail the way
	// PostGIS reports an unusable coordinate system.
	reject       map[string]bool
	transformErr error
	transforms   []string
	buffers      []bufferCall
}

type bufferCall struct {
	lines           int
	radius          float64
	native, working geospatial.CRS
}

func (f *fakeSource) ResolveGeometryColumns(_ context.Context, tables ...string) (map[string]geospatial.GeometryColumn, error) {
	out := map[string]geospatial.GeometryColumn{}
	var missing []string
	for _, t := range tables {
		if _, ok := f.tables[t]; !ok {
			missing = append(missing, t)
			continue
		}
		out[t] = geospatial.GeometryColumn{Schema: "public", Table: t, Column: "geom"}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrGeometryNotFound, "public.%v", missing)
	}
	return out, nil
}

func (f *fakeSource) ReadCollection(_ context.Context, gc geospatial.GeometryColumn) (*geospatial.Collection, error) {
	f.reads = append(f.reads, gc.Table)
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.tables[gc.Table], nil
}

func (f *fakeSource) Transform(ctx context.Context, gs []geom.T, from, to geospatial.CRS) ([]geom.T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.transforms = append(f.transforms, from.String()+">"+to.String())
	if f.transformErr != nil {
		return nil, f.transformErr
	}
	if err := f.usable(from, to); err != nil {
		return nil, err
	}
	out := make([]geom.T, len(gs))
	for i, g := range gs {
		c, err := convert(g, from, to)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Buffer renders each geometry's bounding box grown by radius in working.
func (f *fakeSource) Buffer(ctx context.Context, gs []geom.T, radius float64, native, working geospatial.CRS) ([]geom.T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.buffers = append(f.buffers, bufferCall{lines: len(gs), radius: radius, native: native, working: working})
	if err := f.usable(native, working); err != nil {
		return nil, err
	}
	out := make([]geom.T, len(gs))
	for i, g := range gs {
		if g == nil {
			continue
		}
		w, err := convert(g, native, working)
		if err != nil {
			return nil, err
		}
		b := w.Bounds()
		x0, y0, x1, y1 := b.Min(0)-radius, b.Min(1)-radius, b.Max(0)+radius, b.Max(1)+radius
		box := geom.NewMultiPolygonFlat(geom.XY, []float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}, [][]int{{10}})
		back, err := convert(box, working, native)
		if err != nil {
			return nil, err
		}
		out[i] = back
	}
	return out, nil
}

func (f *fakeSource) usable(crss ...geospatial.CRS) error {
	for _, c := range crss {
		if !c.Known() {
			return eris.Wrapf(geospatial.ErrNoProjection, "%s", c)
		}
		if f.reject[c.String()] {
			return &pgconn.PgError{Code: "XX000", Message: "transform: could not form projection from " + c.String()}
		}
	}
	return nil
}

const (
	metresPerDegreeLat = 110574.0
	metresPerDegreeLon = 111320.0
	sphereRadius       = 6378137.0
)

// convert maps every vertex of g from one CRS to the other through
// longitude/latitude. The result carries to's SRID.
func convert(g geom.T, from, to geospatial.CRS) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	b, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, err
	}
	out, err := ewkb.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	flat, stride := out.FlatCoords(), out.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		lon, lat, err := toLonLat(from, flat[i], flat[i+1])
		if err != nil {
			return nil, err
		}
		if flat[i], flat[i+1], err = fromLonLat(to, lon, lat); err != nil {
			return nil, err
		}
	}
	return withSRID(out, to.SRID), nil
}

// utmParams reports the zone and hemisphere of a UTM CRS.
func utmParams(c geospatial.CRS) (zone int, south, ok bool) {
	switch {
	case c.AuthCode > 32600 && c.AuthCode <= 32660:
		return c.AuthCode - 32600, false, true
	case c.AuthCode > 32700 && c.AuthCode <= 32760:
		return c.AuthCode - 32700, true, true
	case strings.Contains(c.Proj4, "+proj=utm"):
		for _, tok := range strings.Fields(c.Proj4) {
			if v, found := strings.CutPrefix(tok, "+zone="); found {
				zone, _ = strconv.Atoi(v)
			}
		}
		return zone, strings.Contains(c.Proj4, "+south"), zone > 0
	}
	return 0, false, false
}

func toLonLat(c geospatial.CRS, x, y float64) (float64, float64, error) {
	if c.Geographic {
		return x, y, nil
	}
	if zone, south, ok := utmParams(c); ok {
		if south {
			y -= 10000000
		}
		lat := y / metresPerDegreeLat
		lon0 := float64(zone)*6 - 183
		return lon0 + (x-500000)/(metresPerDegreeLon*math.Cos(lat*math.Pi/180)), lat, nil
	}
	if c.SRID == 3857 {
		lat := (2*math.Atan(math.Exp(y/sphereRadius)) - math.Pi/2) * 180 / math.Pi
		return x / sphereRadius * 180 / math.Pi, lat, nil
	}
	return 0, 0, eris.Wrapf(geospatial.ErrNoProjection, "%s", c)
}

func fromLonLat(c geospatial.CRS, lon, lat float64) (float64, float64, error) {
	if c.Geographic {
		return lon, lat, nil
	}
	if zone, south, ok := utmParams(c); ok {
		lon0 := float64(zone)*6 - 183
		x := 500000 + (lon-lon0)*metresPerDegreeLon*math.Cos(lat*math.Pi/180)
		y := lat * metresPerDegreeLat
		if south {
			y += 10000000
		}
		return x, y, nil
	}
	if c.SRID == 3857 {
		return lon * math.Pi / 180 * sphereRadius, math.Log(math.Tan(math.Pi/4+lat*math.Pi/360)) * sphereRadius, nil
	}
	return 0, 0, eris.Wrapf(geospatial.ErrNoProjection, "%s", c)
}

func withSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(srid)
	case *geom.LineString:
		return t.SetSRID(srid)
	case *geom.Polygon:
		return t.SetSRID(srid)
	case *geom.MultiPoint:
		return t.SetSRID(srid)
	case *geom.MultiLineString:
		return t.SetSRID(srid)
	case *geom.MultiPolygon:
		return t.SetSRID(srid)
	}
	return g
}

// fakeExporter captures the artifacts it is given.
type fakeExporter struct {
	got *Artifacts
	err error
}

func (f *fakeExporter) Export(_ context.Context, a *Artifacts) (Files, error) {
	f.got = a
	if f.err != nil {
		return Files{}, f.err
	}
	return Files{CSV: "points.csv", GPKG: "analysis.gpkg"}, nil
}

type recorded struct {
	outcome string
	points  int
}

type fakeRecorder struct {
	calls []recorded
}

func (f *fakeRecorder) AnalysisFinished(outcome string, _ time.Duration, points int) {
	f.calls = append(f.calls, recorded{outcome: outcome, points: points})
}

// scenario builds three lines near 10E 50N and ten points, seven of which
// are within 30 m of a line.
func scenario(t *testing.T) *fakeSource {
	t.Helper()
	crs := wgs84(t)
	lines := collection("roads", crs, []string{"gid", "name"},
		feature(line(4326, 10.0, 50.0, 10.01, 50.0), "gid", int64(1), "name", "a"),
		feature(line(4326, 10.0, 50.01, 10.01, 50.01), "gid", int64(2), "name", "b"),
		feature(line(4326, 10.02, 50.02, 10.03, 50.02), "gid", int64(3), "name", "c"),
	)
	pt := func(x, y float64, sev string) geospatial.Feature {
		return feature(point(4326, x, y), "id", nil, "Severity", sev)
	}
	points := collection("crashes", crs, []string{"id", "Severity"},
		pt(10.005, 50.0001, "high"),
		pt(10.002, 49.9998, "low"),
		pt(10.008, 50.0002, "low"),
		pt(10.005, 50.0101, "high"),
		pt(10.001, 50.0099, "low"),
		pt(10.025, 50.0201, "high"),
		pt(10.028, 50.0199, "low"),
		pt(10.005, 50.0005, "low"),
		pt(10.015, 50.0, "high"),
		pt(10.05, 50.05, "low"),
	)
	return &fakeSource{tables: map[string]*geospatial.Collection{"roads": lines, "crashes": points}}
}

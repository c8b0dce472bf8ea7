package ingest

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/xy"
)

// postgisType maps a shapefile shape type to the PostGIS geometry type of
// the target column. Lines and polygons are always loaded as multi types
// since any record may have several parts.
func postgisType(t shp.ShapeType) (string, bool) {
	switch t {
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return "POINT", true
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return "MULTIPOINT", true
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return "MULTILINESTRING", true
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return "MULTIPOLYGON", true
	}
	return "", false
}

// toGeom converts a shape to an XY geometry with srid set. Z and M values are
// dropped. It returns nil for null or empty shapes.
func toGeom(shape shp.Shape, srid int) geom.T {
	var g geom.T
	switch s := shape.(type) {
	case *shp.Point:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointM:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		g = multiPoint(s.Points)
	case *shp.MultiPointZ:
		g = multiPoint(s.Points)
	case *shp.MultiPointM:
		g = multiPoint(s.Points)
	case *shp.PolyLine:
		g = multiLineString(s.Parts, s.Points)
	case *shp.PolyLineZ:
		g = multiLineString(s.Parts, s.Points)
	case *shp.PolyLineM:
		g = multiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		g = multiPolygon(s.Parts, s.Points)
	case *shp.PolygonZ:
		g = multiPolygon(s.Parts, s.Points)
	case *shp.PolygonM:
		g = multiPolygon(s.Parts, s.Points)
	}
	if g == nil {
		return nil
	}
	return setSRID(g, srid)
}

func setSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
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

// encodeEWKB converts a shape into the EWKB accepted by a PostGIS geometry
// column over COPY. A nil result means the record has no geometry.
func encodeEWKB(shape shp.Shape, srid int) ([]byte, error) {
	g := toGeom(shape, srid)
	if g == nil {
		return nil, nil
	}
	b, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: encode EWKB")
	}
	return b, nil
}

func multiPoint(points []shp.Point) geom.T {
	if len(points) == 0 {
		return nil
	}
	return geom.NewMultiPointFlat(geom.XY, flatten(points))
}

// parts splits points by the part start offsets of a multi-part shape.
func parts(starts []int32, points []shp.Point) [][]shp.Point {
	out := make([][]shp.Point, 0, len(starts))
	for i, start := range starts {
		end := int32(len(points))
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

func multiLineString(starts []int32, points []shp.Point) geom.T {
	mls := geom.NewMultiLineString(geom.XY)
	for _, part := range parts(starts, points) {
		if len(part) < 2 {
			continue
		}
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flatten(part))); err != nil {
			continue
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// multiPolygon assembles rings into polygons. Shapefile shells wind
// clockwise and holes counter-clockwise; each hole joins the shell that
// contains it, or the most recent shell.
func multiPolygon(starts []int32, points []shp.Point) geom.T {
	var shells [][][]float64
	for _, part := range parts(starts, points) {
		if len(part) < 4 {
			continue
		}
		ring := flatten(part)
		if signedArea(ring) <= 0 || len(shells) == 0 {
			shells = append(shells, [][]float64{ring})
			continue
		}
		owner := len(shells) - 1
		for i, shell := range shells {
			if xy.IsPointInRing(geom.XY, geom.Coord{ring[0], ring[1]}, shell[0]) {
				owner = i
				break
			}
		}
		shells[owner] = append(shells[owner], ring)
	}
	if len(shells) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, rings := range shells {
		var flat []float64
		ends := make([]int, 0, len(rings))
		for _, r := range rings {
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			continue
		}
	}
	return mp
}

// signedArea is positive for counter-clockwise rings.
func signedArea(flat []float64) float64 {
	var sum float64
	for i := 0; i+3 < len(flat); i += 2 {
		sum += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return sum / 2
}

func flatten(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

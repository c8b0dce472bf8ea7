package ingest

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

func TestPostgisType(t *testing.T) {
	tests := []struct {
		in   shp.ShapeType
		want string
	}{
		{shp.POINT, "POINT"},
		{shp.POINTZ, "POINT"},
		{shp.MULTIPOINT, "MULTIPOINT"},
		{shp.POLYLINE, "MULTILINESTRING"},
		{shp.POLYLINEM, "MULTILINESTRING"},
		{shp.POLYGON, "MULTIPOLYGON"},
		{shp.POLYGONZ, "MULTIPOLYGON"},
	}
	for _, tt := range tests {
		got, ok := postgisType(tt.in)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got)
	}

	_, ok := postgisType(shp.MULTIPATCH)
	assert.False(t, ok)
}

func TestToGeom_Point(t *testing.T) {
	g := toGeom(&shp.Point{X: 10.5, Y: 50.25}, 4326)
	require.IsType(t, &geom.Point{}, g)
	assert.Equal(t, []float64{10.5, 50.25}, g.FlatCoords())
	assert.Equal(t, 4326, g.SRID())

	g = toGeom(&shp.PointZ{X: 1, Y: 2, Z: 3}, 32632)
	assert.Equal(t, geom.XY, g.Layout())
	assert.Equal(t, []float64{1, 2}, g.FlatCoords())
}

func TestToGeom_PolyLineParts(t *testing.T) {
	pl := shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 1, Y: 1}},
		{{X: 5, Y: 5}, {X: 6, Y: 5}, {X: 7, Y: 6}},
	})

	g := toGeom(pl, 4326)
	mls, ok := g.(*geom.MultiLineString)
	require.True(t, ok)
	assert.Equal(t, 2, mls.NumLineStrings())
	assert.Equal(t, 3, mls.LineString(1).NumCoords())
}

func TestToGeom_PolyLineDropsDegenerateParts(t *testing.T) {
	pl := &shp.PolyLine{
		NumParts: 2,
		Parts:    []int32{0, 1},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}},
	}
	mls := toGeom(pl, 4326).(*geom.MultiLineString)
	assert.Equal(t, 1, mls.NumLineStrings())

	single := &shp.PolyLine{NumParts: 1, Parts: []int32{0}, Points: []shp.Point{{X: 0, Y: 0}}}
	assert.Nil(t, toGeom(single, 4326))
}

func TestToGeom_PolygonHolesJoinTheirShell(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 3,
		Parts:    []int32{0, 5, 10},
		Points: []shp.Point{
			// Shell, clockwise.
			{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0},
			// Second shell, clockwise.
			{X: 20, Y: 0}, {X: 20, Y: 10}, {X: 30, Y: 10}, {X: 30, Y: 0}, {X: 20, Y: 0},
			// Hole in the first shell, counter-clockwise.
			{X: 2, Y: 2}, {X: 8, Y: 2}, {X: 8, Y: 8}, {X: 2, Y: 8}, {X: 2, Y: 2},
		},
	}

	mp, ok := toGeom(poly, 4326).(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())
	assert.Equal(t, 4326, mp.SRID())
}

func TestToGeom_Empty(t *testing.T) {
	assert.Nil(t, toGeom(nil, 4326))
	assert.Nil(t, toGeom(&shp.Null{}, 4326))
	assert.Nil(t, toGeom(&shp.MultiPoint{}, 4326))
	assert.Nil(t, toGeom(&shp.Polygon{}, 4326))
}

func TestEncodeEWKB_CarriesSRID(t *testing.T) {
	b, err := encodeEWKB(&shp.Point{X: 10, Y: 50}, 4326)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())
	assert.Equal(t, []float64{10, 50}, g.FlatCoords())

	b, err = encodeEWKB(&shp.Null{}, 4326)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestSignedArea(t *testing.T) {
	ccw := []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}
	assert.InDelta(t, 1, signedArea(ccw), 1e-12)

	cw := []float64{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}
	assert.InDelta(t, -1, signedArea(cw), 1e-12)
}

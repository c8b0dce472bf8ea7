package analysis

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

// run is one connected vertex sequence of a geometry. A run with a single
// vertex is an isolated point.
type run struct {
	layout geom.Layout
	coords []float64
}

// area is a polygon whose interior belongs to the buffer. rings[0] is the
// shell and the rest are holes.
type area struct {
	layout geom.Layout
	rings  [][]float64
}

// Buffer is the set of planar positions within Radius of one line geometry.
// Membership is tested exactly against the source geometry. The exported
// polygon is rendered by PostGIS and is not consulted here.
type Buffer struct {
	Index  int
	Radius float64

	runs   []run
	areas  []area
	bounds *geom.Bounds
}

// NewBuffer builds the buffer of one geometry. A nil or empty geometry gives
// a buffer that contains nothing.
func NewBuffer(index int, g geom.T, radius float64) *Buffer {
	b := &Buffer{Index: index, Radius: radius}
	if g == nil || g.Empty() {
		return b
	}
	b.runs = runsOf(g)
	b.areas = areasOf(g)

	bounds := g.Bounds()
	if !bounds.IsEmpty() {
		bounds.Set(
			bounds.Min(0)-radius, bounds.Min(1)-radius,
			bounds.Max(0)+radius, bounds.Max(1)+radius,
		)
		b.bounds = bounds
	}
	return b
}

// NewBuffers builds one buffer per feature, in feature order.
func NewBuffers(lines *geospatial.Collection, radius float64) []*Buffer {
	out := make([]*Buffer, lines.Len())
	for i, f := range lines.Features {
		out[i] = NewBuffer(i, f.Geometry, radius)
	}
	return out
}

// Empty reports whether the buffer has no source geometry.
func (b *Buffer) Empty() bool {
	return b.bounds == nil
}

// ContainsXY reports whether the planar distance from (x, y) to the source
// geometry is at most Radius.
func (b *Buffer) ContainsXY(x, y float64) bool {
	if b.bounds == nil {
		return false
	}
	if x < b.bounds.Min(0) || x > b.bounds.Max(0) || y < b.bounds.Min(1) || y > b.bounds.Max(1) {
		return false
	}
	p := geom.Coord{x, y}
	for _, r := range b.runs {
		if xy.DistanceFromPointToLineString(r.layout, p, r.coords) <= b.Radius {
			return true
		}
	}
	for _, a := range b.areas {
		if a.contains(p) {
			return true
		}
	}
	return false
}

// Contains reports whether every vertex of g lies inside the buffer. A nil or
// empty geometry is never contained.
func (b *Buffer) Contains(g geom.T) bool {
	if g == nil || g.Empty() {
		return false
	}
	flat := vertices(g)
	for i := 0; i+1 < len(flat); i += 2 {
		if !b.ContainsXY(flat[i], flat[i+1]) {
			return false
		}
	}
	return true
}

func (a area) contains(p geom.Coord) bool {
	if len(a.rings) == 0 || !xy.IsPointInRing(a.layout, p, a.rings[0]) {
		return false
	}
	for _, hole := range a.rings[1:] {
		if xy.LocatePointInRing(a.layout, p, hole) == location.Interior {
			return false
		}
	}
	return true
}

// runsOf splits a geometry into its vertex sequences. Polygon rings are
// included so that distance to a polygon boundary is measured.
func runsOf(g geom.T) []run {
	switch t := g.(type) {
	case *geom.GeometryCollection:
		var out []run
		for _, child := range t.Geoms() {
			if child != nil && !child.Empty() {
				out = append(out, runsOf(child)...)
			}
		}
		return out
	case *geom.Point, *geom.LineString, *geom.LinearRing:
		return []run{{layout: g.Layout(), coords: g.FlatCoords()}}
	case *geom.MultiPoint:
		var out []run
		flat, stride := t.FlatCoords(), t.Stride()
		for i := 0; i+stride <= len(flat); i += stride {
			out = append(out, run{layout: t.Layout(), coords: flat[i : i+stride]})
		}
		return out
	}

	flat := g.FlatCoords()
	var out []run
	start := 0
	emit := func(ends []int) {
		for _, end := range ends {
			if end > start {
				out = append(out, run{layout: g.Layout(), coords: flat[start:end]})
			}
			start = end
		}
	}
	if endss := g.Endss(); endss != nil {
		for _, ends := range endss {
			emit(ends)
		}
		return out
	}
	emit(g.Ends())
	return out
}

// vertices returns the XY coordinates of every vertex of g, flattened.
func vertices(g geom.T) []float64 {
	if _, ok := g.(*geom.GeometryCollection); !ok && g.Stride() == 2 {
		return g.FlatCoords()
	}
	var out []float64
	for _, r := range runsOf(g) {
		out = append(out, xyOnly(r.coords, r.layout.Stride())...)
	}
	return out
}

func areasOf(g geom.T) []area {
	switch t := g.(type) {
	case *geom.Polygon:
		return []area{polygonArea(t.Layout(), t.FlatCoords(), t.Ends())}
	case *geom.MultiPolygon:
		var out []area
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if !p.Empty() {
				out = append(out, polygonArea(p.Layout(), p.FlatCoords(), p.Ends()))
			}
		}
		return out
	case *geom.GeometryCollection:
		var out []area
		for _, child := range t.Geoms() {
			if child != nil && !child.Empty() {
				out = append(out, areasOf(child)...)
			}
		}
		return out
	}
	return nil
}

func polygonArea(layout geom.Layout, flat []float64, ends []int) area {
	a := area{layout: layout}
	start := 0
	for _, end := range ends {
		a.rings = append(a.rings, flat[start:end])
		start = end
	}
	return a
}

// UnionBuffer is the union of a set of buffers. A geometry is inside when
// each of its vertices is inside at least one member.
type UnionBuffer []*Buffer

// ContainsXY reports whether any member contains (x, y).
func (u UnionBuffer) ContainsXY(x, y float64) bool {
	for _, b := range u {
		if b.ContainsXY(x, y) {
			return true
		}
	}
	return false
}

// Contains reports whether every vertex of g is inside the union.
func (u UnionBuffer) Contains(g geom.T) bool {
	if g == nil || g.Empty() {
		return false
	}
	flat := vertices(g)
	for i := 0; i+1 < len(flat); i += 2 {
		if !u.ContainsXY(flat[i], flat[i+1]) {
			return false
		}
	}
	return true
}

// Membership records which points fall inside the union and inside each
// line's buffer, as ascending point indices.
type Membership struct {
	InUnion []int
	ByLine  [][]int
}

// Join tests every point against every buffer. A point may belong to
// several lines and is counted once in the union.
func Join(ctx context.Context, buffers []*Buffer, points *geospatial.Collection) (*Membership, error) {
	m := &Membership{
		InUnion: []int{},
		ByLine:  make([][]int, len(buffers)),
	}
	for i := range m.ByLine {
		m.ByLine[i] = []int{}
	}

	var covered []bool
	for pi := 0; pi < points.Len(); pi++ {
		if pi%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "analysis: join")
			}
		}
		g := points.Features[pi].Geometry
		if g == nil || g.Empty() {
			continue
		}
		flat := vertices(g)
		nv := len(flat) / 2
		if cap(covered) < nv {
			covered = make([]bool, nv)
		}
		covered = covered[:nv]
		clear(covered)

		for bi, b := range buffers {
			all := true
			for v := 0; v < nv; v++ {
				if b.ContainsXY(flat[2*v], flat[2*v+1]) {
					covered[v] = true
				} else {
					all = false
				}
			}
			if all {
				m.ByLine[bi] = append(m.ByLine[bi], pi)
			}
		}
		inUnion := true
		for _, c := range covered {
			if !c {
				inUnion = false
				break
			}
		}
		if inUnion {
			m.InUnion = append(m.InUnion, pi)
		}
	}
	return m, nil
}

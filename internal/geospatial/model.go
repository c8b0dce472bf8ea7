package geospatial

import (
	"github.com/twpayne/go-geom"
)

// GeometryColumn locates the geometry column of a spatial table as registered
// in PostGIS's geometry_columns view.
type GeometryColumn struct {
	Schema string
	Table  string
	Column string
	Type   string
	SRID   int
}

// Attribute is one named, non-geometry value of a feature.
type Attribute struct {
	Name  string
	Value any
}

// Feature is a table record: its attributes in column order and one geometry.
// Geometry is nil when the record's geometry is NULL.
type Feature struct {
	Attributes []Attribute
	Geometry   geom.T
}

// Attr returns the value of the named attribute. Names are matched exactly.
func (f *Feature) Attr(name string) (any, bool) {
	for _, a := range f.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Collection is an ordered, fully materialized set of features read from one
// table, sharing a coordinate reference system.
type Collection struct {
	Name           string
	GeometryColumn string
	GeometryType   string
	Columns        []string
	CRS            CRS
	Features       []Feature
}

// Len returns the number of features.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

// Subset returns a collection holding the features at idx, sharing geometry
// and attribute values with c.
func (c *Collection) Subset(idx []int) *Collection {
	out := &Collection{
		Name:           c.Name,
		GeometryColumn: c.GeometryColumn,
		GeometryType:   c.GeometryType,
		Columns:        c.Columns,
		CRS:            c.CRS,
		Features:       make([]Feature, 0, len(idx)),
	}
	for _, i := range idx {
		out.Features = append(out.Features, c.Features[i])
	}
	return out
}

package geospatial

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// ErrNoProjection is returned when coordinates must be converted between
// systems that cannot be described to PostGIS.
var ErrNoProjection = eris.New("geospatial: coordinate system cannot be converted")

// BufferQuadSegs is the number of segments PostGIS uses to approximate a
// quarter circle when rendering a buffer polygon.
const BufferQuadSegs = 8

// geometryBatch bounds the geometries sent in one statement.
const geometryBatch = 5000

// Transformer converts geometries between coordinate systems.
type Transformer interface {
	Transform(ctx context.Context, gs []geom.T, from, to CRS) ([]geom.T, error)
}

// Reproject returns a copy of c with every geometry converted into dst.
// Attributes are shared with c. An empty collection only changes its CRS.
func Reproject(ctx context.Context, t Transformer, c *Collection, dst CRS) (*Collection, error) {
	if c.CRS.Equal(dst) {
		return c, nil
	}
	out := *c
	out.CRS = dst
	out.Features = make([]Feature, len(c.Features))
	if len(c.Features) == 0 {
		return &out, nil
	}

	gs := make([]geom.T, len(c.Features))
	for i, f := range c.Features {
		gs[i] = f.Geometry
	}
	converted, err := t.Transform(ctx, gs, c.CRS, dst)
	if err != nil {
		return nil, eris.Wrapf(err, "geospatial: reproject %s", c.Name)
	}
	if len(converted) != len(gs) {
		return nil, eris.Errorf("geospatial: reproject %s: got %d geometries for %d", c.Name, len(converted), len(gs))
	}
	for i, f := range c.Features {
		out.Features[i] = Feature{Attributes: f.Attributes, Geometry: converted[i]}
	}
	return &out, nil
}

// Transform converts geometries from one CRS into another with ST_Transform.
// Results keep input order and nil geometries stay nil.
func (s *PostgresStore) Transform(ctx context.Context, gs []geom.T, from, to CRS) ([]geom.T, error) {
	if from.Equal(to) {
		return gs, nil
	}
	expr, args, err := transformSQL("ST_GeomFromEWKB(u.g)", from, to, nil)
	if err != nil {
		return nil, err
	}
	return s.mapGeometries(ctx, "transform", expr, args, gs, to.SRID)
}

// Buffer returns, for each geometry in native, the polygon of every position
// within radius of it. The buffer is built with ST_Buffer in working, whose
// units radius is expressed in, and converted back into native. Each result
// is one dissolved MultiPolygon.
func (s *PostgresStore) Buffer(ctx context.Context, gs []geom.T, radius float64, native, working CRS) ([]geom.T, error) {
	var (
		expr = "ST_GeomFromEWKB(u.g)"
		args []any
		err  error
	)
	same := native.Equal(working)
	if same {
		expr = "ST_SetSRID(" + expr + ", " + placeholder(&args, native.SRID) + "::int)"
	} else if expr, args, err = transformSQL(expr, native, working, args); err != nil {
		return nil, err
	}
	expr = fmt.Sprintf("ST_Buffer(%s, %s::float8, 'quad_segs=%d')", expr, placeholder(&args, radius), BufferQuadSegs)
	if !same {
		if expr, args, err = transformSQL(expr, working, native, args); err != nil {
			return nil, err
		}
	}
	return s.mapGeometries(ctx, "buffer", "ST_Multi("+expr+")", args, gs, native.SRID)
}

// transformSQL wraps the geometry expression g in the ST_Transform form that
// fits from and to. Registered systems are addressed by SRID and the others
// by their definition text.
func transformSQL(g string, from, to CRS, args []any) (string, []any, error) {
	if !from.Known() || !to.Known() {
		return "", nil, eris.Wrapf(ErrNoProjection, "%s to %s", from, to)
	}
	src, dst := from.Registered && from.SRID != 0, to.Registered && to.SRID != 0
	if (!src && from.Definition() == "") || (!dst && to.Definition() == "") {
		return "", nil, eris.Wrapf(ErrNoProjection, "%s to %s", from, to)
	}

	var expr string
	switch {
	case src && dst:
		expr = fmt.Sprintf("ST_Transform(ST_SetSRID(%s, %s::int), %s::int)",
			g, placeholder(&args, from.SRID), placeholder(&args, to.SRID))
	case src:
		expr = fmt.Sprintf("ST_Transform(ST_SetSRID(%s, %s::int), %s::text)",
			g, placeholder(&args, from.SRID), placeholder(&args, to.Definition()))
	case dst:
		expr = fmt.Sprintf("ST_Transform(%s, %s::text, %s::int)",
			g, placeholder(&args, from.Definition()), placeholder(&args, to.SRID))
	default:
		expr = fmt.Sprintf("ST_Transform(%s, %s::text, %s::text)",
			g, placeholder(&args, from.Definition()), placeholder(&args, to.Definition()))
	}
	return expr, args, nil
}

func placeholder(args *[]any, v any) string {
	*args = append(*args, v)
	return fmt.Sprintf("$%d", len(*args))
}

// mapGeometries evaluates expr, written over the EWKB column u.g, for every
// geometry in batches. Output geometries carry srid.
func (s *PostgresStore) mapGeometries(ctx context.Context, op, expr string, args []any, gs []geom.T, srid int) ([]geom.T, error) {
	out := make([]geom.T, 0, len(gs))
	for start := 0; start < len(gs); start += geometryBatch {
		end := min(start+geometryBatch, len(gs))

		blobs := make([][]byte, end-start)
		for i, g := range gs[start:end] {
			if g == nil {
				continue
			}
			b, err := ewkb.Marshal(g, ewkb.NDR)
			if err != nil {
				return nil, eris.Wrapf(err, "geospatial: %s: encode geometry %d", op, start+i)
			}
			blobs[i] = b
		}

		batchArgs := append(append([]any{}, args...), blobs)
		sql := fmt.Sprintf(
			`SELECT ST_AsEWKB(ST_SetSRID(%s, %d)) FROM unnest($%d::bytea[]) WITH ORDINALITY AS u(g, i) ORDER BY u.i`,
			expr, srid, len(batchArgs),
		)
		rows, err := s.pool.Query(ctx, sql, batchArgs...)
		if err != nil {
			return nil, eris.Wrapf(err, "geospatial: %s", op)
		}
		for rows.Next() {
			var b []byte
			if err := rows.Scan(&b); err != nil {
				rows.Close()
				return nil, eris.Wrapf(err, "geospatial: %s: scan", op)
			}
			var g geom.T
			if len(b) > 0 {
				if g, err = ewkb.Unmarshal(b); err != nil {
					rows.Close()
					return nil, eris.Wrapf(err, "geospatial: %s: decode geometry %d", op, len(out))
				}
			}
			out = append(out, g)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrapf(err, "geospatial: %s", op)
		}
	}
	if len(out) != len(gs) {
		return nil, eris.Errorf("geospatial: %s: got %d geometries for %d", op, len(out), len(gs))
	}
	s.log.Debug("geometries mapped", zap.String("op", op), zap.Int("geometries", len(gs)))
	return out, nil
}

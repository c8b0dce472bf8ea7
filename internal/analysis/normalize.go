package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

// Normalized holds both collections in a shared metric working CRS.
type Normalized struct {
	Lines  *geospatial.Collection
	Points *geospatial.Collection

	// LinesOriginal and PointsOriginal are both expressed in the lines' CRS.
	LinesOriginal  *geospatial.Collection
	PointsOriginal *geospatial.Collection

	// Original is the lines' CRS; exports are written in it.
	Original geospatial.CRS

	// Working is the CRS of Lines and Points.
	Working geospatial.CRS

	// Radius is the buffer distance in Working's linear units.
	Radius float64
}

// Normalize reprojects points into the lines' CRS and, when that CRS is
// geographic, both collections into the UTM zone of the lines' centroid.
// Coordinates are converted by t. bufferMeters is converted into the working
// CRS's units.
func Normalize(ctx context.Context, t geospatial.Transformer, lines, points *geospatial.Collection, bufferMeters float64) (*Normalized, error) {
	if lines.Len() == 0 {
		return nil, eris.Wrapf(ErrEmptyInput, "line table %q has no rows", lines.Name)
	}
	original := lines.CRS
	if !original.Known() {
		return nil, eris.Wrapf(ErrCRSUnresolvable, "line table %q has no SRID", lines.Name)
	}

	// An empty point table may be an untyped column with no SRID at all.
	pts, err := geospatial.Reproject(ctx, t, points, original)
	if err != nil {
		return nil, crsError(err)
	}

	out := &Normalized{
		Lines:          lines,
		Points:         pts,
		LinesOriginal:  lines,
		PointsOriginal: pts,
		Original:       original,
		Working:        original,
	}

	if !original.Geographic {
		toMeter := original.ToMeter
		if toMeter <= 0 {
			toMeter = 1
		}
		out.Radius = bufferMeters / toMeter
		return out, nil
	}

	lon, lat, err := centroid(lines)
	if err != nil {
		return nil, err
	}
	working, err := utm(ctx, t, original, lon, lat)
	if err != nil {
		return nil, err
	}

	if out.Lines, err = geospatial.Reproject(ctx, t, lines, working); err != nil {
		return nil, crsError(err)
	}
	if out.Points, err = geospatial.Reproject(ctx, t, pts, working); err != nil {
		return nil, crsError(err)
	}
	out.Working = working
	out.Radius = bufferMeters
	return out, nil
}

// UTMZone returns the 6 degree UTM zone containing longitude lon.
func UTMZone(lon float64) int {
	return min(max(int(math.Floor((lon+180)/6))+1, 1), 60)
}

// utm picks the UTM CRS whose zone contains (lon, lat). The EPSG code is
// tried first by converting the centroid into it; when the database cannot
// resolve the code the zone's proj4 definition is used instead.
func utm(ctx context.Context, t geospatial.Transformer, original geospatial.CRS, lon, lat float64) (geospatial.CRS, error) {
	zone := UTMZone(lon)
	north := lat >= 0
	code := 32600 + zone
	if !north {
		code = 32700 + zone
	}

	byCode := geospatial.CRS{SRID: code, AuthName: "EPSG", AuthCode: code, Registered: true, ToMeter: 1}
	sample := []geom.T{geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(original.SRID)}
	_, err := t.Transform(ctx, sample, original, byCode)
	if err == nil {
		return byCode, nil
	}
	if !isCRSError(err) {
		return geospatial.CRS{}, eris.Wrapf(err, "analysis: utm zone %d", zone)
	}
	zap.L().Debug("utm code unavailable, using definition",
		zap.String("component", "analysis"),
		zap.Int("epsg", code),
		zap.Error(err),
	)

	def := fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", zone)
	if !north {
		def = fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", zone)
	}
	return geospatial.DefinitionCRS(def), nil
}

// isCRSError reports whether err means a coordinate system could not be
// used, as opposed to the database being unreachable. PostGIS reports
// unknown SRIDs and failed projections as data exceptions (class 22) or
// internal errors (XX000).
func isCRSError(err error) bool {
	if eris.Is(err, geospatial.ErrNoProjection) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "XX000" || strings.HasPrefix(pgErr.Code, "22")
}

// crsError classifies a conversion failure. Rejected coordinate systems
// become ErrCRSUnresolvable; anything else is returned unchanged.
func crsError(err error) error {
	if isCRSError(err) {
		return eris.Wrap(ErrCRSUnresolvable, err.Error())
	}
	return err
}

// centroid returns the length-weighted centroid of every linear component of
// the collection. Collections with no length fall back to the mean vertex.
func centroid(c *geospatial.Collection) (float64, float64, error) {
	calc := xy.NewLineCentroidCalculator(geom.XY)
	var length, sumX, sumY float64
	var n int
	for _, f := range c.Features {
		if f.Geometry == nil || f.Geometry.Empty() {
			continue
		}
		for _, run := range runsOf(f.Geometry) {
			stride := run.layout.Stride()
			for i := 0; i+1 < len(run.coords); i += stride {
				sumX += run.coords[i]
				sumY += run.coords[i+1]
				n++
			}
			if len(run.coords) < 2*stride {
				continue
			}
			ls := geom.NewLineStringFlat(geom.XY, xyOnly(run.coords, stride))
			length += ls.Length()
			calc.AddLine(ls)
		}
	}
	if n == 0 {
		return 0, 0, eris.Wrapf(ErrEmptyInput, "line table %q has no geometries", c.Name)
	}
	if length > 0 {
		cent := calc.GetCentroid()
		if !math.IsNaN(cent[0]) && !math.IsNaN(cent[1]) {
			return cent[0], cent[1], nil
		}
	}
	return sumX / float64(n), sumY / float64(n), nil
}

func xyOnly(flat []float64, stride int) []float64 {
	if stride == 2 {
		return flat
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

// Package analysis finds the points that lie within a fixed distance of a set
// of lines and tabulates them by a category attribute.
package analysis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

// Source reads spatial tables and runs the coordinate work the database
// does for an analysis.
type Source interface {
	ResolveGeometryColumns(ctx context.Context, tables ...string) (map[string]geospatial.GeometryColumn, error)
	ReadCollection(ctx context.Context, gc geospatial.GeometryColumn) (*geospatial.Collection, error)
	geospatial.Transformer

	// Buffer renders the dissolved buffer polygon of each geometry. radius is
	// in working's units; results are in native.
	Buffer(ctx context.Context, gs []geom.T, radius float64, native, working geospatial.CRS) ([]geom.T, error)
}

// Artifacts is everything an exporter writes, in the lines' original CRS.
type Artifacts struct {
	Lines          *geospatial.Collection
	Points         *geospatial.Collection
	PointsInBuffer *geospatial.Collection
	Buffers        *geospatial.Collection
	BufferSize     float64
}

// Files names the written artifacts relative to the staging directory.
type Files struct {
	CSV  string `json:"csv_download" yaml:"csv_download"`
	GPKG string `json:"gpkg_download" yaml:"gpkg_download"`
}

// Exporter persists the artifacts of one analysis.
type Exporter interface {
	Export(ctx context.Context, a *Artifacts) (Files, error)
}

// Recorder observes finished analyses.
type Recorder interface {
	AnalysisFinished(outcome string, elapsed time.Duration, pointsEvaluated int)
}

// Report is a result plus the names of its downloadable files.
type Report struct {
	Result `yaml:",inline"`
	Files  `yaml:",inline"`
}

// Analyzer runs buffer analyses. The zero value of optional fields is usable:
// a nil Exporter skips export and a nil Recorder records nothing.
type Analyzer struct {
	Source     Source
	Exporter   Exporter
	Recorder   Recorder

	// Timeout bounds a single analysis; zero means no limit.
	Timeout time.Duration

	// Defaults for requests that leave them unset.
	DefaultBufferSize float64
	DefaultTierColumn string
}

// Analyze resolves both tables, normalizes their CRS, joins points to line
// buffers, aggregates tier counts and exports the artifacts.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	evaluated := 0
	report, err := a.analyze(ctx, req, &evaluated)
	if a.Recorder != nil {
		a.Recorder.AnalysisFinished(Outcome(err), time.Since(start), evaluated)
	}
	return report, err
}

func (a *Analyzer) analyze(ctx context.Context, req Request, evaluated *int) (*Report, error) {
	req = req.WithDefaults(a.DefaultBufferSize, a.DefaultTierColumn)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	log := zap.L().With(
		zap.String("component", "analysis"),
		zap.String("line_table", req.LineTable),
		zap.String("point_table", req.PointTable),
		zap.Float64("buffer_size", req.BufferSize),
	)

	cols, err := a.Source.ResolveGeometryColumns(ctx, req.LineTable, req.PointTable)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: resolve geometry columns")
	}

	lines, err := a.Source.ReadCollection(ctx, cols[req.LineTable])
	if err != nil {
		return nil, eris.Wrap(err, "analysis: read lines")
	}
	if lines.Len() == 0 {
		return nil, eris.Wrapf(ErrEmptyInput, "line table %q has no rows", req.LineTable)
	}
	points, err := a.Source.ReadCollection(ctx, cols[req.PointTable])
	if err != nil {
		return nil, eris.Wrap(err, "analysis: read points")
	}
	*evaluated = points.Len()
	log.Debug("tables loaded",
		zap.Int("lines", lines.Len()),
		zap.Int("points", points.Len()),
		zap.Stringer("line_crs", lines.CRS),
		zap.Stringer("point_crs", points.CRS),
	)

	norm, err := Normalize(ctx, a.Source, lines, points, req.BufferSize)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: normalize crs")
	}
	log.Debug("crs normalized",
		zap.Stringer("working_crs", norm.Working),
		zap.Float64("radius", norm.Radius),
	)

	buffers := NewBuffers(norm.Lines, norm.Radius)
	membership, err := Join(ctx, buffers, norm.Points)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Result: Aggregate(norm.Lines, norm.Points, membership, req.BufferSize, req.TierColumn),
	}

	if a.Exporter != nil {
		artifacts, err := a.buildArtifacts(ctx, norm, membership, req.BufferSize)
		if err != nil {
			return nil, err
		}
		files, err := a.Exporter.Export(ctx, artifacts)
		if err != nil {
			return nil, eris.Wrap(err, "analysis: export")
		}
		report.Files = files
	}

	log.Info("analysis complete",
		zap.Int("points_in_buffer", report.TotalPointsInBuffer),
		zap.Int("total_points", report.TotalPoints),
		zap.Int("lines_with_points", len(report.ResultsByLine)),
		zap.String("tier_column", report.TierColumn),
	)
	return report, nil
}

// buildArtifacts expresses buffers and points in the lines' original CRS.
// Buffer polygons are rendered by the Source, one per line.
func (a *Analyzer) buildArtifacts(ctx context.Context, norm *Normalized, m *Membership, bufferSize float64) (*Artifacts, error) {
	lines := norm.LinesOriginal
	gs := make([]geom.T, lines.Len())
	for i, f := range lines.Features {
		gs[i] = f.Geometry
	}
	rendered, err := a.Source.Buffer(ctx, gs, norm.Radius, norm.Original, norm.Working)
	if err != nil {
		return nil, eris.Wrap(crsError(err), "analysis: render buffers")
	}
	if len(rendered) != len(gs) {
		return nil, eris.Errorf("analysis: render buffers: got %d polygons for %d lines", len(rendered), len(gs))
	}

	polys := &geospatial.Collection{
		Name:           "buffers",
		GeometryColumn: "geom",
		GeometryType:   "MULTIPOLYGON",
		Columns:        []string{"buffer_m"},
		CRS:            norm.Original,
		Features:       make([]geospatial.Feature, len(rendered)),
	}
	for i, g := range rendered {
		if g == nil {
			g = geom.NewMultiPolygon(geom.XY).SetSRID(norm.Original.SRID)
		}
		polys.Features[i] = geospatial.Feature{
			Attributes: []geospatial.Attribute{{Name: "buffer_m", Value: bufferSize}},
			Geometry:   g,
		}
	}

	return &Artifacts{
		Lines:          lines,
		Points:         norm.PointsOriginal,
		PointsInBuffer: norm.PointsOriginal.Subset(m.InUnion),
		Buffers:        polys,
		BufferSize:     bufferSize,
	}, nil
}

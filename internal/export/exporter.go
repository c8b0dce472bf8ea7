// Package export writes analysis artifacts into the staging directory and
// serves them back for download.
package export

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobuffer/internal/analysis"
	"github.com/sells-group/geobuffer/internal/geospatial"
)

// Layer names written into every GeoPackage, in order.
const (
	LayerOriginalLines  = "original_lines"
	LayerAllPoints      = "all_points"
	LayerPointsInBuffer = "points_in_buffer"
	LayerBuffers        = "buffers"
)

// Content types for downloads.
const (
	ContentTypeGPKG = "application/geopackage+sqlite3"
	ContentTypeCSV  = "text/csv"
)

// Exporter writes the CSV and GeoPackage artifacts of an analysis into Dir.
type Exporter struct {
	Dir string

	now    func() time.Time
	suffix func() string
}

// NewExporter returns an exporter writing into dir.
func NewExporter(dir string) *Exporter {
	return &Exporter{
		Dir:    dir,
		now:    time.Now,
		suffix: func() string { return uuid.NewString()[:8] },
	}
}

// Export writes points_<ts>_<suffix>.csv and analysis_<ts>_<suffix>.gpkg and
// returns their names. Partially written files are removed on failure.
func (e *Exporter) Export(ctx context.Context, a *analysis.Artifacts) (analysis.Files, error) {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return analysis.Files{}, eris.Wrap(analysis.ErrExportWrite, err.Error())
	}

	stamp := e.now().Format("20060102_150405")
	suffix := e.suffix()
	files := analysis.Files{
		CSV:  "points_" + stamp + "_" + suffix + ".csv",
		GPKG: "analysis_" + stamp + "_" + suffix + ".gpkg",
	}

	if err := e.writeCSV(filepath.Join(e.Dir, files.CSV), a); err != nil {
		return analysis.Files{}, err
	}
	if err := e.writeGeoPackage(ctx, filepath.Join(e.Dir, files.GPKG), a); err != nil {
		_ = os.Remove(filepath.Join(e.Dir, files.CSV))
		return analysis.Files{}, err
	}

	zap.L().Info("artifacts exported",
		zap.String("component", "export"),
		zap.String("csv", files.CSV),
		zap.String("gpkg", files.GPKG),
		zap.Int("points_in_buffer", a.PointsInBuffer.Len()),
	)
	return files, nil
}

func (e *Exporter) writeCSV(path string, a *analysis.Artifacts) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(analysis.ErrExportWrite, err.Error())
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrap(analysis.ErrExportWrite, cerr.Error())
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if err := WriteCSV(f, a.PointsInBuffer); err != nil {
		return eris.Wrap(analysis.ErrExportWrite, err.Error())
	}
	return nil
}

func (e *Exporter) writeGeoPackage(ctx context.Context, path string, a *analysis.Artifacts) (err error) {
	gp, err := CreateGeoPackage(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return eris.Wrap(analysis.ErrExportWrite, err.Error())
	}
	defer func() {
		if cerr := gp.Close(); err == nil && cerr != nil {
			err = eris.Wrap(analysis.ErrExportWrite, cerr.Error())
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	layers := []struct {
		name string
		c    *geospatial.Collection
	}{
		{LayerOriginalLines, a.Lines},
		{LayerAllPoints, a.Points},
		{LayerPointsInBuffer, a.PointsInBuffer},
		{LayerBuffers, a.Buffers},
	}
	for _, l := range layers {
		if err := gp.WriteLayer(ctx, l.name, l.c); err != nil {
			return eris.Wrap(analysis.ErrExportWrite, err.Error())
		}
	}
	return nil
}

// Open opens a staged artifact by bare file name. Names containing a path
// element or naming anything but a regular file yield analysis.ErrNotFound.
func (e *Exporter) Open(name string) (*os.File, string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, "", eris.Wrap(analysis.ErrNotFound, name)
	}
	path := filepath.Join(e.Dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return nil, "", eris.Wrap(analysis.ErrNotFound, name)
	}
	if err != nil {
		return nil, "", eris.Wrapf(err, "export: stat %s", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "export: open %s", name)
	}
	return f, ContentType(name), nil
}

// ContentType returns the download content type for an artifact name.
func ContentType(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".gpkg") {
		return ContentTypeGPKG
	}
	return ContentTypeCSV
}

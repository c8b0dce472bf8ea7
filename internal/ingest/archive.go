package ingest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// extractShapefile unpacks a zipped shapefile into dir and returns the path
// of its .shp member. Directory structure inside the archive is flattened.
func extractShapefile(zipPath, dir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: open zip %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	var shpPath string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if strings.HasPrefix(name, ".") || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		dest := filepath.Join(dir, name)
		if err := extractFile(f, dest); err != nil {
			return "", err
		}
		if strings.EqualFold(filepath.Ext(name), ".shp") && shpPath == "" {
			shpPath = dest
		}
	}
	if shpPath == "" {
		return "", eris.Errorf("ingest: no .shp file in %s", zipPath)
	}
	return shpPath, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "ingest: open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "ingest: create %s", dest)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "ingest: extract %s", f.Name)
	}
	return eris.Wrapf(out.Close(), "ingest: close %s", dest)
}

package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geobuffer/internal/fetch"
	"github.com/sells-group/geobuffer/internal/ingest"
)

var (
	loadTable   string
	loadSRID    int
	loadReplace bool
	loadBatch   int
)

var loadCmd = &cobra.Command{
	Use:   "load <file.shp|file.zip|url>",
	Short: "Import a shapefile into a PostGIS table",
	Long:  "Imports a shapefile, a zipped shapefile, or a zipped shapefile at an http(s) or ftp URL into a new PostGIS table with a gid key and an indexed geom column.",
	Example: `  geobuffer load data/roads.shp --replace
  geobuffer load https://www2.census.gov/geo/tiger/TIGER2024/PRISECROADS/tl_2024_06_prisecroads.zip --table roads`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx, cfg, "load")
		if err != nil {
			return err
		}
		defer pool.Close()

		path, cleanup, err := localShapefile(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := ingest.Load(ctx, pool, ingest.Options{
			Path:      path,
			Schema:    cfg.Analysis.Schema,
			Table:     loadTable,
			SRID:      loadSRID,
			Replace:   loadReplace,
			BatchSize: loadBatch,
		})
		if err != nil {
			return err
		}

		zap.L().Info("load complete",
			zap.String("table", sum.Schema+"."+sum.Table),
			zap.String("geometry_type", sum.GeometryType),
			zap.Int64("rows", sum.Rows),
			zap.Int("skipped", sum.Skipped),
		)
		return nil
	},
}

func init() {
	f := loadCmd.Flags()
	f.StringVar(&loadTable, "table", "", "target table (default: the file name)")
	f.IntVar(&loadSRID, "srid", 4326, "SRID of the shapefile coordinates")
	f.BoolVar(&loadReplace, "replace", false, "drop the table first if it exists")
	f.IntVar(&loadBatch, "batch-size", 0, "rows per COPY batch (default 5000)")
	rootCmd.AddCommand(loadCmd)
}

// localShapefile returns a local path for arg, downloading it first when it
// is a URL. cleanup removes anything downloaded.
func localShapefile(ctx context.Context, arg string) (string, func(), error) {
	if !fetch.IsRemote(arg) {
		return arg, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "geobuffer-download-")
	if err != nil {
		return "", nil, eris.Wrap(err, "create download dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	f, err := fetch.ForURL(arg, fetch.Options{})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	path, _, err := fetch.ToFile(ctx, f, arg, dir)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

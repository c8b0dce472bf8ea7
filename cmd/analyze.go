package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geobuffer/internal/analysis"
	"github.com/sells-group/geobuffer/internal/export"
	"github.com/sells-group/geobuffer/internal/geospatial"
)

var (
	analyzeLines    string
	analyzePoints   string
	analyzeBuffer   float64
	analyzeTier     string
	analyzeFormat   string
	analyzeNoExport bool
	analyzeXLSX     string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one buffer analysis and print the result",
	Example: `  geobuffer analyze --lines roads --points crashes --buffer 50
  geobuffer analyze --lines rivers --points wells --tier class --output yaml --no-export --xlsx wells.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx, cfg, "analyze")
		if err != nil {
			return err
		}
		defer pool.Close()

		a := &analysis.Analyzer{
			Source:            geospatial.NewPostgresStore(pool, cfg.Analysis.Schema),
			Timeout:           cfg.Analysis.Timeout,
			DefaultBufferSize: cfg.Analysis.DefaultBuffer,
			DefaultTierColumn: cfg.Analysis.DefaultTierColumn,
		}
		if !analyzeNoExport {
			if err := cfg.EnsureStagingDir(); err != nil {
				return err
			}
			a.Exporter = export.NewExporter(cfg.Analysis.StagingDir)
		}

		report, err := a.Analyze(ctx, analysis.Request{
			LineTable:  analyzeLines,
			PointTable: analyzePoints,
			BufferSize: analyzeBuffer,
			TierColumn: analyzeTier,
		})
		if err != nil {
			return err
		}
		if analyzeXLSX != "" {
			if err := export.WriteSummaryXLSX(analyzeXLSX, &report.Result); err != nil {
				return err
			}
		}
		return printReport(os.Stdout, report, analyzeFormat)
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeLines, "lines", "", "table holding the line geometries")
	f.StringVar(&analyzePoints, "points", "", "table holding the point geometries")
	f.Float64Var(&analyzeBuffer, "buffer", 0, "buffer distance in metres (default from config)")
	f.StringVar(&analyzeTier, "tier", "", "tier attribute name (default from config)")
	f.StringVarP(&analyzeFormat, "output", "o", "json", "output format: json or yaml")
	f.BoolVar(&analyzeNoExport, "no-export", false, "skip writing CSV and GeoPackage files")
	f.StringVar(&analyzeXLSX, "xlsx", "", "also write a summary workbook to this path")
	_ = analyzeCmd.MarkFlagRequired("lines")
	_ = analyzeCmd.MarkFlagRequired("points")
	rootCmd.AddCommand(analyzeCmd)
}

// printReport writes report to w as indented JSON or YAML.
func printReport(w io.Writer, report *analysis.Report, format string) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(report), "encode json")
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	}
	return eris.Errorf("unknown output format %q (want json or yaml)", format)
}

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the spatial tables of the analysis schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx, cfg, "tables")
		if err != nil {
			return err
		}
		defer pool.Close()

		cols, err := geospatial.NewPostgresStore(pool, cfg.Analysis.Schema).ListTables(ctx)
		if err != nil {
			return eris.Wrap(err, "tables")
		}
		formatTables(os.Stdout, cols)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tablesCmd)
}

// formatTables writes a tabular listing of geometry columns to out.
func formatTables(out io.Writer, cols []geospatial.GeometryColumn) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tCOLUMN\tTYPE\tSRID")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t----")
	for _, c := range cols {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.Table, c.Column, c.Type, c.SRID)
	}
	_ = w.Flush()
}

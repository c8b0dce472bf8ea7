package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

// WriteCSV writes the attribute columns of c, without geometry, as a CSV
// table with a header row.
func WriteCSV(w io.Writer, c *geospatial.Collection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(c.Columns); err != nil {
		return eris.Wrap(err, "csv: write header")
	}

	row := make([]string, len(c.Columns))
	for i, f := range c.Features {
		for j, col := range c.Columns {
			v, _ := f.Attr(col)
			row[j] = geospatial.FormatValue(v)
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "csv: write row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

package analysis

import (
	"golang.org/x/text/cases"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

// TierNotFound is reported as the tier column when the requested attribute
// does not exist on the point table.
const TierNotFound = "(not found)"

// ResolveTierColumn returns the first column whose case-folded name equals
// the folded want, in column order.
func ResolveTierColumn(columns []string, want string) (string, bool) {
	fold := cases.Fold()
	target := fold.String(want)
	for _, c := range columns {
		if fold.String(c) == target {
			return c, true
		}
	}
	return "", false
}

// CountTiers counts the distinct values of column over the features at idx.
// NULL values are skipped; other values are compared by their text form.
func CountTiers(points *geospatial.Collection, idx []int, column string) map[string]int {
	counts := map[string]int{}
	for _, i := range idx {
		v, ok := points.Features[i].Attr(column)
		if !ok || v == nil {
			continue
		}
		counts[geospatial.FormatValue(v)]++
	}
	return counts
}

// LineID identifies a line in results: its gid, else its id, else its
// zero-based position in the table.
func LineID(f geospatial.Feature, index int) any {
	for _, name := range []string{"gid", "id"} {
		v, ok := f.Attr(name)
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		return v
	}
	return index
}

// LineResult is the number of points captured by one line's buffer.
type LineResult struct {
	LineID      any            `json:"line_id" yaml:"line_id"`
	TotalPoints int            `json:"total_points" yaml:"total_points"`
	TierCounts  map[string]int `json:"tier_counts,omitempty" yaml:"tier_counts,omitempty"`
}

// Result summarizes one analysis.
type Result struct {
	TotalPointsInBuffer int            `json:"total_points_in_buffer" yaml:"total_points_in_buffer"`
	TotalPoints         int            `json:"total_points" yaml:"total_points"`
	LineCount           int            `json:"line_count" yaml:"line_count"`
	BufferSize          float64        `json:"buffer_size" yaml:"buffer_size"`
	TierColumn          string         `json:"tier_column" yaml:"tier_column"`
	OverallTierCounts   map[string]int `json:"overall_tier_counts" yaml:"overall_tier_counts"`
	ResultsByLine       []LineResult   `json:"results_by_line" yaml:"results_by_line"`
}

// Aggregate builds the result from a membership. Lines that captured no
// points are omitted from ResultsByLine.
func Aggregate(lines, points *geospatial.Collection, m *Membership, bufferSize float64, tierColumn string) Result {
	res := Result{
		TotalPointsInBuffer: len(m.InUnion),
		TotalPoints:         points.Len(),
		LineCount:           lines.Len(),
		BufferSize:          bufferSize,
		TierColumn:          TierNotFound,
		OverallTierCounts:   map[string]int{},
		ResultsByLine:       []LineResult{},
	}

	column, found := ResolveTierColumn(points.Columns, tierColumn)
	if found {
		res.TierColumn = column
		if len(m.InUnion) > 0 {
			res.OverallTierCounts = CountTiers(points, m.InUnion, column)
		}
	}

	for i, idx := range m.ByLine {
		if len(idx) == 0 {
			continue
		}
		lr := LineResult{
			LineID:      LineID(lines.Features[i], i),
			TotalPoints: len(idx),
		}
		if found {
			lr.TierCounts = CountTiers(points, idx, column)
		}
		res.ResultsByLine = append(res.ResultsByLine, lr)
	}
	return res
}

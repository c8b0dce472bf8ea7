package export

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geobuffer/internal/analysis"
)

// Summary workbook sheet names.
const (
	SheetSummary = "summary"
	SheetTiers   = "tiers"
	SheetByLine  = "by_line"
)

// WriteSummaryXLSX writes the counts of an analysis to a workbook at path:
// the headline numbers, the overall tier counts, and one row per line with a
// column per tier.
func WriteSummaryXLSX(path string, r *analysis.Result) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	addRow(summary, "buffer_size", r.BufferSize)
	addRow(summary, "tier_column", r.TierColumn)
	addRow(summary, "line_count", r.LineCount)
	addRow(summary, "total_points", r.TotalPoints)
	addRow(summary, "total_points_in_buffer", r.TotalPointsInBuffer)

	tiers, err := f.AddSheet(SheetTiers)
	if err != nil {
		return eris.Wrap(err, "export: add tiers sheet")
	}
	addRow(tiers, "tier", "count")
	for _, k := range sortedKeys(r.OverallTierCounts) {
		addRow(tiers, k, r.OverallTierCounts[k])
	}

	byLine, err := f.AddSheet(SheetByLine)
	if err != nil {
		return eris.Wrap(err, "export: add by_line sheet")
	}
	all := map[string]int{}
	for _, lr := range r.ResultsByLine {
		for k := range lr.TierCounts {
			all[k]++
		}
	}
	names := sortedKeys(all)
	header := []any{"line_id", "total_points"}
	for _, n := range names {
		header = append(header, n)
	}
	addRow(byLine, header...)
	for _, lr := range r.ResultsByLine {
		cells := []any{fmt.Sprint(lr.LineID), lr.TotalPoints}
		for _, n := range names {
			cells = append(cells, lr.TierCounts[n])
		}
		addRow(byLine, cells...)
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addRow(s *xlsx.Sheet, values ...any) {
	row := s.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch t := v.(type) {
		case int:
			cell.SetInt(t)
		case float64:
			cell.SetFloat(t)
		case string:
			cell.SetString(t)
		default:
			cell.SetString(fmt.Sprint(t))
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package analysis

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Defaults applied to requests that leave a field unset.
const (
	DefaultBufferSize = 30.0
	DefaultTierColumn = "severity"
)

// Request names the two tables to analyze, the buffer distance in metres and
// the attribute to tabulate.
type Request struct {
	LineTable  string  `json:"line_table" yaml:"line_table"`
	PointTable string  `json:"point_table" yaml:"point_table"`
	BufferSize float64 `json:"buffer_size" yaml:"buffer_size"`
	TierColumn string  `json:"tier_column" yaml:"tier_column"`
}

// WithDefaults fills an unset buffer size and tier column.
func (r Request) WithDefaults(bufferSize float64, tierColumn string) Request {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if tierColumn == "" {
		tierColumn = DefaultTierColumn
	}
	r.LineTable = strings.TrimSpace(r.LineTable)
	r.PointTable = strings.TrimSpace(r.PointTable)
	if r.BufferSize == 0 {
		r.BufferSize = bufferSize
	}
	if r.TierColumn == "" {
		r.TierColumn = tierColumn
	}
	return r
}

// Validate checks that both tables are named and the buffer size is a
// positive finite number.
func (r Request) Validate() error {
	var missing []string
	if r.LineTable == "" {
		missing = append(missing, "line_table")
	}
	if r.PointTable == "" {
		missing = append(missing, "point_table")
	}
	if len(missing) > 0 {
		return eris.Wrap(ErrMissingParameter, strings.Join(missing, ", "))
	}
	if r.BufferSize <= 0 || math.IsNaN(r.BufferSize) || math.IsInf(r.BufferSize, 0) {
		return eris.Wrapf(ErrMissingParameter, "buffer_size must be a positive number, got %v", r.BufferSize)
	}
	return nil
}

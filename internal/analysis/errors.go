package analysis

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

// Error kinds returned by the engine and its collaborators. Callers match
// them with eris.Is.
var (
	ErrMissingParameter = eris.New("missing required parameters")
	ErrGeometryNotFound = geospatial.ErrGeometryNotFound
	ErrEmptyInput       = eris.New("input table is empty")
	ErrCRSUnresolvable  = eris.New("coordinate reference system could not be resolved")
	ErrExportWrite      = eris.New("failed to write export")
	ErrNotFound         = eris.New("File not found")
)

// StatusCode maps an error to the HTTP status used to report it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case eris.Is(err, ErrMissingParameter),
		eris.Is(err, ErrGeometryNotFound),
		eris.Is(err, ErrEmptyInput):
		return http.StatusBadRequest
	case eris.Is(err, ErrCRSUnresolvable):
		return http.StatusUnprocessableEntity
	case eris.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Outcome classifies an error for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case eris.Is(err, ErrMissingParameter), eris.Is(err, ErrGeometryNotFound), eris.Is(err, ErrEmptyInput):
		return "invalid"
	case eris.Is(err, ErrCRSUnresolvable):
		return "crs"
	case eris.Is(err, ErrExportWrite):
		return "export"
	case eris.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

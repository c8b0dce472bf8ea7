package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobuffer/internal/analysis"
	"github.com/sells-group/geobuffer/internal/resilience"
)

const maxBodyBytes = 1 << 20

// TableInfo is one entry of the tables listing.
type TableInfo struct {
	Name     string `json:"name"`
	GeomCol  string `json:"geom_col"`
	GeomType string `json:"geom_type"`
}

// analyzeBody is the JSON body of POST /api/analyze.
type analyzeBody struct {
	LineTable  string      `json:"line_table"`
	PointTable string      `json:"point_table"`
	BufferSize json.Number `json:"buffer_size"`
	TierColumn string      `json:"tier_column"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("health check failed", zap.String("component", "api"), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDatabases(w http.ResponseWriter, _ *http.Request) {
	dbs := []string{}
	if s.cfg.DatabaseName != "" {
		dbs = append(dbs, s.cfg.DatabaseName)
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": dbs})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	cols, err := s.store.ListTables(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tables := make([]TableInfo, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, gc := range cols {
		// ListTables orders by column too, so the first entry is the one
		// an analysis would use.
		if seen[gc.Table] {
			continue
		}
		seen[gc.Table] = true
		tables = append(tables, TableInfo{Name: gc.Table, GeomCol: gc.Column, GeomType: gc.Type})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAnalyze(r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req = req.WithDefaults(s.cfg.DefaultBufferSize, s.cfg.DefaultTierColumn)

	report, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Encode before writing so a report that cannot be represented fails
	// whole instead of yielding a partial success.
	body, err := json.Marshal(analyzeResponse{Success: true, Report: report})
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: encode report"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

// analyzeResponse is the analyze success body: every report field plus
// success.
type analyzeResponse struct {
	Success bool `json:"success"`
	*analysis.Report
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	f, contentType, err := s.downloads.Open(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: stat download"))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(name)+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// decodeAnalyze parses the analyze body. buffer_size may be a JSON number
// or a numeric string; an explicit value must be positive.
func decodeAnalyze(body io.Reader) (analysis.Request, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return analysis.Request{}, eris.Wrap(analysis.ErrMissingParameter, "request body")
	}
	var b analyzeBody
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &b); err != nil {
			// json.Number only takes strings that are valid numbers; decode the
			// field loosely so the error can name it.
			var loose struct {
				analyzeBody
				BufferSize any `json:"buffer_size"`
			}
			if lerr := json.Unmarshal(raw, &loose); lerr != nil {
				return analysis.Request{}, eris.Wrap(analysis.ErrMissingParameter, "invalid JSON body")
			}
			b = loose.analyzeBody
			switch v := loose.BufferSize.(type) {
			case string:
				b.BufferSize = json.Number(strings.TrimSpace(v))
			case nil:
			default:
				return analysis.Request{}, eris.Wrap(analysis.ErrMissingParameter, "buffer_size must be a number")
			}
		}
	}

	req := analysis.Request{
		LineTable:  b.LineTable,
		PointTable: b.PointTable,
		TierColumn: b.TierColumn,
	}
	if b.BufferSize != "" {
		size, err := strconv.ParseFloat(string(b.BufferSize), 64)
		if err != nil {
			return analysis.Request{}, eris.Wrapf(analysis.ErrMissingParameter, "buffer_size %q is not a number", string(b.BufferSize))
		}
		if !(size > 0) {
			return analysis.Request{}, eris.Wrapf(analysis.ErrMissingParameter, "buffer_size must be positive, got %g", size)
		}
		req.BufferSize = size
	}
	return req, nil
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	if eris.Is(err, resilience.ErrCircuitOpen) {
		return http.StatusServiceUnavailable
	}
	return analysis.StatusCode(err)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := zap.L().With(zap.String("component", "api"), zap.String("path", r.URL.Path))
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	msg := err.Error()
	if status == http.StatusNotFound {
		msg = analysis.ErrNotFound.Error()
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

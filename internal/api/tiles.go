package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

const contentTypeMVT = "application/vnd.mapbox-vector-tile"

// handleTile serves GET /api/tiles/{table}/{z}/{x}/{y}.pbf, a vector tile
// of one spatial table for map previews.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	key, ok := tileKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid tile coordinates")
		return
	}

	if s.cfg.TileCache != nil {
		if data, hit := s.cfg.TileCache.Get(key); hit {
			writeTile(w, data, "hit")
			return
		}
	}

	cols, err := s.store.ResolveGeometryColumns(r.Context(), key.Table)
	if eris.Is(err, geospatial.ErrGeometryNotFound) {
		writeError(w, http.StatusNotFound, "unknown table")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	data, err := s.store.Tile(r.Context(), cols[key.Table], key.Z, key.X, key.Y)
	if eris.Is(err, geospatial.ErrNoSRID) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if s.cfg.TileCache != nil {
		s.cfg.TileCache.Put(key, data)
	}
	writeTile(w, data, "miss")
}

func tileKey(r *http.Request) (geospatial.TileKey, bool) {
	key := geospatial.TileKey{Table: chi.URLParam(r, "table")}
	if key.Table == "" {
		return key, false
	}
	y := strings.TrimSuffix(strings.TrimSuffix(chi.URLParam(r, "y"), ".pbf"), ".mvt")

	var err error
	if key.Z, err = strconv.Atoi(chi.URLParam(r, "z")); err != nil {
		return key, false
	}
	if key.X, err = strconv.Atoi(chi.URLParam(r, "x")); err != nil {
		return key, false
	}
	if key.Y, err = strconv.Atoi(y); err != nil {
		return key, false
	}
	return key, geospatial.ValidTile(key.Z, key.X, key.Y)
}

func writeTile(w http.ResponseWriter, data []byte, cache string) {
	w.Header().Set("X-Cache", cache)
	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", contentTypeMVT)
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(data)
}

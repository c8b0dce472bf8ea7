package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jonas-p/go-shp"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRoads writes a two-record polyline shapefile and returns its path.
func writeRoads(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "Roads.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 20),
		shp.NumberField("LANES", 4),
	}))
	lines := []struct {
		name  string
		lanes int
		pts   []shp.Point
	}{
		{"Main St", 2, []shp.Point{{X: 10, Y: 50}, {X: 10.01, Y: 50}}},
		{"High St", 4, []shp.Point{{X: 10, Y: 50.01}, {X: 10.01, Y: 50.01}}},
	}
	for _, l := range lines {
		row := int(w.Write(shp.NewPolyLine([][]shp.Point{l.pts})))
		require.NoError(t, w.WriteAttribute(row, 0, l.name))
		require.NoError(t, w.WriteAttribute(row, 1, l.lanes))
	}
	w.Close()
	return path
}

func expectLoad(mock pgxmock.PgxPoolIface, table string, rows int64) {
	mock.ExpectExec(`DROP TABLE IF EXISTS "public"."` + table + `"`).
		WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE "public"."` + table + `"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"public", table}, []string{"name", "lanes", "geom"}).
		WillReturnResult(rows)
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "` + table + `_geom_idx"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`ANALYZE "public"."` + table + `"`).
		WillReturnResult(pgxmock.NewResult("ANALYZE", 0))
}

func TestLoad_Shapefile(t *testing.T) {
	path := writeRoads(t, t.TempDir())

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	expectLoad(mock, "roads", 2)

	sum, err := Load(context.Background(), mock, Options{Path: path, Replace: true})
	require.NoError(t, err)

	assert.Equal(t, &Summary{
		Schema:       "public",
		Table:        "roads",
		GeometryType: "MULTILINESTRING",
		SRID:         4326,
		Columns:      2,
		Rows:         2,
	}, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_CreateStatement(t *testing.T) {
	path := writeRoads(t, t.TempDir())

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(true)

	mock.ExpectExec(`(?s)CREATE TABLE "gis"."streets" \(.*"gid" serial PRIMARY KEY,.*"name" text,.*"lanes" bigint,.*"geom" geometry\(MULTILINESTRING, 32632\).*\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "streets"}, []string{"name", "lanes", "geom"}).
		WillReturnResult(2)
	mock.ExpectExec(`CREATE INDEX`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`ANALYZE`).WillReturnResult(pgxmock.NewResult("ANALYZE", 0))

	_, err = Load(context.Background(), mock, Options{Path: path, Schema: "gis", Table: "streets", SRID: 32632})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_Zip(t *testing.T) {
	dir := t.TempDir()
	shpPath := writeRoads(t, dir)

	zipPath := filepath.Join(dir, "roads_2024.zip")
	out, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		src := shpPath[:len(shpPath)-len(".shp")] + ext
		f, err := os.Open(src)
		require.NoError(t, err)
		w, err := zw.Create("roads/" + filepath.Base(src))
		require.NoError(t, err)
		_, err = io.Copy(w, f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	expectLoad(mock, "roads_2024", 2)

	sum, err := Load(context.Background(), mock, Options{Path: zipPath, Replace: true, TempDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_ZipWithoutShapefile(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "empty.zip")
	out, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nothing here"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = Load(context.Background(), mock, Options{Path: zipPath, TempDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .shp file")
}

func TestLoad_CreateFails(t *testing.T) {
	path := writeRoads(t, t.TempDir())

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectExec(`CREATE TABLE`).WillReturnError(fmt.Errorf(`relation "roads" already exists`))

	_, err = Load(context.Background(), mock, Options{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_CopyFails(t *testing.T) {
	path := writeRoads(t, t.TempDir())

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"public", "roads"}, []string{"name", "lanes", "geom"}).
		WillReturnError(fmt.Errorf("permission denied"))

	_, err = Load(context.Background(), mock, Options{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_Errors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = Load(context.Background(), mock, Options{})
	assert.Error(t, err)

	_, err = Load(context.Background(), mock, Options{Path: filepath.Join(t.TempDir(), "missing.shp")})
	assert.Error(t, err)
}

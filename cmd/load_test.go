package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalShapefile_LocalPath(t *testing.T) {
	path, cleanup, err := localShapefile(context.Background(), "data/roads.shp")
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "data/roads.shp", path)
}

func TestLocalShapefile_DownloadsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("PK\x03\x04"))
	}))
	defer srv.Close()

	path, cleanup, err := localShapefile(context.Background(), srv.URL+"/tl_2024_06_prisecroads.zip")
	require.NoError(t, err)
	assert.Equal(t, "tl_2024_06_prisecroads.zip", filepath.Base(path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	cleanup()
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))
}

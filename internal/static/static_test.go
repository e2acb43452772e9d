package static

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>world</h1>"), 0o644))

	srv := httptest.NewServer(Handler(dir, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "<h1>world</h1>", string(body))
}

func TestHandlerMissingFile(t *testing.T) {
	srv := httptest.NewServer(Handler(t.TempDir(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeRejectsMissingDir(t *testing.T) {
	err := Serve(context.Background(), nil, filepath.Join(t.TempDir(), "absent"), nil)
	assert.ErrorContains(t, err, "static dir")
}

package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(cfg.StoreConfig{
		ObjectStoreBaseURL: baseURL,
		ObjectStoreBucket:  "workspaces",
		SignedURLTTL:       15 * time.Minute,
	}, zap.NewNop())
}

func TestSaveAndReadFile(t *testing.T) {
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			buf, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = buf
		case http.MethodGet:
			data, ok := stored[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(data)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.SaveFiles(context.Background(), "proj-A", []FileEntry{{Path: "index.html", Content: []byte("<html></html>")}})
	require.NoError(t, err)

	data, n, err := c.ReadFile(context.Background(), "proj-A", "index.html")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
	assert.Equal(t, len(data), n)
}

func TestDeleteFile(t *testing.T) {
	stored := map[string][]byte{"/workspaces/projects/proj-A/old.ts": []byte("x")}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			if _, ok := stored[r.URL.Path]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(stored, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	require.NoError(t, c.DeleteFile(context.Background(), "proj-A", "old.ts"))
	assert.NotContains(t, stored, "/workspaces/projects/proj-A/old.ts")

	// Deleting something already gone is not an error (spec §4.2 contract
	// mirrors the idempotent provider operations).
	require.NoError(t, c.DeleteFile(context.Background(), "proj-A", "old.ts"))
}

func TestReadFile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, _, err := c.ReadFile(context.Background(), "proj-A", "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ok, err := c.Exists(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://signed.example/abc"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	signed, err := c.SignDownload(context.Background(), "node-modules-cache/deadbeef.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/abc", signed.URL)
	assert.Equal(t, SignedURLDownload, signed.Kind)
}

func TestIsBinaryPath(t *testing.T) {
	assert.True(t, IsBinaryPath("logo.PNG"))
	assert.True(t, IsBinaryPath("font.woff2"))
	assert.False(t, IsBinaryPath("index.ts"))
	assert.False(t, IsBinaryPath("package.json"))
}

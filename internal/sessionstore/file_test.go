package sessionstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGetDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	session := Session{
		ProjectID:     "proj-A",
		SandboxID:     "sbx-1",
		AgentEndpoint: "http://sbx-1.internal:8080",
		ImageRef:      "base:v1",
		CreatedAt:     time.Now(),
		LastUsedAt:    time.Now(),
	}

	require.NoError(t, fs.Put(ctx, session))

	got, ok, err := fs.Get(ctx, "proj-A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sbx-1", got.SandboxID)

	require.NoError(t, fs.Delete(ctx, "proj-A"))
	_, ok, err = fs.Get(ctx, "proj-A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_SurvivesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	ctx := context.Background()

	fs1, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs1.Put(ctx, Session{ProjectID: "proj-B", SandboxID: "sbx-2"}))

	fs2, err := NewFileStore(path)
	require.NoError(t, err)

	got, ok, err := fs2.Get(ctx, "proj-B")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sbx-2", got.SandboxID)
}

func TestFileStore_List(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	ctx := context.Background()

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Put(ctx, Session{ProjectID: "proj-A"}))
	require.NoError(t, fs.Put(ctx, Session{ProjectID: "proj-B"}))

	all, err := fs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFileStore_NonexistentFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	all, err := fs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

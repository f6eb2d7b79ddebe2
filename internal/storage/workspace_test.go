package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkspace_Reset(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "input"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(base, "input", "left.mp4"), []byte("x"), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "output"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(base, "output", "left.gif"), []byte("x"), 0o640))

	ws, err := NewWorkspace(base, "input", "output", true)
	require.NoError(t, err)

	for _, sb := range []*Dir{ws.Input, ws.Output} {
		entries, err := sb.Entries()
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestNewWorkspace_NoReset(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "input"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(base, "input", "kept.mp4"), []byte("x"), 0o640))

	ws, err := NewWorkspace(base, "input", "output", false)
	require.NoError(t, err)

	exists, err := ws.Input.Exists("kept.mp4")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWorkspace_OutputSize(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), "input", "output", true)
	require.NoError(t, err)

	assert.Equal(t, int64(0), ws.OutputSize("missing.webm"))

	_, err = ws.Output.WriteFrom("empty.webm", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, int64(0), ws.OutputSize("empty.webm"))

	_, err = ws.Output.WriteFrom("full.webm", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), ws.OutputSize("full.webm"))

	require.NoError(t, ws.RemoveOutput("full.webm"))
	require.NoError(t, ws.RemoveOutput("full.webm"))
	assert.Equal(t, int64(0), ws.OutputSize("full.webm"))
}

func TestWorkspace_Stale(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), "input", "output", true)
	require.NoError(t, err)

	_, err = ws.Input.WriteFrom("old.mp4", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = ws.Output.WriteFrom("new.gif", strings.NewReader("x"))
	require.NoError(t, err)

	oldPath, err := ws.InputPath("old.mp4")
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	stale := ws.Stale(time.Now().Add(-time.Hour), slog.Default())
	require.Len(t, stale, 1)
	assert.Equal(t, "old.mp4", stale[0].Name)

	require.NoError(t, ws.Remove(stale[0]))
	exists, err := ws.Input.Exists("old.mp4")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Error(t, ws.Remove(StaleFile{Dir: "/elsewhere", Name: "x"}))
}

func TestLocalStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "permanent"))
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())

	src := filepath.Join(t.TempDir(), "01J.mp4")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o640))

	require.NoError(t, store.Put(ctx, "01J.mp4", src))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	rc, size, err := store.Open(ctx, "01J.mp4")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(6), size)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "source", string(data))

	require.NoError(t, store.Remove(ctx, "01J.mp4"))
	require.NoError(t, store.Remove(ctx, "01J.mp4"), "removing twice is fine")
	_, _, err = store.Open(ctx, "01J.mp4")
	assert.ErrorIs(t, err, ErrPermanentNotFound)
}

func TestLocalStore_OpenMissingOrInvalid(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"missing.mp4", "../etc/passwd", "", ".hidden"} {
		_, _, err := store.Open(ctx, name)
		assert.True(t, errors.Is(err, ErrPermanentNotFound), name)
	}

	assert.Error(t, store.Put(ctx, "../escape.mp4", "/tmp/whatever"))
}

func TestNewMinioStore(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err, "bucket is required")

	store, err := NewMinioStore(MinioConfig{
		Endpoint:  "https://s3.example.com",
		Bucket:    "vertd",
		AccessKey: "ak",
		SecretKey: "sk",
		Prefix:    "/kept/",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", store.Name())
	assert.Equal(t, "kept/01J.mp4", store.key("01J.mp4"))
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":     "video/mp4",
		"a.WEBM":    "video/webm",
		"a.gif":     "image/gif",
		"a.mkv":     "video/x-matroska",
		"a.unknown": "application/octet-stream",
		"noext":     "application/octet-stream",
	}
	for name, want := range tests {
		assert.Equal(t, want, ContentType(name), name)
	}
}

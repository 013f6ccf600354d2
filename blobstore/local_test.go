package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	name := "rec/ab/data-001.bin"
	data := []byte("hello world, this is a test blob")

	require.NoError(t, store.Put(ctx, name, data))

	_, err := os.Stat(filepath.Join(tmpDir, "rec", "ab", "data-001.bin"))
	require.NoError(t, err)

	b, err := store.Open(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	n, err = b.ReadAt(ctx, buf, int64(len(data))-2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
	require.NoError(t, b.Close())

	got, err := ReadAll(ctx, store, name)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Overwrite replaces content.
	require.NoError(t, store.Put(ctx, name, []byte("v2")))
	got, err = ReadAll(ctx, store, name)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, store.Delete(ctx, name))
	require.NoError(t, store.Delete(ctx, name))

	_, err = store.Open(ctx, name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalBlobStore_List(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, n := range []string{"rec/b", "rec/a", "_index.json"} {
		require.NoError(t, store.Put(ctx, n, []byte(n)))
	}
	// Orphaned temp files from an interrupted Put are invisible.
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "rec", tmpPrefix+"123"), []byte("x"), 0o644))

	names, err = store.List(ctx, "rec/")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec/a", "rec/b"}, names)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"_index.json", "rec/a", "rec/b"}, names)

	// Listing a missing root is empty, not an error.
	names, err = NewLocalStore(filepath.Join(tmpDir, "nope")).List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalBlobStore_EmptyBlob(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "empty", nil))
	got, err := ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalBlobStore_CanceledContext(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, "x", []byte("x")), context.Canceled)
	_, err := store.Open(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

package badger

import (
	"context"
	"io"
	"testing"

	"github.com/hupe1980/framecache/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	for _, tc := range []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"InMemory", func(*testing.T) string { return "" }},
		{"Disk", func(t *testing.T) string { return t.TempDir() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, err := Open(tc.dir(t))
			require.NoError(t, err)
			defer func() { require.NoError(t, s.Close()) }()

			_, err = s.Open(ctx, "missing")
			assert.ErrorIs(t, err, blobstore.ErrNotFound)

			require.NoError(t, s.Put(ctx, "rec/b", []byte("bravo")))
			require.NoError(t, s.Put(ctx, "rec/a", []byte("alpha")))
			require.NoError(t, s.Put(ctx, "other", []byte("x")))

			names, err := s.List(ctx, "rec/")
			require.NoError(t, err)
			assert.Equal(t, []string{"rec/a", "rec/b"}, names)

			got, err := blobstore.ReadAll(ctx, s, "rec/a")
			require.NoError(t, err)
			assert.Equal(t, "alpha", string(got))

			b, err := s.Open(ctx, "rec/b")
			require.NoError(t, err)
			buf := make([]byte, 4)
			n, err := b.ReadAt(ctx, buf, 3)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, "vo", string(buf[:n]))

			require.NoError(t, s.Delete(ctx, "rec/a"))
			require.NoError(t, s.Delete(ctx, "rec/a"))
			names, err = s.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"other", "rec/b"}, names)
		})
	}
}

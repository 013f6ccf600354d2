package framecache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/framecache/blobstore"
	"github.com/hupe1980/framecache/blobstore/badger"
)

// Backend selects the blob store behind the persistent tier.
type Backend struct {
	name string
	open func(ctx context.Context) (blobstore.BlobStore, io.Closer, error)
}

// String returns the backend kind.
func (b Backend) String() string {
	if b.name == "" {
		return "memory"
	}
	return b.name
}

// InMemory keeps the persistent tier in process memory. Useful for tests
// and short-lived tools.
func InMemory() Backend {
	return Backend{
		name: "memory",
		open: func(context.Context) (blobstore.BlobStore, io.Closer, error) {
			return blobstore.NewMemoryStore(), nil, nil
		},
	}
}

// Local stores records as files under dir.
func Local(dir string) Backend {
	return Backend{
		name: "local",
		open: func(context.Context) (blobstore.BlobStore, io.Closer, error) {
			if dir == "" {
				return nil, nil, errors.New("framecache: local backend requires a directory")
			}
			return blobstore.NewLocalStore(dir), nil, nil
		},
	}
}

// Badger stores records in an embedded Badger database under dir. An empty
// dir runs Badger in memory.
func Badger(dir string) Backend {
	return Backend{
		name: "badger",
		open: func(context.Context) (blobstore.BlobStore, io.Closer, error) {
			s, err := badger.Open(dir)
			if err != nil {
				return nil, nil, fmt.Errorf("framecache: open badger: %w", err)
			}
			return s, s, nil
		},
	}
}

// closers closes each non-nil closer in order.
type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Remote uses a caller-provided store, e.g. from blobstore/s3 or
// blobstore/minio. The caller keeps ownership of the store.
func Remote(store blobstore.BlobStore) Backend {
	return Backend{
		name: "remote",
		open: func(context.Context) (blobstore.BlobStore, io.Closer, error) {
			if store == nil {
				return nil, nil, errors.New("framecache: remote backend requires a store")
			}
			return store, nil, nil
		},
	}
}

// Package badger provides a BlobStore backed by an embedded Badger database.
//
// Useful when the persistent tier should live in a single directory with
// crash-safe writes and no per-record files.
package badger

import (
	"context"
	"errors"
	"io"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/hupe1980/framecache/blobstore"
)

const keyPrefix = "blob:"

// Store implements blobstore.BlobStore on top of Badger.
type Store struct {
	db    *badgerdb.DB
	owned bool
}

// Open opens (or creates) a Badger database in dir.
// An empty dir opens an in-memory database.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, owned: true}, nil
}

// New wraps an existing database. The caller keeps ownership of db.
func New(db *badgerdb.DB) *Store {
	return &Store{db: db}
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func key(name string) []byte {
	return []byte(keyPrefix + name)
}

// Open returns a snapshot of the record.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key(name))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return blobstore.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &blob{data: data}, nil
}

// Put writes the record in a single transaction.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key(name), data)
	})
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key(name))
	})
}

// List returns record names with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = key(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type blob struct {
	data []byte
}

func (b *blob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *blob) Close() error { return nil }

func (b *blob) Size() int64 { return int64(len(b.data)) }

func (b *blob) Bytes() ([]byte, error) { return b.data, nil }

var _ blobstore.BlobStore = (*Store)(nil)

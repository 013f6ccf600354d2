// Package blobstore is the durable backing of the persistent cache tier.
//
// BlobStore reads and writes whole named records. Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic temp-file + rename writes, mmap reads
//   - MemoryStore: in-process map, for tests and ephemeral sessions
//   - FaultyStore: wraps another store and injects IO errors
//   - s3.Store: Amazon S3
//   - minio.Store: MinIO and other S3-compatible services
//   - badger.Store: embedded Badger key-value database
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Open must return an error satisfying errors.Is(err, ErrNotFound) for
// missing records. Delete of a missing record is not an error.
package blobstore

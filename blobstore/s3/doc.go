// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("framecache/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	c, err := framecache.Open(ctx, framecache.Remote(store))
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large records
//   - CRC32C integrity validation on upload
//   - Configurable prefix for multi-tenant isolation
package s3

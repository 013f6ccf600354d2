// Package model defines core types used throughout framecache.
//
// # Identity Types
//
//   - Key: logical identity of a cached artifact (SourceID + Index)
//   - ContentType: which artifact schema an entry's payload follows
//
// # Data Types
//
//   - Entry: an opaque payload plus the bookkeeping both cache tiers need
//   - Dimensions: pixel size of the original frame an entry was derived from
//
// Keys are deterministic: the same source and frame index always map to the
// same Key and the same String() form, across processes.
package model

// Package cache implements the two cache tiers for generated frame artifacts.
//
// MemoryCache (Tier 1) is a strict-LRU cache bounded by item count and
// total payload bytes. PersistentCache (Tier 2) stores entries durably in a
// blobstore.BlobStore and evicts by a frequency/recency score:
//
//	score = accessCount * max(0, 1 - ageDays/decayHorizonDays)
//
// Both tiers keep a per-source residency bitmap so that DeleteBySource and
// range residency queries do not scan every key.
//
// Both tiers guarantee that after every mutating call the item count is at
// most MaxItems and the summed entry size is at most MaxBytes.
package cache

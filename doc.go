// Package framecache provides background frame generation and two-tier
// thumbnail caching for video timelines.
//
// A Cache combines a bounded worker pool that renders frames off the
// interactive path, a memory tier (strict LRU) in front of a persistent
// tier (scored eviction over a blob store), and a preload scheduler that
// generates what the viewport will need next.
//
// # Quick Start
//
// In-memory mode:
//
//	ctx := context.Background()
//	fc, _ := framecache.Open(ctx)
//	defer fc.Close()
//
// Local mode:
//
//	fc, _ := framecache.Open(ctx, framecache.WithBackend(framecache.Local("./cache")))
//
// Cloud mode:
//
//	s3Store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("frames/"))
//	fc, _ := framecache.Open(ctx, framecache.WithBackend(framecache.Remote(s3Store)))
//
// # Reading and Generating
//
//	e, ok := fc.Get(ctx, model.NewKey("intro.mp4", 42))      // memory, then persistent
//	e, err := fc.GetOrGenerate(ctx, model.NewKey("intro.mp4", 42), 0)
//
// Generate coalesces: while a key is in flight, further calls join the
// running task instead of starting another. Failed generations are not
// cached.
//
// # Preloading
//
//	fc.RequestPreload("intro.mp4", 100, 110, 5)            // explicit range
//	fc.PreloadVisibleRegion("intro.mp4", 3.5, 7.0, 0)      // viewport in seconds
//	fc.WaitPreloads(ctx)
//
// Requests run one at a time, highest priority first. Keys already cached
// in either tier are skipped.
//
// # Persistence
//
// The persistent tier keeps one record per entry plus an index snapshot
// written by Flush and Close. Call Warm after Open to pull recently used
// entries back into memory.
package framecache

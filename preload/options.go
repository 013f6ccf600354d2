package preload

import (
	"context"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/worker"
)

const (
	// DefaultKeyRate converts viewport seconds into frame indices.
	DefaultKeyRate = 30.0
	// DefaultLeadingMargin is the number of keys preloaded past the end.
	DefaultLeadingMargin = 30
	// DefaultTrailingMargin is the number of keys preloaded before the start.
	DefaultTrailingMargin = 10
	// DefaultMaxSpan bounds the width of a single request.
	DefaultMaxSpan = 1 << 16
)

// Submitter starts or joins generation of a key.
type Submitter interface {
	Generate(ctx context.Context, key model.Key, priority int) (*worker.Future, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, key model.Key, priority int) (*worker.Future, error)

func (f SubmitterFunc) Generate(ctx context.Context, key model.Key, priority int) (*worker.Future, error) {
	return f(ctx, key, priority)
}

// Residency reports which indices of a source are cached. Both cache tiers
// implement it.
type Residency interface {
	Resident(sourceID string, start, end uint32) *roaring.Bitmap
}

// Options configures a Scheduler.
type Options struct {
	Submitter Submitter
	// Tiers are consulted before submitting; a key resident in any of
	// them is skipped.
	Tiers []Residency

	// LeadingMargin and TrailingMargin extend each request after its end
	// and before its start. Zero disables the margin.
	LeadingMargin  uint32
	TrailingMargin uint32

	// KeyRate is used by PreloadVisibleRegion when the caller passes a
	// non-positive rate. Defaults to DefaultKeyRate.
	KeyRate float64
	// DefaultPriority is used by PreloadVisibleRegion.
	DefaultPriority int
	// MaxSpan bounds end-start+1 of a request. Defaults to DefaultMaxSpan.
	MaxSpan uint32

	// KeysPerSecond throttles submissions when > 0. Burst defaults to
	// the rounded-up rate.
	KeysPerSecond float64
	Burst         int

	// OnComplete observes each processed request.
	OnComplete func(Report)
	Logger     *slog.Logger
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.KeyRate <= 0 {
		o.KeyRate = DefaultKeyRate
	}
	if o.MaxSpan == 0 {
		o.MaxSpan = DefaultMaxSpan
	}
	if o.KeysPerSecond > 0 && o.Burst <= 0 {
		o.Burst = max(1, int(o.KeysPerSecond+0.999))
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/task"
	"github.com/hupe1980/framecache/worker"
)

// Defaults for payload fields left at zero.
const (
	DefaultMaxWidth  = 320
	DefaultMaxHeight = 180
	DefaultQuality   = 75
)

// Options configures the handler set.
type Options struct {
	// Source renders frames. Defaults to NewSyntheticSource().
	Source FrameSource
	// MaxWidth and MaxHeight apply when a payload leaves them zero.
	MaxWidth  int
	MaxHeight int
	// Quality is the JPEG quality used when a payload leaves it zero.
	Quality int
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Source == nil {
		o.Source = NewSyntheticSource()
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Handlers implements every task type against a FrameSource.
type Handlers struct {
	opts Options
}

// New returns the handler set.
func New(opts Options) *Handlers {
	return &Handlers{opts: opts.withDefaults()}
}

// NewRegistry returns a registry with all four handlers bound.
func NewRegistry(opts Options) *worker.Registry {
	h := New(opts)
	reg := worker.NewRegistry()
	h.RegisterAll(reg)
	return reg
}

// RegisterAll binds every handler into reg.
func (h *Handlers) RegisterAll(reg *worker.Registry) {
	worker.Register(reg, h.Thumbnail)
	worker.Register(reg, h.FrameRange)
	worker.Register(reg, h.Optimize)
	worker.Register(reg, h.Analyze)
}

func (h *Handlers) bounds(w, hgt, q int) (int, int, int) {
	if w <= 0 {
		w = h.opts.MaxWidth
	}
	if hgt <= 0 {
		hgt = h.opts.MaxHeight
	}
	if q <= 0 || q > 100 {
		q = h.opts.Quality
	}
	return w, hgt, q
}

// Thumbnail renders and downscales a single frame.
func (h *Handlers) Thumbnail(ctx context.Context, p task.ThumbnailPayload, progress worker.ProgressFunc) (task.ThumbnailResult, error) {
	maxW, maxH, q := h.bounds(p.MaxWidth, p.MaxHeight, p.Quality)
	res, err := h.thumbnail(ctx, p.Key, maxW, maxH, q)
	if err != nil {
		return task.ThumbnailResult{}, err
	}
	progress(100)
	return res, nil
}

func (h *Handlers) thumbnail(ctx context.Context, key model.Key, maxW, maxH, q int) (task.ThumbnailResult, error) {
	img, err := h.opts.Source.Frame(ctx, key)
	if err != nil {
		return task.ThumbnailResult{}, fmt.Errorf("frame %s: %w", key, err)
	}
	if img == nil || img.Bounds().Empty() {
		return task.ThumbnailResult{}, ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return task.ThumbnailResult{}, err
	}

	orig := dims(img)
	tw, th := fitBox(orig.Width, orig.Height, maxW, maxH)
	data, err := encodeJPEG(downscale(img, tw, th), q)
	if err != nil {
		return task.ThumbnailResult{}, fmt.Errorf("encode %s: %w", key, err)
	}
	if len(data) == 0 {
		return task.ThumbnailResult{}, ErrEmptyImage
	}

	return task.ThumbnailResult{
		Key:         key,
		ContentType: model.ContentThumbnail,
		Image:       data,
		Size:        model.Dimensions{Width: tw, Height: th},
		Original:    orig,
	}, nil
}

// FrameRange renders thumbnails for every index of the payload, reporting
// progress after each frame.
func (h *Handlers) FrameRange(ctx context.Context, p task.FrameRangePayload, progress worker.ProgressFunc) (task.FrameRangeResult, error) {
	if p.SourceID == "" {
		return task.FrameRangeResult{}, errors.New("frame range: empty source id")
	}
	idx := p.Indices()
	if len(idx) == 0 {
		return task.FrameRangeResult{}, fmt.Errorf("frame range: no frames in [%d, %d]", p.Start, p.End)
	}
	maxW, maxH, q := h.bounds(p.MaxWidth, p.MaxHeight, p.Quality)

	out := make([]task.ThumbnailResult, 0, len(idx))
	for i, n := range idx {
		if err := ctx.Err(); err != nil {
			return task.FrameRangeResult{}, err
		}
		res, err := h.thumbnail(ctx, model.NewKey(p.SourceID, n), maxW, maxH, q)
		if err != nil {
			return task.FrameRangeResult{}, err
		}
		out = append(out, res)
		progress((i + 1) * 100 / len(idx))
	}
	h.opts.Logger.DebugContext(ctx, "frame range rendered",
		"source", p.SourceID, "start", p.Start, "end", p.End, "frames", len(out))
	return task.FrameRangeResult{Frames: out}, nil
}

// Optimize decodes, downscales and re-encodes an image as JPEG.
func (h *Handlers) Optimize(ctx context.Context, p task.OptimizePayload, progress worker.ProgressFunc) (task.OptimizeResult, error) {
	img, err := decodeImage(p.Image)
	if err != nil {
		return task.OptimizeResult{}, err
	}
	progress(30)
	if err := ctx.Err(); err != nil {
		return task.OptimizeResult{}, err
	}

	maxW, maxH, q := h.bounds(p.MaxWidth, p.MaxHeight, p.Quality)
	orig := dims(img)
	tw, th := fitBox(orig.Width, orig.Height, maxW, maxH)
	data, err := encodeJPEG(downscale(img, tw, th), q)
	if err != nil {
		return task.OptimizeResult{}, fmt.Errorf("optimize: encode: %w", err)
	}
	if len(data) == 0 {
		return task.OptimizeResult{}, ErrEmptyImage
	}
	progress(100)
	return task.OptimizeResult{
		Image:    data,
		Size:     model.Dimensions{Width: tw, Height: th},
		Original: orig,
	}, nil
}

// Analyze decodes an image and computes its quality report.
func (h *Handlers) Analyze(ctx context.Context, p task.AnalyzePayload, progress worker.ProgressFunc) (task.AnalyzeResult, error) {
	img, err := decodeImage(p.Image)
	if err != nil {
		return task.AnalyzeResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return task.AnalyzeResult{}, err
	}
	report := Analyze(img)
	progress(100)
	return task.AnalyzeResult{Report: report, Size: dims(img)}, nil
}

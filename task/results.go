package task

import (
	"slices"
	"time"

	"github.com/hupe1980/framecache/model"
)

// ThumbnailResult is an encoded thumbnail.
type ThumbnailResult struct {
	Key         model.Key
	ContentType model.ContentType
	Image       []byte
	Size        model.Dimensions
	Original    model.Dimensions
}

func (ThumbnailResult) Type() Type { return TypeThumbnail }
func (r ThumbnailResult) Clone() Result {
	r.Image = slices.Clone(r.Image)
	return r
}
func (ThumbnailResult) isResult() {}

// Entry converts the result into a cache entry created at now.
func (r ThumbnailResult) Entry(now time.Time) model.Entry {
	ct := r.ContentType
	if ct == model.ContentUnknown {
		ct = model.ContentThumbnail
	}
	return model.NewEntry(r.Key, ct, slices.Clone(r.Image), r.Original, now)
}

// FrameRangeResult holds one thumbnail per requested index, in order.
type FrameRangeResult struct {
	Frames []ThumbnailResult
}

func (FrameRangeResult) Type() Type { return TypeFrameRange }
func (r FrameRangeResult) Clone() Result {
	frames := make([]ThumbnailResult, len(r.Frames))
	for i, f := range r.Frames {
		frames[i] = f.Clone().(ThumbnailResult)
	}
	r.Frames = frames
	return r
}
func (FrameRangeResult) isResult() {}

// OptimizeResult is a re-encoded image.
type OptimizeResult struct {
	Image    []byte
	Size     model.Dimensions
	Original model.Dimensions
}

func (OptimizeResult) Type() Type { return TypeOptimize }
func (r OptimizeResult) Clone() Result {
	r.Image = slices.Clone(r.Image)
	return r
}
func (OptimizeResult) isResult() {}

// QualityReport summarizes image quality. All metrics are in [0, 1].
type QualityReport struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Sharpness  float64 `json:"sharpness"`
	Score      float64 `json:"score"`
}

// AnalyzeResult is a quality report.
type AnalyzeResult struct {
	Report QualityReport
	Size   model.Dimensions
}

func (AnalyzeResult) Type() Type { return TypeAnalyze }
func (r AnalyzeResult) Clone() Result { return r }
func (AnalyzeResult) isResult() {}

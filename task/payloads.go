package task

import (
	"slices"

	"github.com/hupe1980/framecache/model"
)

// ThumbnailPayload asks for one downscaled frame.
type ThumbnailPayload struct {
	Key model.Key
	// MaxWidth and MaxHeight bound the output; aspect ratio is kept.
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (ThumbnailPayload) Type() Type { return TypeThumbnail }
func (p ThumbnailPayload) Clone() Payload { return p }
func (ThumbnailPayload) isPayload() {}

// FrameRangePayload asks for thumbnails of [Start, End] every Step frames.
type FrameRangePayload struct {
	SourceID  string
	Start     uint32
	End       uint32
	Step      uint32
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (FrameRangePayload) Type() Type { return TypeFrameRange }
func (p FrameRangePayload) Clone() Payload { return p }
func (FrameRangePayload) isPayload() {}

// Indices returns the frame indices covered by the payload.
func (p FrameRangePayload) Indices() []uint32 {
	step := p.Step
	if step == 0 {
		step = 1
	}
	if p.End < p.Start {
		return nil
	}
	out := make([]uint32, 0, (p.End-p.Start)/step+1)
	for i := uint64(p.Start); i <= uint64(p.End); i += uint64(step) {
		out = append(out, uint32(i))
	}
	return out
}

// OptimizePayload asks for an encoded image to be downscaled and re-encoded.
type OptimizePayload struct {
	Image     []byte
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (OptimizePayload) Type() Type { return TypeOptimize }
func (p OptimizePayload) Clone() Payload {
	p.Image = slices.Clone(p.Image)
	return p
}
func (OptimizePayload) isPayload() {}

// AnalyzePayload asks for a quality report of an encoded image.
type AnalyzePayload struct {
	Image []byte
}

func (AnalyzePayload) Type() Type { return TypeAnalyze }
func (p AnalyzePayload) Clone() Payload {
	p.Image = slices.Clone(p.Image)
	return p
}
func (AnalyzePayload) isPayload() {}

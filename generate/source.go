package generate

import (
	"context"
	"errors"
	"hash/fnv"
	"image"
	"image/color"

	"github.com/hupe1980/framecache/model"
)

// ErrFrameOutOfRange is returned by sources for indices past the end.
var ErrFrameOutOfRange = errors.New("generate: frame index out of range")

// FrameSource renders the frame at key.
type FrameSource interface {
	Frame(ctx context.Context, key model.Key) (image.Image, error)
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func(ctx context.Context, key model.Key) (image.Image, error)

func (f FrameSourceFunc) Frame(ctx context.Context, key model.Key) (image.Image, error) {
	return f(ctx, key)
}

// SyntheticSource renders a deterministic gradient pattern. The same key
// always yields the same pixels.
type SyntheticSource struct {
	Width  int
	Height int
	// Frames bounds valid indices when > 0.
	Frames uint32
}

// NewSyntheticSource returns a 1280x720 synthetic source.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{Width: 1280, Height: 720}
}

// Frame implements FrameSource.
func (s *SyntheticSource) Frame(ctx context.Context, key model.Key) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Frames > 0 && key.Index >= s.Frames {
		return nil, ErrFrameOutOfRange
	}
	w, h := s.Width, s.Height
	if w <= 0 || h <= 0 {
		return nil, errors.New("generate: synthetic source has no size")
	}

	hs := fnv.New32a()
	_, _ = hs.Write([]byte(key.SourceID))
	seed := hs.Sum32()
	phase := int(key.Index) * 7

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*255/w + phase) & 0xFF),
				G: uint8((y*255/h + int(seed)) & 0xFF),
				B: uint8(((x+y)/8 + int(seed>>8) + phase) & 0xFF),
				A: 0xFF,
			})
		}
	}
	return img, nil
}

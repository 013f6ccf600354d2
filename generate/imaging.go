package generate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // decode support for optimize/analyze inputs

	"github.com/hupe1980/framecache/model"
)

// ErrEmptyImage is returned for images with no pixels.
var ErrEmptyImage = errors.New("generate: empty image")

func dims(img image.Image) model.Dimensions {
	b := img.Bounds()
	return model.Dimensions{Width: b.Dx(), Height: b.Dy()}
}

// fitBox returns the largest size within maxW x maxH with the aspect ratio
// of w x h. Images already inside the box keep their size.
func fitBox(w, h, maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 || (w <= maxW && h <= maxH) {
		return w, h
	}
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

// downscale resizes src to dw x dh with an area-average filter.
func downscale(src image.Image, dw, dh int) image.Image {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if dw == sw && dh == sh {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := range dh {
		y0 := sb.Min.Y + y*sh/dh
		y1 := max(y0+1, sb.Min.Y+(y+1)*sh/dh)
		for x := range dw {
			x0 := sb.Min.X + x*sw/dw
			x1 := max(x0+1, sb.Min.X+(x+1)*sw/dw)
			var r, g, b, a, n uint64
			for sy := y0; sy < y1; sy++ {
				for sx := x0; sx < x1; sx++ {
					cr, cg, cb, ca := src.At(sx, sy).RGBA()
					r, g, b, a = r+uint64(cr), g+uint64(cg), b+uint64(cb), a+uint64(ca)
					n++
				}
			}
			dst.SetRGBA(x, y, color.RGBA{
				R: uint8(r / n >> 8), G: uint8(g / n >> 8), B: uint8(b / n >> 8), A: uint8(a / n >> 8),
			})
		}
	}
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("generate: decode: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

package generate

import (
	"image"
	"math"

	"github.com/hupe1980/framecache/task"
)

// sharpnessScale maps Laplacian variance onto [0, 1].
const sharpnessScale = 1000.0

// Analyze computes a quality report from luma statistics: mean brightness,
// RMS contrast and Laplacian-variance sharpness.
func Analyze(img image.Image) task.QualityReport {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return task.QualityReport{}
	}

	luma := make([]float64, w*h)
	var sum float64
	for y := range h {
		for x := range w {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			l := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257
			luma[y*w+x] = l
			sum += l
		}
	}
	n := float64(w * h)
	mean := sum / n

	var sq float64
	for _, l := range luma {
		sq += (l - mean) * (l - mean)
	}
	std := math.Sqrt(sq / n)

	var lapSum, lapSq float64
	var lapN int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			v := luma[i-w] + luma[i+w] + luma[i-1] + luma[i+1] - 4*luma[i]
			lapSum += v
			lapSq += v * v
			lapN++
		}
	}
	var lapVar float64
	if lapN > 0 {
		m := lapSum / float64(lapN)
		lapVar = lapSq/float64(lapN) - m*m
	}

	brightness := mean / 255
	contrast := math.Min(1, std/127.5)
	sharpness := math.Min(1, lapVar/sharpnessScale)
	exposure := 1 - math.Abs(brightness-0.5)*2

	return task.QualityReport{
		Brightness: brightness,
		Contrast:   contrast,
		Sharpness:  sharpness,
		Score:      0.3*exposure + 0.3*contrast + 0.4*sharpness,
	}
}

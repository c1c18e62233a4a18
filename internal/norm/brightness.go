package norm

import (
	"image"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Percentile used as the canonical brightness for the Standard variant.
const brightnessPercentile = 0.90

// StandardizeBrightness rescales an image so its 90th-percentile channel
// value maps to 255, clipping the result. If masked, the percentile is
// computed over non-background pixels only (background = all channels 255).
// The input is not modified.
func StandardizeBrightness(img *image.RGBA, masked bool) *image.RGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	samples := make([]float64, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			if masked && r == 255 && g == 255 && b == 255 {
				continue
			}
			samples = append(samples, float64(r), float64(g), float64(b))
		}
	}
	if len(samples) == 0 {
		return cloneRGBA(img)
	}

	sort.Float64s(samples)
	p := stat.Quantile(brightnessPercentile, stat.Empirical, samples, nil)
	if p <= 0 {
		return cloneRGBA(img)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	scale := 255.0 / p
	for y := 0; y < h; y++ {
		inRow := img.Pix[y*img.Stride:]
		outRow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				v := float64(inRow[x*4+c]) * scale
				if v > 255 {
					v = 255
				}
				outRow[x*4+c] = uint8(v + 0.5)
			}
			outRow[x*4+3] = inRow[x*4+3]
		}
	}
	return out
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+bounds.Dx()*4], img.Pix[y*img.Stride:])
	}
	return out
}

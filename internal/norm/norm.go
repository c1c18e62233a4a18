// Package norm implements Reinhard statistical color transfer for H&E
// stain normalization, after Reinhard et al., "Color transfer between
// images", IEEE CG&A 21.5 (2001).
package norm

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"slide-tiler/pkg/colorspace"

	"gonum.org/v1/gonum/stat"
)

// ErrEmptyMask is returned when background masking removes every pixel of a
// reference image, leaving nothing to fit.
var ErrEmptyMask = errors.New("masking removed all pixels from reference image")

// Channel standard deviations below this are treated as zero; the channel
// is shifted but not rescaled, so a uniform input can never divide by zero.
const minStd = 1e-6

// Variant selects one of the two Reinhard flavors.
type Variant int

const (
	// Fast omits the brightness standardization step.
	Fast Variant = iota
	// Standard rescales overall brightness to the 90th percentile before
	// fitting and transforming, so the two stay statistically consistent.
	Standard
)

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "reinhard":
		return Standard, nil
	case "reinhard-fast", "reinhard_fast":
		return Fast, nil
	default:
		return Fast, fmt.Errorf("unknown normalizer variant %q", s)
	}
}

// Fit is a per-channel (mean, standard deviation) pair in LAB space.
type Fit struct {
	Mean [3]float64 `json:"target_means"`
	Std  [3]float64 `json:"target_stds"`
}

// Normalizer rescales tile colors toward a fitted target. A Normalizer is
// safe for concurrent Transform calls; the context fit is guarded by a
// mutex so a scoped override is visible to all of them.
type Normalizer struct {
	variant   Variant
	threshold float64 // lightness fraction above which pixels are preserved; 0 disables

	fit Fit

	mu  sync.Mutex
	ctx *Fit
}

// New creates a Normalizer with the given variant and whitespace mask
// threshold. A threshold of 0 disables whitespace-preserving masking.
func New(variant Variant, maskThreshold float64) *Normalizer {
	return &Normalizer{variant: variant, threshold: maskThreshold}
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	m, sd := stat.MeanStdDev(xs, nil)
	if math.IsNaN(sd) {
		sd = 0 // single sample
	}
	return m, sd
}

// maskedPlanes drops pixels that are pure background (all channels 255).
func maskedPlanes(img *image.RGBA, planes colorspace.LAB) colorspace.LAB {
	bounds := img.Bounds()
	w := bounds.Dx()
	out := colorspace.LAB{Width: planes.Width, Height: planes.Height}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[(y-bounds.Min.Y)*img.Stride:]
		for x := 0; x < w; x++ {
			if row[x*4] != 255 || row[x*4+1] != 255 || row[x*4+2] != 255 {
				out.L = append(out.L, planes.L[i])
				out.A = append(out.A, planes.A[i])
				out.B = append(out.B, planes.B[i])
			}
			i++
		}
	}
	return out
}

func fitPlanes(planes colorspace.LAB) Fit {
	var f Fit
	f.Mean[0], f.Std[0] = meanStd(planes.L)
	f.Mean[1], f.Std[1] = meanStd(planes.A)
	f.Mean[2], f.Std[2] = meanStd(planes.B)
	return f
}

// FitImage computes per-channel LAB statistics for an image. If masked,
// pure-background pixels are excluded first. The variant controls whether
// brightness is standardized before fitting.
func FitImage(img *image.RGBA, masked bool, variant Variant) (Fit, error) {
	if variant == Standard {
		img = StandardizeBrightness(img, masked)
	}
	planes := colorspace.ToLAB(img)
	if masked {
		planes = maskedPlanes(img, planes)
		if planes.N() == 0 {
			return Fit{}, ErrEmptyMask
		}
	}
	return fitPlanes(planes), nil
}

// Fit fits the normalizer to a reference image and returns the fit.
func (n *Normalizer) Fit(ref *image.RGBA, masked bool) (Fit, error) {
	f, err := FitImage(ref, masked, n.variant)
	if err != nil {
		return Fit{}, err
	}
	n.fit = f
	return f, nil
}

// SetFit replaces the target fit wholesale.
func (n *Normalizer) SetFit(f Fit) { n.fit = f }

// GetFit returns the current target fit.
func (n *Normalizer) GetFit() Fit { return n.fit }

// SetContext computes a masked fit from a whole-slide-scale image and
// substitutes it for per-tile statistics until cleared.
func (n *Normalizer) SetContext(img *image.RGBA) error {
	masked := img
	if n.variant == Standard {
		masked = StandardizeBrightness(img, true)
	}
	planes := colorspace.ToLAB(masked)
	planes = maskedPlanes(masked, planes)
	if planes.N() == 0 {
		return ErrEmptyMask
	}
	f := fitPlanes(planes)

	n.mu.Lock()
	n.ctx = &f
	n.mu.Unlock()
	return nil
}

// ClearContext removes any context fit.
func (n *Normalizer) ClearContext() {
	n.mu.Lock()
	n.ctx = nil
	n.mu.Unlock()
}

// ImageContext runs fn with a context fit computed from img, clearing the
// context on every exit path.
func (n *Normalizer) ImageContext(img *image.RGBA, fn func() error) error {
	if err := n.SetContext(img); err != nil {
		return err
	}
	defer n.ClearContext()
	return fn()
}

func (n *Normalizer) contextFit() *Fit {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ctx
}

// Transform normalizes a tile toward the target fit. Source statistics come
// from the context fit when one is set, otherwise from the tile itself.
// Pixels whose lightness fraction meets or exceeds the mask threshold are
// copied from the input unmodified.
func (n *Normalizer) Transform(tile *image.RGBA) *image.RGBA {
	src := tile
	if n.variant == Standard {
		src = StandardizeBrightness(tile, false)
	}

	planes := colorspace.ToLAB(src)

	var source Fit
	if ctx := n.contextFit(); ctx != nil {
		source = *ctx
	} else {
		source = fitPlanes(planes)
	}

	for c, plane := range [][]float64{planes.L, planes.A, planes.B} {
		scale := 1.0
		if source.Std[c] > minStd {
			scale = n.fit.Std[c] / source.Std[c]
		}
		mean := source.Mean[c]
		target := n.fit.Mean[c]
		for i := range plane {
			plane[i] = (plane[i]-mean)*scale + target
		}
	}

	out := colorspace.ToRGB(planes)
	if n.threshold > 0 {
		n.restoreMasked(tile, src, out)
	}
	return out
}

// restoreMasked copies input pixels over the output wherever the input
// lightness fraction is at or above the mask threshold. Lightness is
// measured on the (possibly brightness-standardized) source, but the
// restored bytes come from the original tile so masked pixels stay
// bit-identical to the input.
func (n *Normalizer) restoreMasked(tile, src, out *image.RGBA) {
	lum := colorspace.ToLAB(src)
	i := 0
	for y := 0; y < lum.Height; y++ {
		inRow := tile.Pix[y*tile.Stride:]
		outRow := out.Pix[y*out.Stride:]
		for x := 0; x < lum.Width; x++ {
			if lum.L[i]/100.0 >= n.threshold {
				copy(outRow[x*4:x*4+4], inRow[x*4:x*4+4])
			}
			i++
		}
	}
}

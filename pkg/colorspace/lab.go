// Package colorspace converts 8-bit RGB pixel batches to and from the
// CIE-LAB color space (sRGB companding, D65 reference white).
package colorspace

import (
	"image"
	"math"
)

// D65 reference white.
const (
	refX = 0.95047
	refY = 1.00000
	refZ = 1.08883
)

// CIE standard constants for the LAB transfer function.
const (
	labEpsilon = 216.0 / 24389.0
	labKappa   = 24389.0 / 27.0
)

// LAB holds one float64 plane per LAB channel for a batch of pixels in
// row-major order. L is in [0,100], A and B are roughly [-128,127].
type LAB struct {
	L, A, B []float64
	Width   int
	Height  int
}

// N returns the number of pixels in the batch.
func (p LAB) N() int { return len(p.L) }

func srgbToLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func linearToSRGB(c float64) float64 {
	if c <= 0.0031308 {
		return c * 12.92
	}
	return 1.055*math.Pow(c, 1.0/2.4) - 0.055
}

func labF(t float64) float64 {
	if t > labEpsilon {
		return math.Cbrt(t)
	}
	return (labKappa*t + 16.0) / 116.0
}

func labFInv(t float64) float64 {
	if t3 := t * t * t; t3 > labEpsilon {
		return t3
	}
	return (116.0*t - 16.0) / labKappa
}

// PixelToLAB converts a single 8-bit RGB pixel to LAB.
func PixelToLAB(r, g, b uint8) (l, a, bb float64) {
	rl := srgbToLinear(float64(r) / 255.0)
	gl := srgbToLinear(float64(g) / 255.0)
	bl := srgbToLinear(float64(b) / 255.0)

	x := 0.4124564*rl + 0.3575761*gl + 0.1804375*bl
	y := 0.2126729*rl + 0.7151522*gl + 0.0721750*bl
	z := 0.0193339*rl + 0.1191920*gl + 0.9503041*bl

	fx := labF(x / refX)
	fy := labF(y / refY)
	fz := labF(z / refZ)

	l = 116.0*fy - 16.0
	a = 500.0 * (fx - fy)
	bb = 200.0 * (fy - fz)
	return l, a, bb
}

// PixelToRGB converts a single LAB value back to 8-bit RGB, clamping to the
// representable range.
func PixelToRGB(l, a, b float64) (uint8, uint8, uint8) {
	fy := (l + 16.0) / 116.0
	fx := fy + a/500.0
	fz := fy - b/200.0

	x := labFInv(fx) * refX
	y := labFInv(fy) * refY
	z := labFInv(fz) * refZ

	rl := 3.2404542*x - 1.5371385*y - 0.4985314*z
	gl := -0.9692660*x + 1.8760108*y + 0.0415560*z
	bl := 0.0556434*x - 0.2040259*y + 1.0572252*z

	return clamp8(linearToSRGB(rl)), clamp8(linearToSRGB(gl)), clamp8(linearToSRGB(bl))
}

func clamp8(c float64) uint8 {
	v := math.Round(c * 255.0)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// ToLAB converts an RGBA image to per-channel LAB planes. The alpha channel
// is ignored.
func ToLAB(img *image.RGBA) LAB {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	planes := LAB{
		L:      make([]float64, w*h),
		A:      make([]float64, w*h),
		B:      make([]float64, w*h),
		Width:  w,
		Height: h,
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[(y-bounds.Min.Y)*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			planes.L[i], planes.A[i], planes.B[i] = PixelToLAB(r, g, b)
			i++
		}
	}
	return planes
}

// ToRGB converts LAB planes back to an RGBA image with full opacity.
func ToRGB(planes LAB) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, planes.Width, planes.Height))
	i := 0
	for y := 0; y < planes.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < planes.Width; x++ {
			r, g, b := PixelToRGB(planes.L[i], planes.A[i], planes.B[i])
			row[x*4] = r
			row[x*4+1] = g
			row[x*4+2] = b
			row[x*4+3] = 255
			i++
		}
	}
	return img
}

// Package qc filters tiles by whitespace and grayspace content.
package qc

import (
	"image"

	"slide-tiler/internal/grid"
	"slide-tiler/pkg/colorutil"
)

// Thresholds configures tile quality filtering. Pixel-level thresholds
// classify individual pixels; fraction limits decide tile exclusion. A
// fraction limit of 1 disables that filter.
type Thresholds struct {
	WhitespaceFraction  float64 // exclude tile when whitespace fraction >= this
	WhitespaceThreshold uint8   // pixel is whitespace when mean RGB > this
	GrayspaceFraction   float64 // exclude tile when grayspace fraction >= this
	GrayspaceThreshold  float64 // pixel is grayspace when HSV saturation < this (0-1)
}

// Default thresholds follow common practice for H&E slides: discard tiles
// that are mostly bright background or mostly desaturated.
func Default() Thresholds {
	return Thresholds{
		WhitespaceFraction:  1.0,
		WhitespaceThreshold: 230,
		GrayspaceFraction:   0.6,
		GrayspaceThreshold:  0.05,
	}
}

// Evaluate returns the whitespace and grayspace fractions of a tile.
func Evaluate(tile *image.RGBA, t Thresholds) (wsFrac, gsFrac float64) {
	bounds := tile.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0, 0
	}

	var white, gray int
	for y := 0; y < h; y++ {
		row := tile.Pix[y*tile.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			if colorutil.Brightness(r, g, b) > float64(t.WhitespaceThreshold) {
				white++
			}
			if colorutil.Saturation(r, g, b) < t.GrayspaceThreshold {
				gray++
			}
		}
	}

	n := float64(w * h)
	return float64(white) / n, float64(gray) / n
}

// Keep reports whether a tile with the given fractions passes the filter.
func Keep(wsFrac, gsFrac float64, t Thresholds) bool {
	if t.WhitespaceFraction < 1 && wsFrac >= t.WhitespaceFraction {
		return false
	}
	if t.GrayspaceFraction < 1 && gsFrac >= t.GrayspaceFraction {
		return false
	}
	return true
}

// Record stores a tile's measured fractions on its cell and updates the
// inclusion flag.
func Record(c *grid.Cell, wsFrac, gsFrac float64, t Thresholds) {
	c.WhitespaceFrac = wsFrac
	c.GrayspaceFrac = gsFrac
	c.Include = c.InROI && Keep(wsFrac, gsFrac, t)
}

// Reapply re-evaluates inclusion for every measured cell under new
// thresholds. Geometry and stored fractions are untouched, so filters can
// be tightened or loosened without rebuilding the grid.
func Reapply(g *grid.Grid, t Thresholds) {
	for i := range g.Cells {
		c := &g.Cells[i]
		c.Include = c.InROI && Keep(c.WhitespaceFrac, c.GrayspaceFrac, t)
	}
}

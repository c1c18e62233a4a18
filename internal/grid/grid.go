// Package grid computes the rectangular grid of candidate tile origins for
// a slide and tracks per-cell inclusion state.
package grid

import (
	"errors"
	"fmt"

	"slide-tiler/pkg/geometry"
)

// ErrNoValidRegion is returned when ROI clipping excludes every cell of a
// slide.
var ErrNoValidRegion = errors.New("ROIs exclude the entire slide")

// ROIMode controls how ROI polygons restrict the grid.
type ROIMode string

const (
	// ROIInside keeps cells whose center falls inside at least one ROI.
	ROIInside ROIMode = "inside"
	// ROIOutside keeps cells whose center falls outside all ROIs.
	ROIOutside ROIMode = "outside"
	// ROIIgnore keeps all cells regardless of ROIs.
	ROIIgnore ROIMode = "ignore"
)

// Cell is one candidate tile. InROI is fixed at build time; Include is the
// working inclusion flag, re-evaluated by quality filtering.
type Cell struct {
	Col, Row int // grid coordinates
	X, Y     int // pixel origin (full resolution)

	InROI   bool
	Include bool

	WhitespaceFrac float64
	GrayspaceFrac  float64
}

// Grid is the ordered (row-major) set of candidate cells for one slide,
// tile size, stride, and ROI combination.
type Grid struct {
	TilePx int
	Stride int
	Cols   int
	Rows   int
	Cells  []Cell
}

// Build computes the tile grid for a slide extent. Origins are spaced
// tilePx/strideDiv pixels apart in both axes. When rois are supplied and
// mode is not ROIIgnore, cells are clipped by center point at build time.
func Build(width, height, tilePx, strideDiv int, rois []geometry.Polygon, mode ROIMode) (*Grid, error) {
	if tilePx <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", tilePx)
	}
	if strideDiv < 1 {
		strideDiv = 1
	}
	if width < tilePx || height < tilePx {
		return nil, fmt.Errorf("slide extent %dx%d smaller than tile size %d", width, height, tilePx)
	}

	stride := tilePx / strideDiv
	if stride < 1 {
		stride = 1
	}

	cols := (width-tilePx)/stride + 1
	rows := (height-tilePx)/stride + 1

	g := &Grid{
		TilePx: tilePx,
		Stride: stride,
		Cols:   cols,
		Rows:   rows,
		Cells:  make([]Cell, 0, cols*rows),
	}

	clip := len(rois) > 0 && mode != ROIIgnore && mode != ""
	anyIncluded := false
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x := col * stride
			y := row * stride
			cell := Cell{Col: col, Row: row, X: x, Y: y, InROI: true}

			if clip {
				center := geometry.Point2D{
					X: float64(x) + float64(tilePx)/2,
					Y: float64(y) + float64(tilePx)/2,
				}
				inside := geometry.PointInAny(center, rois)
				if mode == ROIOutside {
					inside = !inside
				}
				cell.InROI = inside
			}

			cell.Include = cell.InROI
			if cell.Include {
				anyIncluded = true
			}
			g.Cells = append(g.Cells, cell)
		}
	}

	if clip && !anyIncluded {
		return nil, ErrNoValidRegion
	}
	return g, nil
}

// Included returns the number of cells currently marked for extraction.
func (g *Grid) Included() int {
	n := 0
	for i := range g.Cells {
		if g.Cells[i].Include {
			n++
		}
	}
	return n
}

// At returns the cell at grid coordinates (col, row).
func (g *Grid) At(col, row int) *Cell {
	return &g.Cells[row*g.Cols+col]
}

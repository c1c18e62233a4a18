// Package slide provides whole-slide image access: region reads, thumbnail
// generation, and vendor metadata probing.
package slide

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// ErrCorruptTile indicates a region of the slide raster failed to decode.
// Jobs retry once with downsampled reading disabled before treating the
// slide as failed.
var ErrCorruptTile = errors.New("corrupt tile region")

// Slide is an opened whole-slide image. Immutable once opened; Close frees
// the underlying raster.
type Slide struct {
	Path string
	Name string

	mat   gocv.Mat
	scale int // full-resolution pixels per stored pixel
	mpp   float64
}

// Open decodes a slide image. When downsample is true the raster is read at
// half resolution, which is faster but can surface corruption in reduced
// pyramid layers; coordinates remain in full-resolution pixel space either
// way.
func Open(path string, downsample bool) (*Slide, error) {
	flags := gocv.IMReadColor
	scale := 1
	if downsample {
		flags = gocv.IMReadReducedColor2
		scale = 2
	}

	mat := gocv.IMRead(path, flags)
	if mat.Empty() {
		return nil, fmt.Errorf("decode slide %s: empty raster", path)
	}

	s := &Slide{
		Path:  path,
		Name:  pathToName(path),
		mat:   mat,
		scale: scale,
	}
	if mpp, err := ReadMPP(path); err == nil {
		s.mpp = mpp
	}
	return s, nil
}

// Dims returns the slide extent in full-resolution pixels.
func (s *Slide) Dims() (int, int) {
	return s.mat.Cols() * s.scale, s.mat.Rows() * s.scale
}

// MPP returns the microns-per-pixel resolution, or 0 if unknown.
func (s *Slide) MPP() float64 { return s.mpp }

// Tile extracts a size×size region at full-resolution origin (x, y) and
// resizes it to out×out pixels. Decode failures are reported as
// ErrCorruptTile.
func (s *Slide) Tile(x, y, size, out int) (*image.RGBA, error) {
	w, h := s.Dims()
	if x < 0 || y < 0 || x+size > w || y+size > h {
		return nil, fmt.Errorf("tile (%d,%d)+%d outside slide extent %dx%d", x, y, size, w, h)
	}

	rect := image.Rect(x/s.scale, y/s.scale, (x+size)/s.scale, (y+size)/s.scale)
	region := s.mat.Region(rect)
	defer region.Close()
	if region.Empty() {
		return nil, fmt.Errorf("%w: region (%d,%d)+%d of %s", ErrCorruptTile, x, y, size, s.Name)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, image.Pt(out, out), 0, 0, gocv.InterpolationArea)

	img, err := matToRGBA(resized)
	if err != nil {
		return nil, fmt.Errorf("%w: region (%d,%d)+%d of %s: %v", ErrCorruptTile, x, y, size, s.Name, err)
	}
	return img, nil
}

// Thumbnail returns a whole-slide image downsampled so its longest edge is
// at most maxDim pixels. Used for normalizer context fits and export.
func (s *Slide) Thumbnail(maxDim int) (*image.RGBA, error) {
	cols, rows := s.mat.Cols(), s.mat.Rows()
	longest := cols
	if rows > longest {
		longest = rows
	}

	dst := gocv.NewMat()
	defer dst.Close()
	if longest <= maxDim {
		s.mat.CopyTo(&dst)
	} else {
		f := float64(maxDim) / float64(longest)
		gocv.Resize(s.mat, &dst, image.Pt(0, 0), f, f, gocv.InterpolationArea)
	}

	img, err := matToRGBA(dst)
	if err != nil {
		return nil, fmt.Errorf("thumbnail of %s: %w", s.Name, err)
	}
	return img, nil
}

// Close releases the slide raster.
func (s *Slide) Close() error {
	return s.mat.Close()
}

// pathToName strips directory and extension from a slide path.
func pathToName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SupportedFormats returns the list of supported slide image formats.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".svs", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

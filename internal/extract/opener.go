// Package extract schedules per-slide tile extraction jobs across a
// bounded worker pool, with staging-buffer support, corruption retry, and
// resumable output.
package extract

import (
	"image"

	"slide-tiler/internal/slide"
)

// Reader is the slide surface a job needs. *slide.Slide satisfies it; tests
// substitute fakes.
type Reader interface {
	Dims() (int, int)
	MPP() float64
	Tile(x, y, size, out int) (*image.RGBA, error)
	Thumbnail(maxDim int) (*image.RGBA, error)
	Close() error
}

// Opener opens slides for jobs.
type Opener interface {
	Open(path string, downsample bool) (Reader, error)
}

type slideOpener struct{}

func (slideOpener) Open(path string, downsample bool) (Reader, error) {
	return slide.Open(path, downsample)
}

// DefaultOpener opens slides through the gocv-backed slide package.
var DefaultOpener Opener = slideOpener{}

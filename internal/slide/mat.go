package slide

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// matToRGBA converts a BGR Mat to an RGBA image.
func matToRGBA(m gocv.Mat) (*image.RGBA, error) {
	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(m, &rgba, gocv.ColorBGRToRGBA)

	img, err := rgba.ToImage()
	if err != nil {
		return nil, err
	}
	switch t := img.(type) {
	case *image.RGBA:
		return t, nil
	default:
		// Some Mat types decode to other image kinds; repack.
		bounds := img.Bounds()
		out := image.NewRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.Set(x, y, img.At(x, y))
			}
		}
		return out, nil
	}
}

// rgbaToMat converts an RGBA image to a BGR Mat.
func rgbaToMat(img *image.RGBA) (gocv.Mat, error) {
	bounds := img.Bounds()
	mat, err := gocv.NewMatFromBytes(bounds.Dy(), bounds.Dx(), gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("mat from image: %w", err)
	}

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)
	mat.Close()
	return bgr, nil
}

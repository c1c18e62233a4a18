package extract

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"slide-tiler/internal/norm"

	_ "image/jpeg" // reference image decoding
	_ "image/png"

	_ "golang.org/x/image/tiff"
)

// buildNormalizer constructs a normalizer from configuration: a named
// preset, a reference image path, or neither (preset "v1" by default).
// Returns nil when no strategy is configured.
func buildNormalizer(cfg NormalizerConfig) (*norm.Normalizer, error) {
	if cfg.Strategy == "" {
		return nil, nil
	}

	variant, err := norm.ParseVariant(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	n := norm.New(variant, cfg.MaskThreshold)

	switch {
	case cfg.Source != "":
		ref, err := loadRGBA(cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("load normalizer source: %w", err)
		}
		if _, err := n.Fit(ref, true); err != nil {
			return nil, err
		}
	case cfg.Preset != "":
		if err := n.FitPreset(cfg.Preset); err != nil {
			return nil, err
		}
	default:
		if err := n.FitPreset("v1"); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// loadRGBA decodes an image file into RGBA.
func loadRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

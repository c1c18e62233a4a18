// Command normpreview applies stain normalization to a single image and
// writes the result, for eyeballing normalizer settings before a full
// extraction run.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"slide-tiler/internal/norm"

	_ "image/jpeg"

	_ "golang.org/x/image/tiff"
)

func main() {
	imagePath := flag.String("image", "", "Path to input image (TIFF, PNG, or JPEG)")
	outPath := flag.String("out", "normalized.png", "Output PNG path")
	strategy := flag.String("strategy", "reinhard-fast", "Normalizer variant: reinhard or reinhard-fast")
	preset := flag.String("preset", "v1", "Named preset fit")
	source := flag.String("source", "", "Reference image to fit instead of a preset")
	threshold := flag.Float64("threshold", 0, "Whitespace mask threshold (0 disables)")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: normpreview -image <path> [-strategy reinhard-fast] [-preset v1] [-out normalized.png]")
		os.Exit(1)
	}

	img, err := loadRGBA(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	bounds := img.Bounds()
	fmt.Printf("Loaded %s: %dx%d pixels\n", *imagePath, bounds.Dx(), bounds.Dy())

	variant, err := norm.ParseVariant(*strategy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	n := norm.New(variant, *threshold)
	if *source != "" {
		ref, err := loadRGBA(*source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load reference: %v\n", err)
			os.Exit(1)
		}
		fit, err := n.Fit(ref, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fit failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Fitted reference: means %.2f %.2f %.2f, stds %.2f %.2f %.2f\n",
			fit.Mean[0], fit.Mean[1], fit.Mean[2], fit.Std[0], fit.Std[1], fit.Std[2])
	} else {
		if err := n.FitPreset(*preset); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Using preset %q\n", *preset)
	}

	out := n.Transform(img)

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := png.Encode(f, out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *outPath)
}

func loadRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

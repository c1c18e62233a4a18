package norm

import (
	"errors"
	"image"
	"testing"

	"slide-tiler/pkg/colorspace"
)

func uniformTile(w, h int, r, g, b uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = 255
	}
	return img
}

// tissueTile builds a tile with pinkish variation resembling stained
// tissue, so channel statistics are non-degenerate.
func tissueTile(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*img.Stride + x*4
			img.Pix[i] = uint8(180 + (x+y)%60)
			img.Pix[i+1] = uint8(90 + x%80)
			img.Pix[i+2] = uint8(140 + y%70)
			img.Pix[i+3] = 255
		}
	}
	return img
}

func TestFitMaskedExcludesBackground(t *testing.T) {
	tile := tissueTile(16, 16)
	// Paint half the tile pure white.
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			i := y*tile.Stride + x*4
			tile.Pix[i], tile.Pix[i+1], tile.Pix[i+2] = 255, 255, 255
		}
	}

	masked, err := FitImage(tile, true, Fast)
	if err != nil {
		t.Fatalf("masked fit: %v", err)
	}
	unmasked, err := FitImage(tile, false, Fast)
	if err != nil {
		t.Fatalf("unmasked fit: %v", err)
	}
	// White pixels push mean lightness up; masking must remove that pull.
	if masked.Mean[0] >= unmasked.Mean[0] {
		t.Errorf("masked L mean %f not below unmasked %f", masked.Mean[0], unmasked.Mean[0])
	}
}

func TestFitEmptyMask(t *testing.T) {
	white := uniformTile(8, 8, 255, 255, 255)
	if _, err := FitImage(white, true, Fast); !errors.Is(err, ErrEmptyMask) {
		t.Fatalf("got %v, want ErrEmptyMask", err)
	}

	n := New(Fast, 0)
	if err := n.SetContext(white); !errors.Is(err, ErrEmptyMask) {
		t.Fatalf("SetContext: got %v, want ErrEmptyMask", err)
	}
}

// A tile whose statistics already equal the target fit must come back
// unchanged within rounding.
func TestTransformIdempotent(t *testing.T) {
	tile := tissueTile(32, 32)

	n := New(Fast, 0)
	if _, err := n.Fit(tile, false); err != nil {
		t.Fatal(err)
	}

	out := n.Transform(tile)
	for i := 0; i < len(tile.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			d := int(out.Pix[i+c]) - int(tile.Pix[i+c])
			if d < -1 || d > 1 {
				t.Fatalf("pixel %d channel %d moved by %d", i/4, c, d)
			}
		}
	}
}

func TestTransformUniformInputNoDivideByZero(t *testing.T) {
	n := New(Fast, 0)
	if err := n.FitPreset("v1"); err != nil {
		t.Fatal(err)
	}

	tile := uniformTile(8, 8, 120, 60, 90)
	out := n.Transform(tile)

	// Uniform in, uniform out; and every byte must be a valid value
	// (ToRGB clamps, so it suffices that the output pixels all agree).
	first := [3]uint8{out.Pix[0], out.Pix[1], out.Pix[2]}
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] != first[0] || out.Pix[i+1] != first[1] || out.Pix[i+2] != first[2] {
			t.Fatalf("uniform input produced non-uniform output at pixel %d", i/4)
		}
	}
}

func TestTransformMaskInvariance(t *testing.T) {
	tile := tissueTile(16, 16)
	// Bright rows that must survive untouched.
	for y := 0; y < 4; y++ {
		for x := 0; x < 16; x++ {
			i := y*tile.Stride + x*4
			tile.Pix[i], tile.Pix[i+1], tile.Pix[i+2] = 250, 248, 252
		}
	}

	n := New(Fast, 0.90)
	if err := n.FitPreset("v1"); err != nil {
		t.Fatal(err)
	}
	out := n.Transform(tile)

	changed := false
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			i := y*tile.Stride + x*4
			l, _, _ := colorspace.PixelToLAB(tile.Pix[i], tile.Pix[i+1], tile.Pix[i+2])
			same := out.Pix[i] == tile.Pix[i] && out.Pix[i+1] == tile.Pix[i+1] && out.Pix[i+2] == tile.Pix[i+2]
			if l/100.0 >= 0.90 && !same {
				t.Fatalf("masked pixel (%d,%d) modified", x, y)
			}
			if !same {
				changed = true
			}
		}
	}
	if !changed {
		t.Fatal("transform modified nothing; test tile too uniform")
	}
}

func TestImageContextClearsOnAllPaths(t *testing.T) {
	ctxImg := tissueTile(16, 16)
	n := New(Fast, 0)
	if err := n.FitPreset("v1"); err != nil {
		t.Fatal(err)
	}

	if err := n.ImageContext(ctxImg, func() error {
		if n.contextFit() == nil {
			t.Fatal("context not set inside scope")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if n.contextFit() != nil {
		t.Fatal("context not cleared after clean exit")
	}

	wantErr := errors.New("boom")
	if err := n.ImageContext(ctxImg, func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want wrapped boom", err)
	}
	if n.contextFit() != nil {
		t.Fatal("context not cleared after error exit")
	}
}

func TestContextOverridesTileStatistics(t *testing.T) {
	tile := tissueTile(16, 16)
	ctxImg := uniformTileNoise(32, 32)

	n := New(Fast, 0)
	if err := n.FitPreset("v1"); err != nil {
		t.Fatal(err)
	}

	plain := n.Transform(tile)

	var underCtx *image.RGBA
	err := n.ImageContext(ctxImg, func() error {
		underCtx = n.Transform(tile)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if equalPix(plain, underCtx) {
		t.Fatal("context statistics had no effect on transform")
	}

	after := n.Transform(tile)
	if !equalPix(plain, after) {
		t.Fatal("transform after context scope differs from before")
	}
}

func TestParseVariant(t *testing.T) {
	cases := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{"reinhard", Standard, false},
		{"reinhard-fast", Fast, false},
		{"reinhard_fast", Fast, false},
		{"macenko", Fast, true},
	}
	for _, tc := range cases {
		got, err := ParseVariant(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseVariant(%q) error = %v", tc.in, err)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseVariant(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPresetLookup(t *testing.T) {
	for _, v := range []Variant{Fast, Standard} {
		if _, err := Preset(v, "v1"); err != nil {
			t.Errorf("missing v1 preset for variant %d: %v", v, err)
		}
	}
	if _, err := Preset(Fast, "v99"); err == nil {
		t.Error("unknown preset did not error")
	}
}

// uniformTileNoise builds a dim greenish tile with slight variation, far
// from tissueTile statistics.
func uniformTileNoise(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*img.Stride + x*4
			img.Pix[i] = uint8(40 + x%20)
			img.Pix[i+1] = uint8(160 + y%30)
			img.Pix[i+2] = uint8(60 + (x*y)%25)
			img.Pix[i+3] = 255
		}
	}
	return img
}

func equalPix(a, b *image.RGBA) bool {
	if len(a.Pix) != len(b.Pix) {
		return false
	}
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			return false
		}
	}
	return true
}

package norm

import "testing"

func TestStandardizeBrightness(t *testing.T) {
	// Dim tile: brightest channel value is 100, so everything scales up.
	dim := uniformTile(8, 8, 100, 50, 80)
	out := StandardizeBrightness(dim, false)
	if out.Pix[0] != 255 {
		t.Errorf("brightest channel = %d, want 255", out.Pix[0])
	}
	// Proportions are preserved: 50/100 maps to ~128.
	if d := int(out.Pix[1]) - 128; d < -1 || d > 1 {
		t.Errorf("mid channel = %d, want ~128", out.Pix[1])
	}
	// Input untouched.
	if dim.Pix[0] != 100 {
		t.Error("input modified")
	}
}

func TestStandardizeBrightnessPreservesAlpha(t *testing.T) {
	tile := tissueTile(8, 8)
	out := StandardizeBrightness(tile, false)
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i+3] != 255 {
			t.Fatal("alpha not preserved")
		}
	}
}

func TestStandardizeBrightnessMasked(t *testing.T) {
	// Dim tissue with a white background stripe. Unmasked, the white pixels
	// dominate the percentile and the tissue barely moves; masked, the
	// tissue itself is rescaled.
	tile := uniformTile(10, 10, 100, 50, 80)
	for x := 0; x < 10; x++ {
		i := x * 4
		tile.Pix[i], tile.Pix[i+1], tile.Pix[i+2] = 255, 255, 255
	}

	unmasked := StandardizeBrightness(tile, false)
	masked := StandardizeBrightness(tile, true)

	// Tissue pixel at row 1.
	j := tile.Stride + 0
	if masked.Pix[j] <= unmasked.Pix[j] {
		t.Errorf("masked tissue channel %d not brighter than unmasked %d", masked.Pix[j], unmasked.Pix[j])
	}
	if masked.Pix[j] != 255 {
		t.Errorf("masked brightest tissue channel = %d, want 255", masked.Pix[j])
	}
}

func TestStandardizeBrightnessAllBackground(t *testing.T) {
	white := uniformTile(4, 4, 255, 255, 255)
	out := StandardizeBrightness(white, true)
	if !equalPix(white, out) {
		t.Error("all-background image not returned unchanged")
	}
}

package slide

import (
	"os"
	"path/filepath"
	"testing"
)

func writeROI(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".csv"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadROIsTwoColumn(t *testing.T) {
	dir := t.TempDir()
	writeROI(t, dir, "slide_a", "x,y\n0,0\n100,0\n100,100\n0,100\n")

	polys, err := LoadROIs(dir, "slide_a")
	if err != nil {
		t.Fatal(err)
	}
	if len(polys) != 1 {
		t.Fatalf("%d polygons, want 1", len(polys))
	}
	if len(polys[0]) != 4 {
		t.Errorf("%d points, want 4", len(polys[0]))
	}
	if polys[0][2].X != 100 || polys[0][2].Y != 100 {
		t.Errorf("point 2 = %+v", polys[0][2])
	}
}

func TestLoadROIsNamedPolygons(t *testing.T) {
	dir := t.TempDir()
	writeROI(t, dir, "slide_b",
		"roi_name,x,y\n"+
			"tumor,0,0\ntumor,50,0\ntumor,25,40\n"+
			"stroma,100,100\nstroma,150,100\nstroma,150,150\nstroma,100,150\n")

	polys, err := LoadROIs(dir, "slide_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(polys) != 2 {
		t.Fatalf("%d polygons, want 2", len(polys))
	}
	if len(polys[0]) != 3 || len(polys[1]) != 4 {
		t.Errorf("polygon sizes = %d, %d", len(polys[0]), len(polys[1]))
	}
}

func TestLoadROIsDropsDegeneratePolygons(t *testing.T) {
	dir := t.TempDir()
	// The "line" group has only two points and cannot form a polygon.
	writeROI(t, dir, "slide_c",
		"roi_name,x,y\n"+
			"line,0,0\nline,10,10\n"+
			"tri,0,0\ntri,10,0\ntri,5,10\n")

	polys, err := LoadROIs(dir, "slide_c")
	if err != nil {
		t.Fatal(err)
	}
	if len(polys) != 1 || len(polys[0]) != 3 {
		t.Fatalf("polys = %v", polys)
	}

	// All groups degenerate: no polygons at all is an error.
	writeROI(t, dir, "slide_d", "x,y\n0,0\n10,10\n")
	if _, err := LoadROIs(dir, "slide_d"); err == nil {
		t.Error("degenerate-only ROI file accepted")
	}
}

func TestLoadROIsMissingFile(t *testing.T) {
	_, err := LoadROIs(t.TempDir(), "slide_x")
	if !os.IsNotExist(err) {
		t.Fatalf("got %v, want not-exist", err)
	}
}

func TestLoadROIsBadCoordinates(t *testing.T) {
	dir := t.TempDir()
	writeROI(t, dir, "slide_e", "x,y\n0,0\nten,0\n5,10\n")
	if _, err := LoadROIs(dir, "slide_e"); err == nil {
		t.Error("bad coordinates past the header accepted")
	}
}

package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Names()) != 0 {
		t.Errorf("missing file yielded %d entries", len(m.Names()))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m.Set("slide_a", Entry{Tiles: 120, Label: "training"})
	m.Set("slide_b", Entry{Tiles: 45})
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	m2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	a, ok := m2.Get("slide_a")
	if !ok || a.Tiles != 120 || a.Label != "training" {
		t.Errorf("slide_a = %+v, ok=%v", a, ok)
	}
	b, ok := m2.Get("slide_b")
	if !ok || b.Tiles != 45 || b.Label != "" {
		t.Errorf("slide_b = %+v, ok=%v", b, ok)
	}
	if got := m2.TotalTiles(); got != 165 {
		t.Errorf("TotalTiles = %d, want 165", got)
	}

	names := m2.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "slide_a" || names[1] != "slide_b" {
		t.Errorf("Names = %v", names)
	}
}

func TestSetOverwritesAndRemove(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	m.Set("slide_a", Entry{Tiles: 10})
	m.Set("slide_a", Entry{Tiles: 20, Label: "validation"})
	e, _ := m.Get("slide_a")
	if e.Tiles != 20 || e.Label != "validation" {
		t.Errorf("overwrite lost: %+v", e)
	}

	m.Remove("slide_a")
	if _, ok := m.Get("slide_a"); ok {
		t.Error("entry survives Remove")
	}
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m.Set("slide_a", Entry{Tiles: 1})
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}
}

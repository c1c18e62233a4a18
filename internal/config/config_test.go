package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slidetiler.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
slides_dir: /data/slides
records_dir: /data/records
tile:
  px: 512
  um: 302
normalizer:
  strategy: reinhard-fast
  preset: v1
extraction:
  workers: 8
  isolate: true
validation:
  strategy: k-fold
  k: 5
`)

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.SlidesDir != "/data/slides" || c.RecordsDir != "/data/records" {
		t.Errorf("paths = %q, %q", c.SlidesDir, c.RecordsDir)
	}
	if c.Tile.Px != 512 || c.Tile.UM != 302 {
		t.Errorf("tile = %+v", c.Tile)
	}
	if c.Extraction.Workers != 8 || !c.Extraction.Isolate {
		t.Errorf("extraction = %+v", c.Extraction)
	}
	if c.Validation.Strategy != "k-fold" || c.Validation.K != 5 {
		t.Errorf("validation = %+v", c.Validation)
	}

	// Untouched fields keep their defaults.
	if c.Tile.StrideDiv != 1 {
		t.Errorf("stride_div = %d, want default 1", c.Tile.StrideDiv)
	}
	if c.QC.GrayspaceFraction != 0.6 {
		t.Errorf("grayspace_fraction = %g, want default 0.6", c.QC.GrayspaceFraction)
	}
	if c.Extraction.ThreadsPerWorker != 4 {
		t.Errorf("threads_per_worker = %d, want default 4", c.Extraction.ThreadsPerWorker)
	}
	if c.Extraction.Format != "jpeg" {
		t.Errorf("format = %q, want default jpeg", c.Extraction.Format)
	}
}

func TestLoadRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing slides_dir", "records_dir: /data/records\n"},
		{"missing records_dir", "slides_dir: /data/slides\n"},
		{"bad tile size", "slides_dir: /a\nrecords_dir: /b\ntile:\n  px: 0\n"},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: no error", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config accepted")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "slides_dir: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Error("malformed YAML accepted")
	}
}

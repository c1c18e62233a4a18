// Package config loads the pipeline configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration.
type Config struct {
	SlidesDir  string `yaml:"slides_dir"`
	RecordsDir string `yaml:"records_dir"`
	Manifest   string `yaml:"manifest"`

	Tile struct {
		Px        int     `yaml:"px"`
		UM        float64 `yaml:"um"`
		StrideDiv int     `yaml:"stride_div"`
	} `yaml:"tile"`

	ROI struct {
		Dir         string `yaml:"dir"`
		Method      string `yaml:"method"`
		SkipMissing bool   `yaml:"skip_missing"`
	} `yaml:"roi"`

	QC struct {
		WhitespaceFraction  float64 `yaml:"whitespace_fraction"`
		WhitespaceThreshold uint8   `yaml:"whitespace_threshold"`
		GrayspaceFraction   float64 `yaml:"grayspace_fraction"`
		GrayspaceThreshold  float64 `yaml:"grayspace_threshold"`
	} `yaml:"qc"`

	Normalizer struct {
		Strategy      string  `yaml:"strategy"`
		Preset        string  `yaml:"preset"`
		Source        string  `yaml:"source"`
		MaskThreshold float64 `yaml:"mask_threshold"`
		Context       bool    `yaml:"context"`
	} `yaml:"normalizer"`

	Extraction struct {
		Workers          int    `yaml:"workers"`
		ThreadsPerWorker int    `yaml:"threads_per_worker"`
		Buffer           string `yaml:"buffer"`
		Downsample       bool   `yaml:"downsample"`
		SkipExtracted    bool   `yaml:"skip_extracted"`
		Isolate          bool   `yaml:"isolate"`
		Format           string `yaml:"format"`
	} `yaml:"extraction"`

	Validation struct {
		Strategy string  `yaml:"strategy"`
		Fraction float64 `yaml:"fraction"`
		K        int     `yaml:"k"`
		Target   string  `yaml:"target"` // per-slide or per-tile
		Plan     string  `yaml:"plan"`   // plan file path
	} `yaml:"validation"`
}

// Default returns a configuration with sensible defaults; Load applies
// the file on top of it.
func Default() Config {
	var c Config
	c.Tile.Px = 299
	c.Tile.StrideDiv = 1
	c.ROI.Method = "inside"
	c.ROI.SkipMissing = true
	c.QC.WhitespaceFraction = 1.0
	c.QC.WhitespaceThreshold = 230
	c.QC.GrayspaceFraction = 0.6
	c.QC.GrayspaceThreshold = 0.05
	c.Extraction.Workers = 4
	c.Extraction.ThreadsPerWorker = 4
	c.Extraction.SkipExtracted = true
	c.Extraction.Format = "jpeg"
	c.Validation.Strategy = "none"
	c.Validation.Fraction = 0.2
	c.Validation.K = 3
	c.Validation.Target = "per-slide"
	return c
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}

	if c.SlidesDir == "" {
		return c, fmt.Errorf("config %s: slides_dir is required", path)
	}
	if c.RecordsDir == "" {
		return c, fmt.Errorf("config %s: records_dir is required", path)
	}
	if c.Tile.Px <= 0 {
		return c, fmt.Errorf("config %s: tile.px must be positive", path)
	}
	return c, nil
}

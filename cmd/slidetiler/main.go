// Command slidetiler extracts tiles from whole-slide images into record
// files and plans training/validation partitions over the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"slide-tiler/internal/config"
	"slide-tiler/internal/extract"
	"slide-tiler/internal/manifest"
	"slide-tiler/internal/qc"
	"slide-tiler/internal/slide"
	"slide-tiler/internal/tilerec"
	"slide-tiler/internal/validation"
)

const appVersion = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "slidetiler.yaml", "Path to pipeline configuration")
	workerMode := flag.Bool(extract.WorkerFlag, false, "Run as an extraction worker process (internal)")
	fold := flag.Int("fold", 1, "K-fold iteration to report for the split command (1-based)")
	flag.Parse()

	if *workerMode {
		os.Exit(extract.WorkerMain(os.Stdin, os.Stdout))
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: slidetiler [-config <path>] extract|split")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch flag.Arg(0) {
	case "extract":
		if err := runExtract(cfg); err != nil {
			log.Fatalf("Extraction failed: %v", err)
		}
	case "split":
		if err := runSplit(cfg, *fold-1); err != nil {
			log.Fatalf("Split failed: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", flag.Arg(0))
		os.Exit(1)
	}
}

func runExtract(cfg config.Config) error {
	log.Printf("slidetiler v%s: extracting tiles (%d px)", appVersion, cfg.Tile.Px)

	slides, err := enumerateSlides(cfg.SlidesDir)
	if err != nil {
		return err
	}
	if len(slides) == 0 {
		return fmt.Errorf("no slides found in %s", cfg.SlidesDir)
	}
	log.Printf("Found %d slides in %s", len(slides), cfg.SlidesDir)

	if err := os.MkdirAll(cfg.RecordsDir, 0755); err != nil {
		return err
	}
	if cfg.Extraction.Buffer != "" {
		if err := os.MkdirAll(cfg.Extraction.Buffer, 0755); err != nil {
			return err
		}
	}

	man, err := manifest.Load(manifestPath(cfg))
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	base := extract.Request{
		RecordDir:      cfg.RecordsDir,
		BufferDir:      cfg.Extraction.Buffer,
		ROIDir:         cfg.ROI.Dir,
		ROIMode:        cfg.ROI.Method,
		SkipMissingROI: cfg.ROI.SkipMissing,
		TilePx:         cfg.Tile.Px,
		TileUM:         cfg.Tile.UM,
		StrideDiv:      cfg.Tile.StrideDiv,
		Downsample:     cfg.Extraction.Downsample,
		QC: qc.Thresholds{
			WhitespaceFraction:  cfg.QC.WhitespaceFraction,
			WhitespaceThreshold: cfg.QC.WhitespaceThreshold,
			GrayspaceFraction:   cfg.QC.GrayspaceFraction,
			GrayspaceThreshold:  cfg.QC.GrayspaceThreshold,
		},
		Norm: extract.NormalizerConfig{
			Strategy:      cfg.Normalizer.Strategy,
			Preset:        cfg.Normalizer.Preset,
			Source:        cfg.Normalizer.Source,
			MaskThreshold: cfg.Normalizer.MaskThreshold,
			UseContext:    cfg.Normalizer.Context,
		},
		ImageFormat: cfg.Extraction.Format,
		Threads:     cfg.Extraction.ThreadsPerWorker,
	}

	orch := extract.New(extract.Options{
		Workers:       cfg.Extraction.Workers,
		SkipExtracted: cfg.Extraction.SkipExtracted,
		Isolate:       cfg.Extraction.Isolate,
	}, man)

	if _, err := orch.Run(context.Background(), slides, base); err != nil {
		return err
	}

	if cfg.Validation.Strategy != string(validation.None) && cfg.Validation.Strategy != "" {
		return runSplit(cfg, 0)
	}
	return nil
}

func runSplit(cfg config.Config, foldIndex int) error {
	man, err := manifest.Load(manifestPath(cfg))
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	ids, err := recordIdentifiers(cfg, man)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no complete records to partition")
	}

	params := validation.Params{
		Strategy: validation.Strategy(cfg.Validation.Strategy),
		Fraction: cfg.Validation.Fraction,
		K:        cfg.Validation.K,
	}
	if params.Strategy == validation.Bootstrap && cfg.Validation.Target == "per-tile" {
		log.Printf("Bootstrap is not supported with per-tile granularity; using a fixed split")
		params.Strategy = validation.Fixed
	}

	plan, reused, err := validation.Resolve(planPath(cfg), ids, params)
	if err != nil {
		return err
	}
	if reused {
		log.Printf("Using persisted validation plan at %s", planPath(cfg))
	} else {
		log.Printf("Generated new %s validation plan over %d records", plan.Strategy, len(plan.Records))
	}

	training, val, err := plan.Split(foldIndex)
	if err != nil {
		return err
	}
	log.Printf("Split: %d training, %d validation records", len(training), len(val))
	return nil
}

// recordIdentifiers lists the identifiers the validation plan partitions:
// record names for per-slide granularity, per-tile identifiers derived
// from manifest tile counts otherwise.
func recordIdentifiers(cfg config.Config, man *manifest.Manifest) ([]string, error) {
	names := man.Names()
	sort.Strings(names)

	complete := names[:0]
	for _, name := range names {
		if tilerec.IsComplete(filepath.Join(cfg.RecordsDir, name+tilerec.Ext)) {
			complete = append(complete, name)
		}
	}

	if cfg.Validation.Target != "per-tile" {
		return complete, nil
	}

	var ids []string
	for _, name := range complete {
		entry, _ := man.Get(name)
		for i := 0; i < entry.Tiles; i++ {
			ids = append(ids, fmt.Sprintf("%s/%06d", name, i))
		}
	}
	return ids, nil
}

func enumerateSlides(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var slides []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if slide.IsSupportedFormat(path) {
			slides = append(slides, path)
		}
	}
	sort.Strings(slides)
	return slides, nil
}

func manifestPath(cfg config.Config) string {
	if cfg.Manifest != "" {
		return cfg.Manifest
	}
	return filepath.Join(cfg.RecordsDir, "manifest.json")
}

func planPath(cfg config.Config) string {
	if cfg.Validation.Plan != "" {
		return cfg.Validation.Plan
	}
	return filepath.Join(cfg.RecordsDir, "validation_plan.json")
}

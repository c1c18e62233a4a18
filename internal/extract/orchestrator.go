package extract

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"slide-tiler/internal/grid"
	"slide-tiler/internal/manifest"
	"slide-tiler/internal/progress"
	"slide-tiler/internal/slide"
	"slide-tiler/internal/tilerec"
)

// Options configures an orchestrator run.
type Options struct {
	Workers       int           // in-flight slides; defaults to 4
	SkipExtracted bool          // skip slides whose record output is complete
	Isolate       bool          // run each job in a separate worker process
	WorkerBin     string        // worker binary; defaults to the current executable
	LogInterval   time.Duration // progress report period; defaults to 10s
}

// Summary aggregates the outcome of a run.
type Summary struct {
	Extracted int
	Skipped   int
	Failed    int
	Tiles     int
	Failures  map[string]string // slide name -> reason
}

// Orchestrator schedules slide jobs across a bounded worker pool and owns
// the manifest and the staging buffer directory for the run.
type Orchestrator struct {
	opts   Options
	man    *manifest.Manifest
	opener Opener
}

// New creates an orchestrator writing to the given manifest.
func New(opts Options, man *manifest.Manifest) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = 10 * time.Second
	}
	return &Orchestrator{opts: opts, man: man, opener: DefaultOpener}
}

// SetOpener substitutes the slide opener, for tests.
func (o *Orchestrator) SetOpener(op Opener) { o.opener = op }

// Plan computes which of the given slides still need extraction. A slide
// is skipped when its record file is complete and carries no
// interrupted-job marker; a marker forces re-extraction regardless of
// partial output.
func (o *Orchestrator) Plan(slidePaths []string, recordDir string) (queued, skipped []string) {
	for _, path := range slidePaths {
		name := pathToName(path)
		recordPath := filepath.Join(recordDir, name+tilerec.Ext)

		if tilerec.HasMarker(recordPath) {
			log.Printf("Interrupted extraction detected for %s; will re-extract", name)
			queued = append(queued, path)
			continue
		}
		if o.opts.SkipExtracted && tilerec.IsComplete(recordPath) {
			skipped = append(skipped, path)
			continue
		}
		queued = append(queued, path)
	}
	return queued, skipped
}

// verify opens each queued slide, builds its grid, and sums estimated tile
// counts so the progress counter reflects tile-level totals. Slides that
// fail verification stay queued; the job will surface the failure with a
// proper reason.
func (o *Orchestrator) verify(paths []string, base Request) int64 {
	var total int64
	for _, path := range paths {
		name := pathToName(path)
		reader, err := o.opener.Open(path, base.Downsample)
		if err != nil {
			log.Printf("Verification of %s failed: %v", name, err)
			continue
		}

		width, height := reader.Dims()
		extractPx := base.TilePx
		if base.TileUM > 0 && reader.MPP() > 0 {
			extractPx = int(base.TileUM/reader.MPP() + 0.5)
		}

		polys, roiErr := loadROIs(base, name)
		if roiErr != nil {
			log.Printf("Verification of %s failed: %v", name, roiErr)
			reader.Close()
			continue
		}
		g, gerr := grid.Build(width, height, extractPx, base.StrideDiv, polys, grid.ROIMode(base.ROIMode))
		reader.Close()
		if gerr != nil {
			log.Printf("Verification of %s failed: %v", name, gerr)
			continue
		}

		n := g.Included()
		log.Printf("Verified %s (approx. %d tiles)", name, n)
		total += int64(n)
	}
	return total
}

// Run drains the slide queue through the worker pool and blocks until all
// workers have reported Done or Failed, then finalizes the manifest.
// Per-slide failures are recorded and do not abort the run.
func (o *Orchestrator) Run(ctx context.Context, slidePaths []string, base Request) (Summary, error) {
	summary := Summary{Failures: make(map[string]string)}

	queued, skipped := o.Plan(slidePaths, base.RecordDir)
	summary.Skipped = len(skipped)
	if len(skipped) > 0 {
		log.Printf("Skipping %d slides with complete records", len(skipped))
	}
	if len(queued) == 0 {
		return summary, nil
	}

	log.Printf("Verifying %d slides...", len(queued))
	total := o.verify(queued, base)
	log.Printf("Verification complete; approx. %d tiles to extract", total)

	counter := progress.NewCounter(total)
	logCtx, stopLog := context.WithCancel(ctx)
	defer stopLog()
	counter.LogEvery(logCtx, o.opts.LogInterval)

	workerBin := o.opts.WorkerBin
	if o.opts.Isolate && workerBin == "" {
		exe, err := os.Executable()
		if err != nil {
			return summary, fmt.Errorf("resolve worker binary: %w", err)
		}
		workerBin = exe
	}

	queue := make(chan string, len(queued))
	results := make(chan Result, len(queued))

	var wg sync.WaitGroup
	wg.Add(o.opts.Workers)
	for w := 0; w < o.opts.Workers; w++ {
		go func() {
			defer wg.Done()
			for path := range queue {
				req := base
				req.SlidePath = path

				var res Result
				if o.opts.Isolate {
					res = RunIsolated(ctx, workerBin, req, counter)
				} else {
					res = runGuarded(ctx, req, o.opener, counter)
				}
				results <- res
			}
		}()
	}

	for _, path := range queued {
		queue <- path
	}
	close(queue)

	var cwg sync.WaitGroup
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		for res := range results {
			switch res.State {
			case StateDone:
				summary.Extracted++
				summary.Tiles += res.Tiles
				o.man.Set(res.Slide, manifest.Entry{Tiles: res.Tiles})
				if err := o.man.Save(); err != nil {
					log.Printf("Manifest update after %s failed: %v", res.Slide, err)
				}
				log.Printf("Extracted %s (%d tiles)", res.Slide, res.Tiles)
			case StateFailed:
				summary.Failed++
				summary.Failures[res.Slide] = res.Err
				log.Printf("Slide %s failed: %s", res.Slide, res.Err)
			}
		}
	}()

	wg.Wait()
	close(results)
	cwg.Wait()

	if err := o.man.Save(); err != nil {
		return summary, fmt.Errorf("finalize manifest: %w", err)
	}

	logSummary(summary)
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// runGuarded executes a job in-process, converting a panic into a Failed
// result so one slide cannot take down the orchestrator.
func runGuarded(ctx context.Context, req Request, opener Opener, counter *progress.Counter) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Slide: pathToName(req.SlidePath),
				State: StateFailed,
				Err:   fmt.Sprintf("panic during extraction: %v", r),
			}
		}
	}()
	return NewJob(req, opener, counter).Run(ctx)
}

func logSummary(s Summary) {
	log.Printf("Extraction complete: %d extracted (%d tiles), %d skipped, %d failed",
		s.Extracted, s.Tiles, s.Skipped, s.Failed)
	if len(s.Failures) == 0 {
		return
	}
	names := make([]string, 0, len(s.Failures))
	for name := range s.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Printf("  failed %s: %s", name, s.Failures[name])
	}
}

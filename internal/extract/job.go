package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sync"

	"slide-tiler/internal/grid"
	"slide-tiler/internal/norm"
	"slide-tiler/internal/progress"
	"slide-tiler/internal/qc"
	"slide-tiler/internal/slide"
	"slide-tiler/internal/tilerec"
	"slide-tiler/pkg/geometry"
)

// State is a job's position in its lifecycle.
type State int

const (
	StateQueued State = iota
	StateBuffering
	StateVerifying
	StateExtracting
	StateWriting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateBuffering:
		return "buffering"
	case StateVerifying:
		return "verifying"
	case StateExtracting:
		return "extracting"
	case StateWriting:
		return "writing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NormalizerConfig selects a stain-normalization policy for extracted
// tiles. An empty Strategy disables normalization.
type NormalizerConfig struct {
	Strategy      string  `json:"strategy,omitempty"`       // "reinhard" or "reinhard-fast"
	Preset        string  `json:"preset,omitempty"`         // named preset fit
	Source        string  `json:"source,omitempty"`         // reference image path
	MaskThreshold float64 `json:"mask_threshold,omitempty"` // whitespace-preserving mask
	UseContext    bool    `json:"use_context,omitempty"`    // whole-slide context statistics
}

// Request carries everything a worker needs to extract one slide. It is
// JSON-serializable so it can be handed to an isolated worker process.
type Request struct {
	SlidePath string `json:"slide_path"`
	RecordDir string `json:"record_dir"`
	BufferDir string `json:"buffer_dir,omitempty"`

	ROIDir         string `json:"roi_dir,omitempty"`
	ROIMode        string `json:"roi_mode,omitempty"`
	SkipMissingROI bool   `json:"skip_missing_roi,omitempty"`

	TilePx     int     `json:"tile_px"`
	TileUM     float64 `json:"tile_um,omitempty"`
	StrideDiv  int     `json:"stride_div,omitempty"`
	Downsample bool    `json:"downsample,omitempty"`

	QC   qc.Thresholds    `json:"qc"`
	Norm NormalizerConfig `json:"norm"`

	ImageFormat string `json:"image_format,omitempty"` // "jpeg" (default) or "png"
	Threads     int    `json:"threads,omitempty"`      // cell-level workers within the slide
}

// Result is the terminal outcome of one job.
type Result struct {
	Slide   string `json:"slide"`
	State   State  `json:"state"`
	Tiles   int    `json:"tiles"`
	Retried bool   `json:"retried"`
	Err     string `json:"error,omitempty"`
}

// Job is the unit of work for one slide.
type Job struct {
	req     Request
	opener  Opener
	counter *progress.Counter

	mu    sync.Mutex
	state State
}

// NewJob creates a job in the Queued state.
func NewJob(req Request, opener Opener, counter *progress.Counter) *Job {
	if opener == nil {
		opener = DefaultOpener
	}
	if req.Threads < 1 {
		req.Threads = 1
	}
	if req.StrideDiv < 1 {
		req.StrideDiv = 1
	}
	if req.ImageFormat == "" {
		req.ImageFormat = "jpeg"
	}
	return &Job{req: req, opener: opener, counter: counter, state: StateQueued}
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Run drives the job to Done or Failed. Corrupt tile decodes with
// downsampled reading enabled are retried exactly once with downsampling
// disabled; a second failure is terminal.
func (j *Job) Run(ctx context.Context) Result {
	name := pathToName(j.req.SlidePath)
	res := Result{Slide: name}

	path := j.req.SlidePath
	if j.req.BufferDir != "" {
		j.setState(StateBuffering)
		staged, err := stageCopy(ctx, path, j.req.BufferDir)
		if err != nil {
			return j.fail(&res, err)
		}
		defer os.Remove(staged)
		path = staged
	}

	tiles, err := j.runExtraction(ctx, path, j.req.Downsample)
	if err != nil && j.req.Downsample && errors.Is(err, slide.ErrCorruptTile) {
		log.Printf("Corrupt tile in %s with downsampling enabled; retrying with downsampling disabled", name)
		res.Retried = true
		tiles, err = j.runExtraction(ctx, path, false)
	}
	if err != nil {
		return j.fail(&res, err)
	}

	j.setState(StateDone)
	res.State = StateDone
	res.Tiles = tiles
	return res
}

func (j *Job) fail(res *Result, err error) Result {
	j.setState(StateFailed)
	res.State = StateFailed
	res.Err = err.Error()
	return *res
}

// runExtraction performs one full extraction attempt over the slide.
func (j *Job) runExtraction(ctx context.Context, path string, downsample bool) (int, error) {
	name := pathToName(j.req.SlidePath)

	reader, err := j.opener.Open(path, downsample)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	j.setState(StateVerifying)

	rois, err := loadROIs(j.req, name)
	if err != nil {
		return 0, err
	}

	width, height := reader.Dims()
	extractPx := j.req.TilePx
	if j.req.TileUM > 0 && reader.MPP() > 0 {
		extractPx = int(j.req.TileUM/reader.MPP() + 0.5)
	}

	g, err := grid.Build(width, height, extractPx, j.req.StrideDiv, rois, grid.ROIMode(j.req.ROIMode))
	if err != nil {
		return 0, err
	}

	normalizer, err := buildNormalizer(j.req.Norm)
	if err != nil {
		return 0, err
	}

	recordPath := filepath.Join(j.req.RecordDir, name+tilerec.Ext)
	writer, err := tilerec.Create(recordPath)
	if err != nil {
		return 0, err
	}

	extractLoop := func() error {
		return j.extractCells(ctx, reader, g, extractPx, normalizer, writer)
	}

	j.setState(StateExtracting)
	if normalizer != nil && j.req.Norm.UseContext {
		thumb, terr := reader.Thumbnail(2048)
		if terr != nil {
			writer.Abort()
			return 0, terr
		}
		err = normalizer.ImageContext(thumb, extractLoop)
	} else {
		err = extractLoop()
	}
	if err != nil {
		writer.Abort()
		return 0, err
	}

	j.setState(StateWriting)
	tiles := writer.Count()
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("finalize record %s: %w", recordPath, err)
	}
	return tiles, nil
}

// loadROIs applies the request's ROI policy: with SkipMissingROI set, a
// slide without an ROI file is a per-slide failure; otherwise the whole
// slide is extracted.
func loadROIs(req Request, name string) ([]geometry.Polygon, error) {
	if req.ROIDir == "" || grid.ROIMode(req.ROIMode) == grid.ROIIgnore {
		return nil, nil
	}
	rois, err := slide.LoadROIs(req.ROIDir, name)
	if os.IsNotExist(err) {
		if req.SkipMissingROI {
			return nil, fmt.Errorf("no ROI file for slide %s", name)
		}
		return nil, nil
	}
	return rois, err
}

// extractCells runs the per-cell pipeline (read, quality-filter,
// normalize, encode) across a bounded worker pool, with a single appender
// goroutine feeding the record writer. Cells are handed out in row-major
// order; completion order is not guaranteed.
func (j *Job) extractCells(ctx context.Context, reader Reader, g *grid.Grid, extractPx int, normalizer *norm.Normalizer, writer *tilerec.Writer) error {
	name := pathToName(j.req.SlidePath)

	type entry struct {
		id  string
		img []byte
	}
	cells := make(chan *grid.Cell, j.req.Threads*2)
	entries := make(chan entry, j.req.Threads*2)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		errMu    sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		errMu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(j.req.Threads)
	for w := 0; w < j.req.Threads; w++ {
		go func() {
			defer wg.Done()
			for cell := range cells {
				if workCtx.Err() != nil {
					return
				}

				tile, err := reader.Tile(cell.X, cell.Y, extractPx, j.req.TilePx)
				if err != nil {
					setErr(err)
					return
				}

				ws, gs := qc.Evaluate(tile, j.req.QC)
				qc.Record(cell, ws, gs, j.req.QC)
				if !cell.Include {
					if j.counter != nil {
						j.counter.Add(1)
					}
					continue
				}

				if normalizer != nil {
					tile = normalizer.Transform(tile)
				}

				buf, err := encodeTile(tile, j.req.ImageFormat)
				if err != nil {
					setErr(err)
					return
				}

				select {
				case entries <- entry{id: name, img: buf}:
				case <-workCtx.Done():
					return
				}
				if j.counter != nil {
					j.counter.Add(1)
				}
			}
		}()
	}

	// Single appender; the record file is append-only.
	var awg sync.WaitGroup
	awg.Add(1)
	go func() {
		defer awg.Done()
		for e := range entries {
			if err := writer.Append(e.id, e.img); err != nil {
				setErr(err)
				return
			}
		}
	}()

feed:
	for i := range g.Cells {
		cell := &g.Cells[i]
		if !cell.Include {
			continue
		}
		select {
		case cells <- cell:
		case <-workCtx.Done():
			break feed
		}
	}
	close(cells)
	wg.Wait()
	close(entries)
	awg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func encodeTile(img *image.RGBA, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func pathToName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

package extract

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"slide-tiler/internal/progress"
)

// WorkerFlag is the command-line flag that switches the binary into
// worker-process mode.
const WorkerFlag = "extract-worker"

// Wire protocol between orchestrator and worker process: progress lines
// ("P <delta>") interleaved with a single terminal result line ("R <json>")
// on stdout. Logs go to stderr.
const (
	progressPrefix = "P "
	resultPrefix   = "R "
)

// RunIsolated executes a job in a separate worker process, so a crash or
// retained memory from one slide cannot affect other slides or the
// orchestrator. Inputs and results are handed off by message passing over
// the child's standard streams.
func RunIsolated(ctx context.Context, bin string, req Request, counter *progress.Counter) Result {
	name := pathToName(req.SlidePath)
	failed := func(err error) Result {
		return Result{Slide: name, State: StateFailed, Err: err.Error()}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return failed(err)
	}

	cmd := exec.CommandContext(ctx, bin, "-"+WorkerFlag)
	cmd.Stdin = strings.NewReader(string(payload))
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failed(err)
	}
	if err := cmd.Start(); err != nil {
		return failed(err)
	}

	var (
		res    Result
		gotRes bool
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, progressPrefix):
			if n, err := strconv.ParseInt(line[len(progressPrefix):], 10, 64); err == nil && counter != nil {
				counter.Add(n)
			}
		case strings.HasPrefix(line, resultPrefix):
			if err := json.Unmarshal([]byte(line[len(resultPrefix):]), &res); err == nil {
				gotRes = true
			}
		}
	}

	if err := cmd.Wait(); err != nil && !gotRes {
		return failed(fmt.Errorf("worker process for %s: %w", name, err))
	}
	if !gotRes {
		return failed(fmt.Errorf("worker process for %s exited without a result", name))
	}
	return res
}

// WorkerMain is the worker-process entry point: it reads one Request from
// stdin, runs the job, and streams progress plus the terminal Result on
// stdout. Returns the process exit code.
func WorkerMain(stdin io.Reader, stdout io.Writer) int {
	var req Request
	if err := json.NewDecoder(stdin).Decode(&req); err != nil {
		log.Printf("extract worker: decode request: %v", err)
		return 1
	}

	counter := progress.NewCounter(0)
	job := NewJob(req, nil, counter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relay counter increments to the parent as they accumulate, with a
	// final flush once the job finishes.
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		var sent int64
		flush := func() {
			if done := counter.Done(); done > sent {
				fmt.Fprintf(stdout, "%s%d\n", progressPrefix, done-sent)
				sent = done
			}
		}
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				flush()
				return
			case <-ticker.C:
				flush()
			}
		}
	}()

	res := job.Run(ctx)
	cancel()
	<-relayDone

	payload, err := json.Marshal(res)
	if err != nil {
		log.Printf("extract worker: encode result: %v", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s%s\n", resultPrefix, payload)

	if res.State == StateFailed {
		return 1
	}
	return 0
}

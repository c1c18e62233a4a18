package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Staging copy retry bounds. Transient I/O errors (full buffer, flaky
// network mount) are retried with doubling backoff; the loop is bounded so
// a dead mount cannot wedge a worker.
const (
	stagingAttempts = 5
	stagingBackoff  = 500 * time.Millisecond
)

// StagingError wraps the final error after staging retries are exhausted.
type StagingError struct {
	Src      string
	Attempts int
	Err      error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s failed after %d attempts: %v", e.Src, e.Attempts, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// stageCopy copies a slide into the staging buffer directory, retrying
// transient failures with bounded backoff. The returned path is owned by
// the calling job, which removes it on completion or failure.
func stageCopy(ctx context.Context, src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))

	backoff := stagingBackoff
	var lastErr error
	for attempt := 1; attempt <= stagingAttempts; attempt++ {
		lastErr = copyFile(src, dst)
		if lastErr == nil {
			return dst, nil
		}
		os.Remove(dst)

		if attempt == stagingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", &StagingError{Src: src, Attempts: stagingAttempts, Err: lastErr}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Package tilerec reads and writes tile record files: append-only
// sequences of (slide identifier, compressed RGB image) entries. A
// ".unfinished" marker sits alongside a record file for the duration of a
// write; readers treat a marked file as absent.
package tilerec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Ext is the record file extension.
const Ext = ".tiles"

// MarkerExt is appended to a record path to form its interrupted-write
// marker.
const MarkerExt = ".unfinished"

var magic = [4]byte{'T', 'R', 'E', 'C'}

const version uint32 = 1

// ErrUnfinished is returned when opening a record file whose write was
// interrupted.
var ErrUnfinished = errors.New("record file has an unfinished marker")

// MarkerPath returns the interrupted-write marker path for a record file.
func MarkerPath(path string) string { return path + MarkerExt }

// IsComplete reports whether a record file exists and carries no
// interrupted-write marker.
func IsComplete(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if _, err := os.Stat(MarkerPath(path)); err == nil {
		return false
	}
	return true
}

// HasMarker reports whether an interrupted-write marker exists for path.
func HasMarker(path string) bool {
	_, err := os.Stat(MarkerPath(path))
	return err == nil
}

// Writer appends entries to a record file.
type Writer struct {
	path string
	f    *os.File
	bw   *bufio.Writer
	n    int
}

// Create opens a record file for writing and places its marker. The marker
// is removed only by a successful Close.
func Create(path string) (*Writer, error) {
	marker, err := os.Create(MarkerPath(path))
	if err != nil {
		return nil, fmt.Errorf("create marker: %w", err)
	}
	marker.Close()

	f, err := os.Create(path)
	if err != nil {
		os.Remove(MarkerPath(path))
		return nil, err
	}

	w := &Writer{path: path, f: f, bw: bufio.NewWriterSize(f, 1<<20)}
	if _, err := w.bw.Write(magic[:]); err != nil {
		f.Close()
		return nil, err
	}
	if err := binary.Write(w.bw, binary.LittleEndian, version); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Append writes one (identifier, image bytes) entry.
func (w *Writer) Append(id string, img []byte) error {
	if err := binary.Write(w.bw, binary.LittleEndian, uint32(len(id))); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(id); err != nil {
		return err
	}
	if err := binary.Write(w.bw, binary.LittleEndian, uint32(len(img))); err != nil {
		return err
	}
	if _, err := w.bw.Write(img); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count returns the number of entries appended so far.
func (w *Writer) Count() int { return w.n }

// Close flushes and syncs the record file, then removes the marker.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	return os.Remove(MarkerPath(w.path))
}

// Abort discards the partial record file and its marker, leaving no trace
// of the interrupted write.
func (w *Writer) Abort() error {
	w.f.Close()
	err := os.Remove(w.path)
	if merr := os.Remove(MarkerPath(w.path)); err == nil {
		err = merr
	}
	return err
}

// Reader iterates over the entries of a complete record file.
type Reader struct {
	f  *os.File
	br *bufio.Reader
}

// Open opens a record file for reading. Files with an unfinished marker
// are rejected with ErrUnfinished.
func Open(path string) (*Reader, error) {
	if HasMarker(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrUnfinished)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(f, 1<<20)

	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	if hdr != magic {
		f.Close()
		return nil, fmt.Errorf("%s: not a tile record file", path)
	}
	var v uint32
	if err := binary.Read(br, binary.LittleEndian, &v); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: read version: %w", path, err)
	}
	if v != version {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported record version %d", path, v)
	}
	return &Reader{f: f, br: br}, nil
}

// Next returns the next entry, or io.EOF at end of file.
func (r *Reader) Next() (string, []byte, error) {
	var idLen uint32
	if err := binary.Read(r.br, binary.LittleEndian, &idLen); err != nil {
		return "", nil, err // io.EOF at a clean entry boundary
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r.br, id); err != nil {
		return "", nil, fmt.Errorf("read identifier: %w", err)
	}
	var imgLen uint32
	if err := binary.Read(r.br, binary.LittleEndian, &imgLen); err != nil {
		return "", nil, fmt.Errorf("read image length: %w", err)
	}
	img := make([]byte, imgLen)
	if _, err := io.ReadFull(r.br, img); err != nil {
		return "", nil, fmt.Errorf("read image: %w", err)
	}
	return string(id), img, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

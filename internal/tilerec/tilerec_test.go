package tilerec

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slide_a"+Ext)

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	entries := []struct {
		id  string
		img []byte
	}{
		{"slide_a", []byte("jpeg-bytes-1")},
		{"slide_a", []byte{0xff, 0xd8, 0x00, 0xd9}},
		{"slide_a", nil},
	}
	for _, e := range entries {
		if err := w.Append(e.id, e.img); err != nil {
			t.Fatal(err)
		}
	}
	if w.Count() != len(entries) {
		t.Errorf("Count = %d, want %d", w.Count(), len(entries))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for i, want := range entries {
		id, img, err := r.Next()
		if err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		if id != want.id || !bytes.Equal(img, want.img) {
			t.Errorf("entry %d: got (%q, %v), want (%q, %v)", i, id, img, want.id, want.img)
		}
	}
	if _, _, err := r.Next(); err != io.EOF {
		t.Errorf("past end: err = %v, want io.EOF", err)
	}
}

func TestMarkerLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slide_b"+Ext)

	if IsComplete(path) {
		t.Error("missing file reported complete")
	}

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if !HasMarker(path) {
		t.Error("no marker during write")
	}
	if IsComplete(path) {
		t.Error("in-progress file reported complete")
	}

	if _, err := Open(path); !errors.Is(err, ErrUnfinished) {
		t.Errorf("open during write: err = %v, want ErrUnfinished", err)
	}

	if err := w.Append("slide_b", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if HasMarker(path) {
		t.Error("marker survives Close")
	}
	if !IsComplete(path) {
		t.Error("closed file not reported complete")
	}
}

func TestAbortLeavesNoTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slide_c"+Ext)

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append("slide_c", []byte("partial")); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("record file survives Abort")
	}
	if HasMarker(path) {
		t.Error("marker survives Abort")
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-record"+Ext)
	if err := os.WriteFile(path, []byte("PK\x03\x04 something else"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("foreign file opened without error")
	}
}

package file

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kotazzz/protoext4/backend"
)

func TestCreateFromPath(t *testing.T) {
	img := filepath.Join(t.TempDir(), "disk.img")
	b, err := CreateFromPath(img, 1024*1024)
	if err != nil {
		t.Fatalf("CreateFromPath failed: %v", err)
	}
	defer b.Close()

	size, err := b.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 1024*1024 {
		t.Errorf("expected size %d, got %d", 1024*1024, size)
	}
	if _, err := b.Writable(); err != nil {
		t.Errorf("expected writable backend, got %v", err)
	}

	t.Run("existing file rejected", func(t *testing.T) {
		if _, err := CreateFromPath(img, 1024); err == nil {
			t.Errorf("expected error creating over an existing file")
		}
	})
	t.Run("invalid size rejected", func(t *testing.T) {
		if _, err := CreateFromPath(filepath.Join(t.TempDir(), "x.img"), 0); err == nil {
			t.Errorf("expected error for zero size")
		}
	})
}

func TestOpenFromPath(t *testing.T) {
	img := filepath.Join(t.TempDir(), "disk.img")
	b, err := CreateFromPath(img, 4096)
	if err != nil {
		t.Fatalf("CreateFromPath failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	t.Run("read-write", func(t *testing.T) {
		b, err := OpenFromPath(img, false)
		if err != nil {
			t.Fatalf("OpenFromPath failed: %v", err)
		}
		defer b.Close()
		w, err := b.Writable()
		if err != nil {
			t.Fatalf("Writable failed: %v", err)
		}
		if _, err := w.WriteAt([]byte("test"), 0); err != nil {
			t.Errorf("WriteAt failed: %v", err)
		}
	})

	t.Run("read-only", func(t *testing.T) {
		b, err := OpenFromPath(img, true)
		if err != nil {
			t.Fatalf("OpenFromPath failed: %v", err)
		}
		defer b.Close()
		if _, err := b.Writable(); !errors.Is(err, backend.ErrIncorrectOpenMode) {
			t.Errorf("expected ErrIncorrectOpenMode, got %v", err)
		}
		got := make([]byte, 4)
		if _, err := b.ReadAt(got, 0); err != nil {
			t.Fatalf("ReadAt failed: %v", err)
		}
		if string(got) != "test" {
			t.Errorf("expected %q, got %q", "test", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := OpenFromPath(filepath.Join(t.TempDir(), "nope.img"), false); err == nil {
			t.Errorf("expected error opening a missing file")
		}
	})
	t.Run("empty path", func(t *testing.T) {
		if _, err := OpenFromPath("", false); err == nil {
			t.Errorf("expected error for empty path")
		}
	})
}

package protofs

import (
	"errors"
	"io"
	"testing"

	"github.com/kotazzz/protoext4/filesystem"
)

func TestDescriptorNumbering(t *testing.T) {
	fs := newTestFS(t, 8*testMiB, nil)

	fd1, err := fs.OpenFile("/one", filesystem.OpenCreate|filesystem.OpenReadWrite, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if fd1 != 3 {
		t.Errorf("expected first descriptor 3, got %d", fd1)
	}
	fd2, err := fs.OpenFile("/two", filesystem.OpenCreate|filesystem.OpenReadWrite, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if fd2 != 4 {
		t.Errorf("expected second descriptor 4, got %d", fd2)
	}

	// the lowest free descriptor is reused
	if err := fs.CloseFd(fd1); err != nil {
		t.Fatalf("close: %v", err)
	}
	fd3, err := fs.OpenFile("/one", filesystem.OpenReadOnly, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if fd3 != 3 {
		t.Errorf("expected descriptor 3 reused, got %d", fd3)
	}
}

func TestBadDescriptors(t *testing.T) {
	fs := newTestFS(t, 8*testMiB, nil)

	if _, err := fs.ReadFd(3, make([]byte, 1)); !errors.Is(err, ErrBadDescriptor) {
		t.Errorf("expected ErrBadDescriptor, got %v", err)
	}
	if _, err := fs.WriteFd(99, []byte("x")); !errors.Is(err, ErrBadDescriptor) {
		t.Errorf("expected ErrBadDescriptor, got %v", err)
	}
	if err := fs.CloseFd(7); !errors.Is(err, ErrBadDescriptor) {
		t.Errorf("expected ErrBadDescriptor, got %v", err)
	}

	t.Run("access mode enforced", func(t *testing.T) {
		writeTestFile(t, fs, "/f", []byte("data"))
		fd, err := fs.OpenFile("/f", filesystem.OpenReadOnly, 0)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := fs.WriteFd(fd, []byte("x")); !errors.Is(err, ErrBadDescriptor) {
			t.Errorf("expected ErrBadDescriptor writing a read-only fd, got %v", err)
		}
		if err := fs.CloseFd(fd); err != nil {
			t.Fatalf("close: %v", err)
		}

		fd, err = fs.OpenFile("/f", filesystem.OpenWriteOnly, 0)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := fs.ReadFd(fd, make([]byte, 1)); !errors.Is(err, ErrBadDescriptor) {
			t.Errorf("expected ErrBadDescriptor reading a write-only fd, got %v", err)
		}
		if err := fs.CloseFd(fd); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
}

func TestOffsetSemantics(t *testing.T) {
	fs := newTestFS(t, 8*testMiB, nil)
	writeTestFile(t, fs, "/f", []byte("0123456789"))

	fd, err := fs.OpenFile("/f", filesystem.OpenReadWrite, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	b := make([]byte, 4)
	if n, err := fs.ReadFd(fd, b); err != nil || n != 4 || string(b) != "0123" {
		t.Fatalf("first read: n=%d err=%v b=%q", n, err, b)
	}
	if n, err := fs.ReadFd(fd, b); err != nil || n != 4 || string(b) != "4567" {
		t.Fatalf("second read advanced wrong: n=%d err=%v b=%q", n, err, b)
	}

	// explicit-offset reads must not move the stored position
	if n, err := fs.PreadFd(fd, b, 0); err != nil || n != 4 || string(b) != "0123" {
		t.Fatalf("pread: n=%d err=%v b=%q", n, err, b)
	}
	if n, err := fs.ReadFd(fd, b[:2]); err != nil || n != 2 || string(b[:2]) != "89" {
		t.Fatalf("read after pread: n=%d err=%v b=%q", n, err, b[:2])
	}
	if _, err := fs.ReadFd(fd, b); err != io.EOF {
		t.Fatalf("expected io.EOF at end of file, got %v", err)
	}

	t.Run("seek", func(t *testing.T) {
		off, err := fs.SeekFd(fd, 2, io.SeekStart)
		if err != nil || off != 2 {
			t.Fatalf("seek start: off=%d err=%v", off, err)
		}
		off, err = fs.SeekFd(fd, 3, io.SeekCurrent)
		if err != nil || off != 5 {
			t.Fatalf("seek current: off=%d err=%v", off, err)
		}
		off, err = fs.SeekFd(fd, -1, io.SeekEnd)
		if err != nil || off != 9 {
			t.Fatalf("seek end: off=%d err=%v", off, err)
		}
		if n, err := fs.ReadFd(fd, b[:1]); err != nil || n != 1 || b[0] != '9' {
			t.Fatalf("read after seek: n=%d err=%v b=%q", n, err, b[:1])
		}
		if _, err := fs.SeekFd(fd, -100, io.SeekStart); !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid seeking before start, got %v", err)
		}
	})

	t.Run("pwrite keeps offset", func(t *testing.T) {
		if _, err := fs.SeekFd(fd, 0, io.SeekStart); err != nil {
			t.Fatalf("seek: %v", err)
		}
		if _, err := fs.PwriteFd(fd, []byte("XX"), 4); err != nil {
			t.Fatalf("pwrite: %v", err)
		}
		got := make([]byte, 10)
		if _, err := fs.ReadFd(fd, got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != "0123XX6789" {
			t.Errorf("expected %q, got %q", "0123XX6789", got)
		}
	})

	if err := fs.CloseFd(fd); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenFileErrors(t *testing.T) {
	fs := newTestFS(t, 8*testMiB, nil)

	if _, err := fs.OpenFile("/missing", filesystem.OpenReadOnly, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := fs.Mkdir("/d", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := fs.OpenFile("/d", filesystem.OpenReadOnly, 0); !errors.Is(err, ErrIsDirectory) {
		t.Errorf("expected ErrIsDirectory, got %v", err)
	}
	if _, err := fs.OpenFile("/missing/f", filesystem.OpenCreate|filesystem.OpenReadWrite, 0o644); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing parent, got %v", err)
	}

	t.Run("truncate on open", func(t *testing.T) {
		writeTestFile(t, fs, "/t", []byte("old content"))
		fd, err := fs.OpenFile("/t", filesystem.OpenTruncate|filesystem.OpenWriteOnly, 0)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := fs.CloseFd(fd); err != nil {
			t.Fatalf("close: %v", err)
		}
		info, err := fs.Stat("/t")
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Size() != 0 {
			t.Errorf("expected size 0 after O_TRUNC open, got %d", info.Size())
		}
	})
}

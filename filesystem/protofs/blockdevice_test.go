package protofs

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/kotazzz/protoext4/testhelper"
)

// memStorage a FileImpl backed by an in-memory buffer
func memStorage(buf []byte) *testhelper.FileImpl {
	return &testhelper.FileImpl{
		FileSize: int64(len(buf)),
		Reader: func(b []byte, offset int64) (int, error) {
			return copy(b, buf[offset:]), nil
		},
		Writer: func(b []byte, offset int64) (int, error) {
			return copy(buf[offset:], b), nil
		},
	}
}

func testBlockDevice(buf []byte, blockSize uint32) *blockDevice {
	return &blockDevice{
		backend:     memStorage(buf),
		blockSize:   blockSize,
		totalBlocks: uint64(len(buf)) / uint64(blockSize),
	}
}

func TestBlockReadWrite(t *testing.T) {
	buf := make([]byte, 8*512)
	dev := testBlockDevice(buf, 512)

	data := bytes.Repeat([]byte{0xab}, 512)
	if err := dev.writeBlock(3, data); err != nil {
		t.Fatalf("writeBlock: %v", err)
	}
	got, err := dev.readBlock(3)
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back different bytes")
	}

	t.Run("out of range read", func(t *testing.T) {
		if _, err := dev.readBlock(8); !errors.Is(err, ErrIO) {
			t.Errorf("expected ErrIO, got %v", err)
		}
	})
	t.Run("out of range write", func(t *testing.T) {
		if err := dev.writeBlock(8, data); !errors.Is(err, ErrIO) {
			t.Errorf("expected ErrIO, got %v", err)
		}
	})
	t.Run("wrong size write", func(t *testing.T) {
		if err := dev.writeBlock(0, data[:100]); !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})
}

func TestRangeCrossesBlocks(t *testing.T) {
	buf := make([]byte, 8*512)
	dev := testBlockDevice(buf, 512)

	data := make([]byte, 1200)
	for i := range data {
		data[i] = byte(i)
	}
	// start mid-block, span three blocks
	if err := dev.writeRange(300, data); err != nil {
		t.Fatalf("writeRange: %v", err)
	}
	got := make([]byte, 1200)
	if err := dev.readRange(300, got); err != nil {
		t.Fatalf("readRange: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("range read differs from range write")
	}

	// bytes around the range must be untouched
	if !bytes.Equal(buf[:300], make([]byte, 300)) {
		t.Errorf("bytes before the range were modified")
	}
	if !bytes.Equal(buf[1500:], make([]byte, len(buf)-1500)) {
		t.Errorf("bytes after the range were modified")
	}
}

func TestDeviceErrorPropagation(t *testing.T) {
	impl := &testhelper.FileImpl{
		FileSize: 4096,
		Reader: func(_ []byte, _ int64) (int, error) {
			return 0, fmt.Errorf("injected read failure")
		},
		Writer: func(_ []byte, _ int64) (int, error) {
			return 0, fmt.Errorf("injected write failure")
		},
	}
	dev := &blockDevice{backend: impl, blockSize: 512, totalBlocks: 8}

	if _, err := dev.readBlock(0); !errors.Is(err, ErrIO) {
		t.Errorf("expected ErrIO from injected read failure, got %v", err)
	}
	if err := dev.writeBlock(0, make([]byte, 512)); !errors.Is(err, ErrIO) {
		t.Errorf("expected ErrIO from injected write failure, got %v", err)
	}
}

func TestFlushSyncs(t *testing.T) {
	impl := memStorage(make([]byte, 4096))
	dev := &blockDevice{backend: impl, blockSize: 512, totalBlocks: 8}
	if err := dev.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if impl.SyncCalls != 1 {
		t.Errorf("expected 1 sync call, got %d", impl.SyncCalls)
	}
}

package protofs

import (
	"fmt"

	"github.com/kotazzz/protoext4/backend"
)

// blockDevice provides block-granular access to the backing storage. All
// metadata and data I/O in the filesystem goes through it; partial-block
// updates are read-modify-write.
type blockDevice struct {
	backend     backend.Storage
	blockSize   uint32
	totalBlocks uint64
}

func (d *blockDevice) readBlock(n uint64) ([]byte, error) {
	if n >= d.totalBlocks {
		return nil, fmt.Errorf("block %d beyond device end %d: %w", n, d.totalBlocks, ErrIO)
	}
	b := make([]byte, d.blockSize)
	if _, err := d.backend.ReadAt(b, int64(n)*int64(d.blockSize)); err != nil {
		return nil, fmt.Errorf("failed to read block %d: %v: %w", n, err, ErrIO)
	}
	return b, nil
}

func (d *blockDevice) writeBlock(n uint64, b []byte) error {
	if n >= d.totalBlocks {
		return fmt.Errorf("block %d beyond device end %d: %w", n, d.totalBlocks, ErrIO)
	}
	if len(b) != int(d.blockSize) {
		return fmt.Errorf("write of %d bytes to block %d, must be %d: %w", len(b), n, d.blockSize, ErrInvalid)
	}
	writable, err := d.backend.Writable()
	if err != nil {
		return fmt.Errorf("backing storage not writable: %v: %w", err, ErrIO)
	}
	if _, err := writable.WriteAt(b, int64(n)*int64(d.blockSize)); err != nil {
		return fmt.Errorf("failed to write block %d: %v: %w", n, err, ErrIO)
	}
	return nil
}

// readRange fills b from the device starting at byte offset off, crossing
// block boundaries as needed
func (d *blockDevice) readRange(off int64, b []byte) error {
	bs := int64(d.blockSize)
	for len(b) > 0 {
		blk := uint64(off / bs)
		inBlk := off % bs
		n := bs - inBlk
		if n > int64(len(b)) {
			n = int64(len(b))
		}
		raw, err := d.readBlock(blk)
		if err != nil {
			return err
		}
		copy(b[:n], raw[inBlk:inBlk+n])
		b = b[n:]
		off += n
	}
	return nil
}

// writeRange writes b to the device starting at byte offset off, performing
// read-modify-write on partially covered blocks
func (d *blockDevice) writeRange(off int64, b []byte) error {
	bs := int64(d.blockSize)
	for len(b) > 0 {
		blk := uint64(off / bs)
		inBlk := off % bs
		n := bs - inBlk
		if n > int64(len(b)) {
			n = int64(len(b))
		}
		var raw []byte
		if inBlk == 0 && n == bs {
			raw = b[:n]
		} else {
			var err error
			raw, err = d.readBlock(blk)
			if err != nil {
				return err
			}
			copy(raw[inBlk:inBlk+n], b[:n])
		}
		if err := d.writeBlock(blk, raw[:bs]); err != nil {
			return err
		}
		b = b[n:]
		off += n
	}
	return nil
}

func (d *blockDevice) flush() error {
	if err := d.backend.Sync(); err != nil {
		return fmt.Errorf("failed to flush backing storage: %v: %w", err, ErrIO)
	}
	return nil
}

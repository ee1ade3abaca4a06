package protofs

import (
	"fmt"
	"io"
)

// allocateFileBlock claim a zeroed block for an inode's next logical block
// and hook it into the extent tree
func (fs *FileSystem) allocateFileBlock(in *inode, logical uint64) (uint64, error) {
	phys, err := fs.allocBlock(fs.inodeGroup(in.number))
	if err != nil {
		return 0, err
	}
	if err := fs.dev.writeBlock(phys, make([]byte, fs.superblock.blockSize)); err != nil {
		return 0, err
	}
	if err := fs.extentAppend(in, logical, phys); err != nil {
		return 0, err
	}
	return phys, nil
}

// materializeBlocks grow the inode's coverage with zeroed blocks until it
// spans at least blocks file blocks
func (fs *FileSystem) materializeBlocks(in *inode, blocks uint64) error {
	end, err := fs.extentEndBlock(in)
	if err != nil {
		return err
	}
	for ; end < blocks; end++ {
		if _, err := fs.allocateFileBlock(in, end); err != nil {
			return err
		}
	}
	return nil
}

// readAt read up to len(b) bytes from the inode's data at offset. Returns
// the number of bytes read; short reads happen only at end of file.
func (fs *FileSystem) readAt(in *inode, b []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d: %w", offset, ErrInvalid)
	}
	if uint64(offset) >= in.size {
		return 0, io.EOF
	}
	toRead := int64(len(b))
	if uint64(offset)+uint64(toRead) > in.size {
		toRead = int64(in.size) - offset
	}
	bs := int64(fs.superblock.blockSize)
	var read int64
	for read < toRead {
		pos := offset + read
		logical := uint64(pos / bs)
		inBlock := pos % bs
		phys, run, found, err := fs.extentLookup(in, logical)
		if err != nil {
			return int(read), err
		}
		if !found {
			return int(read), fmt.Errorf("inode %d missing data block %d inside file size: %w", in.number, logical, ErrCorrupt)
		}
		n := int64(run)*bs - inBlock
		if n > toRead-read {
			n = toRead - read
		}
		if err := fs.dev.readRange(int64(phys)*bs+inBlock, b[read:read+n]); err != nil {
			return int(read), err
		}
		read += n
	}
	return int(read), nil
}

// writeAt write b at offset, allocating blocks for any tail beyond the
// current size. A gap between the old size and offset is materialized as
// zeroed blocks; there are no holes.
func (fs *FileSystem) writeAt(in *inode, b []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d: %w", offset, ErrInvalid)
	}
	bs := int64(fs.superblock.blockSize)
	end := offset + int64(len(b))

	// cover the gap up to the write start before laying down data
	if uint64(offset) > in.size {
		if err := fs.materializeBlocks(in, (uint64(offset)+uint64(bs)-1)/uint64(bs)); err != nil {
			return 0, err
		}
	}

	var written int64
	for written < int64(len(b)) {
		pos := offset + written
		logical := uint64(pos / bs)
		inBlock := pos % bs
		n := bs - inBlock
		if n > int64(len(b))-written {
			n = int64(len(b)) - written
		}
		phys, _, found, err := fs.extentLookup(in, logical)
		if err != nil {
			return int(written), err
		}
		if !found {
			phys, err = fs.allocateFileBlock(in, logical)
			if err != nil {
				if int64(in.size) < pos {
					in.size = uint64(pos)
				}
				in.mtime = now()
				in.ctime = in.mtime
				_ = fs.writeInode(in)
				return int(written), err
			}
		}
		if err := fs.dev.writeRange(int64(phys)*bs+inBlock, b[written:written+n]); err != nil {
			return int(written), err
		}
		written += n
	}
	if uint64(end) > in.size {
		in.size = uint64(end)
	}
	in.mtime = now()
	in.ctime = in.mtime
	if err := fs.writeInode(in); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// truncateInode change the inode's size, freeing blocks when shrinking and
// materializing zeroed blocks when growing
func (fs *FileSystem) truncateInode(in *inode, newSize uint64) error {
	bs := uint64(fs.superblock.blockSize)
	switch {
	case newSize < in.size:
		newBlocks := (newSize + bs - 1) / bs
		if err := fs.extentTruncate(in, newBlocks); err != nil {
			return err
		}
		// stale bytes past the new size in the straddling block must not
		// resurface if the file grows again
		if tail := newSize % bs; tail != 0 {
			phys, _, found, err := fs.extentLookup(in, newSize/bs)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("inode %d missing data block %d after truncate: %w", in.number, newSize/bs, ErrCorrupt)
			}
			if err := fs.dev.writeRange(int64(phys)*int64(bs)+int64(tail), make([]byte, bs-tail)); err != nil {
				return err
			}
		}
	case newSize > in.size:
		if err := fs.materializeBlocks(in, (newSize+bs-1)/bs); err != nil {
			return err
		}
	}
	in.size = newSize
	in.mtime = now()
	in.ctime = in.mtime
	return fs.writeInode(in)
}

// readAll slurp an inode's entire data, used for symlink targets
func (fs *FileSystem) readAll(in *inode) ([]byte, error) {
	b := make([]byte, in.size)
	if in.size == 0 {
		return b, nil
	}
	n, err := fs.readAt(in, b, 0)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

// freeInodeContents release everything an inode owns: data blocks, extent
// tree nodes, its record and its bitmap bit
func (fs *FileSystem) freeInodeContents(in *inode) error {
	if err := fs.extentTruncate(in, 0); err != nil {
		return err
	}
	if err := fs.dev.writeRange(fs.inodeOffset(in.number), make([]byte, InodeSize)); err != nil {
		return err
	}
	return fs.freeInode(in.number)
}

// File is a stream handle to a single open file, analogous to os.File. It
// wraps a descriptor in the owning filesystem's table.
type File struct {
	fs   *FileSystem
	fd   int
	name string
}

// Name the path the file was opened with
func (fl *File) Name() string {
	return fl.name
}

// Read reads up to len(b) bytes from the File, advancing the offset.
// At end of file, Read returns 0, io.EOF
func (fl *File) Read(b []byte) (int, error) {
	if fl.fs == nil {
		return 0, fmt.Errorf("file is closed: %w", ErrBadDescriptor)
	}
	return fl.fs.ReadFd(fl.fd, b)
}

// Write writes len(b) bytes to the File, advancing the offset
func (fl *File) Write(b []byte) (int, error) {
	if fl.fs == nil {
		return 0, fmt.Errorf("file is closed: %w", ErrBadDescriptor)
	}
	return fl.fs.WriteFd(fl.fd, b)
}

// Seek set the offset for the next Read or Write
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	if fl.fs == nil {
		return 0, fmt.Errorf("file is closed: %w", ErrBadDescriptor)
	}
	return fl.fs.SeekFd(fl.fd, offset, whence)
}

// Close release the underlying descriptor
func (fl *File) Close() error {
	if fl.fs == nil {
		return nil
	}
	err := fl.fs.CloseFd(fl.fd)
	fl.fs = nil
	return err
}

package protofs

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kotazzz/protoext4/filesystem"
)

// firstDescriptor descriptors 0-2 are reserved by convention
const firstDescriptor = 3

// openFile is the transient state behind one descriptor
type openFile struct {
	inode  uint32
	flags  int
	offset int64
}

// allocFd the lowest unused descriptor number, starting at 3
func (fs *FileSystem) allocFd() int {
	fd := firstDescriptor
	for {
		if _, ok := fs.fds[fd]; !ok {
			return fd
		}
		fd++
	}
}

// inodeOpenCount how many descriptors currently refer to an inode
func (fs *FileSystem) inodeOpenCount(number uint32) int {
	var count int
	for _, of := range fs.fds {
		if of.inode == number {
			count++
		}
	}
	return count
}

// OpenFile open a descriptor for a file, creating it when OpenCreate is set
// and truncating it when OpenTruncate is set. Directories cannot be opened;
// use ReadDir.
func (fs *FileSystem) OpenFile(p string, flags int, perm os.FileMode) (int, error) {
	number, err := fs.resolve(p, true)
	if errors.Is(err, ErrNotFound) && flags&filesystem.OpenCreate != 0 {
		number, err = fs.createFile(p, perm)
	}
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", p, err)
	}

	in, err := fs.readInode(number)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", p, err)
	}
	if in.isDir() {
		return -1, fmt.Errorf("open %s: %w", p, ErrIsDirectory)
	}
	if flags&filesystem.OpenTruncate != 0 && filesystem.Writable(flags) {
		if err := fs.truncateInode(in, 0); err != nil {
			return -1, fmt.Errorf("open %s: %w", p, err)
		}
	}

	fd := fs.allocFd()
	fs.fds[fd] = &openFile{inode: number, flags: flags}
	return fd, nil
}

// createFile allocate and link a fresh regular file inode for OpenCreate
func (fs *FileSystem) createFile(p string, perm os.FileMode) (uint32, error) {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return 0, err
	}
	if name == "." || name == ".." {
		return 0, fmt.Errorf("invalid file name %q: %w", name, ErrInvalid)
	}
	parentIn, err := fs.readInode(parent)
	if err != nil {
		return 0, err
	}
	// the path resolved to nothing but the name itself may still exist,
	// e.g. as a symlink to a missing file
	if _, err := fs.dirLookup(parentIn, name); err == nil {
		return 0, fmt.Errorf("%s: %w", name, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	number, err := fs.allocInode(fs.inodeGroup(parent), false)
	if err != nil {
		return 0, err
	}
	ts := now()
	in := &inode{
		number: number,
		mode:   modeTypeRegular | uint32(perm.Perm()),
		uid:    fs.defaultUID,
		gid:    fs.defaultGID,
		links:  1,
		atime:  ts,
		ctime:  ts,
		mtime:  ts,
		root:   newExtentRoot(),
	}
	if err := fs.writeInode(in); err != nil {
		return 0, err
	}
	if err := fs.dirInsert(parentIn, name, number, dirFileTypeRegular); err != nil {
		return 0, err
	}
	return number, nil
}

// lookupFd fetch the open file behind a descriptor
func (fs *FileSystem) lookupFd(fd int) (*openFile, error) {
	of, ok := fs.fds[fd]
	if !ok {
		return nil, fmt.Errorf("descriptor %d: %w", fd, ErrBadDescriptor)
	}
	return of, nil
}

// ReadFd read from the descriptor's current offset, advancing it
func (fs *FileSystem) ReadFd(fd int, b []byte) (int, error) {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	n, err := fs.PreadFd(fd, b, of.offset)
	of.offset += int64(n)
	return n, err
}

// PreadFd read at an explicit offset without moving the descriptor's offset
func (fs *FileSystem) PreadFd(fd int, b []byte, offset int64) (int, error) {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	if !filesystem.Readable(of.flags) {
		return 0, fmt.Errorf("descriptor %d not open for reading: %w", fd, ErrBadDescriptor)
	}
	in, err := fs.readInode(of.inode)
	if err != nil {
		return 0, err
	}
	n, err := fs.readAt(in, b, offset)
	if n > 0 {
		in.atime = now()
		_ = fs.writeInode(in)
	}
	return n, err
}

// WriteFd write at the descriptor's current offset, advancing it
func (fs *FileSystem) WriteFd(fd int, b []byte) (int, error) {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	n, err := fs.PwriteFd(fd, b, of.offset)
	of.offset += int64(n)
	return n, err
}

// PwriteFd write at an explicit offset without moving the descriptor's offset
func (fs *FileSystem) PwriteFd(fd int, b []byte, offset int64) (int, error) {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	if !filesystem.Writable(of.flags) {
		return 0, fmt.Errorf("descriptor %d not open for writing: %w", fd, ErrBadDescriptor)
	}
	in, err := fs.readInode(of.inode)
	if err != nil {
		return 0, err
	}
	return fs.writeAt(in, b, offset)
}

// SeekFd set the descriptor's offset
func (fs *FileSystem) SeekFd(fd int, offset int64, whence int) (int64, error) {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return 0, err
	}
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = of.offset + offset
	case io.SeekEnd:
		in, err := fs.readInode(of.inode)
		if err != nil {
			return of.offset, err
		}
		newOffset = int64(in.size) + offset
	default:
		return of.offset, fmt.Errorf("whence %d: %w", whence, ErrInvalid)
	}
	if newOffset < 0 {
		return of.offset, fmt.Errorf("cannot seek to %d before start of file: %w", newOffset, ErrInvalid)
	}
	of.offset = newOffset
	return of.offset, nil
}

// TruncateFd truncate the descriptor's file to size
func (fs *FileSystem) TruncateFd(fd int, size int64) error {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return err
	}
	if !filesystem.Writable(of.flags) {
		return fmt.Errorf("descriptor %d not open for writing: %w", fd, ErrBadDescriptor)
	}
	if size < 0 {
		return fmt.Errorf("negative size %d: %w", size, ErrInvalid)
	}
	in, err := fs.readInode(of.inode)
	if err != nil {
		return err
	}
	return fs.truncateInode(in, uint64(size))
}

// FstatFd file info for an open descriptor
func (fs *FileSystem) FstatFd(fd int) (os.FileInfo, error) {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return nil, err
	}
	in, err := fs.readInode(of.inode)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: "", in: in}, nil
}

// CloseFd release a descriptor. An inode with no links left and no other
// descriptors is deleted now; this is the deferred half of Unlink.
func (fs *FileSystem) CloseFd(fd int) error {
	of, err := fs.lookupFd(fd)
	if err != nil {
		return err
	}
	delete(fs.fds, fd)
	in, err := fs.readInode(of.inode)
	if err != nil {
		return err
	}
	if in.links == 0 && fs.inodeOpenCount(of.inode) == 0 {
		return fs.freeInodeContents(in)
	}
	return nil
}

// OpenStream open a File stream handle over a fresh descriptor
func (fs *FileSystem) OpenStream(p string, flags int, perm os.FileMode) (*File, error) {
	fd, err := fs.OpenFile(p, flags, perm)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, fd: fd, name: p}, nil
}

// interface guards
var (
	_ filesystem.FileSystem = (*FileSystem)(nil)
	_ filesystem.File       = (*File)(nil)
)

// Package filesystem provides interfaces and constants required for filesystem implementations.
// The interesting implementation is in github.com/kotazzz/protoext4/filesystem/protofs
package filesystem

import (
	"errors"
	"os"
)

var (
	ErrNotSupported       = errors.New("method not supported by this filesystem")
	ErrReadonlyFilesystem = errors.New("read-only filesystem")
)

// Open flags accepted by FileSystem.OpenFile. The values are the conventional
// Linux ones and are part of the stable API regardless of host OS.
const (
	OpenReadOnly  = 0x0
	OpenWriteOnly = 0x1
	OpenReadWrite = 0x2
	OpenCreate    = 0x40
	OpenTruncate  = 0x200

	accessMask = 0x3
)

// Readable reports whether flags permit reading
func Readable(flags int) bool {
	return flags&accessMask == OpenReadOnly || flags&accessMask == OpenReadWrite
}

// Writable reports whether flags permit writing
func Writable(flags int) bool {
	return flags&accessMask == OpenWriteOnly || flags&accessMask == OpenReadWrite
}

// FileSystem is a reference to a single mounted filesystem image
type FileSystem interface {
	// Mkdir make a directory
	Mkdir(pathname string, perm os.FileMode) error
	// Rmdir remove an empty directory
	Rmdir(pathname string) error
	// Link creates a new link (also known as a hard link) to an existing file.
	Link(oldpath, newpath string) error
	// Symlink creates a symbolic link at linkpath which contains the string target.
	Symlink(target, linkpath string) error
	// Readlink returns the target of a symbolic link
	Readlink(pathname string) (string, error)
	// Chmod changes the permission bits of the named file
	Chmod(pathname string, perm os.FileMode) error
	// Chown changes the numeric uid and gid of the named file
	Chown(pathname string, uid, gid int) error
	// ReadDir read the contents of a directory
	ReadDir(pathname string) ([]os.FileInfo, error)
	// OpenFile open a descriptor to read or write a file
	OpenFile(pathname string, flags int, perm os.FileMode) (int, error)
	// Unlink removes the named file
	Unlink(pathname string) error
	// Stat returns file info, following symlinks
	Stat(pathname string) (os.FileInfo, error)
	// Lstat returns file info without following the final symlink
	Lstat(pathname string) (os.FileInfo, error)
	// Close flushes and releases the backing storage
	Close() error
}

// File is a stream handle to a single file on a filesystem, analogous to os.File
type File interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

// Package testhelper provides stub storage implementations for tests.
package testhelper

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/kotazzz/protoext4/backend"
)

type reader func(b []byte, offset int64) (int, error)
type writer func(b []byte, offset int64) (int, error)

// FileImpl implements backend.Storage, used for testing to stub out files
// and inject I/O errors
type FileImpl struct {
	Reader    reader
	Writer    writer
	FileSize  int64
	SyncCalls int
}

// backend.Storage interface guard
var _ backend.Storage = (*FileImpl)(nil)

func (f *FileImpl) Stat() (fs.FileInfo, error) {
	return nil, nil
}

func (f *FileImpl) Read(b []byte) (int, error) {
	return f.Reader(b, 0)
}

func (f *FileImpl) Close() error {
	return nil
}

// ReadAt read at a particular offset
func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	return f.Reader(b, offset)
}

// WriteAt write at a particular offset
func (f *FileImpl) WriteAt(b []byte, offset int64) (int, error) {
	return f.Writer(b, offset)
}

// Seek seek a particular offset - does not actually work
func (f *FileImpl) Seek(_ int64, _ int) (int64, error) {
	return 0, fmt.Errorf("FileImpl does not implement Seek()")
}

func (f *FileImpl) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

func (f *FileImpl) Writable() (backend.WritableFile, error) {
	return f, nil
}

func (f *FileImpl) Size() (int64, error) {
	return f.FileSize, nil
}

func (f *FileImpl) Sync() error {
	f.SyncCalls++
	return nil
}

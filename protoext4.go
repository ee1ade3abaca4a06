// Package protoext4 implements an ext4-inspired filesystem held in a single
// host file treated as a virtual block device.
//
// The package provides one-call helpers for the common cases; the full
// engine lives in github.com/kotazzz/protoext4/filesystem/protofs.
//
//	fs, err := protoext4.Create("/tmp/disk.img", 8*1024*1024, nil)
//	...
//	fs, err = protoext4.Open("/tmp/disk.img")
//	fd, err := fs.OpenFile("/hello.txt", filesystem.OpenCreate|filesystem.OpenReadWrite, 0o644)
package protoext4

import (
	"github.com/kotazzz/protoext4/backend/file"
	"github.com/kotazzz/protoext4/filesystem/protofs"
)

// Create initialize a fresh filesystem image of size bytes at path and
// return it mounted. The file must not already exist.
func Create(path string, size int64, p *protofs.Params) (*protofs.FileSystem, error) {
	b, err := file.CreateFromPath(path, size)
	if err != nil {
		return nil, err
	}
	fs, err := protofs.Create(b, size, p)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return fs, nil
}

// Open mount an existing filesystem image at path for reading and writing
func Open(path string) (*protofs.FileSystem, error) {
	return open(path, false)
}

// OpenReadOnly mount an existing filesystem image at path for reading
func OpenReadOnly(path string) (*protofs.FileSystem, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*protofs.FileSystem, error) {
	b, err := file.OpenFromPath(path, readOnly)
	if err != nil {
		return nil, err
	}
	fs, err := protofs.Read(b)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return fs, nil
}

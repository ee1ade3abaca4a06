package protofs

import (
	"os"
	"time"
)

// Stat is the filesystem-specific half of an os.FileInfo, available through
// Sys()
type Stat struct {
	Inode uint32
	Links uint32
	UID   uint32
	GID   uint32
	Atime time.Time
	Ctime time.Time
}

type fileInfo struct {
	name string
	in   *inode
}

func (fi *fileInfo) Name() string {
	return fi.name
}

func (fi *fileInfo) Size() int64 {
	return int64(fi.in.size)
}

func (fi *fileInfo) Mode() os.FileMode {
	return fi.in.fileMode()
}

func (fi *fileInfo) ModTime() time.Time {
	return time.Unix(int64(fi.in.mtime), 0)
}

func (fi *fileInfo) IsDir() bool {
	return fi.in.isDir()
}

func (fi *fileInfo) Sys() interface{} {
	return &Stat{
		Inode: fi.in.number,
		Links: fi.in.links,
		UID:   fi.in.uid,
		GID:   fi.in.gid,
		Atime: time.Unix(int64(fi.in.atime), 0),
		Ctime: time.Unix(int64(fi.in.ctime), 0),
	}
}

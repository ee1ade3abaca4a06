package protofs

import (
	"errors"
	"fmt"
	"os"
	gopath "path"
	"time"
)

// Mkdir make a directory
func (fs *FileSystem) Mkdir(p string, perm os.FileMode) error {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("mkdir %s: %w", p, ErrExists)
	}
	parentIn, err := fs.readInode(parent)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	if _, err := fs.dirLookup(parentIn, name); err == nil {
		return fmt.Errorf("mkdir %s: %w", p, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}

	number, err := fs.allocInode(fs.inodeGroup(parent), true)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	ts := now()
	in := &inode{
		number: number,
		mode:   modeTypeDirectory | uint32(perm.Perm()),
		uid:    fs.defaultUID,
		gid:    fs.defaultGID,
		links:  2, // . and the parent's entry
		atime:  ts,
		ctime:  ts,
		mtime:  ts,
		root:   newExtentRoot(),
	}
	if err := fs.writeInode(in); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	if err := fs.initDirectory(in, parent); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	parentIn.links++ // the child's ..
	if err := fs.dirInsert(parentIn, name, number, dirFileTypeDirectory); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

// Rmdir remove an empty directory
func (fs *FileSystem) Rmdir(p string) error {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("rmdir %s: %w", p, ErrInvalid)
	}
	parentIn, err := fs.readInode(parent)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	de, err := fs.dirLookup(parentIn, name)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if de.fileType != dirFileTypeDirectory {
		return fmt.Errorf("rmdir %s: %w", p, ErrNotDirectory)
	}
	if de.inode == rootInodeNumber {
		return fmt.Errorf("rmdir %s: %w", p, ErrInvalid)
	}
	in, err := fs.readInode(de.inode)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	empty, err := fs.dirIsEmpty(in)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if !empty {
		return fmt.Errorf("rmdir %s: %w", p, ErrNotEmpty)
	}

	if err := fs.dirRemove(parentIn, name); err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	parentIn.links-- // the child's .. is gone
	parentIn.ctime = now()
	if err := fs.writeInode(parentIn); err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if err := fs.freeInodeContents(in); err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	return nil
}

// RmdirRecursive remove a directory and everything below it
func (fs *FileSystem) RmdirRecursive(p string) error {
	number, err := fs.resolve(p, true)
	if err != nil {
		return fmt.Errorf("rmdir -r %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return fmt.Errorf("rmdir -r %s: %w", p, err)
	}
	if !in.isDir() {
		return fmt.Errorf("rmdir -r %s: %w", p, ErrNotDirectory)
	}
	entries, err := fs.readDirEntries(in)
	if err != nil {
		return fmt.Errorf("rmdir -r %s: %w", p, err)
	}
	for _, de := range entries {
		if de.filename == "." || de.filename == ".." {
			continue
		}
		child := gopath.Join(p, de.filename)
		if de.fileType == dirFileTypeDirectory {
			err = fs.RmdirRecursive(child)
		} else {
			err = fs.Unlink(child)
		}
		if err != nil {
			return err
		}
	}
	return fs.Rmdir(p)
}

// Unlink remove a directory entry for a file or symlink. The inode's data is
// freed when its link count reaches zero and no descriptor still has it
// open; otherwise deletion is deferred to the last close.
func (fs *FileSystem) Unlink(p string) error {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	parentIn, err := fs.readInode(parent)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	de, err := fs.dirLookup(parentIn, name)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	if de.fileType == dirFileTypeDirectory {
		return fmt.Errorf("unlink %s: %w", p, ErrIsDirectory)
	}
	in, err := fs.readInode(de.inode)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	if err := fs.dirRemove(parentIn, name); err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	if in.links > 0 {
		in.links--
	}
	in.ctime = now()
	if in.links == 0 && fs.inodeOpenCount(in.number) == 0 {
		if err := fs.freeInodeContents(in); err != nil {
			return fmt.Errorf("unlink %s: %w", p, err)
		}
		return nil
	}
	if err := fs.writeInode(in); err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	return nil
}

// Link create a hard link to an existing file. Hard links to directories are
// rejected; they would create reachability cycles.
func (fs *FileSystem) Link(oldpath, newpath string) error {
	number, err := fs.resolve(oldpath, false)
	if err != nil {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, err)
	}
	if in.isDir() {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, ErrIsDirectory)
	}
	parent, name, err := fs.resolveParent(newpath)
	if err != nil {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, err)
	}
	parentIn, err := fs.readInode(parent)
	if err != nil {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, err)
	}
	if _, err := fs.dirLookup(parentIn, name); err == nil {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, err)
	}
	if err := fs.dirInsert(parentIn, name, number, in.dirEntryType()); err != nil {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, err)
	}
	in.links++
	in.ctime = now()
	if err := fs.writeInode(in); err != nil {
		return fmt.Errorf("link %s %s: %w", oldpath, newpath, err)
	}
	return nil
}

// Symlink create a symbolic link at linkpath whose data is target
func (fs *FileSystem) Symlink(target, linkpath string) error {
	if target == "" {
		return fmt.Errorf("symlink %s: empty target: %w", linkpath, ErrInvalid)
	}
	parent, name, err := fs.resolveParent(linkpath)
	if err != nil {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("symlink %s: %w", linkpath, ErrExists)
	}
	parentIn, err := fs.readInode(parent)
	if err != nil {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}
	if _, err := fs.dirLookup(parentIn, name); err == nil {
		return fmt.Errorf("symlink %s: %w", linkpath, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}

	number, err := fs.allocInode(fs.inodeGroup(parent), false)
	if err != nil {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}
	ts := now()
	in := &inode{
		number: number,
		mode:   modeTypeSymlink | 0o777,
		uid:    fs.defaultUID,
		gid:    fs.defaultGID,
		links:  1,
		atime:  ts,
		ctime:  ts,
		mtime:  ts,
		root:   newExtentRoot(),
	}
	if err := fs.writeInode(in); err != nil {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}
	if _, err := fs.writeAt(in, []byte(target), 0); err != nil {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}
	if err := fs.dirInsert(parentIn, name, number, dirFileTypeSymlink); err != nil {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}
	return nil
}

// Readlink the target a symbolic link points at
func (fs *FileSystem) Readlink(p string) (string, error) {
	number, err := fs.resolve(p, false)
	if err != nil {
		return "", fmt.Errorf("readlink %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return "", fmt.Errorf("readlink %s: %w", p, err)
	}
	if !in.isSymlink() {
		return "", fmt.Errorf("readlink %s: %w", p, ErrInvalid)
	}
	target, err := fs.readAll(in)
	if err != nil {
		return "", fmt.Errorf("readlink %s: %w", p, err)
	}
	return string(target), nil
}

// ReadDir the entries of a directory in on-disk order, including . and ..
func (fs *FileSystem) ReadDir(p string) ([]os.FileInfo, error) {
	number, err := fs.resolve(p, true)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, err)
	}
	entries, err := fs.readDirEntries(in)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, err)
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, de := range entries {
		child, err := fs.readInode(de.inode)
		if err != nil {
			return nil, fmt.Errorf("readdir %s: entry %s: %w", p, de.filename, err)
		}
		infos = append(infos, &fileInfo{name: de.filename, in: child})
	}
	return infos, nil
}

// Stat file info for a path, following symlinks
func (fs *FileSystem) Stat(p string) (os.FileInfo, error) {
	return fs.stat(p, true)
}

// Lstat file info for a path without following a final symlink
func (fs *FileSystem) Lstat(p string) (os.FileInfo, error) {
	return fs.stat(p, false)
}

func (fs *FileSystem) stat(p string, followLast bool) (os.FileInfo, error) {
	number, err := fs.resolve(p, followLast)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	name := gopath.Base(fs.absolutePath(p))
	return &fileInfo{name: name, in: in}, nil
}

// Chmod change the permission bits of a file, following symlinks
func (fs *FileSystem) Chmod(p string, perm os.FileMode) error {
	number, err := fs.resolve(p, true)
	if err != nil {
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	mode := in.mode&modeTypeMask | uint32(perm.Perm())
	if perm&os.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if perm&os.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if perm&os.ModeSticky != 0 {
		mode |= 0o1000
	}
	in.mode = mode
	in.ctime = now()
	if err := fs.writeInode(in); err != nil {
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	return nil
}

// Chown change the owner and group of a file; -1 leaves a value unchanged
func (fs *FileSystem) Chown(p string, uid, gid int) error {
	number, err := fs.resolve(p, true)
	if err != nil {
		return fmt.Errorf("chown %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return fmt.Errorf("chown %s: %w", p, err)
	}
	if uid >= 0 {
		in.uid = uint32(uid)
	}
	if gid >= 0 {
		in.gid = uint32(gid)
	}
	in.ctime = now()
	if err := fs.writeInode(in); err != nil {
		return fmt.Errorf("chown %s: %w", p, err)
	}
	return nil
}

// Utimes set access and modification times, following symlinks
func (fs *FileSystem) Utimes(p string, atime, mtime time.Time) error {
	number, err := fs.resolve(p, true)
	if err != nil {
		return fmt.Errorf("utimes %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return fmt.Errorf("utimes %s: %w", p, err)
	}
	in.atime = uint32(atime.Unix())
	in.mtime = uint32(mtime.Unix())
	in.ctime = now()
	if err := fs.writeInode(in); err != nil {
		return fmt.Errorf("utimes %s: %w", p, err)
	}
	return nil
}

// Truncate change a file's size, freeing or zero-filling blocks
func (fs *FileSystem) Truncate(p string, size int64) error {
	if size < 0 {
		return fmt.Errorf("truncate %s: negative size %d: %w", p, size, ErrInvalid)
	}
	number, err := fs.resolve(p, true)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", p, err)
	}
	if in.isDir() {
		return fmt.Errorf("truncate %s: %w", p, ErrIsDirectory)
	}
	if err := fs.truncateInode(in, uint64(size)); err != nil {
		return fmt.Errorf("truncate %s: %w", p, err)
	}
	return nil
}

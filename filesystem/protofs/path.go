package protofs

import (
	"fmt"
	"path"
	"strings"
)

// maxSymlinkDepth how many symlink dereferences a single resolution may
// perform before failing with ErrSymlinkLoop
const maxSymlinkDepth = 40

// pathComponents split a path into its non-empty components
func pathComponents(p string) []string {
	var comps []string
	for _, c := range strings.Split(p, "/") {
		if c != "" {
			comps = append(comps, c)
		}
	}
	return comps
}

// startDir where resolution of a path begins
func (fs *FileSystem) startDir(p string) uint32 {
	if strings.HasPrefix(p, "/") {
		return rootInodeNumber
	}
	return fs.cwd
}

// resolve walk a path to its inode. followLast controls whether a symlink in
// the final position is dereferenced, distinguishing Stat from Lstat.
func (fs *FileSystem) resolve(p string, followLast bool) (uint32, error) {
	if p == "" {
		return 0, fmt.Errorf("empty path: %w", ErrInvalid)
	}
	depth := 0
	return fs.resolveFrom(fs.startDir(p), pathComponents(p), followLast, &depth)
}

// resolveFrom walk components starting at the directory inode cur. Symlinks
// splice their target's components in front of the remainder; . is skipped
// without a lookup, and .. is served by the on-disk entry every directory
// carries.
func (fs *FileSystem) resolveFrom(cur uint32, comps []string, followLast bool, depth *int) (uint32, error) {
	for i := 0; i < len(comps); i++ {
		name := comps[i]
		if name == "." {
			continue
		}
		dir, err := fs.readInode(cur)
		if err != nil {
			return 0, err
		}
		if !dir.isDir() {
			return 0, fmt.Errorf("component %q: %w", name, ErrNotDirectory)
		}
		de, err := fs.dirLookup(dir, name)
		if err != nil {
			return 0, err
		}
		last := i == len(comps)-1
		if de.fileType == dirFileTypeSymlink && (!last || followLast) {
			*depth++
			if *depth > maxSymlinkDepth {
				return 0, fmt.Errorf("resolving %q: %w", name, ErrSymlinkLoop)
			}
			link, err := fs.readInode(de.inode)
			if err != nil {
				return 0, err
			}
			target, err := fs.readAll(link)
			if err != nil {
				return 0, err
			}
			targetPath := string(target)
			if targetPath == "" {
				return 0, fmt.Errorf("symlink %q has empty target: %w", name, ErrCorrupt)
			}
			rest := append(pathComponents(targetPath), comps[i+1:]...)
			next := cur
			if strings.HasPrefix(targetPath, "/") {
				next = rootInodeNumber
			}
			return fs.resolveFrom(next, rest, followLast, depth)
		}
		cur = de.inode
	}
	return cur, nil
}

// resolveParent resolve everything but the final component, returning the
// parent directory's inode and the final name. The final name is never "."
// or ".." for callers that create or remove entries; they reject it.
func (fs *FileSystem) resolveParent(p string) (uint32, string, error) {
	if p == "" {
		return 0, "", fmt.Errorf("empty path: %w", ErrInvalid)
	}
	comps := pathComponents(p)
	if len(comps) == 0 {
		// the root itself
		return rootInodeNumber, ".", nil
	}
	depth := 0
	parent, err := fs.resolveFrom(fs.startDir(p), comps[:len(comps)-1], true, &depth)
	if err != nil {
		return 0, "", err
	}
	in, err := fs.readInode(parent)
	if err != nil {
		return 0, "", err
	}
	if !in.isDir() {
		return 0, "", fmt.Errorf("%s: %w", p, ErrNotDirectory)
	}
	return parent, comps[len(comps)-1], nil
}

// absolutePath the textually cleaned absolute form of p relative to the
// current working directory, used to track Getcwd
func (fs *FileSystem) absolutePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = fs.cwdPath + "/" + p
	}
	return path.Clean(p)
}

// Package sync populates a mounted filesystem image from a host directory
// tree, preserving structure, permissions and file times.
package sync

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/djherbis/times.v1"

	"github.com/kotazzz/protoext4/filesystem"
	"github.com/kotazzz/protoext4/filesystem/protofs"
)

// excludedPaths these are excluded from any copy
var excludedPaths = map[string]bool{
	"lost+found":                true,
	".DS_Store":                 true,
	"System Volume Information": true,
}

const copyBufferSize = 32 * 1024

// CopyTree copies the host directory tree rooted at srcDir into dst under
// dstDir, which must already exist (use "/" for the image root).
func CopyTree(srcDir string, dst *protofs.FileSystem, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", srcDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if excludedPaths[name] {
			continue
		}

		src := filepath.Join(srcDir, name)
		target := path.Join(dstDir, name)

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", src, err)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(src)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", src, err)
			}
			if err := dst.Symlink(linkTarget, target); err != nil {
				return fmt.Errorf("copy symlink %s: %w", src, err)
			}
			continue // a symlink carries no times of its own here
		case entry.IsDir():
			if err := dst.Mkdir(target, info.Mode().Perm()); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
			if err := CopyTree(src, dst, target); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := copyOneFile(src, dst, target, info); err != nil {
				return fmt.Errorf("copy file %s: %w", src, err)
			}
		default:
			// device nodes, sockets and pipes have no representation
			continue
		}

		if err := preserveTimes(src, dst, target, info); err != nil {
			return err
		}
	}

	return nil
}

func copyOneFile(src string, dst *protofs.FileSystem, target string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := dst.OpenStream(target, filesystem.OpenCreate|filesystem.OpenTruncate|filesystem.OpenReadWrite, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return err
	}
	return nil
}

// preserveTimes stamp the copied entry with the source's access and
// modification times
func preserveTimes(src string, dst *protofs.FileSystem, target string, info os.FileInfo) error {
	ts, err := times.Stat(src)
	if err != nil {
		return fmt.Errorf("times %s: %w", src, err)
	}
	if err := dst.Utimes(target, ts.AccessTime(), info.ModTime()); err != nil {
		return fmt.Errorf("set times %s: %w", target, err)
	}
	return nil
}

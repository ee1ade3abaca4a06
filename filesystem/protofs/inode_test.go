package protofs

import (
	"bytes"
	"os"
	"testing"
)

func TestInodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   inode
	}{
		{"regular file", inode{
			number: 11, mode: modeTypeRegular | 0o644, uid: 1000, gid: 1000,
			size: 123456, links: 1, atime: 1700000000, ctime: 1700000001, mtime: 1700000002,
			root: &extentNode{depth: 0, max: extentRootMaxEntries, extents: []extent{
				{fileBlock: 0, count: 30, startBlock: 40},
			}},
		}},
		{"directory", inode{
			number: 2, mode: modeTypeDirectory | 0o755,
			size: 4096, links: 3, atime: 1, ctime: 2, mtime: 3,
			root: &extentNode{depth: 0, max: extentRootMaxEntries, extents: []extent{
				{fileBlock: 0, count: 1, startBlock: 25},
			}},
		}},
		{"large file", inode{
			number: 7, mode: modeTypeRegular | 0o600,
			size: 5 << 32, links: 1,
			root: &extentNode{depth: 2, max: extentRootMaxEntries, children: []extentIndex{
				{fileBlock: 0, childBlock: 100},
				{fileBlock: 100000, childBlock: 200},
			}},
		}},
		{"symlink", inode{
			number: 12, mode: modeTypeSymlink | 0o777,
			size: 9, links: 1,
			root: &extentNode{depth: 0, max: extentRootMaxEntries, extents: []extent{
				{fileBlock: 0, count: 1, startBlock: 77},
			}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.in.toBytes()
			if len(b) != InodeSize {
				t.Fatalf("expected %d bytes, got %d", InodeSize, len(b))
			}
			parsed, err := inodeFromBytes(b, tt.in.number)
			if err != nil {
				t.Fatalf("inodeFromBytes failed: %v", err)
			}
			if parsed.mode != tt.in.mode || parsed.uid != tt.in.uid || parsed.gid != tt.in.gid ||
				parsed.size != tt.in.size || parsed.links != tt.in.links ||
				parsed.atime != tt.in.atime || parsed.ctime != tt.in.ctime || parsed.mtime != tt.in.mtime {
				t.Errorf("mismatched inode fields, actual %+v expected %+v", parsed, tt.in)
			}
			if parsed.root.depth != tt.in.root.depth || parsed.root.entries() != tt.in.root.entries() {
				t.Errorf("mismatched extent root, actual %+v expected %+v", parsed.root, tt.in.root)
			}
			// pack(unpack(b)) must reproduce b exactly
			if !bytes.Equal(parsed.toBytes(), b) {
				t.Errorf("re-serialized inode differs from original bytes")
			}
		})
	}
}

func TestInodeZeroRecordIsFreeSlot(t *testing.T) {
	parsed, err := inodeFromBytes(make([]byte, InodeSize), 5)
	if err != nil {
		t.Fatalf("expected a zeroed record to parse as a free slot, got %v", err)
	}
	if parsed.mode != 0 || parsed.links != 0 {
		t.Errorf("free slot has nonzero fields: %+v", parsed)
	}
	if parsed.root.entries() != 0 {
		t.Errorf("free slot has extent entries")
	}
}

func TestInodeTypePredicates(t *testing.T) {
	tests := []struct {
		name                     string
		mode                     uint32
		isDir, isReg, isSym      bool
		entryType                uint8
	}{
		{"directory", modeTypeDirectory | 0o755, true, false, false, dirFileTypeDirectory},
		{"regular", modeTypeRegular | 0o644, false, true, false, dirFileTypeRegular},
		{"symlink", modeTypeSymlink | 0o777, false, false, true, dirFileTypeSymlink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &inode{mode: tt.mode}
			if in.isDir() != tt.isDir || in.isRegular() != tt.isReg || in.isSymlink() != tt.isSym {
				t.Errorf("predicates wrong for mode %#x", tt.mode)
			}
			if got := in.dirEntryType(); got != tt.entryType {
				t.Errorf("expected entry type %d, got %d", tt.entryType, got)
			}
		})
	}
}

func TestInodeFileMode(t *testing.T) {
	in := &inode{mode: modeTypeDirectory | 0o2755}
	mode := in.fileMode()
	if !mode.IsDir() {
		t.Errorf("expected directory mode, got %v", mode)
	}
	if mode.Perm() != 0o755 {
		t.Errorf("expected perm 755, got %o", mode.Perm())
	}
	if mode&os.ModeSetgid == 0 {
		t.Errorf("expected setgid bit, got %v", mode)
	}

	link := &inode{mode: modeTypeSymlink | 0o777}
	if link.fileMode()&os.ModeSymlink == 0 {
		t.Errorf("expected symlink mode, got %v", link.fileMode())
	}
}

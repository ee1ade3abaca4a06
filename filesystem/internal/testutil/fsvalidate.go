// Package testutil holds shared validation helpers for filesystem tests.
package testutil

import (
	"path"
	"testing"

	"github.com/kotazzz/protoext4/filesystem/protofs"
)

// ValidateTree walks an entire filesystem from the root and checks the
// structural invariants every directory must satisfy: the tree is acyclic,
// every directory starts with . and .., . points at the directory itself
// and .. at its parent (or itself for the root).
func ValidateTree(t *testing.T, fs *protofs.FileSystem) {
	t.Helper()
	seen := map[uint32]string{}
	var walk func(p string, self, parent uint32)
	walk = func(p string, self, parent uint32) {
		if prev, ok := seen[self]; ok {
			t.Fatalf("cycle detected: directory inode %d reached at %q and %q", self, prev, p)
		}
		seen[self] = p

		entries, err := fs.ReadDir(p)
		if err != nil {
			t.Fatalf("readdir %q: %v", p, err)
		}
		if len(entries) < 2 || entries[0].Name() != "." || entries[1].Name() != ".." {
			t.Fatalf("directory %q does not begin with . and ..", p)
		}
		dot := entries[0].Sys().(*protofs.Stat)
		dotdot := entries[1].Sys().(*protofs.Stat)
		if dot.Inode != self {
			t.Fatalf("directory %q: . is inode %d, want %d", p, dot.Inode, self)
		}
		if dotdot.Inode != parent {
			t.Fatalf("directory %q: .. is inode %d, want %d", p, dotdot.Inode, parent)
		}

		for _, e := range entries[2:] {
			if e.Name() == "." || e.Name() == ".." {
				t.Fatalf("duplicate %q entry in %q", e.Name(), p)
			}
			if e.IsDir() {
				walk(path.Join(p, e.Name()), e.Sys().(*protofs.Stat).Inode, self)
			}
		}
	}

	rootInfo, err := fs.Stat("/")
	if err != nil {
		t.Fatalf("stat /: %v", err)
	}
	root := rootInfo.Sys().(*protofs.Stat).Inode
	walk("/", root, root)
}

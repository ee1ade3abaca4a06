package protofs

import (
	"fmt"
)

// Directories store their entries in data blocks reached through the same
// extent tree as file data. Entries never span blocks; the last entry in a
// block stretches to the block end.

// dirBlockCount how many data blocks a directory spans
func (fs *FileSystem) dirBlockCount(in *inode) uint64 {
	return in.size / uint64(fs.superblock.blockSize)
}

// dirBlockPhys the physical block holding a directory's logical block
func (fs *FileSystem) dirBlockPhys(in *inode, logical uint64) (uint64, error) {
	phys, _, found, err := fs.extentLookup(in, logical)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("directory inode %d missing data block %d: %w", in.number, logical, ErrCorrupt)
	}
	return phys, nil
}

// readDirEntries all live entries of a directory, in on-disk order
func (fs *FileSystem) readDirEntries(in *inode) ([]*directoryEntry, error) {
	if !in.isDir() {
		return nil, fmt.Errorf("inode %d: %w", in.number, ErrNotDirectory)
	}
	var entries []*directoryEntry
	for logical := uint64(0); logical < fs.dirBlockCount(in); logical++ {
		phys, err := fs.dirBlockPhys(in, logical)
		if err != nil {
			return nil, err
		}
		b, err := fs.dev.readBlock(phys)
		if err != nil {
			return nil, err
		}
		blockEntries, err := parseDirBlock(b)
		if err != nil {
			return nil, fmt.Errorf("directory inode %d block %d: %w", in.number, logical, err)
		}
		entries = append(entries, blockEntries...)
	}
	return entries, nil
}

// dirLookup find a name in a directory
func (fs *FileSystem) dirLookup(in *inode, name string) (*directoryEntry, error) {
	if !in.isDir() {
		return nil, fmt.Errorf("inode %d: %w", in.number, ErrNotDirectory)
	}
	for logical := uint64(0); logical < fs.dirBlockCount(in); logical++ {
		phys, err := fs.dirBlockPhys(in, logical)
		if err != nil {
			return nil, err
		}
		b, err := fs.dev.readBlock(phys)
		if err != nil {
			return nil, err
		}
		entries, err := parseDirBlock(b)
		if err != nil {
			return nil, fmt.Errorf("directory inode %d block %d: %w", in.number, logical, err)
		}
		for _, de := range entries {
			if de.filename == name {
				return de, nil
			}
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// dirInsert append an entry for name. The first block whose last entry has
// enough slack takes the record; otherwise the directory grows by one block.
func (fs *FileSystem) dirInsert(in *inode, name string, child uint32, fileType uint8) error {
	if name == "" || len(name) > int(fs.superblock.blockSize)-dirEntryHeaderSize {
		return fmt.Errorf("invalid entry name %q: %w", name, ErrInvalid)
	}
	de := &directoryEntry{inode: child, filename: name, fileType: fileType}
	needed := de.minLength()

	for logical := uint64(0); logical < fs.dirBlockCount(in); logical++ {
		phys, err := fs.dirBlockPhys(in, logical)
		if err != nil {
			return err
		}
		b, err := fs.dev.readBlock(phys)
		if err != nil {
			return err
		}
		entries, err := parseDirBlock(b)
		if err != nil {
			return fmt.Errorf("directory inode %d block %d: %w", in.number, logical, err)
		}
		if len(entries) > 0 {
			last := entries[len(entries)-1]
			if last.entryLen-last.minLength() < needed {
				continue
			}
		}
		entries = append(entries, de)
		packed, err := dirBlockFromEntries(entries, fs.superblock.blockSize)
		if err != nil {
			return err
		}
		if err := fs.dev.writeBlock(phys, packed); err != nil {
			return err
		}
		in.mtime = now()
		in.ctime = in.mtime
		return fs.writeInode(in)
	}

	// no room anywhere; grow the directory by one block
	logical := fs.dirBlockCount(in)
	phys, err := fs.allocateFileBlock(in, logical)
	if err != nil {
		return err
	}
	packed, err := dirBlockFromEntries([]*directoryEntry{de}, fs.superblock.blockSize)
	if err != nil {
		return err
	}
	if err := fs.dev.writeBlock(phys, packed); err != nil {
		return err
	}
	in.size += uint64(fs.superblock.blockSize)
	in.mtime = now()
	in.ctime = in.mtime
	return fs.writeInode(in)
}

// dirRemove drop the entry for name. The removed record's space is absorbed
// by its neighbors; a block that empties at the directory's tail is freed.
func (fs *FileSystem) dirRemove(in *inode, name string) error {
	for logical := uint64(0); logical < fs.dirBlockCount(in); logical++ {
		phys, err := fs.dirBlockPhys(in, logical)
		if err != nil {
			return err
		}
		b, err := fs.dev.readBlock(phys)
		if err != nil {
			return err
		}
		entries, err := parseDirBlock(b)
		if err != nil {
			return fmt.Errorf("directory inode %d block %d: %w", in.number, logical, err)
		}
		found := -1
		for i, de := range entries {
			if de.filename == name {
				found = i
				break
			}
		}
		if found < 0 {
			continue
		}
		entries = append(entries[:found], entries[found+1:]...)

		if len(entries) == 0 && logical == fs.dirBlockCount(in)-1 && logical > 0 {
			// tail block emptied; shrink the directory
			if err := fs.extentTruncate(in, logical); err != nil {
				return err
			}
			in.size -= uint64(fs.superblock.blockSize)
		} else {
			packed, err := dirBlockFromEntries(entries, fs.superblock.blockSize)
			if err != nil {
				return err
			}
			if err := fs.dev.writeBlock(phys, packed); err != nil {
				return err
			}
		}
		in.mtime = now()
		in.ctime = in.mtime
		return fs.writeInode(in)
	}
	return fmt.Errorf("%s: %w", name, ErrNotFound)
}

// initDirectory give a fresh directory inode its . and .. entries
func (fs *FileSystem) initDirectory(in *inode, parent uint32) error {
	if err := fs.dirInsert(in, ".", in.number, dirFileTypeDirectory); err != nil {
		return err
	}
	return fs.dirInsert(in, "..", parent, dirFileTypeDirectory)
}

// dirIsEmpty reports whether a directory holds nothing besides . and ..
func (fs *FileSystem) dirIsEmpty(in *inode) (bool, error) {
	entries, err := fs.readDirEntries(in)
	if err != nil {
		return false, err
	}
	for _, de := range entries {
		if de.filename != "." && de.filename != ".." {
			return false, nil
		}
	}
	return true, nil
}

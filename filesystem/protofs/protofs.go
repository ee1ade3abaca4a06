// Package protofs implements an ext4-inspired filesystem that lives inside a
// single host file treated as a virtual block device: block groups with
// bitmap allocators, an inode table, per-inode extent B+ trees and
// hierarchical directories, all with a fixed little-endian on-disk layout.
// It is not on-disk compatible with real ext4.
package protofs

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kotazzz/protoext4/backend"
	"github.com/kotazzz/protoext4/util/bitmap"
)

var log = logrus.StandardLogger()

const (
	// DefaultBlockSize the block size used when Params does not set one
	DefaultBlockSize uint32 = 4096

	minBlockSize uint32 = 1024
	maxBlockSize uint32 = 65536

	// defaultInodeRatio one inode per this many bytes, the mke2fs default
	defaultInodeRatio uint64 = 8192
)

// Params tune filesystem creation. Zero values select defaults.
type Params struct {
	// BlockSize in bytes, a power of two between 1024 and 65536
	BlockSize uint32
	// BlocksPerGroup must be a multiple of 8 and at most 8*BlockSize
	BlocksPerGroup uint32
	// InodesPerGroup must be a multiple of 8 and at most 8*BlockSize
	InodesPerGroup uint32
	// UID and GID stamped on the root directory and on files created through
	// the FileSystem that Create returns. They are not stored on disk; a
	// filesystem mounted with Read stamps new files with uid and gid 0.
	UID uint32
	GID uint32
}

// FileSystem is a single mounted filesystem image. It is not safe for
// concurrent use; callers serialize access externally.
type FileSystem struct {
	superblock *superblock
	groups     *groupDescriptors
	backend    backend.Storage
	dev        *blockDevice
	size       int64
	cwd        uint32
	cwdPath    string
	fds        map[int]*openFile
	defaultUID uint32
	defaultGID uint32
}

// Equal compare if two filesystems have the same metadata and backing store
func (fs *FileSystem) Equal(a *FileSystem) bool {
	localMatch := fs.backend == a.backend
	sbMatch := fs.superblock.equal(a.superblock)
	gdMatch := fs.groups.equal(a.groups)
	return localMatch && sbMatch && gdMatch
}

// Create write a freshly initialized filesystem onto b and return it
// mounted. size is the image size in bytes.
func Create(b backend.Storage, size int64, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	blockSize := p.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < minBlockSize || blockSize > maxBlockSize || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("invalid block size %d, must be a power of two between %d and %d: %w", blockSize, minBlockSize, maxBlockSize, ErrInvalid)
	}
	totalBlocks := uint64(size) / uint64(blockSize)
	if totalBlocks < 16 {
		return nil, fmt.Errorf("image of %d bytes holds only %d blocks of %d bytes, too small: %w", size, totalBlocks, blockSize, ErrInvalid)
	}

	blocksPerGroup := p.BlocksPerGroup
	if blocksPerGroup == 0 {
		blocksPerGroup = 8 * blockSize
	}
	switch {
	case blocksPerGroup%8 != 0:
		return nil, fmt.Errorf("blocks per group %d must be a multiple of 8: %w", blocksPerGroup, ErrInvalid)
	case blocksPerGroup > 8*blockSize:
		return nil, fmt.Errorf("blocks per group %d exceeds bitmap capacity %d: %w", blocksPerGroup, 8*blockSize, ErrInvalid)
	}

	groupCount := int((totalBlocks + uint64(blocksPerGroup) - 1) / uint64(blocksPerGroup))

	inodesPerGroup := p.InodesPerGroup
	if inodesPerGroup == 0 {
		inodesPerGroup = uint32((totalBlocks*uint64(blockSize)/defaultInodeRatio + uint64(groupCount) - 1) / uint64(groupCount))
		inodesPerGroup = (inodesPerGroup + 7) &^ 7
		if inodesPerGroup < 8 {
			inodesPerGroup = 8
		}
	}
	switch {
	case inodesPerGroup%8 != 0:
		return nil, fmt.Errorf("inodes per group %d must be a multiple of 8: %w", inodesPerGroup, ErrInvalid)
	case inodesPerGroup > 8*blockSize:
		return nil, fmt.Errorf("inodes per group %d exceeds bitmap capacity %d: %w", inodesPerGroup, 8*blockSize, ErrInvalid)
	}

	sb := &superblock{
		blockCount:     totalBlocks,
		blockSize:      blockSize,
		blocksPerGroup: blocksPerGroup,
		inodesPerGroup: inodesPerGroup,
		inodeCount:     uint64(groupCount) * uint64(inodesPerGroup),
	}
	sb.firstDataBlock = 1 + sb.gdtSpillBlocks()

	fs := &FileSystem{
		superblock: sb,
		backend:    b,
		dev:        &blockDevice{backend: b, blockSize: blockSize, totalBlocks: totalBlocks},
		size:       size,
		cwd:        rootInodeNumber,
		cwdPath:    "/",
		fds:        map[int]*openFile{},
		defaultUID: p.UID,
		defaultGID: p.GID,
	}

	overhead := fs.groupOverheadBlocks()
	descriptors := make([]groupDescriptor, groupCount)
	for g := 0; g < groupCount; g++ {
		start := fs.groupFirstBlock(g)
		count := fs.groupBlockCount(g)
		if count <= overhead {
			return nil, fmt.Errorf("group %d has %d blocks but needs %d for its metadata; choose a different size or geometry: %w", g, count, overhead+1, ErrInvalid)
		}
		gd := groupDescriptor{
			number:           g,
			blockBitmapBlock: start,
			inodeBitmapBlock: start + 1,
			inodeTableBlock:  start + 2,
			freeBlocks:       count - overhead,
			freeInodes:       inodesPerGroup,
		}
		if g == 0 {
			// inode 1 is reserved, inode 2 is the root directory
			gd.freeInodes -= 2
		}
		descriptors[g] = gd
		sb.freeBlocks += uint64(gd.freeBlocks)
		sb.freeInodes += uint64(gd.freeInodes)
	}
	fs.groups = &groupDescriptors{descriptors: descriptors}

	// lay down the superblock and descriptor table
	if err := fs.dev.writeBlock(0, make([]byte, blockSize)); err != nil {
		return nil, err
	}
	for blk := uint64(1); blk < uint64(sb.firstDataBlock); blk++ {
		if err := fs.dev.writeBlock(blk, make([]byte, blockSize)); err != nil {
			return nil, err
		}
	}
	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}
	if err := fs.dev.writeRange(SuperblockSize, fs.groups.toBytes()); err != nil {
		return nil, err
	}

	// initialize each group's bitmaps and inode table
	for g := 0; g < groupCount; g++ {
		gd := &descriptors[g]
		count := int(fs.groupBlockCount(g))

		blockBm := bitmap.New(int(blockSize))
		if err := blockBm.SetRange(0, int(overhead)); err != nil {
			return nil, err
		}
		// bits past the group's real end must never be handed out
		if err := blockBm.SetRange(count, int(blockSize)*8); err != nil {
			return nil, err
		}
		if err := fs.storeBitmap(gd.blockBitmapBlock, blockBm); err != nil {
			return nil, err
		}

		inodeBm := bitmap.New(int(blockSize))
		if err := inodeBm.SetRange(int(inodesPerGroup), int(blockSize)*8); err != nil {
			return nil, err
		}
		if g == 0 {
			if err := inodeBm.SetRange(0, 2); err != nil {
				return nil, err
			}
		}
		if err := fs.storeBitmap(gd.inodeBitmapBlock, inodeBm); err != nil {
			return nil, err
		}

		for i := uint32(0); i < fs.inodeTableBlocks(); i++ {
			if err := fs.dev.writeBlock(gd.inodeTableBlock+uint64(i), make([]byte, blockSize)); err != nil {
				return nil, err
			}
		}
	}

	// create the root directory; its .. points at itself
	ts := now()
	root := &inode{
		number: rootInodeNumber,
		mode:   modeTypeDirectory | 0o755,
		uid:    p.UID,
		gid:    p.GID,
		links:  2,
		atime:  ts,
		ctime:  ts,
		mtime:  ts,
		root:   newExtentRoot(),
	}
	if err := fs.writeInode(root); err != nil {
		return nil, err
	}
	if err := fs.initDirectory(root, rootInodeNumber); err != nil {
		return nil, err
	}
	if err := fs.dev.flush(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"blocks": totalBlocks,
		"groups": groupCount,
		"inodes": sb.inodeCount,
	}).Debug("created filesystem")
	return fs, nil
}

// Read mount an existing filesystem from b
func Read(b backend.Storage) (*FileSystem, error) {
	size, err := b.Size()
	if err != nil {
		return nil, fmt.Errorf("could not size backing storage: %v: %w", err, ErrIO)
	}
	raw := make([]byte, SuperblockSize)
	if _, err := b.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("failed to read superblock: %v: %w", err, ErrIO)
	}
	sb, err := superblockFromBytes(raw)
	if err != nil {
		return nil, err
	}
	if sb.blockCount*uint64(sb.blockSize) > uint64(size) {
		return nil, fmt.Errorf("superblock describes %d blocks of %d bytes but storage holds only %d bytes: %w", sb.blockCount, sb.blockSize, size, ErrCorrupt)
	}

	fs := &FileSystem{
		superblock: sb,
		backend:    b,
		dev:        &blockDevice{backend: b, blockSize: sb.blockSize, totalBlocks: sb.blockCount},
		size:       size,
		cwd:        rootInodeNumber,
		cwdPath:    "/",
		fds:        map[int]*openFile{},
	}

	gdtRaw := make([]byte, sb.groupCount()*groupDescriptorSize)
	if err := fs.dev.readRange(SuperblockSize, gdtRaw); err != nil {
		return nil, err
	}
	gds, err := groupDescriptorsFromBytes(gdtRaw, sb.groupCount())
	if err != nil {
		return nil, err
	}
	fs.groups = gds
	return fs, nil
}

// DiskUsage is the df view of a mounted filesystem
type DiskUsage struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64
}

// Df report total and free blocks and inodes
func (fs *FileSystem) Df() DiskUsage {
	return DiskUsage{
		BlockSize:   fs.superblock.blockSize,
		TotalBlocks: fs.superblock.blockCount,
		FreeBlocks:  fs.superblock.freeBlocks,
		TotalInodes: fs.superblock.inodeCount,
		FreeInodes:  fs.superblock.freeInodes,
	}
}

// BlockSize the filesystem's block size in bytes
func (fs *FileSystem) BlockSize() uint32 {
	return fs.superblock.blockSize
}

// Chdir change the working directory used for relative paths
func (fs *FileSystem) Chdir(p string) error {
	number, err := fs.resolve(p, true)
	if err != nil {
		return fmt.Errorf("chdir %s: %w", p, err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return fmt.Errorf("chdir %s: %w", p, err)
	}
	if !in.isDir() {
		return fmt.Errorf("chdir %s: %w", p, ErrNotDirectory)
	}
	fs.cwdPath = fs.absolutePath(p)
	fs.cwd = number
	return nil
}

// Getcwd the current working directory path
func (fs *FileSystem) Getcwd() string {
	return fs.cwdPath
}

// Flush force written data to stable storage
func (fs *FileSystem) Flush() error {
	return fs.dev.flush()
}

// Close flush and release the backing storage. The filesystem is unusable
// afterwards.
func (fs *FileSystem) Close() error {
	if err := fs.dev.flush(); err != nil {
		return err
	}
	return fs.backend.Close()
}

var _ os.FileInfo = (*fileInfo)(nil)

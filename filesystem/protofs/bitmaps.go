package protofs

import (
	"fmt"

	"github.com/kotazzz/protoext4/util/bitmap"
)

// Allocation state is kept as a consistent triple: the bitmap bit, the group
// descriptor count and the superblock count. Mutations write back in that
// order.

// groupFirstBlock the absolute block where a group begins
func (fs *FileSystem) groupFirstBlock(group int) uint64 {
	return uint64(fs.superblock.firstDataBlock) + uint64(group)*uint64(fs.superblock.blocksPerGroup)
}

// groupBlockCount how many blocks a group actually spans; the last group may
// be truncated by the device end
func (fs *FileSystem) groupBlockCount(group int) uint32 {
	first := fs.groupFirstBlock(group)
	if first >= fs.superblock.blockCount {
		return 0
	}
	remaining := fs.superblock.blockCount - first
	if remaining < uint64(fs.superblock.blocksPerGroup) {
		return uint32(remaining)
	}
	return fs.superblock.blocksPerGroup
}

// inodeTableBlocks how many blocks each group's inode table occupies
func (fs *FileSystem) inodeTableBlocks() uint32 {
	bs := fs.superblock.blockSize
	return (fs.superblock.inodesPerGroup*InodeSize + bs - 1) / bs
}

// groupOverheadBlocks bitmap, inode bitmap and inode table blocks per group
func (fs *FileSystem) groupOverheadBlocks() uint32 {
	return 2 + fs.inodeTableBlocks()
}

func (fs *FileSystem) loadBitmap(block uint64) (*bitmap.Bitmap, error) {
	b, err := fs.dev.readBlock(block)
	if err != nil {
		return nil, err
	}
	return bitmap.FromBytes(b), nil
}

func (fs *FileSystem) storeBitmap(block uint64, bm *bitmap.Bitmap) error {
	return fs.dev.writeBlock(block, bm.ToBytes())
}

// writeSuperblock patch the superblock bytes into block 0
func (fs *FileSystem) writeSuperblock() error {
	b, err := fs.dev.readBlock(0)
	if err != nil {
		return err
	}
	copy(b[:SuperblockSize], fs.superblock.toBytes())
	return fs.dev.writeBlock(0, b)
}

// writeGroupDescriptor write back the block holding one descriptor
func (fs *FileSystem) writeGroupDescriptor(group int) error {
	offset := int64(SuperblockSize) + int64(group)*groupDescriptorSize
	return fs.dev.writeRange(offset, fs.groups.descriptors[group].toBytes())
}

// allocBlock find and claim a free block, scanning groups in rotation from
// hintGroup. Returns the absolute block number.
func (fs *FileSystem) allocBlock(hintGroup int) (uint64, error) {
	groups := len(fs.groups.descriptors)
	if hintGroup < 0 || hintGroup >= groups {
		hintGroup = 0
	}
	for i := 0; i < groups; i++ {
		g := (hintGroup + i) % groups
		gd := &fs.groups.descriptors[g]
		if gd.freeBlocks == 0 {
			continue
		}
		bm, err := fs.loadBitmap(gd.blockBitmapBlock)
		if err != nil {
			return 0, err
		}
		loc := bm.FirstFree(0)
		if loc < 0 || loc >= int(fs.groupBlockCount(g)) {
			return 0, fmt.Errorf("group %d reports %d free blocks but bitmap has none: %w", g, gd.freeBlocks, ErrCorrupt)
		}
		if err := bm.Set(loc); err != nil {
			return 0, err
		}
		if err := fs.storeBitmap(gd.blockBitmapBlock, bm); err != nil {
			return 0, err
		}
		gd.freeBlocks--
		fs.superblock.freeBlocks--
		if err := fs.writeGroupDescriptor(g); err != nil {
			return 0, err
		}
		if err := fs.writeSuperblock(); err != nil {
			return 0, err
		}
		block := fs.groupFirstBlock(g) + uint64(loc)
		log.WithField("block", block).WithField("group", g).Debug("allocated block")
		return block, nil
	}
	return 0, fmt.Errorf("no free blocks: %w", ErrNoSpace)
}

// freeBlock release a block back to its group
func (fs *FileSystem) freeBlock(block uint64) error {
	if block < uint64(fs.superblock.firstDataBlock) || block >= fs.superblock.blockCount {
		return fmt.Errorf("cannot free metadata or out-of-range block %d: %w", block, ErrInvalid)
	}
	g := int((block - uint64(fs.superblock.firstDataBlock)) / uint64(fs.superblock.blocksPerGroup))
	gd := &fs.groups.descriptors[g]
	loc := int(block - fs.groupFirstBlock(g))
	bm, err := fs.loadBitmap(gd.blockBitmapBlock)
	if err != nil {
		return err
	}
	set, err := bm.IsSet(loc)
	if err != nil {
		return err
	}
	if !set {
		return fmt.Errorf("block %d is already free: %w", block, ErrCorrupt)
	}
	if err := bm.Clear(loc); err != nil {
		return err
	}
	if err := fs.storeBitmap(gd.blockBitmapBlock, bm); err != nil {
		return err
	}
	gd.freeBlocks++
	fs.superblock.freeBlocks++
	if err := fs.writeGroupDescriptor(g); err != nil {
		return err
	}
	return fs.writeSuperblock()
}

// freeRun release count consecutive blocks starting at start
func (fs *FileSystem) freeRun(start, count uint64) error {
	for i := uint64(0); i < count; i++ {
		if err := fs.freeBlock(start + i); err != nil {
			return err
		}
	}
	return nil
}

// dirGroupScanWidth how many candidate groups an isDir allocation compares
// before settling on the one with the most free blocks
const dirGroupScanWidth = 4

// allocInode find and claim a free inode, scanning groups in rotation from
// hintGroup. Directory inodes prefer a group with many free blocks among the
// first few candidates. Returns the 1-based inode number.
func (fs *FileSystem) allocInode(hintGroup int, isDir bool) (uint32, error) {
	groups := len(fs.groups.descriptors)
	if hintGroup < 0 || hintGroup >= groups {
		hintGroup = 0
	}
	best := -1
	candidates := 0
	for i := 0; i < groups; i++ {
		g := (hintGroup + i) % groups
		gd := &fs.groups.descriptors[g]
		if gd.freeInodes == 0 {
			continue
		}
		if !isDir {
			best = g
			break
		}
		if best == -1 || gd.freeBlocks > fs.groups.descriptors[best].freeBlocks {
			best = g
		}
		candidates++
		if candidates >= dirGroupScanWidth {
			break
		}
	}
	if best == -1 {
		return 0, fmt.Errorf("no free inodes: %w", ErrNoSpace)
	}

	gd := &fs.groups.descriptors[best]
	bm, err := fs.loadBitmap(gd.inodeBitmapBlock)
	if err != nil {
		return 0, err
	}
	loc := bm.FirstFree(0)
	if loc < 0 || loc >= int(fs.superblock.inodesPerGroup) {
		return 0, fmt.Errorf("group %d reports %d free inodes but bitmap has none: %w", best, gd.freeInodes, ErrCorrupt)
	}
	if err := bm.Set(loc); err != nil {
		return 0, err
	}
	if err := fs.storeBitmap(gd.inodeBitmapBlock, bm); err != nil {
		return 0, err
	}
	gd.freeInodes--
	fs.superblock.freeInodes--
	if err := fs.writeGroupDescriptor(best); err != nil {
		return 0, err
	}
	if err := fs.writeSuperblock(); err != nil {
		return 0, err
	}
	number := uint32(best)*fs.superblock.inodesPerGroup + uint32(loc) + 1
	log.WithField("inode", number).WithField("group", best).Debug("allocated inode")
	return number, nil
}

// freeInode release an inode number back to its group
func (fs *FileSystem) freeInode(number uint32) error {
	if number == 0 || uint64(number) > fs.superblock.inodeCount {
		return fmt.Errorf("inode number %d out of range: %w", number, ErrInvalid)
	}
	g := fs.inodeGroup(number)
	gd := &fs.groups.descriptors[g]
	loc := int((number - 1) % fs.superblock.inodesPerGroup)
	bm, err := fs.loadBitmap(gd.inodeBitmapBlock)
	if err != nil {
		return err
	}
	set, err := bm.IsSet(loc)
	if err != nil {
		return err
	}
	if !set {
		return fmt.Errorf("inode %d is already free: %w", number, ErrCorrupt)
	}
	if err := bm.Clear(loc); err != nil {
		return err
	}
	if err := fs.storeBitmap(gd.inodeBitmapBlock, bm); err != nil {
		return err
	}
	gd.freeInodes++
	fs.superblock.freeInodes++
	if err := fs.writeGroupDescriptor(g); err != nil {
		return err
	}
	return fs.writeSuperblock()
}

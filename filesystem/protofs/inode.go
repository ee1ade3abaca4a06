package protofs

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

const (
	// InodeSize is the on-disk size of a single inode record
	InodeSize = 88
	// extentRootOffset is where the inline extent root window begins
	extentRootOffset = 40
	// extentRootSize is the size of the inline extent root window
	extentRootSize = 48

	modeTypeMask      uint32 = 0xF000
	modeTypeRegular   uint32 = 0x8000
	modeTypeDirectory uint32 = 0x4000
	modeTypeSymlink   uint32 = 0xA000
	modePermMask      uint32 = 0x0FFF

	// rootInodeNumber the fixed inode of the root directory; inode 1 is
	// reserved, inode 0 never exists
	rootInodeNumber uint32 = 2
)

// inode is a structure holding the data about an inode
type inode struct {
	number uint32
	mode   uint32
	uid    uint32
	gid    uint32
	size   uint64
	links  uint32
	atime  uint32
	ctime  uint32
	mtime  uint32
	flags  uint32
	root   *extentNode
}

func (in *inode) isDir() bool {
	return in.mode&modeTypeMask == modeTypeDirectory
}

func (in *inode) isRegular() bool {
	return in.mode&modeTypeMask == modeTypeRegular
}

func (in *inode) isSymlink() bool {
	return in.mode&modeTypeMask == modeTypeSymlink
}

// fileMode converts the packed mode to an os.FileMode
func (in *inode) fileMode() os.FileMode {
	mode := os.FileMode(in.mode & 0o777)
	switch in.mode & modeTypeMask {
	case modeTypeDirectory:
		mode |= os.ModeDir
	case modeTypeSymlink:
		mode |= os.ModeSymlink
	}
	if in.mode&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if in.mode&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if in.mode&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// dirEntryType the directory entry file type byte for this inode's type
func (in *inode) dirEntryType() uint8 {
	switch in.mode & modeTypeMask {
	case modeTypeDirectory:
		return dirFileTypeDirectory
	case modeTypeSymlink:
		return dirFileTypeSymlink
	default:
		return dirFileTypeRegular
	}
}

// inodeFromBytes create an inode struct from bytes
func inodeFromBytes(b []byte, number uint32) (*inode, error) {
	if len(b) < InodeSize {
		return nil, fmt.Errorf("inode data too short: %d bytes, must be %d bytes: %w", len(b), InodeSize, ErrCorrupt)
	}
	in := inode{
		number: number,
		mode:   binary.LittleEndian.Uint32(b[0x0:0x4]),
		uid:    binary.LittleEndian.Uint32(b[0x4:0x8]),
		gid:    binary.LittleEndian.Uint32(b[0x8:0xc]),
		links:  binary.LittleEndian.Uint32(b[0x14:0x18]),
		atime:  binary.LittleEndian.Uint32(b[0x18:0x1c]),
		ctime:  binary.LittleEndian.Uint32(b[0x1c:0x20]),
		mtime:  binary.LittleEndian.Uint32(b[0x20:0x24]),
		flags:  binary.LittleEndian.Uint32(b[0x24:0x28]),
	}
	in.size = uint64(binary.LittleEndian.Uint32(b[0xc:0x10])) | uint64(binary.LittleEndian.Uint32(b[0x10:0x14]))<<32

	// a zeroed record is a free inode slot; give it an empty tree rather
	// than failing the magic check
	if in.mode == 0 && binary.LittleEndian.Uint16(b[extentRootOffset:extentRootOffset+2]) == 0 {
		in.root = newExtentRoot()
		return &in, nil
	}
	root, err := parseExtentNode(b[extentRootOffset:extentRootOffset+extentRootSize], extentRootMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("inode %d extent root: %w", number, err)
	}
	in.root = root
	return &in, nil
}

// toBytes returns an inode ready to be written to disk
func (in *inode) toBytes() []byte {
	b := make([]byte, InodeSize)
	binary.LittleEndian.PutUint32(b[0x0:0x4], in.mode)
	binary.LittleEndian.PutUint32(b[0x4:0x8], in.uid)
	binary.LittleEndian.PutUint32(b[0x8:0xc], in.gid)
	binary.LittleEndian.PutUint32(b[0xc:0x10], uint32(in.size))
	binary.LittleEndian.PutUint32(b[0x10:0x14], uint32(in.size>>32))
	binary.LittleEndian.PutUint32(b[0x14:0x18], in.links)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], in.atime)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], in.ctime)
	binary.LittleEndian.PutUint32(b[0x20:0x24], in.mtime)
	binary.LittleEndian.PutUint32(b[0x24:0x28], in.flags)
	copy(b[extentRootOffset:extentRootOffset+extentRootSize], in.root.toBytes(extentRootSize))
	return b
}

// inodeGroup which block group an inode's record lives in
func (fs *FileSystem) inodeGroup(number uint32) int {
	return int((number - 1) / fs.superblock.inodesPerGroup)
}

// inodeOffset the byte offset of an inode's record on the device
func (fs *FileSystem) inodeOffset(number uint32) int64 {
	group := fs.inodeGroup(number)
	index := int64((number - 1) % fs.superblock.inodesPerGroup)
	table := int64(fs.groups.descriptors[group].inodeTableBlock)
	return table*int64(fs.superblock.blockSize) + index*InodeSize
}

// readInode load an inode record from the inode table
func (fs *FileSystem) readInode(number uint32) (*inode, error) {
	if number == 0 || uint64(number) > fs.superblock.inodeCount {
		return nil, fmt.Errorf("inode number %d out of range: %w", number, ErrInvalid)
	}
	b := make([]byte, InodeSize)
	if err := fs.dev.readRange(fs.inodeOffset(number), b); err != nil {
		return nil, err
	}
	return inodeFromBytes(b, number)
}

// writeInode store an inode record into the inode table
func (fs *FileSystem) writeInode(in *inode) error {
	if in.number == 0 || uint64(in.number) > fs.superblock.inodeCount {
		return fmt.Errorf("inode number %d out of range: %w", in.number, ErrInvalid)
	}
	return fs.dev.writeRange(fs.inodeOffset(in.number), in.toBytes())
}

func now() uint32 {
	return uint32(time.Now().Unix())
}

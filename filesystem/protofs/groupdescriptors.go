package protofs

import (
	"encoding/binary"
	"fmt"
)

// groupDescriptorSize is the on-disk size of a single group descriptor
const groupDescriptorSize = 32

// groupDescriptor describes a single block group
type groupDescriptor struct {
	number           int
	blockBitmapBlock uint64
	inodeBitmapBlock uint64
	inodeTableBlock  uint64
	freeBlocks       uint32
	freeInodes       uint32
}

// groupDescriptorFromBytes create a groupDescriptor struct from bytes
func groupDescriptorFromBytes(b []byte, number int) (*groupDescriptor, error) {
	if len(b) < groupDescriptorSize {
		return nil, fmt.Errorf("group descriptor data too short: %d bytes, must be %d bytes: %w", len(b), groupDescriptorSize, ErrCorrupt)
	}
	gd := groupDescriptor{
		number:           number,
		blockBitmapBlock: binary.LittleEndian.Uint64(b[0x0:0x8]),
		inodeBitmapBlock: binary.LittleEndian.Uint64(b[0x8:0x10]),
		inodeTableBlock:  binary.LittleEndian.Uint64(b[0x10:0x18]),
		freeBlocks:       binary.LittleEndian.Uint32(b[0x18:0x1c]),
		freeInodes:       binary.LittleEndian.Uint32(b[0x1c:0x20]),
	}
	return &gd, nil
}

// toBytes returns a groupDescriptor ready to be written to disk
func (gd *groupDescriptor) toBytes() []byte {
	b := make([]byte, groupDescriptorSize)
	binary.LittleEndian.PutUint64(b[0x0:0x8], gd.blockBitmapBlock)
	binary.LittleEndian.PutUint64(b[0x8:0x10], gd.inodeBitmapBlock)
	binary.LittleEndian.PutUint64(b[0x10:0x18], gd.inodeTableBlock)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], gd.freeBlocks)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], gd.freeInodes)
	return b
}

// groupDescriptors is the table of all block group descriptors
type groupDescriptors struct {
	descriptors []groupDescriptor
}

// groupDescriptorsFromBytes create a groupDescriptors struct from bytes
func groupDescriptorsFromBytes(b []byte, count int) (*groupDescriptors, error) {
	if len(b) < count*groupDescriptorSize {
		return nil, fmt.Errorf("group descriptor table data too short: %d bytes for %d groups: %w", len(b), count, ErrCorrupt)
	}
	gds := groupDescriptors{descriptors: make([]groupDescriptor, 0, count)}
	for i := 0; i < count; i++ {
		gd, err := groupDescriptorFromBytes(b[i*groupDescriptorSize:(i+1)*groupDescriptorSize], i)
		if err != nil {
			return nil, err
		}
		gds.descriptors = append(gds.descriptors, *gd)
	}
	return &gds, nil
}

// toBytes returns the group descriptor table ready to be written to disk
func (gds *groupDescriptors) toBytes() []byte {
	b := make([]byte, 0, len(gds.descriptors)*groupDescriptorSize)
	for i := range gds.descriptors {
		b = append(b, gds.descriptors[i].toBytes()...)
	}
	return b
}

func (gds *groupDescriptors) equal(a *groupDescriptors) bool {
	if (gds == nil) != (a == nil) {
		return false
	}
	if gds == nil {
		return true
	}
	if len(gds.descriptors) != len(a.descriptors) {
		return false
	}
	for i := range gds.descriptors {
		if gds.descriptors[i] != a.descriptors[i] {
			return false
		}
	}
	return true
}

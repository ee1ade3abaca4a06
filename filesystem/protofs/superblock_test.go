package protofs

import (
	"bytes"
	"errors"
	"testing"
)

func testValidSuperblock() *superblock {
	return &superblock{
		blockCount:     2048,
		blockSize:      4096,
		blocksPerGroup: 32768,
		inodesPerGroup: 1024,
		inodeCount:     1024,
		freeBlocks:     2000,
		freeInodes:     1022,
		firstDataBlock: 1,
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	sb := testValidSuperblock()
	b := sb.toBytes()
	if len(b) != SuperblockSize {
		t.Fatalf("expected %d bytes, got %d", SuperblockSize, len(b))
	}
	parsed, err := superblockFromBytes(b)
	if err != nil {
		t.Fatalf("superblockFromBytes failed: %v", err)
	}
	if !parsed.equal(sb) {
		t.Errorf("mismatched superblock, actual %#v expected %#v", parsed, sb)
	}
	// pack(unpack(b)) must reproduce b exactly
	if !bytes.Equal(parsed.toBytes(), b) {
		t.Errorf("re-serialized superblock differs from original bytes")
	}
}

func TestSuperblockFromBytesErrors(t *testing.T) {
	valid := testValidSuperblock().toBytes()

	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:SuperblockSize-1] }},
		{"flipped data byte", func(b []byte) []byte { b[5] ^= 0xff; return b }},
		{"flipped checksum byte", func(b []byte) []byte { b[superblockChecksumStart] ^= 0xff; return b }},
		{"zeroed", func(b []byte) []byte { return make([]byte, SuperblockSize) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, len(valid))
			copy(b, valid)
			if _, err := superblockFromBytes(tt.mangle(b)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestSuperblockGroupCount(t *testing.T) {
	tests := []struct {
		name     string
		blocks   uint64
		perGroup uint32
		expected int
	}{
		{"exact", 2048, 1024, 2},
		{"rounds up", 2049, 1024, 3},
		{"single partial", 100, 1024, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &superblock{blockCount: tt.blocks, blocksPerGroup: tt.perGroup}
			if got := sb.groupCount(); got != tt.expected {
				t.Errorf("expected %d groups, got %d", tt.expected, got)
			}
		})
	}
}

func TestSuperblockGDTSpillBlocks(t *testing.T) {
	tests := []struct {
		name     string
		groups   uint64
		expected uint32
	}{
		{"fits in block 0", 10, 0},
		{"exactly fits", uint64((4096 - SuperblockSize) / groupDescriptorSize), 0},
		{"one over", uint64((4096-SuperblockSize)/groupDescriptorSize + 1), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &superblock{
				blockCount:     tt.groups * 8,
				blockSize:      4096,
				blocksPerGroup: 8,
			}
			if got := sb.gdtSpillBlocks(); got != tt.expected {
				t.Errorf("expected %d spill blocks, got %d", tt.expected, got)
			}
		})
	}
}

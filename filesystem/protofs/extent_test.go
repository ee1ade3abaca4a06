package protofs

import (
	"encoding/binary"
	"errors"
	"testing"
)

// TestExtentNodeRoundTrip serialization followed by parsing yields the same
// node, for both the inline root window and block-sized nodes
func TestExtentNodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		node *extentNode
		size int
	}{
		{
			"empty root leaf",
			&extentNode{depth: 0, max: extentRootMaxEntries},
			extentRootSize,
		},
		{
			"root leaf",
			&extentNode{depth: 0, max: extentRootMaxEntries, extents: []extent{
				{fileBlock: 0, count: 5, startBlock: 100},
				{fileBlock: 5, count: 10, startBlock: 200},
			}},
			extentRootSize,
		},
		{
			"root index",
			&extentNode{depth: 1, max: extentRootMaxEntries, children: []extentIndex{
				{fileBlock: 0, childBlock: 50},
				{fileBlock: 100, childBlock: 51},
			}},
			extentRootSize,
		},
		{
			"block leaf",
			&extentNode{depth: 0, max: 340, extents: []extent{
				{fileBlock: 7, count: 3, startBlock: 0x1ffffffff},
				{fileBlock: 10, count: 0x7fff, startBlock: 9000},
			}},
			4096,
		},
		{
			"block index deep",
			&extentNode{depth: 3, max: 340, children: []extentIndex{
				{fileBlock: 0, childBlock: 0x10000002a},
			}},
			4096,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.node.toBytes(tt.size)
			if len(b) != tt.size {
				t.Fatalf("expected %d bytes, got %d", tt.size, len(b))
			}
			parsed, err := parseExtentNode(b, tt.node.max)
			if err != nil {
				t.Fatalf("parseExtentNode failed: %v", err)
			}
			if parsed.depth != tt.node.depth {
				t.Errorf("expected depth %d, got %d", tt.node.depth, parsed.depth)
			}
			if parsed.max != tt.node.max {
				t.Errorf("expected max %d, got %d", tt.node.max, parsed.max)
			}
			if parsed.entries() != tt.node.entries() {
				t.Fatalf("expected %d entries, got %d", tt.node.entries(), parsed.entries())
			}
			for i := range tt.node.extents {
				if parsed.extents[i] != tt.node.extents[i] {
					t.Errorf("extent[%d]: expected %+v, got %+v", i, tt.node.extents[i], parsed.extents[i])
				}
			}
			for i := range tt.node.children {
				if parsed.children[i] != tt.node.children[i] {
					t.Errorf("child[%d]: expected %+v, got %+v", i, tt.node.children[i], parsed.children[i])
				}
			}
		})
	}
}

func TestExtentNodeHeaderLayout(t *testing.T) {
	node := &extentNode{depth: 2, max: 340, children: []extentIndex{{fileBlock: 9, childBlock: 77}}}
	b := node.toBytes(4096)

	if sig := binary.LittleEndian.Uint16(b[0:2]); sig != extentHeaderSignature {
		t.Errorf("expected magic %#x, got %#x", extentHeaderSignature, sig)
	}
	if entries := binary.LittleEndian.Uint16(b[2:4]); entries != 1 {
		t.Errorf("expected 1 entry, got %d", entries)
	}
	if max := binary.LittleEndian.Uint16(b[4:6]); max != 340 {
		t.Errorf("expected max 340, got %d", max)
	}
	if depth := binary.LittleEndian.Uint16(b[6:8]); depth != 2 {
		t.Errorf("expected depth 2, got %d", depth)
	}
}

func TestParseExtentNodeErrors(t *testing.T) {
	valid := (&extentNode{depth: 0, max: extentRootMaxEntries, extents: []extent{
		{fileBlock: 0, count: 1, startBlock: 10},
	}}).toBytes(extentRootSize)

	tests := []struct {
		name        string
		mangle      func([]byte) []byte
		expectedMax uint16
	}{
		{"too short", func(b []byte) []byte { return b[:8] }, extentRootMaxEntries},
		{"bad magic", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[0:2], 0xbeef); return b }, extentRootMaxEntries},
		{"entries beyond max", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[2:4], 9); return b }, extentRootMaxEntries},
		{"zero max", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[4:6], 0); return b }, extentRootMaxEntries},
		{"unexpected max", func(b []byte) []byte { return b }, 340},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, len(valid))
			copy(b, valid)
			if _, err := parseExtentNode(tt.mangle(b), tt.expectedMax); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

// TestExtentStartBlock48Bit the on-disk encoding splits the start block into
// low 32 and high 16 bits
func TestExtentStartBlock48Bit(t *testing.T) {
	node := &extentNode{depth: 0, max: extentRootMaxEntries, extents: []extent{
		{fileBlock: 0, count: 1, startBlock: 0x1_0000_0064},
	}}
	b := node.toBytes(extentRootSize)

	if hi := binary.LittleEndian.Uint16(b[18:20]); hi != 1 {
		t.Errorf("expected high 16 bits 1, got %d", hi)
	}
	if lo := binary.LittleEndian.Uint32(b[20:24]); lo != 100 {
		t.Errorf("expected low 32 bits 100, got %d", lo)
	}

	parsed, err := parseExtentNode(b, extentRootMaxEntries)
	if err != nil {
		t.Fatalf("parseExtentNode failed: %v", err)
	}
	if parsed.extents[0].startBlock != 0x1_0000_0064 {
		t.Errorf("expected startBlock 0x100000064, got %#x", parsed.extents[0].startBlock)
	}
}

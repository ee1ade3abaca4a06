package protofs

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	extentTreeHeaderLength int    = 12
	extentTreeEntryLength  int    = 12
	extentHeaderSignature  uint16 = 0xf30a
	// extentRootMaxEntries the inline root window holds a header plus 3 entries
	extentRootMaxEntries uint16 = 3
	// maxExtentLength the largest block count a single leaf extent can carry
	maxExtentLength uint16 = 0xffff
)

// extent a single contiguous run of blocks containing file data
type extent struct {
	// fileBlock block number relative to the file
	fileBlock uint32
	// count how many contiguous blocks are covered by this extent
	count uint16
	// startBlock the first block on disk that contains the data in this extent
	startBlock uint64
}

// extentIndex a pointer from an internal node to the subtree covering file
// blocks from fileBlock onwards
type extentIndex struct {
	fileBlock  uint32
	childBlock uint64
}

// extentNode one node of an inode's extent tree. The root lives inline in
// the inode's 48-byte window with capacity 3; every other node fills a whole
// block. Depth 0 nodes hold extents, deeper nodes hold child indexes.
type extentNode struct {
	depth    uint16
	max      uint16
	extents  []extent
	children []extentIndex
}

func newExtentRoot() *extentNode {
	return &extentNode{depth: 0, max: extentRootMaxEntries}
}

func (n *extentNode) entries() int {
	if n.depth == 0 {
		return len(n.extents)
	}
	return len(n.children)
}

// parseExtentNode takes the raw bytes of a node, either the inline root
// window or a whole block, and parses them
func parseExtentNode(b []byte, expectedMax uint16) (*extentNode, error) {
	if len(b) < extentTreeHeaderLength {
		return nil, fmt.Errorf("cannot parse extent node from %d bytes, minimum required %d: %w", len(b), extentTreeHeaderLength, ErrCorrupt)
	}
	if sig := binary.LittleEndian.Uint16(b[0x0:0x2]); sig != extentHeaderSignature {
		return nil, fmt.Errorf("invalid extent node signature %#x: %w", sig, ErrCorrupt)
	}
	node := extentNode{
		max:   binary.LittleEndian.Uint16(b[0x4:0x6]),
		depth: binary.LittleEndian.Uint16(b[0x6:0x8]),
	}
	entries := binary.LittleEndian.Uint16(b[0x2:0x4])
	// b[0x8:0xc] is reserved
	if node.max == 0 || node.max != expectedMax || entries > node.max {
		return nil, fmt.Errorf("invalid extent node header, %d entries of max %d (expected max %d): %w", entries, node.max, expectedMax, ErrCorrupt)
	}
	if extentTreeHeaderLength+int(entries)*extentTreeEntryLength > len(b) {
		return nil, fmt.Errorf("extent node entries overflow %d bytes: %w", len(b), ErrCorrupt)
	}

	for i := 0; i < int(entries); i++ {
		base := extentTreeHeaderLength + i*extentTreeEntryLength
		if node.depth == 0 {
			start := uint64(binary.LittleEndian.Uint32(b[base+8:base+12])) |
				uint64(binary.LittleEndian.Uint16(b[base+6:base+8]))<<32
			node.extents = append(node.extents, extent{
				fileBlock:  binary.LittleEndian.Uint32(b[base : base+4]),
				count:      binary.LittleEndian.Uint16(b[base+4 : base+6]),
				startBlock: start,
			})
		} else {
			child := uint64(binary.LittleEndian.Uint32(b[base+4:base+8])) |
				uint64(binary.LittleEndian.Uint16(b[base+8:base+10]))<<32
			node.children = append(node.children, extentIndex{
				fileBlock:  binary.LittleEndian.Uint32(b[base : base+4]),
				childBlock: child,
			})
		}
	}
	return &node, nil
}

// toBytes convert the node to raw bytes to be stored, either in a block or
// in the inode's root window
func (n *extentNode) toBytes(size int) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint16(b[0x0:0x2], extentHeaderSignature)
	binary.LittleEndian.PutUint16(b[0x2:0x4], uint16(n.entries()))
	binary.LittleEndian.PutUint16(b[0x4:0x6], n.max)
	binary.LittleEndian.PutUint16(b[0x6:0x8], n.depth)

	for i := 0; i < n.entries(); i++ {
		base := extentTreeHeaderLength + i*extentTreeEntryLength
		if n.depth == 0 {
			e := n.extents[i]
			binary.LittleEndian.PutUint32(b[base:base+4], e.fileBlock)
			binary.LittleEndian.PutUint16(b[base+4:base+6], e.count)
			binary.LittleEndian.PutUint16(b[base+6:base+8], uint16(e.startBlock>>32))
			binary.LittleEndian.PutUint32(b[base+8:base+12], uint32(e.startBlock))
		} else {
			c := n.children[i]
			binary.LittleEndian.PutUint32(b[base:base+4], c.fileBlock)
			binary.LittleEndian.PutUint32(b[base+4:base+8], uint32(c.childBlock))
			binary.LittleEndian.PutUint16(b[base+8:base+10], uint16(c.childBlock>>32))
		}
	}
	return b
}

// blockNodeMaxEntries capacity of a node that fills a whole block
func (fs *FileSystem) blockNodeMaxEntries() uint16 {
	return uint16((fs.superblock.blockSize - uint32(extentTreeHeaderLength)) / uint32(extentTreeEntryLength))
}

func (fs *FileSystem) readExtentNode(block uint64) (*extentNode, error) {
	b, err := fs.dev.readBlock(block)
	if err != nil {
		return nil, err
	}
	node, err := parseExtentNode(b, fs.blockNodeMaxEntries())
	if err != nil {
		return nil, fmt.Errorf("extent node at block %d: %w", block, err)
	}
	return node, nil
}

func (fs *FileSystem) writeExtentNode(block uint64, node *extentNode) error {
	return fs.dev.writeBlock(block, node.toBytes(int(fs.superblock.blockSize)))
}

// extentLookup translate a logical file block into its physical block and
// the length of the contiguous run remaining in its extent. found is false
// when the block is beyond the tree's coverage.
func (fs *FileSystem) extentLookup(in *inode, logical uint64) (phys, run uint64, found bool, err error) {
	node := in.root
	for node.depth > 0 {
		children := node.children
		i := sort.Search(len(children), func(i int) bool {
			return uint64(children[i].fileBlock) > logical
		}) - 1
		if i < 0 {
			return 0, 0, false, nil
		}
		child, err := fs.readExtentNode(children[i].childBlock)
		if err != nil {
			return 0, 0, false, err
		}
		if child.depth != node.depth-1 {
			return 0, 0, false, fmt.Errorf("extent node at block %d has depth %d under depth %d: %w", children[i].childBlock, child.depth, node.depth, ErrCorrupt)
		}
		node = child
	}
	exts := node.extents
	i := sort.Search(len(exts), func(i int) bool {
		return uint64(exts[i].fileBlock) > logical
	}) - 1
	if i < 0 {
		return 0, 0, false, nil
	}
	e := exts[i]
	if logical >= uint64(e.fileBlock)+uint64(e.count) {
		return 0, 0, false, nil
	}
	offset := logical - uint64(e.fileBlock)
	return e.startBlock + offset, uint64(e.count) - offset, true, nil
}

// extentEndBlock the first file block beyond the tree's coverage
func (fs *FileSystem) extentEndBlock(in *inode) (uint64, error) {
	node := in.root
	for node.depth > 0 {
		if len(node.children) == 0 {
			return 0, fmt.Errorf("inode %d has an empty internal extent node: %w", in.number, ErrCorrupt)
		}
		child, err := fs.readExtentNode(node.children[len(node.children)-1].childBlock)
		if err != nil {
			return 0, err
		}
		node = child
	}
	if len(node.extents) == 0 {
		return 0, nil
	}
	last := node.extents[len(node.extents)-1]
	return uint64(last.fileBlock) + uint64(last.count), nil
}

// extentPathElem one step on the path from the inline root to the rightmost
// leaf. block is 0 for the root, which lives in the inode.
type extentPathElem struct {
	node  *extentNode
	block uint64
}

func (fs *FileSystem) rightmostPath(in *inode) ([]extentPathElem, error) {
	path := []extentPathElem{{node: in.root}}
	node := in.root
	for node.depth > 0 {
		if len(node.children) == 0 {
			return nil, fmt.Errorf("inode %d has an empty internal extent node: %w", in.number, ErrCorrupt)
		}
		childBlock := node.children[len(node.children)-1].childBlock
		child, err := fs.readExtentNode(childBlock)
		if err != nil {
			return nil, err
		}
		if child.depth != node.depth-1 {
			return nil, fmt.Errorf("extent node at block %d has depth %d under depth %d: %w", childBlock, child.depth, node.depth, ErrCorrupt)
		}
		path = append(path, extentPathElem{node: child, block: childBlock})
		node = child
	}
	return path, nil
}

// writePathNode persist a node after mutation. The inline root is persisted
// with the whole inode record.
func (fs *FileSystem) writePathNode(in *inode, pe extentPathElem) error {
	if pe.block == 0 {
		return fs.writeInode(in)
	}
	return fs.writeExtentNode(pe.block, pe.node)
}

// extentAppend grow the tree by one block at logical, mapped to phys.
// logical must equal the current end of coverage. Physically adjacent
// allocations are coalesced into the rightmost extent.
func (fs *FileSystem) extentAppend(in *inode, logical, phys uint64) error {
	path, err := fs.rightmostPath(in)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	if n := len(leaf.node.extents); n > 0 {
		last := &leaf.node.extents[n-1]
		end := uint64(last.fileBlock) + uint64(last.count)
		if logical != end {
			return fmt.Errorf("append at file block %d but coverage ends at %d: %w", logical, end, ErrInvalid)
		}
		if last.startBlock+uint64(last.count) == phys && last.count < maxExtentLength {
			last.count++
			return fs.writePathNode(in, leaf)
		}
	} else if len(path) == 1 && logical != 0 {
		return fmt.Errorf("append at file block %d into empty tree: %w", logical, ErrInvalid)
	}
	return fs.insertExtent(in, path, extent{fileBlock: uint32(logical), count: 1, startBlock: phys})
}

// insertExtent insert a new rightmost extent, splitting the leaf and
// propagating index entries upward as needed
func (fs *FileSystem) insertExtent(in *inode, path []extentPathElem, e extent) error {
	leaf := path[len(path)-1]
	if len(leaf.node.extents) < int(leaf.node.max) {
		leaf.node.extents = append(leaf.node.extents, e)
		return fs.writePathNode(in, leaf)
	}

	combined := make([]extent, 0, len(leaf.node.extents)+1)
	combined = append(combined, leaf.node.extents...)
	combined = append(combined, e)

	if leaf.block == 0 {
		// the inline root overflowed; spill into two new leaf blocks and
		// turn the root into an index node one level deeper
		return fs.promoteRoot(in, &extentNode{depth: 0, extents: combined})
	}

	mid := (len(combined) + 1) / 2
	sibBlock, err := fs.allocBlock(fs.inodeGroup(in.number))
	if err != nil {
		return err
	}
	leaf.node.extents = combined[:mid]
	sibling := &extentNode{depth: 0, max: fs.blockNodeMaxEntries(), extents: combined[mid:]}
	if err := fs.writeExtentNode(leaf.block, leaf.node); err != nil {
		return err
	}
	if err := fs.writeExtentNode(sibBlock, sibling); err != nil {
		return err
	}
	log.WithField("inode", in.number).WithField("sibling", sibBlock).Debug("split extent leaf")
	return fs.insertIndex(in, path[:len(path)-1], extentIndex{fileBlock: sibling.extents[0].fileBlock, childBlock: sibBlock})
}

// insertIndex insert a new rightmost child pointer into the node at the end
// of path, splitting upward as needed
func (fs *FileSystem) insertIndex(in *inode, path []extentPathElem, idx extentIndex) error {
	pe := path[len(path)-1]
	if len(pe.node.children) < int(pe.node.max) {
		pe.node.children = append(pe.node.children, idx)
		return fs.writePathNode(in, pe)
	}

	combined := make([]extentIndex, 0, len(pe.node.children)+1)
	combined = append(combined, pe.node.children...)
	combined = append(combined, idx)

	if pe.block == 0 {
		return fs.promoteRoot(in, &extentNode{depth: pe.node.depth, children: combined})
	}

	mid := (len(combined) + 1) / 2
	sibBlock, err := fs.allocBlock(fs.inodeGroup(in.number))
	if err != nil {
		return err
	}
	pe.node.children = combined[:mid]
	sibling := &extentNode{depth: pe.node.depth, max: fs.blockNodeMaxEntries(), children: combined[mid:]}
	if err := fs.writeExtentNode(pe.block, pe.node); err != nil {
		return err
	}
	if err := fs.writeExtentNode(sibBlock, sibling); err != nil {
		return err
	}
	return fs.insertIndex(in, path[:len(path)-1], extentIndex{fileBlock: combined[mid].fileBlock, childBlock: sibBlock})
}

// promoteRoot spill an overflowing inline root into two new block nodes and
// re-point the root at them, one level deeper. overflow carries the root's
// entries plus the new one, at the root's old depth.
func (fs *FileSystem) promoteRoot(in *inode, overflow *extentNode) error {
	leftBlock, err := fs.allocBlock(fs.inodeGroup(in.number))
	if err != nil {
		return err
	}
	rightBlock, err := fs.allocBlock(fs.inodeGroup(in.number))
	if err != nil {
		return err
	}

	max := fs.blockNodeMaxEntries()
	left := &extentNode{depth: overflow.depth, max: max}
	right := &extentNode{depth: overflow.depth, max: max}
	var leftKey, rightKey uint32
	if overflow.depth == 0 {
		mid := (len(overflow.extents) + 1) / 2
		left.extents = overflow.extents[:mid]
		right.extents = overflow.extents[mid:]
		leftKey = left.extents[0].fileBlock
		rightKey = right.extents[0].fileBlock
	} else {
		mid := (len(overflow.children) + 1) / 2
		left.children = overflow.children[:mid]
		right.children = overflow.children[mid:]
		leftKey = left.children[0].fileBlock
		rightKey = right.children[0].fileBlock
	}

	if err := fs.writeExtentNode(leftBlock, left); err != nil {
		return err
	}
	if err := fs.writeExtentNode(rightBlock, right); err != nil {
		return err
	}

	in.root = &extentNode{
		depth: overflow.depth + 1,
		max:   extentRootMaxEntries,
		children: []extentIndex{
			{fileBlock: leftKey, childBlock: leftBlock},
			{fileBlock: rightKey, childBlock: rightBlock},
		},
	}
	log.WithField("inode", in.number).WithField("depth", in.root.depth).Debug("promoted extent root")
	return fs.writeInode(in)
}

// extentTruncate discard all coverage at or beyond newBlocks, freeing data
// runs and emptied tree nodes, then collapse the root as far as it fits
// back inline
func (fs *FileSystem) extentTruncate(in *inode, newBlocks uint64) error {
	if _, err := fs.truncateNode(in.root, 0, newBlocks); err != nil {
		return err
	}
	for in.root.depth > 0 {
		if len(in.root.children) == 0 {
			in.root = newExtentRoot()
			break
		}
		if len(in.root.children) > 1 {
			break
		}
		childBlock := in.root.children[0].childBlock
		child, err := fs.readExtentNode(childBlock)
		if err != nil {
			return err
		}
		if child.entries() > int(extentRootMaxEntries) {
			break
		}
		child.max = extentRootMaxEntries
		in.root = child
		if err := fs.freeBlock(childBlock); err != nil {
			return err
		}
	}
	return fs.writeInode(in)
}

// truncateNode recursively drop coverage at or beyond newBlocks below node.
// Reports whether the node ended up empty; the caller frees emptied non-root
// node blocks.
func (fs *FileSystem) truncateNode(node *extentNode, block, newBlocks uint64) (bool, error) {
	if node.depth == 0 {
		kept := node.extents[:0]
		for _, e := range node.extents {
			switch {
			case uint64(e.fileBlock) >= newBlocks:
				if err := fs.freeRun(e.startBlock, uint64(e.count)); err != nil {
					return false, err
				}
			case uint64(e.fileBlock)+uint64(e.count) > newBlocks:
				keep := uint16(newBlocks - uint64(e.fileBlock))
				if err := fs.freeRun(e.startBlock+uint64(keep), uint64(e.count-keep)); err != nil {
					return false, err
				}
				e.count = keep
				kept = append(kept, e)
			default:
				kept = append(kept, e)
			}
		}
		node.extents = kept
	} else {
		kept := node.children[:0]
		for _, child := range node.children {
			if uint64(child.fileBlock) >= newBlocks {
				childNode, err := fs.readExtentNode(child.childBlock)
				if err != nil {
					return false, err
				}
				if _, err := fs.truncateNode(childNode, child.childBlock, newBlocks); err != nil {
					return false, err
				}
				if err := fs.freeBlock(child.childBlock); err != nil {
					return false, err
				}
				continue
			}
			kept = append(kept, child)
		}
		// the rightmost surviving child may straddle the cut
		if len(kept) > 0 {
			last := kept[len(kept)-1]
			childNode, err := fs.readExtentNode(last.childBlock)
			if err != nil {
				return false, err
			}
			empty, err := fs.truncateNode(childNode, last.childBlock, newBlocks)
			if err != nil {
				return false, err
			}
			if empty {
				if err := fs.freeBlock(last.childBlock); err != nil {
					return false, err
				}
				kept = kept[:len(kept)-1]
			}
		}
		node.children = kept
	}

	if block != 0 && node.entries() > 0 {
		if err := fs.writeExtentNode(block, node); err != nil {
			return false, err
		}
	}
	return node.entries() == 0, nil
}

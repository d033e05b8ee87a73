package cmt

// PathNode pairs a node value with its position in the tree. Positions use
// the conventional 1 based heap numbering: the root is 1, the children of
// node n are 2n and 2n+1, so the leaf at index i of a depth d tree is at
// position (1<<d)+i.
type PathNode struct {
	Node      Node   `cbor:"1,keyasint"`
	TreeIndex uint32 `cbor:"2,keyasint"`
}

// ChangeRecord is the immutable description of one accepted mutation. It is
// returned from every mutating tree operation so the surrounding system can
// publish it to an external event log, and to update any canopy cache. The
// off chain consumers of these records can reconstruct the entire tree
// history, and hence serve fresh proofs, from the record stream alone.
type ChangeRecord struct {
	OldRoot Node `cbor:"1,keyasint"`
	NewRoot Node `cbor:"2,keyasint"`
	// Path is the complete root to leaf path that changed, root first. It has
	// depth+1 entries, Path[0] is the new root at tree index 1 and the final
	// entry is the new leaf.
	Path           []PathNode `cbor:"3,keyasint"`
	LeafIndex      uint32     `cbor:"4,keyasint"`
	SequenceNumber uint64     `cbor:"5,keyasint"`
}

// newChangeRecord assembles the record for the change currently at the active
// ring buffer slot.
func (t *Tree) newChangeRecord() ChangeRecord {
	cl := &t.changeLogs[t.activeIndex]
	d := t.maxDepth
	path := make([]PathNode, d+1)
	for j := uint32(0); j <= d; j++ {
		level := d - j
		value := cl.Root
		if level < d {
			value = cl.Path[level]
		}
		path[j] = PathNode{
			Node:      value,
			TreeIndex: ((1 << d) + cl.Index) >> level,
		}
	}
	return ChangeRecord{
		OldRoot:        cl.OldRoot,
		NewRoot:        cl.Root,
		Path:           path,
		LeafIndex:      cl.Index,
		SequenceNumber: t.sequenceNumber,
	}
}

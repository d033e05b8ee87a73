package cmt

import "hash"

// ChangeLog is one slot of the ring buffer of recent mutations. Each accepted
// mutation overwrites the oldest slot with the complete leaf to root path it
// produced. These recorded paths are the raw material for fast-forwarding
// stale proofs.
type ChangeLog struct {
	// Root is the tree root produced by applying this change.
	Root Node
	// OldRoot is the root the change was applied to. Retaining it lets a
	// proof dated from just before the oldest retained change still be
	// reconciled by replaying the entire buffer.
	OldRoot Node
	// Path holds the new node value at every level of the changed path.
	// Path[0] is the leaf itself, Path[depth-1] is the child of the root.
	Path []Node
	// Index is the leaf position the change applied to.
	Index uint32
}

func newChangeLog(depth uint32) ChangeLog {
	return ChangeLog{Path: make([]Node, depth)}
}

// Leaf returns the leaf value this change committed.
func (cl *ChangeLog) Leaf() Node {
	return cl.Path[0]
}

// updateProofOrLeaf patches the single entry of proof that this change
// invalidated. If the change applied to the same leaf the proof is for, the
// proof can not be repaired and the recorded leaf is surfaced through leaf so
// the caller can detect the conflict.
func (cl *ChangeLog) updateProofOrLeaf(leafIndex uint32, proof []Node, leaf *Node) {
	if leafIndex == cl.Index {
		*leaf = cl.Leaf()
		return
	}
	// The highest bit at which the two leaf indices differ is the level at
	// which their root paths diverge. The recorded path node at that level is
	// the new sibling for the proof.
	critbit := Log2Uint32(leafIndex ^ cl.Index)
	proof[critbit] = cl.Path[critbit]
}

// replaceAndRecomputePath overwrites this slot with the path produced by
// writing leaf at index through the sibling nodes in proof, and returns the
// new root.
func (cl *ChangeLog) replaceAndRecomputePath(hasher hash.Hash, index uint32, leaf Node, proof []Node) Node {
	cl.Index = index
	node := leaf
	for i, sibling := range proof {
		cl.Path[i] = node
		hashToParent(hasher, &node, sibling, (index>>i)&1 == 0)
	}
	cl.Root = node
	return node
}

package cmt

import (
	"hash"
)

// NodeBytes defines the width of ALL node values in the tree. The fixed width
// makes it possible to compute every region size knowing only the configured
// depth and changelog capacity.
const NodeBytes = 32

// Node is the opaque 32 byte value held at every position in the tree. Leaves
// are application supplied hashes, interior nodes commit to their two
// children.
type Node [NodeBytes]byte

// Empty is the canonical value for a leaf position that has never been
// written. The empty subtree hashes for all levels above the leaves derive
// from it, see EmptyNodes.
var Empty = Node{}

// HashNodes combines two sibling nodes to produce their parent.
func HashNodes(hasher hash.Hash, left Node, right Node) Node {
	var parent Node
	hasher.Reset()
	hasher.Write(left[:])
	hasher.Write(right[:])
	copy(parent[:], hasher.Sum(nil))
	return parent
}

// hashToParent folds the sibling into node. isLeft indicates node is the left
// child of the resulting parent.
func hashToParent(hasher hash.Hash, node *Node, sibling Node, isLeft bool) {
	if isLeft {
		*node = HashNodes(hasher, *node, sibling)
	} else {
		*node = HashNodes(hasher, sibling, *node)
	}
}

// EmptyNodes returns the hashes of the complete empty subtrees for levels 0
// through depth inclusive. EmptyNodes(hasher, depth)[depth] is the root of the
// canonical empty tree of that depth. The table is cheap to compute, callers
// requiring it repeatedly within one request should compute it once and hold
// it for the duration of the request.
func EmptyNodes(hasher hash.Hash, depth uint32) []Node {
	nodes := make([]Node, depth+1)
	for level := uint32(1); level <= depth; level++ {
		nodes[level] = HashNodes(hasher, nodes[level-1], nodes[level-1])
	}
	return nodes
}

// Recompute hashes leaf up through the sibling nodes in proof and returns the
// root the proof commits to for the leaf at index. proof is ordered from the
// leaf level upward and its length determines the height climbed.
func Recompute(hasher hash.Hash, leaf Node, proof []Node, index uint32) Node {
	node := leaf
	for i, sibling := range proof {
		hashToParent(hasher, &node, sibling, (index>>i)&1 == 0)
	}
	return node
}

// fillInProof pads the caller supplied proof out to depth entries. The caller
// is expected to have already extended a truncated proof from the canopy, any
// remaining entries are deliberately zero so that verification fails loudly
// rather than silently accepting a short proof.
func fillInProof(proof []Node, depth uint32) []Node {
	full := make([]Node, depth)
	copy(full, proof)
	return full
}

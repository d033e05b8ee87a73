package cmt

import (
	"crypto/sha256"
	"hash"
)

func filledNode(b byte) Node {
	var n Node
	for i := range n {
		n[i] = b
	}
	return n
}

// refTree is a fully materialized binary tree over 1<<depth leaves. It is the
// independent oracle the concurrent tree is compared against: roots, proofs
// and replacements are recomputed from scratch on every mutation.
type refTree struct {
	hasher hash.Hash
	depth  uint32
	levels [][]Node
}

func newRefTree(depth uint32) *refTree {
	r := &refTree{hasher: sha256.New(), depth: depth}
	r.levels = make([][]Node, depth+1)
	for l := uint32(0); l <= depth; l++ {
		r.levels[l] = make([]Node, 1<<(depth-l))
	}
	r.recompute()
	return r
}

func (r *refTree) recompute() {
	for l := uint32(1); l <= r.depth; l++ {
		for i := range r.levels[l] {
			r.levels[l][i] = HashNodes(r.hasher, r.levels[l-1][2*i], r.levels[l-1][2*i+1])
		}
	}
}

func (r *refTree) setLeaf(index uint32, leaf Node) {
	r.levels[0][index] = leaf
	r.recompute()
}

func (r *refTree) root() Node { return r.levels[r.depth][0] }

func (r *refTree) proof(index uint32) []Node {
	proof := make([]Node, r.depth)
	for l := uint32(0); l < r.depth; l++ {
		proof[l] = r.levels[l][(index>>l)^1]
	}
	return proof
}

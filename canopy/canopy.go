// Package canopy maintains a cache of the upper levels of a concurrent
// Merkle tree inside a borrowed byte region.
//
// Caching the top k levels of a depth d tree lets callers truncate the proofs
// they supply to the lowest d-k entries, the remainder is filled in from the
// cache. The canopy region is a complete binary tree minus the root, stored
// width first: the canopy slot for tree node n (n >= 2, the root is never
// stored) is n-2. A slot that has never been written is implicitly the empty
// subtree hash for its level.
//
// The canopy is refreshed from the change record of every accepted mutation,
// no additional work is needed to keep it current.
package canopy

import (
	"errors"
	"fmt"
	"hash"

	"github.com/forestrie/go-concurrenttree/cmt"
)

var (
	ErrLengthMismatch       = errors.New("the canopy byte length is invalid for the tree depth")
	ErrRootMismatch         = errors.New("the canopy does not reproduce the expected root")
	ErrNotEmptyRightOfIndex = errors.New("the canopy holds nodes to the right of the rightmost leaf")
	ErrLeafRange            = errors.New("the requested canopy leaf positions are out of range")
)

// CachedNode pairs a canopy slot with the node value inferred for it during a
// proof fill. Slots inferred as empty subtree hashes are reported to the
// caller rather than written immediately, so that read only operations leave
// the region untouched. Mutating operations write them back on success via
// WriteNodes, which is the lazy materialization of the implicit empties.
type CachedNode struct {
	SlotIndex uint32
	Node      cmt.Node
}

func nodeAt(canopy []byte, i uint32) cmt.Node {
	var n cmt.Node
	copy(n[:], canopy[int(i)*cmt.NodeBytes:])
	return n
}

func setNode(canopy []byte, i uint32, n cmt.Node) {
	copy(canopy[int(i)*cmt.NodeBytes:], n[:])
}

// Check verifies the canopy region is a whole number of nodes. A zero length
// region is a valid, absent, canopy.
func Check(canopy []byte) error {
	if len(canopy)%cmt.NodeBytes != 0 {
		return fmt.Errorf(
			"%w: length %d is not a multiple of %d", ErrLengthMismatch, len(canopy), cmt.NodeBytes)
	}
	return nil
}

// CachedPathLength derives the number of cached levels k from the region
// size. The region holds a complete binary tree minus its root, so the node
// count plus 2 must be an exact power of 2, and the cached levels can not
// exceed the tree depth.
func CachedPathLength(canopy []byte, maxDepth uint32) (uint32, error) {
	if err := Check(canopy); err != nil {
		return 0, err
	}
	closestPowOf2 := uint(len(canopy)/cmt.NodeBytes) + 2
	if !cmt.IsPow2(closestPowOf2) {
		return 0, fmt.Errorf(
			"%w: node count %d is not 2 less than a power of 2", ErrLengthMismatch, len(canopy)/cmt.NodeBytes)
	}
	pathLen := cmt.Log2Uint32(uint32(closestPowOf2)) - 1
	if pathLen > maxDepth {
		return 0, fmt.Errorf(
			"%w: %d cached levels exceeds the tree depth %d", ErrLengthMismatch, pathLen, maxDepth)
	}
	return pathLen, nil
}

// Absorb refreshes the canopy from the change record of an accepted
// mutation. Every changed path node within the cached levels, root excluded,
// overwrites its canopy slot.
func Absorb(canopy []byte, maxDepth uint32, record *cmt.ChangeRecord) error {
	pathLen, err := CachedPathLength(canopy, maxDepth)
	if err != nil {
		return err
	}
	// record.Path is root first, entries 1..pathLen are the changed nodes
	// within the cached levels.
	for j := uint32(1); j <= pathLen && int(j) < len(record.Path); j++ {
		setNode(canopy, record.Path[j].TreeIndex-2, record.Path[j].Node)
	}
	return nil
}

// FillProofSuffix extends a truncated proof with the cached siblings of the
// ancestors of the leaf at index. Slots that have never been written yield
// the empty subtree hash for their level, and are reported in inferred so a
// mutating caller can materialize them with WriteNodes. Only as many cached
// entries are appended as are needed to bring the proof to exactly maxDepth
// entries, redundant entries are discarded when the caller already supplied
// more than maxDepth-k.
func FillProofSuffix(
	canopy []byte, hasher hash.Hash, maxDepth uint32, index uint32, proof []cmt.Node,
) ([]cmt.Node, []CachedNode, error) {

	pathLen, err := CachedPathLength(canopy, maxDepth)
	if err != nil {
		return nil, nil, err
	}
	emptyNodes := cmt.EmptyNodes(hasher, maxDepth)

	// nodeIdx starts where the leaf's path intersects the bottom of the
	// canopy, the proof needs the sibling of every node from there up.
	nodeIdx := ((1 << maxDepth) + index) >> (maxDepth - pathLen)
	var suffix []cmt.Node
	var inferred []CachedNode
	for nodeIdx > 1 {
		siblingSlot := (nodeIdx - 2) ^ 1
		sibling := nodeAt(canopy, siblingSlot)
		if sibling == cmt.Empty {
			level := maxDepth - cmt.Log2Uint32(nodeIdx)
			sibling = emptyNodes[level]
			inferred = append(inferred, CachedNode{SlotIndex: siblingSlot, Node: sibling})
		}
		suffix = append(suffix, sibling)
		nodeIdx >>= 1
	}

	overlap := len(proof) + len(suffix) - int(maxDepth)
	if overlap < 0 {
		overlap = 0
	}
	full := make([]cmt.Node, 0, len(proof)+len(suffix)-overlap)
	full = append(full, proof...)
	full = append(full, suffix[overlap:]...)
	return full, inferred, nil
}

// WriteNodes materializes inferred empty slots reported by FillProofSuffix.
func WriteNodes(canopy []byte, nodes []CachedNode) {
	for _, cn := range nodes {
		setNode(canopy, cn.SlotIndex, cn.Node)
	}
}

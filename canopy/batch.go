package canopy

import (
	"fmt"
	"hash"

	"github.com/forestrie/go-concurrenttree/cmt"
)

// Batched tree creation pre-loads the canopy before the root is installed.
// The leaves of the cached region, which are nodes at tree level
// maxDepth-pathLen, arrive in contiguous chunks starting at startIndex. Each
// chunk is written and its ancestors within the canopy recomputed, so the
// region is internally consistent after every call.

// leafNodeIndex is the tree node index of the canopy leaf at index, the slot
// it is stored in is this minus 2.
func leafNodeIndex(pathLen uint32, index uint32) uint32 {
	return (1 << pathLen) + index
}

// valueAt reads the node cached for tree node nodeIdx, substituting the
// empty subtree hash for its level when the slot has never been written.
func valueAt(canopy []byte, emptyNodes []cmt.Node, nodeIdx uint32, level uint32) cmt.Node {
	n := nodeAt(canopy, nodeIdx-2)
	if n == cmt.Empty {
		return emptyNodes[level]
	}
	return n
}

// SetLeafNodes writes a contiguous run of canopy leaf nodes beginning at
// startIndex and recomputes every affected parent up to, but excluding, the
// root. Unwritten siblings needed along the way are taken to be the empty
// subtree hash for their level, so the region stays internally consistent
// across partial loads.
func SetLeafNodes(
	canopy []byte, hasher hash.Hash, maxDepth uint32, startIndex uint32, nodes []cmt.Node,
) error {

	pathLen, err := CachedPathLength(canopy, maxDepth)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}
	if uint64(startIndex)+uint64(len(nodes)) > uint64(uint32(1)<<pathLen) {
		return fmt.Errorf(
			"%w: %d nodes at %d exceed the %d canopy leaves",
			ErrLeafRange, len(nodes), startIndex, uint32(1)<<pathLen)
	}
	for i, n := range nodes {
		setNode(canopy, leafNodeIndex(pathLen, startIndex+uint32(i))-2, n)
	}
	emptyNodes := cmt.EmptyNodes(hasher, maxDepth)

	startNode := leafNodeIndex(pathLen, startIndex)
	endNode := startNode + uint32(len(nodes)) - 1
	leafNodeLevel := maxDepth - pathLen
	// walk the modified span up a level at a time, the span halves each step
	// and node 1, the root, is never stored
	for level := leafNodeLevel + 1; level < maxDepth; level++ {
		startNode >>= 1
		endNode >>= 1
		for n := startNode; n <= endNode; n++ {
			left := valueAt(canopy, emptyNodes, n<<1, level-1)
			right := valueAt(canopy, emptyNodes, n<<1+1, level-1)
			setNode(canopy, n-2, cmt.HashNodes(hasher, left, right))
		}
	}
	return nil
}

// CheckRoot hashes the two root children cached in slots 0 and 1 and compares
// the result with expected. Unwritten children are the empty subtree hash one
// level below the root.
func CheckRoot(canopy []byte, hasher hash.Hash, maxDepth uint32, expected cmt.Node) error {
	pathLen, err := CachedPathLength(canopy, maxDepth)
	if err != nil {
		return err
	}
	if pathLen == 0 {
		return nil
	}
	emptyNodes := cmt.EmptyNodes(hasher, maxDepth)
	left := nodeAt(canopy, 0)
	if left == cmt.Empty {
		left = emptyNodes[maxDepth-1]
	}
	right := nodeAt(canopy, 1)
	if right == cmt.Empty {
		right = emptyNodes[maxDepth-1]
	}
	if cmt.HashNodes(hasher, left, right) != expected {
		return fmt.Errorf("%w: filled to %d levels", ErrRootMismatch, pathLen)
	}
	return nil
}

// CheckNoNodesRightOfIndex verifies that no canopy slot covering leaves
// strictly to the right of the rightmost leaf index has been written. A tree
// initialized from a root with rightmost leaf r must not claim cached state
// for leaves it never proved.
func CheckNoNodesRightOfIndex(canopy []byte, maxDepth uint32, rightmostIndex uint32) error {
	pathLen, err := CachedPathLength(canopy, maxDepth)
	if err != nil {
		return err
	}
	if pathLen == 0 {
		return nil
	}
	// walk down the right edge of the path to the rightmost leaf. At each
	// level every right sibling of the path lies wholly beyond the index and
	// must be unwritten.
	nodeIdx := ((1 << maxDepth) + rightmostIndex) >> (maxDepth - pathLen)
	for nodeIdx > 1 {
		if nodeIdx&1 == 0 {
			// the path node is a left child, its right sibling covers
			// only leaves beyond rightmostIndex
			if nodeAt(canopy, nodeIdx+1-2) != (cmt.Node{}) {
				return fmt.Errorf(
					"%w: node %d is set", ErrNotEmptyRightOfIndex, nodeIdx+1)
			}
		}
		nodeIdx >>= 1
	}
	return nil
}

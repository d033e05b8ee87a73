package cmt

import "fmt"

// findRootInChangelog scans the filled ring buffer slots from the newest
// backward for the entry whose root matches claimedRoot. It returns the
// number of changes recorded after that root became current, which is the
// number of entries a proof against it must be replayed through. A claimed
// root equal to the old root of the oldest retained entry is also
// reconcilable, by replaying every filled slot.
func (t *Tree) findRootInChangelog(claimedRoot Node) (uint64, bool) {
	mask := uint64(t.maxBufferSize - 1)
	for i := uint64(0); i < t.bufferSize; i++ {
		j := (t.activeIndex - i) & mask
		if t.changeLogs[j].Root == claimedRoot {
			return i, true
		}
	}
	oldest := (t.activeIndex - (t.bufferSize - 1)) & mask
	if t.changeLogs[oldest].OldRoot == claimedRoot {
		return t.bufferSize, true
	}
	return 0, false
}

// fastForwardProof patches proof in place by replaying the newest count
// changes, in submission order. Each intervening change invalidated exactly
// one proof entry, the one at the level where its path diverges from the
// incoming leaf's path, and its recorded path holds the replacement. Returns
// false if an intervening change modified the incoming leaf itself, in which
// case the proof can not be repaired.
func (t *Tree) fastForwardProof(leaf *Node, proof []Node, leafIndex uint32, count uint64) bool {
	mask := uint64(t.maxBufferSize - 1)
	updatedLeaf := *leaf
	j := (t.activeIndex - count) & mask
	for c := uint64(0); c < count; c++ {
		j = (j + 1) & mask
		t.changeLogs[j].updateProofOrLeaf(leafIndex, proof, &updatedLeaf)
	}
	leafUnchanged := updatedLeaf == *leaf
	*leaf = updatedLeaf
	return leafUnchanged
}

// reconcileProof locates claimedRoot in the retained history and
// fast-forwards the proof up to the current root. On success the returned
// leaf is the value the caller asserted, ready for verification against the
// current root.
func (t *Tree) reconcileProof(claimedRoot Node, leaf Node, proof []Node, leafIndex uint32) (Node, error) {
	count, ok := t.findRootInChangelog(claimedRoot)
	if !ok {
		return leaf, fmt.Errorf(
			"%w: root not found within the last %d changes", ErrStaleProof, t.bufferSize)
	}
	if !t.fastForwardProof(&leaf, proof, leafIndex, count) {
		return leaf, fmt.Errorf("%w: leaf %d", ErrLeafConflict, leafIndex)
	}
	return leaf, nil
}

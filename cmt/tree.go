package cmt

import (
	"errors"
	"fmt"
	"hash"
	"math/bits"
)

// MaxSupportedDepth bounds the configurable tree depth. Depths above 30 would
// break the uint32 bit math used to address nodes and compare leaf paths.
const MaxSupportedDepth = 30

// Tree is the complete state of one concurrent Merkle tree. It is constructed
// either empty via New+Initialize, or from a persisted tree data region via
// New+UnmarshalBinary. The tree holds no references to anything outside itself and
// performs no locking, the caller must serialize mutations.
type Tree struct {
	maxDepth      uint32
	maxBufferSize uint32

	// sequenceNumber increases by exactly one for every accepted mutation and
	// never resets.
	sequenceNumber uint64
	// activeIndex is the ring buffer slot holding the newest change.
	activeIndex uint64
	// bufferSize is the count of filled ring buffer slots, it grows to
	// maxBufferSize and stays there.
	bufferSize uint64

	changeLogs     []ChangeLog
	rightmostProof Path

	hasher     hash.Hash
	emptyNodes []Node
}

func checkBounds(maxDepth uint32, maxBufferSize uint32) error {
	if maxDepth == 0 || maxDepth > MaxSupportedDepth {
		return fmt.Errorf("%w: depth %d", ErrInvalidConfiguration, maxDepth)
	}
	if maxBufferSize == 0 || !IsPow2(uint(maxBufferSize)) {
		return fmt.Errorf("%w: changelog capacity %d must be a power of 2", ErrInvalidConfiguration, maxBufferSize)
	}
	return nil
}

func checkLeafIndex(leafIndex uint32, maxDepth uint32) error {
	if leafIndex >= 1<<maxDepth {
		return fmt.Errorf("%w: %d >= %d", ErrLeafIndexOutOfBounds, leafIndex, uint64(1)<<maxDepth)
	}
	return nil
}

// New returns an uninitialized tree for the given configuration. The hasher
// is retained and used for every node combination, callers must not share it.
func New(hasher hash.Hash, maxDepth uint32, maxBufferSize uint32) (*Tree, error) {
	if err := checkBounds(maxDepth, maxBufferSize); err != nil {
		return nil, err
	}
	t := &Tree{
		maxDepth:       maxDepth,
		maxBufferSize:  maxBufferSize,
		changeLogs:     make([]ChangeLog, maxBufferSize),
		rightmostProof: newPath(maxDepth),
		hasher:         hasher,
		emptyNodes:     EmptyNodes(hasher, maxDepth),
	}
	for i := range t.changeLogs {
		t.changeLogs[i] = newChangeLog(maxDepth)
	}
	return t, nil
}

// MaxDepth returns the configured tree depth.
func (t *Tree) MaxDepth() uint32 { return t.maxDepth }

// MaxBufferSize returns the configured changelog capacity.
func (t *Tree) MaxBufferSize() uint32 { return t.maxBufferSize }

// SequenceNumber returns the monotonic counter of accepted mutations.
func (t *Tree) SequenceNumber() uint64 { return t.sequenceNumber }

// RightmostIndex returns the leaf position the next append will occupy.
func (t *Tree) RightmostIndex() uint32 { return t.rightmostProof.Index }

// Root returns the current root of the tree.
func (t *Tree) Root() Node {
	return t.changeLogs[t.activeIndex].Root
}

// IsInitialized reports whether either initialization path has run. A freshly
// zeroed tree has no filled changelog slots.
func (t *Tree) IsInitialized() bool {
	return !(t.bufferSize == 0 && t.sequenceNumber == 0 && t.activeIndex == 0)
}

// Initialize builds the canonical empty tree: every leaf holds the empty leaf
// value, the single changelog entry records the all empty root path, and the
// rightmost proof points at leaf 0 with the empty subtree hash at every
// level. This is the trustless initialization used in almost all cases.
func (t *Tree) Initialize() (ChangeRecord, error) {
	if t.IsInitialized() {
		return ChangeRecord{}, ErrTreeAlreadyInitialized
	}
	copy(t.rightmostProof.Proof, t.emptyNodes)
	t.rightmostProof.Leaf = Empty
	t.rightmostProof.Index = 0

	cl := &t.changeLogs[0]
	cl.Root = t.emptyNodes[t.maxDepth]
	cl.OldRoot = t.emptyNodes[t.maxDepth]
	copy(cl.Path, t.emptyNodes)
	cl.Index = 0

	t.sequenceNumber = 0
	t.activeIndex = 0
	t.bufferSize = 1
	return t.newChangeRecord(), nil
}

// InitializeWithRoot bootstraps a tree whose contents are asserted rather
// than recomputed, via a full depth proof for the rightmost leaf. This is the
// trustful initialization path used only for migrating pre populated data:
// the supplied root is trusted to commit the claimed leaves, but the proof
// must still reproduce it.
func (t *Tree) InitializeWithRoot(root Node, rightmostLeaf Node, proof []Node, index uint32) (ChangeRecord, error) {
	if err := checkLeafIndex(index, t.maxDepth); err != nil {
		return ChangeRecord{}, err
	}
	if t.IsInitialized() {
		return ChangeRecord{}, ErrTreeAlreadyInitialized
	}
	if uint32(len(proof)) != t.maxDepth {
		return ChangeRecord{}, fmt.Errorf(
			"%w: rightmost proof has %d entries, the full depth %d is required", ErrInvalidProof, len(proof), t.maxDepth)
	}
	if Recompute(t.hasher, rightmostLeaf, proof, index) != root {
		return ChangeRecord{}, fmt.Errorf("%w: rightmost proof does not reproduce the supplied root", ErrInvalidProof)
	}

	copy(t.rightmostProof.Proof, proof)
	t.rightmostProof.Leaf = rightmostLeaf
	t.rightmostProof.Index = index + 1

	t.changeLogs[0].Root = root
	t.changeLogs[0].OldRoot = root
	t.sequenceNumber = 1
	t.activeIndex = 0
	t.bufferSize = 1
	return t.newChangeRecord(), nil
}

// ProveTreeIsEmpty errors unless every leaf of the tree holds the empty leaf
// value.
func (t *Tree) ProveTreeIsEmpty() error {
	if !t.IsInitialized() {
		return ErrTreeNotInitialized
	}
	if t.Root() != t.emptyNodes[t.maxDepth] {
		return ErrTreeNonEmpty
	}
	return nil
}

// Append writes leaf at the next free index. No proof is needed, the cached
// rightmost proof supplies every sibling required to recompute the root.
func (t *Tree) Append(leaf Node) (ChangeRecord, error) {
	if !t.IsInitialized() {
		return ChangeRecord{}, ErrTreeNotInitialized
	}
	if leaf == Empty {
		return ChangeRecord{}, ErrCannotAppendEmptyNode
	}
	if uint64(t.rightmostProof.Index) >= 1<<t.maxDepth {
		return ChangeRecord{}, ErrTreeFull
	}
	if t.rightmostProof.Index == 0 {
		// Nothing appended yet, the cached proof is the all empty path and
		// the append is an ordinary conditional write at index 0.
		return t.appendFirstLeaf(leaf)
	}

	d := int(t.maxDepth)
	rmp := &t.rightmostProof
	newLeaf := leaf
	node := leaf

	// The intersection is the level at which the path to the new leaf joins
	// the path to the current rightmost leaf. Below it the new leaf's siblings
	// are all roots of empty subtrees, at it the old rightmost path becomes
	// the sibling, above it the cached siblings remain correct.
	intersection := bits.TrailingZeros32(rmp.Index)
	intersectionNode := rmp.Leaf
	changeList := make([]Node, d)

	for i := 0; i < d; i++ {
		changeList[i] = node
		switch {
		case i < intersection:
			sibling := t.emptyNodes[i]
			hashToParent(t.hasher, &intersectionNode, rmp.Proof[i], ((rmp.Index-1)>>i)&1 == 0)
			hashToParent(t.hasher, &node, sibling, true)
			rmp.Proof[i] = sibling
		case i == intersection:
			hashToParent(t.hasher, &node, intersectionNode, false)
			rmp.Proof[i] = intersectionNode
		default:
			hashToParent(t.hasher, &node, rmp.Proof[i], ((rmp.Index-1)>>i)&1 == 0)
		}
	}

	oldRoot := t.Root()
	t.updateInternalCounters()
	cl := &t.changeLogs[t.activeIndex]
	cl.Root = node
	cl.OldRoot = oldRoot
	copy(cl.Path, changeList)
	cl.Index = rmp.Index

	rmp.Index++
	rmp.Leaf = newLeaf
	return t.newChangeRecord(), nil
}

// appendFirstLeaf handles the very first append after Initialize, when the
// rightmost proof still describes the fully empty tree.
func (t *Tree) appendFirstLeaf(leaf Node) (ChangeRecord, error) {
	proof := make([]Node, t.maxDepth)
	copy(proof, t.rightmostProof.Proof)
	oldRoot := Recompute(t.hasher, Empty, proof, 0)
	if oldRoot != t.emptyNodes[t.maxDepth] {
		return ChangeRecord{}, ErrTreeAlreadyInitialized
	}
	return t.tryApplyProof(oldRoot, Empty, leaf, proof, 0)
}

// SetLeaf is the general conditional replace: overwrite the leaf at index,
// currently holding previousLeaf, with newLeaf. claimedRoot identifies the
// tree state the proof was computed against. If that state is recent enough
// to still be in the changelog, and no intervening change touched the same
// leaf, the proof is fast-forwarded and the replace succeeds.
func (t *Tree) SetLeaf(claimedRoot Node, previousLeaf Node, newLeaf Node, proof []Node, index uint32) (ChangeRecord, error) {
	if err := checkLeafIndex(index, t.maxDepth); err != nil {
		return ChangeRecord{}, err
	}
	if !t.IsInitialized() {
		return ChangeRecord{}, ErrTreeNotInitialized
	}
	if index > t.rightmostProof.Index {
		return ChangeRecord{}, fmt.Errorf(
			"%w: %d is beyond the rightmost leaf %d", ErrLeafIndexOutOfBounds, index, t.rightmostProof.Index)
	}
	return t.tryApplyProof(claimedRoot, previousLeaf, newLeaf, fillInProof(proof, t.maxDepth), index)
}

// ProveLeaf verifies that leaf is present at index in the current tree. The
// supplied proof may target any root still held in the changelog, it is
// fast-forwarded exactly as for SetLeaf. Nothing is mutated.
func (t *Tree) ProveLeaf(claimedRoot Node, leaf Node, proof []Node, index uint32) error {
	if err := checkLeafIndex(index, t.maxDepth); err != nil {
		return err
	}
	if !t.IsInitialized() {
		return ErrTreeNotInitialized
	}
	if index > t.rightmostProof.Index {
		return fmt.Errorf(
			"%w: %d is beyond the rightmost leaf %d", ErrLeafIndexOutOfBounds, index, t.rightmostProof.Index)
	}
	full := fillInProof(proof, t.maxDepth)
	updatedLeaf, err := t.reconcileProof(claimedRoot, leaf, full, index)
	if err != nil {
		return err
	}
	if !t.CheckValidProof(updatedLeaf, full, index) {
		return fmt.Errorf("%w: leaf %d is not committed by the current root", ErrInvalidProof, index)
	}
	return nil
}

// FillEmptyOrAppend writes leaf at index if that position still holds the
// empty leaf value, and otherwise appends leaf at the next free index. The
// fallback favours forward progress over strict conflict detection: callers
// re-inserting a previously removed leaf need not know whether their intended
// slot was concurrently reused.
func (t *Tree) FillEmptyOrAppend(claimedRoot Node, leaf Node, proof []Node, index uint32) (ChangeRecord, error) {
	if err := checkLeafIndex(index, t.maxDepth); err != nil {
		return ChangeRecord{}, err
	}
	if !t.IsInitialized() {
		return ChangeRecord{}, ErrTreeNotInitialized
	}
	record, err := t.tryApplyProof(claimedRoot, Empty, leaf, fillInProof(proof, t.maxDepth), index)
	if err == nil {
		return record, nil
	}
	if errors.Is(err, ErrLeafConflict) {
		return t.Append(leaf)
	}
	return ChangeRecord{}, err
}

// CheckValidProof reports whether proof reproduces the current root with leaf
// at index. No fast-forwarding is attempted.
func (t *Tree) CheckValidProof(leaf Node, proof []Node, leafIndex uint32) bool {
	if !t.IsInitialized() {
		return false
	}
	if checkLeafIndex(leafIndex, t.maxDepth) != nil {
		return false
	}
	if uint32(len(proof)) != t.maxDepth {
		return false
	}
	return Recompute(t.hasher, leaf, proof, leafIndex) == t.Root()
}

// tryApplyProof reconciles the proof against the current root, then commits
// newLeaf at leafIndex. The tree is not modified unless reconciliation and
// verification both succeed.
func (t *Tree) tryApplyProof(claimedRoot Node, leaf Node, newLeaf Node, proof []Node, leafIndex uint32) (ChangeRecord, error) {
	updatedLeaf, err := t.reconcileProof(claimedRoot, leaf, proof, leafIndex)
	if err != nil {
		return ChangeRecord{}, err
	}
	if !t.CheckValidProof(updatedLeaf, proof, leafIndex) {
		return ChangeRecord{}, fmt.Errorf(
			"%w: fast-forwarded proof does not reproduce the current root", ErrInvalidProof)
	}
	oldRoot := t.Root()
	t.updateInternalCounters()
	return t.updateBuffersFromProof(oldRoot, newLeaf, proof, leafIndex), nil
}

// updateInternalCounters advances the ring buffer slot and the sequence
// number for a newly accepted mutation.
func (t *Tree) updateInternalCounters() {
	mask := uint64(t.maxBufferSize - 1)
	t.activeIndex = (t.activeIndex + 1) & mask
	if t.bufferSize < uint64(t.maxBufferSize) {
		t.bufferSize++
	}
	t.sequenceNumber++
}

// updateBuffersFromProof records the accepted change in the active ring
// buffer slot and keeps the cached rightmost proof current.
func (t *Tree) updateBuffersFromProof(oldRoot Node, start Node, proof []Node, index uint32) ChangeRecord {
	cl := &t.changeLogs[t.activeIndex]
	cl.replaceAndRecomputePath(t.hasher, index, start, proof)
	cl.OldRoot = oldRoot
	if uint64(t.rightmostProof.Index) < 1<<t.maxDepth {
		if index < t.rightmostProof.Index {
			cl.updateProofOrLeaf(t.rightmostProof.Index-1, t.rightmostProof.Proof, &t.rightmostProof.Leaf)
		} else {
			// A write at the rightmost index is an append, the proof that
			// validated it is exactly the new rightmost proof.
			copy(t.rightmostProof.Proof, proof)
			t.rightmostProof.Index = index + 1
			t.rightmostProof.Leaf = cl.Leaf()
		}
	}
	return t.newChangeRecord()
}

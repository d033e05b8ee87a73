package accounts

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/google/uuid"

	"github.com/forestrie/go-concurrenttree/canopy"
	"github.com/forestrie/go-concurrenttree/cmt"
)

// Context is one tree account loaded for the duration of a single request.
// Data holds the whole account: header, tree state and canopy in one
// contiguous buffer, exactly as persisted. Operations mutate Data only after
// the underlying tree operation has fully succeeded, a failed request leaves
// the buffer byte for byte unchanged.
//
// Context performs no locking. The caller must guarantee at most one mutation
// is in flight per account, commits are additionally guarded by the blob ETag.
type Context struct {
	AccountBlob
	Header Header
}

// AccountDataSize returns the full account byte size for a configuration and
// a canopy caching cachedLevels levels of siblings. cachedLevels of zero means
// no canopy region at all.
func AccountDataSize(maxDepth uint32, maxBufferSize uint32, cachedLevels uint32) (int, error) {
	if !SupportedConfiguration(maxDepth, maxBufferSize) {
		return 0, fmt.Errorf(
			"%w: depth %d capacity %d", ErrUnsupportedConfiguration, maxDepth, maxBufferSize)
	}
	canopyBytes := 0
	if cachedLevels > 0 {
		if cachedLevels > maxDepth {
			return 0, fmt.Errorf(
				"%w: %d cached levels exceeds depth %d", canopy.ErrLengthMismatch, cachedLevels, maxDepth)
		}
		canopyBytes = ((1 << (cachedLevels + 1)) - 2) * cmt.NodeBytes
	}
	return HeaderBytes + cmt.TreeDataSize(maxDepth, maxBufferSize) + canopyBytes, nil
}

// SetupHeader parses and checks the header region. It is called by every
// operation on a loaded account, and by the Committer immediately after a
// read.
func (ac *Context) SetupHeader() error {
	if err := ac.Header.UnmarshalBinary(ac.Data); err != nil {
		return err
	}
	return ac.Header.CheckTypeAndVersion()
}

// regions splits Data into the tree state and canopy views for the checked
// header configuration.
func (ac *Context) regions() ([]byte, []byte, error) {
	treeSize, err := ac.Header.TreeDataSize()
	if err != nil {
		return nil, nil, err
	}
	if len(ac.Data) < HeaderBytes+treeSize {
		return nil, nil, fmt.Errorf(
			"%w: have %d, the configured tree needs %d", ErrAccountDataTooSmall, len(ac.Data), HeaderBytes+treeSize)
	}
	return ac.Data[HeaderBytes : HeaderBytes+treeSize], ac.Data[HeaderBytes+treeSize:], nil
}

// loadTree revives the tree state for one request. The returned tree is a
// private copy, serializing it back into the tree region is the caller's
// commit step.
func (ac *Context) loadTree() (*cmt.Tree, hash.Hash, []byte, []byte, error) {
	if err := ac.SetupHeader(); err != nil {
		return nil, nil, nil, nil, err
	}
	treeData, canopyData, err := ac.regions()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	// validate the canopy region before any tree work, a mis-sized canopy is
	// account corruption
	if _, err = canopy.CachedPathLength(canopyData, ac.Header.MaxDepth); err != nil {
		return nil, nil, nil, nil, err
	}
	hasher := sha256.New()
	tree, err := cmt.New(hasher, ac.Header.MaxDepth, ac.Header.MaxBufferSize)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err = tree.UnmarshalBinary(treeData); err != nil {
		return nil, nil, nil, nil, err
	}
	return tree, hasher, treeData, canopyData, nil
}

func (ac *Context) requireState(want AccountState) error {
	if ac.Header.State != want {
		switch want {
		case StateActive:
			return fmt.Errorf("%w: state %d", ErrAccountNotActive, ac.Header.State)
		default:
			return fmt.Errorf("%w: state %d", ErrBatchNotPrepared, ac.Header.State)
		}
	}
	return nil
}

// writeHeader serializes the in-memory header over the header region.
func (ac *Context) writeHeader() error {
	data, err := ac.Header.MarshalBinary()
	if err != nil {
		return err
	}
	copy(ac.Data[:HeaderBytes], data)
	return nil
}

// commitTree is the success path of every mutation: serialize the tree over
// its region, absorb the change into the canopy and materialize any canopy
// slots that were inferred while filling the proof.
func (ac *Context) commitTree(
	tree *cmt.Tree, treeData []byte, canopyData []byte,
	record cmt.ChangeRecord, inferred []canopy.CachedNode,
) (cmt.ChangeRecord, error) {

	data, err := tree.MarshalBinary()
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	copy(treeData, data)
	canopy.WriteNodes(canopyData, inferred)
	if err = canopy.Absorb(canopyData, ac.Header.MaxDepth, &record); err != nil {
		return cmt.ChangeRecord{}, err
	}
	return record, nil
}

// CreateEmpty initializes a freshly allocated account with the canonical
// empty tree. Data must already be sized with AccountDataSize.
func (ac *Context) CreateEmpty(treeID uuid.UUID, maxDepth uint32, maxBufferSize uint32) (cmt.ChangeRecord, error) {
	ac.Header = NewHeader(treeID, maxDepth, maxBufferSize, StateActive)
	treeData, canopyData, err := ac.regions()
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	if _, err = canopy.CachedPathLength(canopyData, maxDepth); err != nil {
		return cmt.ChangeRecord{}, err
	}
	tree, err := cmt.New(sha256.New(), maxDepth, maxBufferSize)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	record, err := tree.Initialize()
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	if err = ac.writeHeader(); err != nil {
		return cmt.ChangeRecord{}, err
	}
	return ac.commitTree(tree, treeData, canopyData, record, nil)
}

// PrepareBatch writes a header describing the configuration but leaves the
// tree region zeroed. The account accepts only AppendCanopyNodes and
// InitWithRoot until initialization completes.
func (ac *Context) PrepareBatch(treeID uuid.UUID, maxDepth uint32, maxBufferSize uint32) error {
	ac.Header = NewHeader(treeID, maxDepth, maxBufferSize, StateBatchPrepared)
	_, canopyData, err := ac.regions()
	if err != nil {
		return err
	}
	if _, err = canopy.CachedPathLength(canopyData, maxDepth); err != nil {
		return err
	}
	return ac.writeHeader()
}

// AppendCanopyNodes loads a run of canopy leaf nodes during batched creation.
// Chunks may arrive in any order and already written nodes may be replaced,
// nothing is final until InitWithRoot.
func (ac *Context) AppendCanopyNodes(startIndex uint32, nodes []cmt.Node) error {
	tree, hasher, _, canopyData, err := ac.loadTree()
	if err != nil {
		return err
	}
	if err = ac.requireState(StateBatchPrepared); err != nil {
		return err
	}
	// the canopy of a live tree must never be overwritten
	if tree.IsInitialized() {
		return cmt.ErrTreeAlreadyInitialized
	}
	return canopy.SetLeafNodes(canopyData, hasher, ac.Header.MaxDepth, startIndex, nodes)
}

// InitWithRoot finalizes a batch prepared account: the canopy must reproduce
// the asserted root and hold nothing beyond the rightmost leaf, and the
// rightmost proof, extended from the canopy, must verify. On success the
// account becomes active.
func (ac *Context) InitWithRoot(
	root cmt.Node, rightmostLeaf cmt.Node, rightmostIndex uint32, proof []cmt.Node,
) (cmt.ChangeRecord, error) {

	tree, hasher, treeData, canopyData, err := ac.loadTree()
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	if err = ac.requireState(StateBatchPrepared); err != nil {
		return cmt.ChangeRecord{}, err
	}
	if err = canopy.CheckRoot(canopyData, hasher, ac.Header.MaxDepth, root); err != nil {
		return cmt.ChangeRecord{}, err
	}
	if err = canopy.CheckNoNodesRightOfIndex(canopyData, ac.Header.MaxDepth, rightmostIndex); err != nil {
		return cmt.ChangeRecord{}, err
	}
	full, inferred, err := canopy.FillProofSuffix(
		canopyData, hasher, ac.Header.MaxDepth, rightmostIndex, proof)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	record, err := tree.InitializeWithRoot(root, rightmostLeaf, full, rightmostIndex)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	ac.Header.State = StateActive
	if err = ac.writeHeader(); err != nil {
		return cmt.ChangeRecord{}, err
	}
	return ac.commitTree(tree, treeData, canopyData, record, inferred)
}

// Append writes leaf at the next free index.
func (ac *Context) Append(leaf cmt.Node) (cmt.ChangeRecord, error) {
	tree, _, treeData, canopyData, err := ac.loadTree()
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	if err = ac.requireState(StateActive); err != nil {
		return cmt.ChangeRecord{}, err
	}
	record, err := tree.Append(leaf)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	return ac.commitTree(tree, treeData, canopyData, record, nil)
}

// ReplaceLeaf conditionally replaces the leaf at index, extending the caller
// supplied proof fragment from the canopy first.
func (ac *Context) ReplaceLeaf(
	claimedRoot cmt.Node, previousLeaf cmt.Node, newLeaf cmt.Node, proof []cmt.Node, index uint32,
) (cmt.ChangeRecord, error) {

	tree, hasher, treeData, canopyData, err := ac.loadTree()
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	if err = ac.requireState(StateActive); err != nil {
		return cmt.ChangeRecord{}, err
	}
	full, inferred, err := canopy.FillProofSuffix(canopyData, hasher, ac.Header.MaxDepth, index, proof)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	record, err := tree.SetLeaf(claimedRoot, previousLeaf, newLeaf, full, index)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	return ac.commitTree(tree, treeData, canopyData, record, inferred)
}

// InsertOrAppend writes leaf at index if the position is still empty and
// appends it otherwise.
func (ac *Context) InsertOrAppend(
	claimedRoot cmt.Node, leaf cmt.Node, proof []cmt.Node, index uint32,
) (cmt.ChangeRecord, error) {

	tree, hasher, treeData, canopyData, err := ac.loadTree()
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	if err = ac.requireState(StateActive); err != nil {
		return cmt.ChangeRecord{}, err
	}
	full, inferred, err := canopy.FillProofSuffix(canopyData, hasher, ac.Header.MaxDepth, index, proof)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	record, err := tree.FillEmptyOrAppend(claimedRoot, leaf, full, index)
	if err != nil {
		return cmt.ChangeRecord{}, err
	}
	return ac.commitTree(tree, treeData, canopyData, record, inferred)
}

// VerifyLeaf proves leaf is present at index. The account bytes are left
// untouched, inferred canopy slots are deliberately not materialized here.
func (ac *Context) VerifyLeaf(claimedRoot cmt.Node, leaf cmt.Node, proof []cmt.Node, index uint32) error {
	tree, hasher, _, canopyData, err := ac.loadTree()
	if err != nil {
		return err
	}
	if err = ac.requireState(StateActive); err != nil {
		return err
	}
	full, _, err := canopy.FillProofSuffix(canopyData, hasher, ac.Header.MaxDepth, index, proof)
	if err != nil {
		return err
	}
	return tree.ProveLeaf(claimedRoot, leaf, full, index)
}

// CloseEmpty proves every leaf is empty and then zeroes the whole account so
// the backing allocation can be reclaimed.
func (ac *Context) CloseEmpty() error {
	tree, _, _, _, err := ac.loadTree()
	if err != nil {
		return err
	}
	if err = ac.requireState(StateActive); err != nil {
		return err
	}
	if err = tree.ProveTreeIsEmpty(); err != nil {
		return err
	}
	for i := range ac.Data {
		ac.Data[i] = 0
	}
	return nil
}

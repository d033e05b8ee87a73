package cmt

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, maxDepth uint32, maxBufferSize uint32) *Tree {
	tree, err := New(sha256.New(), maxDepth, maxBufferSize)
	require.NoError(t, err)
	return tree
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	for _, tt := range []struct {
		depth, capacity uint32
	}{
		{0, 8},
		{MaxSupportedDepth + 1, 8},
		{14, 0},
		{14, 3},
	} {
		_, err := New(sha256.New(), tt.depth, tt.capacity)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, "depth %d capacity %d", tt.depth, tt.capacity)
	}
}

func TestInitializeEmptyTree(t *testing.T) {
	tree := newTestTree(t, 4, 8)
	require.False(t, tree.IsInitialized())

	record, err := tree.Initialize()
	require.NoError(t, err)
	require.True(t, tree.IsInitialized())

	empty := EmptyNodes(sha256.New(), 4)
	assert.Equal(t, empty[4], tree.Root())
	assert.Equal(t, uint64(0), tree.SequenceNumber())
	assert.Equal(t, uint32(0), tree.RightmostIndex())
	assert.NoError(t, tree.ProveTreeIsEmpty())

	// the record carries the full all-empty path, root first
	require.Len(t, record.Path, 5)
	assert.Equal(t, empty[4], record.Path[0].Node)
	assert.Equal(t, uint32(1), record.Path[0].TreeIndex)

	_, err = tree.Initialize()
	assert.ErrorIs(t, err, ErrTreeAlreadyInitialized)
}

func TestOperationsRequireInitialization(t *testing.T) {
	tree := newTestTree(t, 4, 8)

	_, err := tree.Append(filledNode(1))
	assert.ErrorIs(t, err, ErrTreeNotInitialized)

	_, err = tree.SetLeaf(Node{}, Empty, filledNode(1), nil, 0)
	assert.ErrorIs(t, err, ErrTreeNotInitialized)

	assert.ErrorIs(t, tree.ProveLeaf(Node{}, Empty, nil, 0), ErrTreeNotInitialized)
	assert.ErrorIs(t, tree.ProveTreeIsEmpty(), ErrTreeNotInitialized)
	assert.False(t, tree.CheckValidProof(Empty, make([]Node, 4), 0))
}

func TestAppendMatchesReference(t *testing.T) {
	const depth = 4
	tree := newTestTree(t, depth, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)

	ref := newRefTree(depth)
	for i := uint32(0); i < 1<<depth; i++ {
		leaf := filledNode(byte(i + 1))
		record, err := tree.Append(leaf)
		require.NoError(t, err)
		ref.setLeaf(i, leaf)

		assert.Equal(t, ref.root(), tree.Root(), "append %d", i)
		assert.Equal(t, i, record.LeafIndex)
		assert.Equal(t, uint64(i+1), record.SequenceNumber)
		assert.Equal(t, ref.root(), record.NewRoot)
	}

	_, err = tree.Append(filledNode(99))
	assert.ErrorIs(t, err, ErrTreeFull)
	assert.ErrorIs(t, tree.ProveTreeIsEmpty(), ErrTreeNonEmpty)
}

func TestAppendRejectsEmptyLeaf(t *testing.T) {
	tree := newTestTree(t, 4, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)

	_, err = tree.Append(Empty)
	assert.ErrorIs(t, err, ErrCannotAppendEmptyNode)
}

func TestSetLeafWithCurrentProof(t *testing.T) {
	const depth = 4
	tree := newTestTree(t, depth, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)

	ref := newRefTree(depth)
	for i := uint32(0); i < 8; i++ {
		leaf := filledNode(byte(i + 1))
		_, err = tree.Append(leaf)
		require.NoError(t, err)
		ref.setLeaf(i, leaf)
	}

	record, err := tree.SetLeaf(ref.root(), filledNode(3), filledNode(0xa3), ref.proof(2), 2)
	require.NoError(t, err)
	ref.setLeaf(2, filledNode(0xa3))
	assert.Equal(t, ref.root(), tree.Root())
	assert.Equal(t, uint32(2), record.LeafIndex)

	// a proof for the wrong leaf content does not verify
	_, err = tree.SetLeaf(ref.root(), filledNode(77), filledNode(0xa4), ref.proof(3), 3)
	assert.ErrorIs(t, err, ErrInvalidProof)
	assert.Equal(t, ref.root(), tree.Root())
}

func TestSetLeafBoundsChecked(t *testing.T) {
	const depth = 4
	tree := newTestTree(t, depth, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)
	_, err = tree.Append(filledNode(1))
	require.NoError(t, err)

	// beyond the 2^depth leaf positions
	_, err = tree.SetLeaf(tree.Root(), Empty, filledNode(2), nil, 1<<depth)
	assert.ErrorIs(t, err, ErrLeafIndexOutOfBounds)

	// in bounds but beyond the rightmost leaf
	_, err = tree.SetLeaf(tree.Root(), Empty, filledNode(2), nil, 5)
	assert.ErrorIs(t, err, ErrLeafIndexOutOfBounds)
}

// A replace targeting the rightmost free position behaves as an append and
// refreshes the cached rightmost proof.
func TestSetLeafAtRightmostIndexAppends(t *testing.T) {
	const depth = 4
	tree := newTestTree(t, depth, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)

	ref := newRefTree(depth)
	for i := uint32(0); i < 3; i++ {
		leaf := filledNode(byte(i + 1))
		_, err = tree.Append(leaf)
		require.NoError(t, err)
		ref.setLeaf(i, leaf)
	}

	_, err = tree.SetLeaf(ref.root(), Empty, filledNode(0xb0), ref.proof(3), 3)
	require.NoError(t, err)
	ref.setLeaf(3, filledNode(0xb0))
	assert.Equal(t, ref.root(), tree.Root())
	assert.Equal(t, uint32(4), tree.RightmostIndex())

	// the rightmost proof must have tracked the write for appends to continue
	_, err = tree.Append(filledNode(0xb1))
	require.NoError(t, err)
	ref.setLeaf(4, filledNode(0xb1))
	assert.Equal(t, ref.root(), tree.Root())
}

func TestProveLeaf(t *testing.T) {
	const depth = 4
	tree := newTestTree(t, depth, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)

	ref := newRefTree(depth)
	for i := uint32(0); i < 6; i++ {
		leaf := filledNode(byte(i + 1))
		_, err = tree.Append(leaf)
		require.NoError(t, err)
		ref.setLeaf(i, leaf)
	}

	before, err := tree.MarshalBinary()
	require.NoError(t, err)

	require.NoError(t, tree.ProveLeaf(ref.root(), filledNode(4), ref.proof(3), 3))
	assert.ErrorIs(t, tree.ProveLeaf(ref.root(), filledNode(9), ref.proof(3), 3), ErrInvalidProof)

	after, err := tree.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, before, after, "proving must not modify the tree")
}

func TestInitializeWithRoot(t *testing.T) {
	const depth = 4
	ref := newRefTree(depth)
	for i := uint32(0); i < 5; i++ {
		ref.setLeaf(i, filledNode(byte(i+1)))
	}

	tree := newTestTree(t, depth, 8)
	record, err := tree.InitializeWithRoot(ref.root(), filledNode(5), ref.proof(4), 4)
	require.NoError(t, err)
	assert.Equal(t, ref.root(), tree.Root())
	assert.Equal(t, uint64(1), tree.SequenceNumber())
	assert.Equal(t, uint32(5), tree.RightmostIndex())
	assert.Equal(t, uint64(1), record.SequenceNumber)

	// appends continue from the asserted rightmost position
	_, err = tree.Append(filledNode(6))
	require.NoError(t, err)
	ref.setLeaf(5, filledNode(6))
	assert.Equal(t, ref.root(), tree.Root())

	_, err = tree.InitializeWithRoot(ref.root(), filledNode(6), ref.proof(5), 5)
	assert.ErrorIs(t, err, ErrTreeAlreadyInitialized)
}

func TestInitializeWithRootRejectsBadProof(t *testing.T) {
	const depth = 4
	ref := newRefTree(depth)
	ref.setLeaf(0, filledNode(1))

	tree := newTestTree(t, depth, 8)
	_, err := tree.InitializeWithRoot(ref.root(), filledNode(2), ref.proof(0), 0)
	assert.ErrorIs(t, err, ErrInvalidProof)
	assert.False(t, tree.IsInitialized())

	_, err = tree.InitializeWithRoot(ref.root(), filledNode(1), ref.proof(0)[:depth-1], 0)
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestFillEmptyOrAppendFallsBackToAppend(t *testing.T) {
	const depth = 4
	tree := newTestTree(t, depth, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)

	ref := newRefTree(depth)
	emptyRoot := ref.root()
	emptyProof := ref.proof(0)

	// a writer takes index 0 first
	_, err = tree.Append(filledNode(1))
	require.NoError(t, err)
	ref.setLeaf(0, filledNode(1))

	// the re-insert raced and lost index 0, it lands at the next free index
	record, err := tree.FillEmptyOrAppend(emptyRoot, filledNode(2), emptyProof, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), record.LeafIndex)
	ref.setLeaf(1, filledNode(2))
	assert.Equal(t, ref.root(), tree.Root())
}

func TestFillEmptyOrAppendFillsEmptySlot(t *testing.T) {
	const depth = 4
	tree := newTestTree(t, depth, 8)
	_, err := tree.Initialize()
	require.NoError(t, err)

	ref := newRefTree(depth)
	for i := uint32(0); i < 4; i++ {
		leaf := filledNode(byte(i + 1))
		_, err = tree.Append(leaf)
		require.NoError(t, err)
		ref.setLeaf(i, leaf)
	}
	// remove leaf 2, then re-insert while the slot is still free
	_, err = tree.SetLeaf(ref.root(), filledNode(3), Empty, ref.proof(2), 2)
	require.NoError(t, err)
	ref.setLeaf(2, Empty)

	record, err := tree.FillEmptyOrAppend(ref.root(), filledNode(0xc2), ref.proof(2), 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), record.LeafIndex)
	ref.setLeaf(2, filledNode(0xc2))
	assert.Equal(t, ref.root(), tree.Root())
	// no append happened
	assert.Equal(t, uint32(4), tree.RightmostIndex())
}

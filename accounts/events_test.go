package accounts

import (
	"crypto/sha256"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-concurrenttree/cmt"
)

func TestChangeEventEncoding(t *testing.T) {
	tree, err := cmt.New(sha256.New(), testDepth, testBufferSize)
	require.NoError(t, err)
	_, err = tree.Initialize()
	require.NoError(t, err)
	record, err := tree.Append(filledNode(1))
	require.NoError(t, err)

	treeID := uuid.New()
	event := NewChangeEvent(treeID, record)

	codec, err := NewRootSealerCodec()
	require.NoError(t, err)

	data, err := EncodeChangeEvent(codec, &event)
	require.NoError(t, err)

	decoded, err := DecodeChangeEvent(codec, data)
	require.NoError(t, err)
	assert.Equal(t, treeID[:], decoded.TreeID)
	assert.Equal(t, record.SequenceNumber, decoded.SequenceNumber)
	assert.Equal(t, record.LeafIndex, decoded.LeafIndex)
	require.Len(t, decoded.Path, len(record.Path))
	assert.Equal(t, record.Path[0].TreeIndex, decoded.Path[0].TreeIndex)
}

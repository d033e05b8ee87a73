package cmt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// The persisted tree data region is a strictly sized sequence of fields whose
// layout is fully determined by the configured (depth, capacity) pair:
//
//	.         | sequence number | active index | buffer size |
//	bytes     |        8        |       8      |      8      |
//
// followed by capacity changelog slots, each
//
//	.         | root | old root | path          | leaf index | reserved |
//	bytes     |  32  |    32    |  depth * 32   |     4      |    4     |
//
// followed by the rightmost proof
//
//	.         | proof         | leaf | next index | reserved |
//	bytes     |  depth * 32   |  32  |     4      |    4     |
//
// All integers are big endian. The reserved bytes keep every slot a multiple
// of 8 and give the format a little flex without a data migration.
const (
	treeCountersBytes = 3 * 8
	slotTrailerBytes  = 8
)

var ErrTreeDataCorrupt = errors.New("the tree data counters are inconsistent with the configuration")

func changeLogBytes(maxDepth uint32) int {
	return 2*NodeBytes + int(maxDepth)*NodeBytes + slotTrailerBytes
}

func rightmostProofBytes(maxDepth uint32) int {
	return int(maxDepth)*NodeBytes + NodeBytes + slotTrailerBytes
}

// TreeDataSize returns the exact byte length of the persisted tree data
// region for the given configuration.
func TreeDataSize(maxDepth uint32, maxBufferSize uint32) int {
	return treeCountersBytes + int(maxBufferSize)*changeLogBytes(maxDepth) + rightmostProofBytes(maxDepth)
}

// MarshalBinary serializes the tree state into a freshly allocated region of
// exactly TreeDataSize bytes.
func (t *Tree) MarshalBinary() ([]byte, error) {
	data := make([]byte, TreeDataSize(t.maxDepth, t.maxBufferSize))
	binary.BigEndian.PutUint64(data[0:8], t.sequenceNumber)
	binary.BigEndian.PutUint64(data[8:16], t.activeIndex)
	binary.BigEndian.PutUint64(data[16:24], t.bufferSize)

	offset := treeCountersBytes
	for i := range t.changeLogs {
		cl := &t.changeLogs[i]
		copy(data[offset:], cl.Root[:])
		offset += NodeBytes
		copy(data[offset:], cl.OldRoot[:])
		offset += NodeBytes
		for j := range cl.Path {
			copy(data[offset:], cl.Path[j][:])
			offset += NodeBytes
		}
		binary.BigEndian.PutUint32(data[offset:], cl.Index)
		offset += slotTrailerBytes
	}

	rmp := &t.rightmostProof
	for j := range rmp.Proof {
		copy(data[offset:], rmp.Proof[j][:])
		offset += NodeBytes
	}
	copy(data[offset:], rmp.Leaf[:])
	offset += NodeBytes
	binary.BigEndian.PutUint32(data[offset:], rmp.Index)
	return data, nil
}

// UnmarshalBinary loads the tree state from a persisted tree data region. The
// tree must have been constructed with New for the same configuration the
// region was written with.
func (t *Tree) UnmarshalBinary(data []byte) error {
	if len(data) != TreeDataSize(t.maxDepth, t.maxBufferSize) {
		return fmt.Errorf(
			"%w: have %d, want %d for depth %d capacity %d",
			ErrTreeDataLengthInvalid, len(data), TreeDataSize(t.maxDepth, t.maxBufferSize), t.maxDepth, t.maxBufferSize)
	}
	sequenceNumber := binary.BigEndian.Uint64(data[0:8])
	activeIndex := binary.BigEndian.Uint64(data[8:16])
	bufferSize := binary.BigEndian.Uint64(data[16:24])
	if activeIndex >= uint64(t.maxBufferSize) || bufferSize > uint64(t.maxBufferSize) {
		return fmt.Errorf(
			"%w: active index %d, buffer size %d, capacity %d",
			ErrTreeDataCorrupt, activeIndex, bufferSize, t.maxBufferSize)
	}
	t.sequenceNumber = sequenceNumber
	t.activeIndex = activeIndex
	t.bufferSize = bufferSize

	offset := treeCountersBytes
	for i := range t.changeLogs {
		cl := &t.changeLogs[i]
		copy(cl.Root[:], data[offset:])
		offset += NodeBytes
		copy(cl.OldRoot[:], data[offset:])
		offset += NodeBytes
		for j := range cl.Path {
			copy(cl.Path[j][:], data[offset:])
			offset += NodeBytes
		}
		cl.Index = binary.BigEndian.Uint32(data[offset:])
		offset += slotTrailerBytes
	}

	rmp := &t.rightmostProof
	for j := range rmp.Proof {
		copy(rmp.Proof[j][:], data[offset:])
		offset += NodeBytes
	}
	copy(rmp.Leaf[:], data[offset:])
	offset += NodeBytes
	rmp.Index = binary.BigEndian.Uint32(data[offset:])
	return nil
}

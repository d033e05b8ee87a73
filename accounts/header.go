package accounts

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forestrie/go-concurrenttree/cmt"
)

// The account header occupies the first 64 bytes of every tree account and is
// the only part of the account whose interpretation does not depend on the
// configuration it records.
//
//	| 0           | type           | 1    |
//	| 1           | version        | 1    |
//	| 2           | state          | 1    |
//	| 3           | reserved       | 1    |
//	| 4  -  7     | max depth      | 4    |
//	| 8  - 11     | max buffer size| 4    |
//	| 12 - 15     | reserved       | 4    |
//	| 16 - 31     | tree id        | 16   |
//	| 32 - 39     | created at ms  | 8    |
//	| 40 - 63     | reserved       | 24   |
//
// All integers are big endian. The reserved ranges are written as zero and
// ignored on read.
const (
	HeaderBytes = 64

	HeaderTypeFirstByte          = 0
	HeaderVersionFirstByte       = 1
	HeaderStateFirstByte         = 2
	HeaderMaxDepthFirstByte      = 4
	HeaderMaxBufferSizeFirstByte = 8
	HeaderTreeIDFirstByte        = 16
	HeaderCreatedAtFirstByte     = 32
)

const (
	AccountTypeConcurrentTree = 1
	HeaderVersion1            = 1
)

// AccountState is the lifecycle position recorded in the header. An account
// created empty goes directly to active. The batched creation flow parks the
// account in the prepared state so that a half loaded canopy can never be
// mistaken for a live tree.
type AccountState uint8

const (
	StateUninitialized AccountState = iota
	StateActive
	StateBatchPrepared
)

type Header struct {
	Type          uint8
	Version       uint8
	State         AccountState
	MaxDepth      uint32
	MaxBufferSize uint32
	TreeID        uuid.UUID
	CreatedAt     time.Time
}

// NewHeader describes a freshly created tree account in the given lifecycle
// state.
func NewHeader(treeID uuid.UUID, maxDepth uint32, maxBufferSize uint32, state AccountState) Header {
	return Header{
		Type:          AccountTypeConcurrentTree,
		Version:       HeaderVersion1,
		State:         state,
		MaxDepth:      maxDepth,
		MaxBufferSize: maxBufferSize,
		TreeID:        treeID,
		CreatedAt:     time.Now().Truncate(time.Millisecond),
	}
}

func (h Header) MarshalBinary() ([]byte, error) {
	data := make([]byte, HeaderBytes)
	data[HeaderTypeFirstByte] = h.Type
	data[HeaderVersionFirstByte] = h.Version
	data[HeaderStateFirstByte] = uint8(h.State)
	binary.BigEndian.PutUint32(data[HeaderMaxDepthFirstByte:], h.MaxDepth)
	binary.BigEndian.PutUint32(data[HeaderMaxBufferSizeFirstByte:], h.MaxBufferSize)
	copy(data[HeaderTreeIDFirstByte:], h.TreeID[:])
	binary.BigEndian.PutUint64(data[HeaderCreatedAtFirstByte:], uint64(h.CreatedAt.UnixMilli()))
	return data, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderBytes {
		return fmt.Errorf("%w: %d bytes is too short for the header", ErrAccountDataTooSmall, len(data))
	}
	h.Type = data[HeaderTypeFirstByte]
	h.Version = data[HeaderVersionFirstByte]
	h.State = AccountState(data[HeaderStateFirstByte])
	h.MaxDepth = binary.BigEndian.Uint32(data[HeaderMaxDepthFirstByte:])
	h.MaxBufferSize = binary.BigEndian.Uint32(data[HeaderMaxBufferSizeFirstByte:])
	copy(h.TreeID[:], data[HeaderTreeIDFirstByte:])
	h.CreatedAt = time.UnixMilli(int64(binary.BigEndian.Uint64(data[HeaderCreatedAtFirstByte:])))
	return nil
}

// CheckTypeAndVersion guards every operation against accounts written by a
// different program or format revision.
func (h Header) CheckTypeAndVersion() error {
	if h.Type != AccountTypeConcurrentTree {
		return fmt.Errorf("%w: type %d", ErrIncorrectAccountType, h.Type)
	}
	if h.Version != HeaderVersion1 {
		return fmt.Errorf("%w: version %d", ErrIncorrectHeaderVersion, h.Version)
	}
	return nil
}

// SupportedConfiguration reports whether the (depth, capacity) pair is one of
// the enumerated variants trees may be created with. The set is closed:
// accepting arbitrary pairs would let a corrupted header imply an arbitrary
// tree region size.
func SupportedConfiguration(maxDepth uint32, maxBufferSize uint32) bool {
	switch maxDepth {
	case 3, 5:
		return maxBufferSize == 8
	case 6, 7, 8, 9:
		return maxBufferSize == 16
	case 10, 11, 12, 13:
		return maxBufferSize == 32
	case 15, 16, 17, 18, 19:
		return maxBufferSize == 64
	case 14, 20:
		return maxBufferSize == 64 || maxBufferSize == 256 ||
			maxBufferSize == 1024 || maxBufferSize == 2048
	case 24:
		return maxBufferSize == 64 || maxBufferSize == 256 || maxBufferSize == 512 ||
			maxBufferSize == 1024 || maxBufferSize == 2048
	case 26, 30:
		return maxBufferSize == 512 || maxBufferSize == 1024 || maxBufferSize == 2048
	}
	return false
}

// TreeDataSize returns the byte size of the tree state region for the header's
// configuration.
func (h Header) TreeDataSize() (int, error) {
	if !SupportedConfiguration(h.MaxDepth, h.MaxBufferSize) {
		return 0, fmt.Errorf(
			"%w: depth %d capacity %d", ErrUnsupportedConfiguration, h.MaxDepth, h.MaxBufferSize)
	}
	return cmt.TreeDataSize(h.MaxDepth, h.MaxBufferSize), nil
}

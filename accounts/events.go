package accounts

import (
	"context"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	"github.com/google/uuid"

	"github.com/forestrie/go-concurrenttree/cmt"
)

// ChangeEvent is the external record of one accepted mutation. Indexers
// reconstruct full tree contents from the stream of these events, the account
// itself only commits to them.
type ChangeEvent struct {
	TreeID         []byte         `cbor:"1,keyasint"`
	SequenceNumber uint64         `cbor:"2,keyasint"`
	LeafIndex      uint32         `cbor:"3,keyasint"`
	OldRoot        []byte         `cbor:"4,keyasint"`
	NewRoot        []byte         `cbor:"5,keyasint"`
	Path           []cmt.PathNode `cbor:"6,keyasint"`
}

func NewChangeEvent(treeID uuid.UUID, record cmt.ChangeRecord) ChangeEvent {
	oldRoot := record.OldRoot
	newRoot := record.NewRoot
	return ChangeEvent{
		TreeID:         treeID[:],
		SequenceNumber: record.SequenceNumber,
		LeafIndex:      record.LeafIndex,
		OldRoot:        oldRoot[:],
		NewRoot:        newRoot[:],
		Path:           record.Path,
	}
}

// EventSink receives the change event for every accepted mutation, after the
// account bytes have been updated. Publication failures are surfaced to the
// caller but the mutation itself is already committed.
type EventSink interface {
	PublishChange(ctx context.Context, event *ChangeEvent) error
}

// EncodeChangeEvent serializes the event with the deterministic codec so that
// independent indexers derive identical byte streams.
func EncodeChangeEvent(codec dtcbor.CBORCodec, event *ChangeEvent) ([]byte, error) {
	return codec.MarshalCBOR(event)
}

func DecodeChangeEvent(codec dtcbor.CBORCodec, data []byte) (ChangeEvent, error) {
	var event ChangeEvent
	if err := codec.UnmarshalInto(data, &event); err != nil {
		return ChangeEvent{}, err
	}
	return event, nil
}

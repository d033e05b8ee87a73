package accounts

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
)

const (
	// V1TreePrefix is the blob store location for all tree accounts. One blob
	// per tree, the uuid is the whole identity.
	V1TreePrefix      = "v1/trees"
	V1TreeBlobNameFmt = "%s.tree"
)

// TreeBlobPath returns the blob path for a tree account.
func TreeBlobPath(treeID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", V1TreePrefix, fmt.Sprintf(V1TreeBlobNameFmt, treeID.String()))
}

type accountReader interface {
	Reader(
		ctx context.Context,
		identity string,
		opts ...azblob.Option,
	) (*azblob.ReaderResponse, error)
}

type accountStore interface {
	accountReader
	Put(
		ctx context.Context,
		identity string,
		source io.ReadSeekCloser,
		opts ...azblob.Option,
	) (*azblob.WriteResponse, error)
}

// AccountBlob carries one tree account's bytes together with the blob store
// metadata needed to write it back safely.
type AccountBlob struct {
	BlobPath      string
	ETag          string
	Tags          map[string]string
	LastRead      time.Time
	LastModified  time.Time
	Data          []byte
	ContentLength int64

	// Creating is set when the account does not exist in the store yet, the
	// commit then requires that no blob is present rather than an ETag match.
	Creating bool
}

// ReadData reads the account bytes at BlobPath and captures the metadata from
// the store response.
func (ab *AccountBlob) ReadData(
	ctx context.Context, store accountReader, opts ...azblob.Option) error {

	rr, err := store.Reader(ctx, ab.BlobPath, opts...)
	if err != nil {
		return err
	}
	ab.Data, err = io.ReadAll(rr.Reader)
	if err != nil {
		return err
	}
	ab.Tags = rr.Tags
	ab.ETag = *rr.ETag
	ab.LastRead = time.Now()
	ab.LastModified = *rr.LastModified
	ab.ContentLength = rr.ContentLength
	return nil
}

// Committer loads and commits tree accounts against a blob store, emitting a
// change event for every committed mutation.
type Committer struct {
	Log   logger.Logger
	Store accountStore
	Sink  EventSink
}

func NewCommitter(log logger.Logger, store accountStore, sink EventSink) *Committer {
	return &Committer{
		Log:   log,
		Store: store,
		Sink:  sink,
	}
}

// GetContext reads the account for treeID and parses its header, ready for
// one request.
func (c *Committer) GetContext(ctx context.Context, treeID uuid.UUID) (Context, error) {
	ac := Context{
		AccountBlob: AccountBlob{
			BlobPath: TreeBlobPath(treeID),
			Tags:     map[string]string{},
		},
	}
	if err := ac.ReadData(ctx, c.Store, azblob.WithGetTags()); err != nil {
		return Context{}, WrapAccountNotFound(err)
	}
	if err := ac.SetupHeader(); err != nil {
		return Context{}, err
	}
	return ac, nil
}

// CreateContext allocates the account bytes for a new tree. Nothing is stored
// until the caller runs an initialization operation and commits.
func (c *Committer) CreateContext(
	treeID uuid.UUID, maxDepth uint32, maxBufferSize uint32, cachedLevels uint32,
) (Context, error) {

	size, err := AccountDataSize(maxDepth, maxBufferSize, cachedLevels)
	if err != nil {
		return Context{}, err
	}
	return Context{
		AccountBlob: AccountBlob{
			BlobPath: TreeBlobPath(treeID),
			Tags:     map[string]string{},
			Data:     make([]byte, size),
			Creating: true,
		},
	}, nil
}

// CommitContext writes the account bytes back. The ETag guard makes racy
// updates fail at the store rather than silently losing one of them. Change
// records from the committed request are published to the sink only after the
// write succeeds.
func (c *Committer) CommitContext(
	ctx context.Context, ac *Context, events ...ChangeEvent) (*azblob.WriteResponse, error) {

	opts := []azblob.Option{azblob.WithTags(ac.Tags)}
	if ac.ETag != "" {
		opts = append(opts, azblob.WithEtagMatch(ac.ETag))
	} else if !ac.Creating {
		return nil, ErrETagRequired
	}
	if ac.Creating {
		// fail without modifying anything if the blob already exists
		opts = append(opts, azblob.WithEtagNoneMatch("*"))
	}

	wr, err := c.Store.Put(ctx, ac.BlobPath, azblob.NewBytesReaderCloser(ac.Data), opts...)
	if err != nil {
		return wr, err
	}
	ac.Creating = false

	for i := range events {
		if c.Sink == nil {
			break
		}
		if err := c.Sink.PublishChange(ctx, &events[i]); err != nil {
			// the mutation is durable regardless, surface the publication
			// failure without unwinding the commit
			c.Log.Infof("change event publish failed for %s: %v", ac.BlobPath, err)
			return wr, err
		}
	}
	return wr, nil
}

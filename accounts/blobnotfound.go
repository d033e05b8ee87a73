package accounts

import (
	"errors"
	"fmt"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

var ErrAccountNotFound = errors.New("the tree account blob does not exist")

const (
	azblobBlobNotFound = "BlobNotFound"
)

func asStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

// WrapAccountNotFound translates err to ErrAccountNotFound when the underlying
// cause is the azure blob not found error. Every other err, including nil, is
// returned as is.
func WrapAccountNotFound(err error) error {
	if err == nil {
		return nil
	}
	serr, ok := asStorageError(err)
	if !ok {
		return err
	}
	if serr.ErrorCode != azblobBlobNotFound {
		return err
	}
	return fmt.Errorf("%s: %w", err.Error(), ErrAccountNotFound)
}

// IsAccountNotFound reports whether err is the store's not found condition,
// so callers can distinguish a missing account from a read failure.
func IsAccountNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) {
		return true
	}
	serr, ok := asStorageError(err)
	if !ok {
		return false
	}
	return serr.ErrorCode == azblobBlobNotFound
}

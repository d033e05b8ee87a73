package cmt

import "errors"

var (
	ErrInvalidConfiguration   = errors.New("the depth and changelog capacity pair is not valid")
	ErrTreeAlreadyInitialized = errors.New("the tree is already initialized")
	ErrTreeNotInitialized     = errors.New("the tree is not initialized")
	ErrTreeFull               = errors.New("every leaf position in the tree is occupied")
	ErrTreeNonEmpty           = errors.New("the tree holds at least one non empty leaf")
	ErrLeafIndexOutOfBounds   = errors.New("the leaf index is out of range for the configured depth")
	ErrCannotAppendEmptyNode  = errors.New("the canonical empty leaf value can not be appended")
	ErrStaleProof             = errors.New("the claimed root predates the retained changelog history")
	ErrLeafConflict           = errors.New("an intervening change already modified the target leaf")
	ErrInvalidProof           = errors.New("the proof does not reproduce the expected root")
	ErrTreeDataLengthInvalid  = errors.New("the length of data is incorrect given the provided tree parameters")
)

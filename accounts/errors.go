package accounts

import (
	"errors"
)

var (
	ErrUnsupportedConfiguration = errors.New("the depth and changelog capacity pair is not one of the supported configurations")
	ErrIncorrectAccountType     = errors.New("the account header does not describe a concurrent tree")
	ErrIncorrectHeaderVersion   = errors.New("the account header version is not supported")
	ErrAccountDataTooSmall      = errors.New("the account data cannot hold the configured regions")
	ErrBatchNotPrepared         = errors.New("the account was not prepared for batched initialization")
	ErrAccountNotActive         = errors.New("the account has not completed initialization")
	ErrETagRequired             = errors.New("etag is required when updating any account blob")
	ErrSealVerifyFailed         = errors.New("the sealed state signature did not verify")
)

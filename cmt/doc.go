// Package cmt implements a concurrent Merkle hash tree: a fixed depth binary
// hash tree that retains a bounded ring buffer of recent change records so
// that proofs computed against a recently stale root can be fast-forwarded to
// the current root instead of being rejected.
//
// In an ordinary hash tree only the first of a batch of proof carrying writers
// can succeed, because every accepted write invalidates all outstanding
// proofs. Here, each accepted mutation records the complete root to leaf path
// it changed. An incoming proof whose claimed root is still within the
// retained history is patched, level by level, using the recorded paths of the
// intervening changes. Two mutations racing for the *same* leaf remain
// mutually exclusive, the later one is rejected and must be resubmitted with a
// fresh proof.
//
// Appends need no proof at all. The tree caches the sibling path of the most
// recently appended leaf, and every mutation keeps that cached path current.
//
// The package is a synchronous state machine transformer. It performs no
// locking and no i/o, the caller is responsible for serializing mutations.
package cmt

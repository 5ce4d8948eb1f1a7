// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package serializer provides the block-level serialization core: durable
// writes of fixed-size blocks, reference-counted tokens tracking which
// on-disk location holds each block's latest version, and the batching
// machinery that makes an index commit atomic and consistent with the data it
// references.
//
// A write of a batch of blocks proceeds in two phases: the data for every
// updated block is written first, fully in parallel, and only once all of
// those writes have physically completed is the index updated — in one atomic
// commit — to point at the new versions. Deletion and touch (recency-only
// update) are index-only operations requiring no data write. DoWrites
// implements this protocol on top of any Serializer.
package serializer

import "github.com/petreldb/petrel/internal/base"

// Serializer is the contract the write coordinator (and the cache layer
// above it) consumes. Implementations own a single data file or device and an
// index mapping each block id to its current (token, recency).
//
// Every entry point must be invoked on the instance's owning goroutine; see
// ExecContext. The physical writes issued by BlockWrite complete on I/O
// goroutines and deliver their completions through CompletionSignal.
type Serializer interface {
	BufferAllocator

	// MakeIOAccount creates a fairness/priority grouping for I/O scheduling.
	// maxOutstanding caps the account's concurrently in-flight operations and
	// may be UnlimitedOutstanding.
	MakeIOAccount(priority, maxOutstanding int) *IOAccount

	// BlockWrite issues one asynchronous write of buf's contents as the new
	// version of the given block, billed to acct. It returns immediately with
	// a live token whose backing storage becomes valid once completion fires.
	// completion fires exactly once, after the physical write completes; buf
	// must not be modified until then.
	//
	// The returned token holds one reference, owned by the caller.
	BlockWrite(
		buf []byte, blockID base.BlockID, acct *IOAccount, completion *CompletionSignal,
	) *BlockToken

	// IndexWrite atomically commits the given ordered set of (block id →
	// token, recency) mappings into the index: either every operation becomes
	// visible to subsequent lookups or none does. It must only be called once
	// every data write referenced by the batch's tokens has completed.
	//
	// An empty ops slice is a well-defined trivial success.
	IndexWrite(ops []IndexWriteOp, acct *IOAccount) error

	// IndexLookup returns the current token and recency for a block. The
	// returned token, if any, holds a new reference owned by the caller. ok is
	// false if the block has no indexed version (never written, or deleted).
	IndexLookup(blockID base.BlockID) (tok *BlockToken, recency base.Recency, ok bool)
}

// MakeDefaultIOAccount creates an account with no cap on outstanding
// operations, the common case for callers that only want a priority share.
func MakeDefaultIOAccount(s Serializer, priority int) *IOAccount {
	return s.MakeIOAccount(priority, UnlimitedOutstanding)
}

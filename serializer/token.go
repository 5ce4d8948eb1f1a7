// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"fmt"
	"sync/atomic"

	"github.com/petreldb/petrel/internal/base"
)

// BlockToken is a shared, immutable, reference-counted handle identifying the
// on-disk location of one specific version of a block's data. Any number of
// concurrent owners (in-flight reads, cache entries, the index) may hold
// references to the same token; none of them may mutate it. An update to a
// block produces a new token; it never changes an existing one in place.
//
// When the last reference is released the token's releaser runs, at which
// point the backing storage region becomes eligible for reuse by the owning
// serializer.
type BlockToken struct {
	ref refcnt

	blockID base.BlockID
	offset  int64
	serial  uint64

	// written flips to true exactly once, when the physical data write that
	// produced this token completes. The index must never commit a token whose
	// write is still in flight; IndexWrite checks this in invariants builds.
	written atomic.Bool
	// checksum of the block contents, set by the I/O path before written flips
	// to true. Zero until then.
	checksum atomic.Uint64

	releaser func(*BlockToken)
}

// NewBlockToken constructs a token for the block version that will live at
// the given offset. The returned token holds one reference, owned by the
// caller. releaser, if non-nil, runs when the last reference is released.
//
// serial disambiguates tokens for the same block id: every token minted by a
// serializer instance carries a distinct serial, so two writes of identical
// contents still yield distinguishable tokens.
func NewBlockToken(
	blockID base.BlockID, offset int64, serial uint64, releaser func(*BlockToken),
) *BlockToken {
	t := &BlockToken{
		blockID:  blockID,
		offset:   offset,
		serial:   serial,
		releaser: releaser,
	}
	t.ref.init(1)
	return t
}

// BlockID returns the logical block this token is a version of.
func (t *BlockToken) BlockID() base.BlockID { return t.blockID }

// Offset returns the data-file offset of this version's contents.
func (t *BlockToken) Offset() int64 { return t.offset }

// Serial returns the token's unique serial number.
func (t *BlockToken) Serial() uint64 { return t.serial }

// Ref acquires an additional reference and returns t for convenience.
func (t *BlockToken) Ref() *BlockToken {
	t.ref.acquire()
	return t
}

// Unref releases a reference. When the last reference is released the token's
// releaser runs and the token must not be used again.
func (t *BlockToken) Unref() {
	if t.ref.release() {
		if t.releaser != nil {
			t.releaser(t)
		}
	}
}

// MarkWritten records that the physical write backing this token has
// completed, with the given content checksum. Called exactly once, by the
// serializer's I/O path, before the write's completion signal fires.
func (t *BlockToken) MarkWritten(checksum uint64) {
	t.checksum.Store(checksum)
	if t.written.Swap(true) {
		panic(fmt.Sprintf("petrel: token for block %s marked written twice", t.blockID))
	}
}

// Written reports whether the physical write backing this token has completed.
func (t *BlockToken) Written() bool { return t.written.Load() }

// Checksum returns the content checksum recorded by MarkWritten, or zero if
// the write has not completed.
func (t *BlockToken) Checksum() uint64 { return t.checksum.Load() }

func (t *BlockToken) String() string {
	return fmt.Sprintf("block %s @ %d (serial %d)", t.blockID, t.offset, t.serial)
}

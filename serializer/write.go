// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"fmt"
	"sync/atomic"

	"github.com/petreldb/petrel/internal/base"
	"github.com/petreldb/petrel/internal/invariants"
)

// WriteKind tags the variant of a WriteRequest.
type WriteKind uint8

// The WriteKind enumeration.
const (
	// WriteUpdate writes new data for a block and updates its recency.
	WriteUpdate WriteKind = iota
	// WriteDelete removes a block from the index: its token becomes empty and
	// its recency invalid. No data write is issued.
	WriteDelete
	// WriteTouch updates a block's recency only, leaving its indexed token
	// untouched. No data write is issued.
	WriteTouch
)

func (k WriteKind) String() string {
	switch k {
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	case WriteTouch:
		return "touch"
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// WriteLaunchedCallback observes a write's in-flight token synchronously
// after the write has been issued but before it physically completes. It
// exists so a caller can begin relying on the token's identity (publish it to
// a cache, say) without waiting for completion.
type WriteLaunchedCallback func(tok *BlockToken)

// WriteRequest describes one block's part of a batch submitted to DoWrites.
// Construct requests with MakeUpdate, MakeDelete, or MakeTouch.
//
// Requests are ephemeral: they are consumed by the DoWrites call they are
// passed to.
type WriteRequest struct {
	BlockID base.BlockID
	Kind    WriteKind

	// Buf holds the new contents for WriteUpdate; unused otherwise. It must
	// remain unmodified until the request's I/O completion fires.
	Buf []byte
	// Recency is the block's new recency for WriteUpdate and WriteTouch.
	Recency base.Recency
	// IOCallback, if non-nil, runs when the data write physically completes,
	// before the batch's barrier observes the completion. Update only.
	IOCallback func()
	// LaunchCallback, if non-nil, runs synchronously once the write has been
	// issued, receiving the in-flight token. Update only.
	LaunchCallback WriteLaunchedCallback
}

// MakeUpdate constructs a request to write buf as the new version of a block.
func MakeUpdate(
	blockID base.BlockID,
	recency base.Recency,
	buf []byte,
	ioCallback func(),
	launchCallback WriteLaunchedCallback,
) WriteRequest {
	return WriteRequest{
		BlockID:        blockID,
		Kind:           WriteUpdate,
		Buf:            buf,
		Recency:        recency,
		IOCallback:     ioCallback,
		LaunchCallback: launchCallback,
	}
}

// MakeDelete constructs a request to delete a block from the index.
func MakeDelete(blockID base.BlockID) WriteRequest {
	return WriteRequest{BlockID: blockID, Kind: WriteDelete}
}

// MakeTouch constructs a request to update a block's recency without writing
// data.
func MakeTouch(blockID base.BlockID, recency base.Recency) WriteRequest {
	return WriteRequest{BlockID: blockID, Kind: WriteTouch, Recency: recency}
}

// IndexWriteOp is the normalized, per-block result of processing one
// WriteRequest: the unit committed atomically by IndexWrite.
type IndexWriteOp struct {
	BlockID base.BlockID
	// Token is the block's new token. Meaningful only when SetToken is true; a
	// nil Token with SetToken records a deletion. When SetToken is false
	// (touch) the indexed token is left as the previous commit established it.
	Token    *BlockToken
	SetToken bool
	// Recency is the block's new recency; InvalidRecency for deletions.
	Recency base.Recency
}

// performWrite turns one request into its index operation, issuing the data
// write for updates. Completion signals for issued writes are appended to
// conds.
func performWrite(
	s Serializer, w *WriteRequest, acct *IOAccount, conds *[]*CompletionSignal,
) IndexWriteOp {
	op := IndexWriteOp{BlockID: w.BlockID}
	switch w.Kind {
	case WriteUpdate:
		c := NewChainedCompletionSignal(w.IOCallback)
		*conds = append(*conds, c)
		op.Token = s.BlockWrite(w.Buf, w.BlockID, acct, c)
		op.SetToken = true
		// The launch callback must see the token before the write completes, so
		// it runs here rather than from the completion path.
		if w.LaunchCallback != nil {
			w.LaunchCallback(op.Token)
		}
		op.Recency = w.Recency
	case WriteDelete:
		op.Token = nil
		op.SetToken = true
		op.Recency = base.InvalidRecency
	case WriteTouch:
		op.Recency = w.Recency
	default:
		panic(fmt.Sprintf("petrel: unknown write kind %d", w.Kind))
	}
	return op
}

// DoWrites performs a batch of heterogeneous write requests as one atomic
// index commit, billed to acct. It proceeds in three strict phases:
//
//  1. Dispatch: for each request in input order, issue its data write (updates
//     only) and assemble its index operation.
//  2. Barrier: wait until every data write issued in phase 1 has physically
//     completed. Batches containing only deletes and touches create no
//     signals and skip straight past the barrier.
//  3. Commit: submit the complete ordered operation sequence as a single
//     IndexWrite.
//
// The phase separation lets data writes for independent blocks proceed fully
// in parallel while guaranteeing that the index only ever reflects a
// fully-written, self-consistent batch: a reader can never observe a token
// whose data is still being written.
//
// The ownership of the batch's tokens passes to the index; DoWrites releases
// its own references after the commit. Callers that need a token beyond the
// batch take their own reference from a launch callback.
//
// A batch must not contain two requests for the same block id; the resolution
// order of such a batch is unspecified. Invariants builds reject it.
//
// An empty batch is legal and commits an empty operation sequence.
func DoWrites(s Serializer, writes []WriteRequest, acct *IOAccount) error {
	if invariants.Enabled {
		seen := make(map[base.BlockID]struct{}, len(writes))
		for i := range writes {
			if _, ok := seen[writes[i].BlockID]; ok {
				panic(fmt.Sprintf(
					"petrel: batch contains multiple requests for block %s", writes[i].BlockID))
			}
			seen[writes[i].BlockID] = struct{}{}
		}
	}

	conds := make([]*CompletionSignal, 0, len(writes))
	ops := make([]IndexWriteOp, 0, len(writes))

	// Phase 1: issue data writes and assemble index operations, preserving
	// input order.
	for i := range writes {
		ops = append(ops, performWrite(s, &writes[i], acct, &conds))
	}

	// Phase 2: wait for every data write to finish. No partial commit of a
	// batch whose writes are still in flight.
	for _, c := range conds {
		c.Wait()
	}

	// Phase 3: commit the whole batch to the index.
	err := s.IndexWrite(ops, acct)

	for i := range ops {
		if ops[i].Token != nil {
			ops[i].Token.Unref()
		}
	}
	return err
}

// BlockWriteSync issues a single block write and waits for it to physically
// complete before returning its token. Convenience for callers without batch
// semantics; the index is not updated.
func BlockWriteSync(
	s Serializer, buf []byte, blockID base.BlockID, acct *IOAccount,
) *BlockToken {
	c := NewCompletionSignal()
	tok := s.BlockWrite(buf, blockID, acct, c)
	c.Wait()
	return tok
}

// BlockWriteInfo names one write of a BlockWrites batch.
type BlockWriteInfo struct {
	Buf     []byte
	BlockID base.BlockID
}

// BlockWrites issues a group of block writes and arranges for onDone to run
// once after the last of them physically completes. The returned tokens are
// live immediately, in input order. onDone may be nil, in which case the
// writes are simply issued.
func BlockWrites(
	s Serializer, infos []BlockWriteInfo, acct *IOAccount, onDone func(),
) []*BlockToken {
	toks := make([]*BlockToken, 0, len(infos))
	if len(infos) == 0 {
		if onDone != nil {
			onDone()
		}
		return toks
	}
	var countdown atomic.Int64
	countdown.Store(int64(len(infos)))
	for i := range infos {
		c := NewChainedCompletionSignal(func() {
			if countdown.Add(-1) == 0 && onDone != nil {
				onDone()
			}
		})
		toks = append(toks, s.BlockWrite(infos[i].Buf, infos[i].BlockID, acct, c))
	}
	return toks
}

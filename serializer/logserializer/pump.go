// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logserializer

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/petreldb/petrel/internal/base"
	"github.com/petreldb/petrel/serializer"
)

// ioRequest is one block write queued for the I/O goroutines.
type ioRequest struct {
	buf        []byte
	tok        *serializer.BlockToken
	acct       *serializer.IOAccount
	completion *serializer.CompletionSignal
}

func checksum(p []byte) uint64 {
	return xxhash.Sum64(p)
}

// BlockWrite issues one asynchronous write of buf as the new version of the
// given block. The returned token is live immediately; its backing storage
// becomes valid once completion fires. buf must be exactly one block and must
// not be modified until completion.
//
// BlockWrite applies backpressure to the owner once QueueDepth writes are
// unserviced.
func (s *LogSerializer) BlockWrite(
	buf []byte, id base.BlockID, acct *serializer.IOAccount, completion *serializer.CompletionSignal,
) *serializer.BlockToken {
	s.ec.Check()
	s.closed.AssertNotClosed()
	if len(buf) != s.opts.BlockSize {
		panic(fmt.Sprintf("petrel: block write of %d bytes, want %d", len(buf), s.opts.BlockSize))
	}

	s.mu.Lock()
	slot := s.mu.slots.acquire()
	serial := s.mu.nextSerial
	s.mu.nextSerial++
	s.mu.Unlock()

	tok := serializer.NewBlockToken(id, s.offsetOf(slot), serial, s.releaseToken)
	// The I/O path holds its own reference for the duration of the flight so
	// the slot cannot be recycled under an in-progress write.
	tok.Ref()
	s.writeq <- ioRequest{buf: buf, tok: tok, acct: acct, completion: completion}
	return tok
}

// ioWorker services the write queue until it is closed. Workers never abandon
// a request: every dequeued write fires its completion signal exactly once,
// even after a write failure, so that batch barriers cannot hang. Failures
// are recorded and poison subsequent index commits instead.
func (s *LogSerializer) ioWorker() error {
	ctx := context.Background()
	for req := range s.writeq {
		if err := req.acct.Acquire(ctx); err != nil {
			// Only a context error, and ctx here has no deadline.
			s.setErr(errors.Wrapf(err, "petrel: acquiring io account slot"))
		}
		req.acct.Charge(len(req.buf))

		sum := checksum(req.buf)
		if _, err := s.f.WriteAt(req.buf, req.tok.Offset()); err != nil {
			err = errors.Wrapf(err, "petrel: writing block %s at offset %d",
				req.tok.BlockID(), req.tok.Offset())
			s.setErr(err)
			s.opts.Metrics.WriteErrors.Inc()
			s.opts.Logger.Errorf("%v", err)
		} else {
			s.opts.Metrics.BlockWrites.Inc()
			s.opts.Metrics.BytesWritten.Add(float64(len(req.buf)))
		}
		req.acct.Release()

		// Completion ordering: the token must read as written before anything
		// waiting on the signal can observe the completion.
		req.tok.MarkWritten(sum)
		req.tok.Unref()
		req.completion.Signal()
	}
	return nil
}

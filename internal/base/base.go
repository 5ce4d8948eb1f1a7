// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package base defines fundamental types used across Petrel: block
// identifiers, recency timestamps, and the logging interface.
package base

import (
	"fmt"
	"math"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/redact"
)

// BlockID identifies a logical block. It is stable for the block's lifetime
// and unique within one serializer instance. The on-disk location holding the
// block's current contents changes across versions; the BlockID does not.
type BlockID uint64

// NilBlockID is not a valid block identifier.
const NilBlockID BlockID = math.MaxUint64

func (id BlockID) String() string {
	if id == NilBlockID {
		return "nil"
	}
	return fmt.Sprintf("%d", uint64(id))
}

// SafeFormat implements redact.SafeFormatter.
func (id BlockID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(id.String()))
}

// Recency is a logical timestamp attached to a block version. Recencies order
// successive writes of the same block and are used by higher layers to detect
// staleness. A block with no current version (e.g. a deleted block) carries
// InvalidRecency.
type Recency uint64

// InvalidRecency marks a block with no recency.
const InvalidRecency Recency = 0

// IsValid reports whether r is a real recency (not the invalid sentinel).
func (r Recency) IsValid() bool {
	return r != InvalidRecency
}

func (r Recency) String() string {
	if r == InvalidRecency {
		return "invalid"
	}
	return fmt.Sprintf("%d", uint64(r))
}

// SafeFormat implements redact.SafeFormatter.
func (r Recency) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(r.String()))
}

// RecencyNow returns a recency derived from the monotonic clock. Callers that
// maintain their own logical clocks need not use it; it exists so that tests
// and tools have a convenient source of strictly advancing recencies.
func RecencyNow() Recency {
	r := Recency(crtime.NowMono())
	if !r.IsValid() {
		r = 1
	}
	return r
}

// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/petreldb/petrel/internal/invariants"
)

// ExecContext enforces the serializer's single-owner execution discipline:
// every public entry point on a serializer and its batch coordinator must run
// on the goroutine that owns the instance. The underlying physical writes
// complete on I/O goroutines, but their completion is observed back on the
// owner via CompletionSignal, so the owner never shares the entry points.
//
// The context binds to the first goroutine that calls Check. A later call
// from a different goroutine is a fatal contract violation. Checks are only
// performed in invariants builds; release builds pay nothing.
type ExecContext struct {
	gid atomic.Uint64
}

// Check asserts that the calling goroutine owns this context, binding the
// context on first use.
func (c *ExecContext) Check() {
	if !invariants.Enabled {
		return
	}
	g := goroutineID()
	if c.gid.CompareAndSwap(0, g) {
		return
	}
	if owner := c.gid.Load(); owner != g {
		panic(fmt.Sprintf(
			"petrel: serializer entered from goroutine %d; owned by goroutine %d", g, owner))
	}
}

// Reset unbinds the context so that a different goroutine may take ownership.
// Used when handing a serializer between goroutines through an explicit
// transfer point; the handoff itself must be externally synchronized.
func (c *ExecContext) Reset() {
	c.gid.Store(0)
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's id out of a stack trace. Only
// called in invariants builds; the cost is irrelevant there.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		panic(fmt.Sprintf("petrel: malformed stack prefix %q", buf))
	}
	id, err := strconv.ParseUint(string(buf[:i]), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("petrel: malformed goroutine id %q", buf[:i]))
	}
	return id
}

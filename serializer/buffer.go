// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"fmt"

	"github.com/petreldb/petrel/internal/invariants"
)

// BufferAllocator is the buffer-pool surface a serializer exposes for DataPtr
// transitions. Malloc returns a fresh block-size buffer, Clone returns a new
// buffer holding a copy of p's contents, and Release returns a buffer to the
// pool. Allocation either succeeds or fails fatally; there is no error path.
type BufferAllocator interface {
	Malloc() []byte
	Clone(p []byte) []byte
	Release(p []byte)
}

type dataPtrState uint8

const (
	dataPtrEmpty dataPtrState = iota
	dataPtrAllocated
	dataPtrCloned
)

func (s dataPtrState) String() string {
	switch s {
	case dataPtrEmpty:
		return "empty"
	case dataPtrAllocated:
		return "allocated"
	case dataPtrCloned:
		return "cloned"
	}
	return fmt.Sprintf("unknown(%d)", s)
}

// DataPtr is an exclusively-owned handle to a serializer buffer. It has
// exactly three legal states: empty (just constructed or freed), allocated
// (owns a buffer freshly taken from the serializer's pool), or cloned (owns a
// buffer copied from another DataPtr's contents).
//
// The transitions are mutually exclusive per handle: Free requires non-empty,
// InitMalloc requires empty, InitClone requires the source non-empty and the
// destination empty. Violating a precondition is a programmer error, not a
// runtime condition: invariants builds panic at the point of misuse and
// release builds elide the checks.
type DataPtr struct {
	buf   []byte
	state dataPtrState
}

// Has reports whether the handle currently owns a buffer.
func (d *DataPtr) Has() bool {
	return d.state != dataPtrEmpty
}

// Data returns the owned buffer. The handle must be non-empty.
func (d *DataPtr) Data() []byte {
	if invariants.Enabled && !d.Has() {
		panic("petrel: Data on empty data pointer")
	}
	return d.buf
}

// InitMalloc transitions an empty handle to allocated, taking a fresh buffer
// from the allocator's pool.
func (d *DataPtr) InitMalloc(a BufferAllocator) {
	if invariants.Enabled && d.Has() {
		panic(fmt.Sprintf("petrel: InitMalloc on %s data pointer", d.state))
	}
	d.buf = a.Malloc()
	d.state = dataPtrAllocated
}

// InitClone transitions an empty handle to cloned, duplicating other's
// contents into a fresh buffer. other remains independently owned by its
// holder.
func (d *DataPtr) InitClone(a BufferAllocator, other *DataPtr) {
	if invariants.Enabled {
		if !other.Has() {
			panic("petrel: InitClone from empty data pointer")
		}
		if d.Has() {
			panic(fmt.Sprintf("petrel: InitClone into %s data pointer", d.state))
		}
	}
	d.buf = a.Clone(other.buf)
	d.state = dataPtrCloned
}

// Free releases the owned buffer back to the allocator and returns the handle
// to the empty state. The handle must be non-empty.
func (d *DataPtr) Free(a BufferAllocator) {
	if invariants.Enabled && !d.Has() {
		panic("petrel: Free of empty data pointer")
	}
	a.Release(d.buf)
	d.buf = nil
	d.state = dataPtrEmpty
}

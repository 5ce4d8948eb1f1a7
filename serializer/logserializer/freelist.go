// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logserializer

import (
	"fmt"

	"github.com/petreldb/petrel/internal/base"
	"github.com/petreldb/petrel/internal/invariants"
)

// idFreeList hands out logical block ids. An id is free if it is >= nextNew
// or if it is in free; every id in free is less than nextNew. Released ids
// are reused before new ones are minted.
//
// Not goroutine-safe; the serializer guards it with its state mutex.
type idFreeList struct {
	nextNew base.BlockID
	free    []base.BlockID
	inUse   int
}

// gen allocates a fresh block id.
func (l *idFreeList) gen() base.BlockID {
	l.inUse++
	if n := len(l.free); n > 0 {
		id := l.free[n-1]
		l.free = l.free[:n-1]
		return id
	}
	id := l.nextNew
	l.nextNew++
	return id
}

// reserve marks a specific id as in use. Used when rebuilding state from an
// index snapshot; the id must currently be free.
func (l *idFreeList) reserve(id base.BlockID) {
	if id >= l.nextNew {
		for next := l.nextNew; next < id; next++ {
			l.free = append(l.free, next)
		}
		l.nextNew = id + 1
		l.inUse++
		return
	}
	for i, f := range l.free {
		if f == id {
			l.free[i] = l.free[len(l.free)-1]
			l.free = l.free[:len(l.free)-1]
			l.inUse++
			return
		}
	}
	panic(fmt.Sprintf("petrel: reserve of in-use block id %s", id))
}

// release returns an id to the free pool.
func (l *idFreeList) release(id base.BlockID) {
	if invariants.Enabled {
		if id >= l.nextNew {
			panic(fmt.Sprintf("petrel: release of never-allocated block id %s", id))
		}
		for _, f := range l.free {
			if f == id {
				panic(fmt.Sprintf("petrel: double release of block id %s", id))
			}
		}
	}
	l.inUse = invariants.SafeSub(l.inUse, 1)
	l.free = append(l.free, id)
}

// slotFreeList hands out data-file slots. Slot k's contents live at offset
// (k+1)*blockSize; slot allocation follows the same free-before-new policy as
// idFreeList so the data file stays compact under churn.
//
// Not goroutine-safe; the serializer guards it with its state mutex (token
// releasers run on arbitrary goroutines).
type slotFreeList struct {
	nextNew int64
	free    []int64
}

func (l *slotFreeList) acquire() int64 {
	if n := len(l.free); n > 0 {
		s := l.free[n-1]
		l.free = l.free[:n-1]
		return s
	}
	s := l.nextNew
	l.nextNew++
	return s
}

func (l *slotFreeList) reserve(slot int64) {
	if slot >= l.nextNew {
		for next := l.nextNew; next < slot; next++ {
			l.free = append(l.free, next)
		}
		l.nextNew = slot + 1
		return
	}
	for i, f := range l.free {
		if f == slot {
			l.free[i] = l.free[len(l.free)-1]
			l.free = l.free[:len(l.free)-1]
			return
		}
	}
	panic(fmt.Sprintf("petrel: reserve of in-use slot %d", slot))
}

func (l *slotFreeList) release(slot int64) {
	if invariants.Enabled {
		for _, f := range l.free {
			if f == slot {
				panic(fmt.Sprintf("petrel: double release of slot %d", slot))
			}
		}
	}
	l.free = append(l.free, slot)
}

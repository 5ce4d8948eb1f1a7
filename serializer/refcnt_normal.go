// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build !tracing

package serializer

import "sync/atomic"

// refcnt provides an atomic reference count. This version is used when the
// "tracing" build tag is not enabled. See refcnt_tracing.go for the "tracing"
// enabled version.
type refcnt struct {
	val atomic.Int32
}

// init initializes the reference count to the specified value.
func (v *refcnt) init(val int32) {
	v.val.Store(val)
}

func (v *refcnt) refs() int32 {
	return v.val.Load()
}

func (v *refcnt) acquire() {
	switch n := v.val.Add(1); {
	case n <= 1:
		panic("petrel: inconsistent reference count")
	}
}

func (v *refcnt) release() bool {
	switch n := v.val.Add(-1); {
	case n < 0:
		panic("petrel: inconsistent reference count")
	default:
		return n == 0
	}
}

func (v *refcnt) trace(msg string) {
}

func (v *refcnt) traces() string {
	return ""
}

// Silence unused warning.
var _ = (*refcnt)(nil).traces

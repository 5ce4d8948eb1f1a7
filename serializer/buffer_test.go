// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"testing"

	"github.com/petreldb/petrel/internal/invariants"
	"github.com/stretchr/testify/require"
)

// testAllocator is a trivial BufferAllocator for exercising DataPtr.
type testAllocator struct {
	allocs   int
	releases int
}

func (a *testAllocator) Malloc() []byte {
	a.allocs++
	return make([]byte, 16)
}

func (a *testAllocator) Clone(p []byte) []byte {
	a.allocs++
	buf := make([]byte, 16)
	copy(buf, p)
	return buf
}

func (a *testAllocator) Release(p []byte) {
	a.releases++
}

func TestDataPtrLifecycle(t *testing.T) {
	a := &testAllocator{}

	var d DataPtr
	require.False(t, d.Has())

	d.InitMalloc(a)
	require.True(t, d.Has())
	copy(d.Data(), "hello")

	var c DataPtr
	c.InitClone(a, &d)
	require.True(t, c.Has())
	require.Equal(t, d.Data(), c.Data())
	// The clone owns its own buffer; mutating it leaves the source alone.
	c.Data()[0] = 'H'
	require.NotEqual(t, d.Data()[0], c.Data()[0])

	d.Free(a)
	c.Free(a)
	require.False(t, d.Has())
	require.Equal(t, 2, a.allocs)
	require.Equal(t, 2, a.releases)

	// A freed handle may be reused.
	d.InitMalloc(a)
	require.True(t, d.Has())
	d.Free(a)
}

func TestDataPtrContractViolations(t *testing.T) {
	if !invariants.Enabled {
		t.Skip("contract checks are elided without the invariants build tag")
	}
	a := &testAllocator{}

	var d DataPtr
	require.Panics(t, func() { d.Free(a) }, "free of empty")
	require.Panics(t, func() { d.Data() }, "data of empty")

	d.InitMalloc(a)
	require.Panics(t, func() { d.InitMalloc(a) }, "double allocate")

	var src DataPtr
	require.Panics(t, func() { d.InitClone(a, &src) }, "clone from empty")
	src.InitMalloc(a)
	require.Panics(t, func() { d.InitClone(a, &src) }, "clone into non-empty")

	d.Free(a)
	require.Panics(t, func() { d.Free(a) }, "double free")
}

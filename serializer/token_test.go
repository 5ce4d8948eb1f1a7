// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockTokenReleaserRunsAtZero(t *testing.T) {
	released := 0
	tok := NewBlockToken(7, 4096, 1, func(*BlockToken) { released++ })

	tok.Ref()
	tok.Unref()
	require.Equal(t, 0, released)
	tok.Unref()
	require.Equal(t, 1, released)
}

func TestBlockTokenSharedAcrossGoroutines(t *testing.T) {
	released := make(chan struct{})
	tok := NewBlockToken(3, 8192, 9, func(*BlockToken) { close(released) })

	const owners = 8
	var wg sync.WaitGroup
	for i := 0; i < owners; i++ {
		tok.Ref()
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, int64(8192), tok.Offset())
			tok.Unref()
		}()
	}
	wg.Wait()

	select {
	case <-released:
		t.Fatal("token released while a reference remains")
	default:
	}
	tok.Unref()
	<-released
}

func TestBlockTokenMarkWrittenOnce(t *testing.T) {
	tok := NewBlockToken(1, 4096, 1, nil)
	require.False(t, tok.Written())
	tok.MarkWritten(0xdead)
	require.True(t, tok.Written())
	require.Equal(t, uint64(0xdead), tok.Checksum())
	require.Panics(t, func() { tok.MarkWritten(0xbeef) })
}

// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"testing"

	"github.com/petreldb/petrel/internal/invariants"
	"github.com/stretchr/testify/require"
)

func TestExecContextBindsToFirstGoroutine(t *testing.T) {
	if !invariants.Enabled {
		t.Skip("context checks are elided without the invariants build tag")
	}

	var ec ExecContext
	ec.Check()
	ec.Check() // same goroutine, fine

	panicked := make(chan bool)
	go func() {
		defer func() { panicked <- recover() != nil }()
		ec.Check()
	}()
	require.True(t, <-panicked)

	// After a reset a new goroutine may take ownership.
	ec.Reset()
	rebound := make(chan bool)
	go func() {
		defer func() { rebound <- recover() == nil }()
		ec.Check()
	}()
	require.True(t, <-rebound)
}

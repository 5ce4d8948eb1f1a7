// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIOAccountOutstandingCap(t *testing.T) {
	a := NewIOAccount(1, 2, nil)
	ctx := context.Background()

	require.NoError(t, a.Acquire(ctx))
	require.NoError(t, a.Acquire(ctx))

	// Third acquire blocks until a slot is released.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.Error(t, a.Acquire(blocked))

	a.Release()
	require.NoError(t, a.Acquire(ctx))
	a.Release()
	a.Release()
}

func TestIOAccountUnlimited(t *testing.T) {
	a := NewIOAccount(1, UnlimitedOutstanding, nil)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		require.NoError(t, a.Acquire(ctx))
	}
	// Charge without a throttle is a no-op.
	a.Charge(1 << 20)
}

func TestThrottlePriorityShares(t *testing.T) {
	mkThrottle := func() (*Throttle, *time.Duration) {
		now := time.Unix(0, 0)
		slept := new(time.Duration)
		th := NewThrottleWithCustomTime(1000,
			func() time.Time { return now },
			func(d time.Duration) {
				*slept += d
				now = now.Add(d)
			})
		return th, slept
	}

	// A low-priority account exhausts the burst and sleeps.
	th, slept := mkThrottle()
	low := NewIOAccount(1, UnlimitedOutstanding, th)
	low.Charge(1000)
	low.Charge(1000)
	require.Greater(t, *slept, time.Duration(0))
	lowSlept := *slept

	// A high-priority account is charged fewer tokens for the same bytes and
	// sleeps less.
	th, slept = mkThrottle()
	high := NewIOAccount(4, UnlimitedOutstanding, th)
	high.Charge(1000)
	high.Charge(1000)
	require.Less(t, *slept, lowSlept)
}

func TestNilIOAccount(t *testing.T) {
	// Serializer I/O paths accept a nil account to mean "no accounting".
	var a *IOAccount
	require.NoError(t, a.Acquire(context.Background()))
	a.Release()
	a.Charge(4096)
}

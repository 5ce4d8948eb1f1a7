// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/tokenbucket"
	"golang.org/x/sync/semaphore"
)

// UnlimitedOutstanding requests no cap on an account's in-flight operations.
const UnlimitedOutstanding = -1

// Throttle is a byte-rate token bucket shared by every account of one
// serializer instance. Accounts charge it for the bytes they write, scaled by
// their priority, so that higher-priority accounts obtain a proportionally
// larger share of the configured rate. A nil *Throttle disables rate
// limiting.
type Throttle struct {
	mu      sync.Mutex
	tb      tokenbucket.TokenBucket
	sleepFn func(d time.Duration)
}

// NewThrottle returns a Throttle refilled at bytesPerSecond, with a burst of
// one second's worth of tokens.
func NewThrottle(bytesPerSecond float64) *Throttle {
	t := &Throttle{}
	t.tb.Init(tokenbucket.TokensPerSecond(bytesPerSecond), tokenbucket.Tokens(bytesPerSecond))
	return t
}

// NewThrottleWithCustomTime is like NewThrottle but uses the given functions
// to read the clock and to sleep. Used by tests.
func NewThrottleWithCustomTime(
	bytesPerSecond float64, nowFn func() time.Time, sleepFn func(d time.Duration),
) *Throttle {
	t := &Throttle{sleepFn: sleepFn}
	t.tb.InitWithNowFn(
		tokenbucket.TokensPerSecond(bytesPerSecond), tokenbucket.Tokens(bytesPerSecond), nowFn)
	return t
}

func (t *Throttle) wait(tokens float64) {
	for {
		t.mu.Lock()
		ok, d := t.tb.TryToFulfill(tokenbucket.Tokens(tokens))
		t.mu.Unlock()
		if ok {
			return
		}
		if t.sleepFn != nil {
			t.sleepFn(d)
		} else {
			time.Sleep(d)
		}
	}
}

// IOAccount is a fairness/priority grouping under which physical I/O is
// scheduled. Writes billed to an account are charged against the shared
// throttle at a rate inversely proportional to the account's priority, and
// the account's outstanding cap bounds how many of its operations may be in
// flight at once.
//
// Accounts are created by a serializer's MakeIOAccount and are only
// meaningful with that instance.
type IOAccount struct {
	priority int
	throttle *Throttle
	// outstanding caps the account's in-flight operations; nil when the
	// account was created with UnlimitedOutstanding.
	outstanding *semaphore.Weighted
}

// NewIOAccount constructs an account with the given priority and in-flight
// cap. maxOutstanding may be UnlimitedOutstanding. Serializer implementations
// call this from MakeIOAccount; other callers should go through the
// serializer.
func NewIOAccount(priority, maxOutstanding int, throttle *Throttle) *IOAccount {
	if priority < 1 {
		priority = 1
	}
	a := &IOAccount{priority: priority, throttle: throttle}
	if maxOutstanding != UnlimitedOutstanding {
		a.outstanding = semaphore.NewWeighted(int64(maxOutstanding))
	}
	return a
}

// Priority returns the account's priority.
func (a *IOAccount) Priority() int { return a.priority }

// Acquire blocks until the account has an in-flight slot available, or ctx is
// done. Every successful Acquire must be matched by a Release.
func (a *IOAccount) Acquire(ctx context.Context) error {
	if a == nil || a.outstanding == nil {
		return ctx.Err()
	}
	return a.outstanding.Acquire(ctx, 1)
}

// Release returns an in-flight slot to the account.
func (a *IOAccount) Release() {
	if a == nil || a.outstanding == nil {
		return
	}
	a.outstanding.Release(1)
}

// Charge bills n bytes of I/O to the account, sleeping as needed to respect
// the shared throttle. Higher-priority accounts are charged fewer tokens per
// byte and therefore sustain a larger share of the rate.
func (a *IOAccount) Charge(n int) {
	if a == nil || a.throttle == nil {
		return
	}
	a.throttle.wait(float64(n) / float64(a.priority))
}

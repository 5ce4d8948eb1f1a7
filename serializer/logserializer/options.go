// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logserializer

import "github.com/petreldb/petrel/internal/base"

// Options holds the parameters for opening a LogSerializer.
type Options struct {
	// BlockSize is the fixed size of every block, in bytes. It is recorded in
	// the data file header; reopening a directory with a different BlockSize
	// fails.
	//
	// The default is 4096.
	BlockSize int

	// WriteConcurrency is the number of I/O goroutines servicing block writes.
	//
	// The default is 4.
	WriteConcurrency int

	// QueueDepth bounds the number of issued-but-unserviced block writes.
	// BlockWrite applies backpressure to the owning goroutine once the queue
	// is full.
	//
	// The default is 128.
	QueueDepth int

	// BytesPerSecond, if positive, bounds the aggregate write rate. Accounts
	// share the rate in proportion to their priority.
	BytesPerSecond float64

	// NoSyncOnCommit disables the data-file sync that IndexWrite performs
	// before committing a batch, trading durability for commit latency.
	NoSyncOnCommit bool

	// Logger for operational events. Defaults to base.DefaultLogger.
	Logger base.Logger

	// Metrics to update. If nil a fresh, unregistered set is created;
	// retrieve it with the serializer's Metrics method.
	Metrics *Metrics
}

// EnsureDefaults fills in unset options with their default values, returning
// the receiver for convenience.
func (o *Options) EnsureDefaults() *Options {
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.WriteConcurrency <= 0 {
		o.WriteConcurrency = 4
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 128
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	return o
}

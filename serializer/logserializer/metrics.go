// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logserializer

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the serializer's operational counters. The collectors are
// created unregistered; call MustRegister to attach them to a registry.
type Metrics struct {
	// BlockWrites counts physical block writes issued to the data file.
	BlockWrites prometheus.Counter
	// BytesWritten counts bytes physically written to the data file.
	BytesWritten prometheus.Counter
	// WriteErrors counts failed physical block writes.
	WriteErrors prometheus.Counter
	// IndexCommits counts atomic index batch commits.
	IndexCommits prometheus.Counter
	// IndexOps counts individual index operations across all commits.
	IndexOps prometheus.Counter
	// CommitSyncSeconds records the latency of the data-file sync performed
	// before each index commit.
	CommitSyncSeconds prometheus.Histogram
}

// NewMetrics returns a fresh, unregistered Metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		BlockWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petrel_serializer_block_writes_total",
			Help: "Number of physical block writes issued to the data file.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petrel_serializer_bytes_written_total",
			Help: "Bytes physically written to the data file.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petrel_serializer_write_errors_total",
			Help: "Number of failed physical block writes.",
		}),
		IndexCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petrel_serializer_index_commits_total",
			Help: "Number of atomic index batch commits.",
		}),
		IndexOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petrel_serializer_index_ops_total",
			Help: "Number of individual index operations committed.",
		}),
		CommitSyncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "petrel_serializer_commit_sync_seconds",
			Help:    "Latency of the data-file sync preceding an index commit.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 2, 20),
		}),
	}
}

// MustRegister registers every collector with r.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.BlockWrites,
		m.BytesWritten,
		m.WriteErrors,
		m.IndexCommits,
		m.IndexOps,
		m.CommitSyncSeconds,
	)
}

// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logserializer

import (
	"bytes"
	"os"
	"testing"

	"github.com/petreldb/petrel/internal/base"
	"github.com/petreldb/petrel/serializer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func testOptions() *Options {
	return &Options{
		BlockSize:        64,
		WriteConcurrency: 2,
		Logger:           base.NoopLogger{},
	}
}

func fillBlock(s *LogSerializer, b byte) []byte {
	buf := s.Malloc()
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestLogSerializerRoundtrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	acct := serializer.MakeDefaultIOAccount(s, 1)

	id1, id2 := s.NewBlockID(), s.NewBlockID()
	require.NotEqual(t, id1, id2)

	buf1, buf2 := fillBlock(s, 'a'), fillBlock(s, 'b')
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(id1, 10, buf1, nil, nil),
		serializer.MakeUpdate(id2, 11, buf2, nil, nil),
	}, acct))

	tok, rec, ok := s.IndexLookup(id1)
	require.True(t, ok)
	require.Equal(t, base.Recency(10), rec)
	require.True(t, tok.Written())

	got := s.Malloc()
	require.NoError(t, s.BlockRead(tok, got))
	require.True(t, bytes.Equal(buf1, got))
	tok.Unref()

	// Touch updates recency and leaves the token alone.
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeTouch(id2, 12),
	}, acct))
	tok2, rec2, ok := s.IndexLookup(id2)
	require.True(t, ok)
	require.Equal(t, base.Recency(12), rec2)
	require.NoError(t, s.BlockRead(tok2, got))
	require.True(t, bytes.Equal(buf2, got))
	tok2.Unref()

	// Delete empties the block's index entry.
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeDelete(id1),
	}, acct))
	_, _, ok = s.IndexLookup(id1)
	require.False(t, ok)

	s.Release(buf1)
	s.Release(buf2)
	s.Release(got)
	require.NoError(t, s.Close())
}

func TestLogSerializerRewriteYieldsNewToken(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	acct := serializer.MakeDefaultIOAccount(s, 1)

	id := s.NewBlockID()
	buf := fillBlock(s, 'x')
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(id, 1, buf, nil, nil),
	}, acct))
	first, _, _ := s.IndexLookup(id)

	// Identical contents still produce a distinct token.
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(id, 2, buf, nil, nil),
	}, acct))
	second, _, _ := s.IndexLookup(id)

	require.NotEqual(t, first.Serial(), second.Serial())
	first.Unref()
	second.Unref()
	s.Release(buf)
	require.NoError(t, s.Close())
}

func TestLogSerializerReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	acct := serializer.MakeDefaultIOAccount(s, 1)

	id1, id2 := s.NewBlockID(), s.NewBlockID()
	buf1, buf2 := fillBlock(s, '1'), fillBlock(s, '2')
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(id1, 21, buf1, nil, nil),
		serializer.MakeUpdate(id2, 22, buf2, nil, nil),
	}, acct))
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeDelete(id2),
	}, acct))
	firstSerial, _, _ := s.IndexLookup(id1)
	serialBefore := firstSerial.Serial()
	firstSerial.Unref()
	require.NoError(t, s.Close())

	s, err = Open(dir, testOptions())
	require.NoError(t, err)
	acct = serializer.MakeDefaultIOAccount(s, 1)

	tok, rec, ok := s.IndexLookup(id1)
	require.True(t, ok)
	require.Equal(t, base.Recency(21), rec)
	got := s.Malloc()
	require.NoError(t, s.BlockRead(tok, got))
	require.True(t, bytes.Equal(buf1, got))
	tok.Unref()

	_, _, ok = s.IndexLookup(id2)
	require.False(t, ok)

	// New ids and serials do not collide with loaded state.
	id3 := s.NewBlockID()
	require.NotEqual(t, id1, id3)
	buf3 := fillBlock(s, '3')
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(id3, 23, buf3, nil, nil),
	}, acct))
	tok3, _, _ := s.IndexLookup(id3)
	require.NotEqual(t, serialBefore, tok3.Serial())
	tok3.Unref()

	s.Release(got)
	s.Release(buf3)
	require.NoError(t, s.Close())
	s.Release(buf1)
	s.Release(buf2)
}

func TestLogSerializerSlotReuse(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	acct := serializer.MakeDefaultIOAccount(s, 1)

	id := s.NewBlockID()
	buf := fillBlock(s, 'r')
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(id, 1, buf, nil, nil),
	}, acct))
	tok, _, _ := s.IndexLookup(id)
	offset := tok.Offset()
	tok.Unref()

	// Deleting the block drops the last reference; its slot becomes reusable.
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeDelete(id),
	}, acct))

	id2 := s.NewBlockID()
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(id2, 2, buf, nil, nil),
	}, acct))
	tok2, _, _ := s.IndexLookup(id2)
	require.Equal(t, offset, tok2.Offset())
	tok2.Unref()

	s.Release(buf)
	require.NoError(t, s.Close())
}

func TestLogSerializerEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	s, err := Open(dir, opts)
	require.NoError(t, err)
	acct := serializer.MakeDefaultIOAccount(s, 1)

	require.NoError(t, serializer.DoWrites(s, nil, acct))
	require.Equal(t, float64(0), testutil.ToFloat64(opts.Metrics.BlockWrites))
	require.Equal(t, float64(1), testutil.ToFloat64(opts.Metrics.IndexCommits))
	require.NoError(t, s.Close())
}

func TestLogSerializerMetrics(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	s, err := Open(dir, opts)
	require.NoError(t, err)
	acct := serializer.MakeDefaultIOAccount(s, 1)

	buf := fillBlock(s, 'm')
	require.NoError(t, serializer.DoWrites(s, []serializer.WriteRequest{
		serializer.MakeUpdate(s.NewBlockID(), 1, buf, nil, nil),
		serializer.MakeUpdate(s.NewBlockID(), 2, buf, nil, nil),
	}, acct))

	require.Equal(t, float64(2), testutil.ToFloat64(opts.Metrics.BlockWrites))
	require.Equal(t, float64(2*opts.BlockSize), testutil.ToFloat64(opts.Metrics.BytesWritten))
	require.Equal(t, float64(1), testutil.ToFloat64(opts.Metrics.IndexCommits))
	require.Equal(t, float64(2), testutil.ToFloat64(opts.Metrics.IndexOps))

	s.Release(buf)
	require.NoError(t, s.Close())
}

func TestLogSerializerAccountCap(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)

	// A capped account still drains a batch wider than its cap.
	acct := s.MakeIOAccount(1, 1)
	buf := fillBlock(s, 'c')
	writes := make([]serializer.WriteRequest, 0, 8)
	for i := 0; i < 8; i++ {
		writes = append(writes,
			serializer.MakeUpdate(s.NewBlockID(), base.Recency(i+1), buf, nil, nil))
	}
	require.NoError(t, serializer.DoWrites(s, writes, acct))

	s.Release(buf)
	require.NoError(t, s.Close())
}

func TestLogSerializerWrongSizeWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	acct := serializer.MakeDefaultIOAccount(s, 1)
	require.Panics(t, func() {
		s.BlockWrite(make([]byte, 8), s.NewBlockID(), acct, serializer.NewCompletionSignal())
	})
}

func TestLogSerializerBlockSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	opts := testOptions()
	opts.BlockSize = 128
	_, err = Open(dir, opts)
	require.Error(t, err)
}

func TestReadDataHeader(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	bs, err := ReadDataHeader(base.MakeFilepath(dir, base.FileTypeData))
	require.NoError(t, err)
	require.Equal(t, uint32(64), bs)

	garbage := base.MakeFilepath(t.TempDir(), base.FileTypeData)
	require.NoError(t, os.WriteFile(garbage, []byte("not a data file at all"), 0644))
	_, err = ReadDataHeader(garbage)
	require.Error(t, err)
}

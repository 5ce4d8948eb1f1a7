// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package logserializer implements the serializer contract on a single data
// file: fixed-size blocks written at recycled-or-appended offsets by a pool
// of I/O goroutines, an in-memory index committed atomically per batch, and
// an index snapshot persisted on close and reloaded on open.
package logserializer

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/petreldb/petrel/internal/base"
	"github.com/petreldb/petrel/internal/invariants"
	"github.com/petreldb/petrel/serializer"
	"golang.org/x/sync/errgroup"
)

const (
	dataMagic   = "PTRLBLK1"
	dataVersion = 1

	dataHeaderLen = 8 + 4 + 4 // magic, version, block size
)

// LogSerializer writes blocks to a single data file and tracks each block's
// current version in an in-memory index. It implements serializer.Serializer.
//
// The first blockSize bytes of the data file hold the header; slot k's
// contents live at offset (k+1)*blockSize. Slots freed by released tokens are
// reused before the file grows.
//
// All public entry points must run on the owning goroutine (see
// serializer.ExecContext); physical writes happen on I/O goroutines and
// deliver completions through serializer.CompletionSignal.
type LogSerializer struct {
	opts     Options
	dirname  string
	ec       serializer.ExecContext
	f        *os.File
	throttle *serializer.Throttle
	bufPool  sync.Pool

	writeq chan ioRequest
	iog    errgroup.Group

	// werr accumulates the first physical write failure. A failed write
	// poisons subsequent index commits; the serializer performs no rollback.
	werr struct {
		sync.Mutex
		err error
	}

	// mu guards the committed index and the free lists. Token releasers run
	// on arbitrary goroutines, hence the locking despite the single-owner
	// entry-point discipline.
	mu struct {
		sync.Mutex
		index      map[base.BlockID]indexEntry
		ids        idFreeList
		slots      slotFreeList
		nextSerial uint64
	}

	closed invariants.CloseChecker
}

var _ serializer.Serializer = (*LogSerializer)(nil)

// Open opens (creating as necessary) the serializer files in dirname. If an
// index snapshot from a previous clean shutdown exists it is loaded and the
// block-id and slot free lists are rebuilt from it.
func Open(dirname string, opts *Options) (*LogSerializer, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.EnsureDefaults()

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return nil, errors.Wrapf(err, "petrel: creating %s", dirname)
	}
	s := &LogSerializer{
		opts:    *opts,
		dirname: dirname,
		writeq:  make(chan ioRequest, opts.QueueDepth),
	}
	if opts.BytesPerSecond > 0 {
		s.throttle = serializer.NewThrottle(opts.BytesPerSecond)
	}
	s.bufPool.New = func() interface{} {
		return make([]byte, opts.BlockSize)
	}
	s.mu.index = make(map[base.BlockID]indexEntry)
	s.mu.nextSerial = 1

	dataPath := base.MakeFilepath(dirname, base.FileTypeData)
	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "petrel: opening data file")
	}
	s.f = f
	if err := s.initDataHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i := 0; i < opts.WriteConcurrency; i++ {
		s.iog.Go(s.ioWorker)
	}
	s.opts.Logger.Infof("petrel: opened %s (block size %d, %d index entries)",
		dirname, opts.BlockSize, len(s.mu.index))
	return s, nil
}

// initDataHeader validates an existing data file's header or writes a fresh
// one into an empty file.
func (s *LogSerializer) initDataHeader() error {
	info, err := s.f.Stat()
	if err != nil {
		return errors.Wrapf(err, "petrel: stat data file")
	}
	if info.Size() == 0 {
		hdr := make([]byte, s.opts.BlockSize)
		copy(hdr, dataMagic)
		binary.LittleEndian.PutUint32(hdr[8:12], dataVersion)
		binary.LittleEndian.PutUint32(hdr[12:16], uint32(s.opts.BlockSize))
		if _, err := s.f.WriteAt(hdr, 0); err != nil {
			return errors.Wrapf(err, "petrel: writing data file header")
		}
		return nil
	}
	hdr := make([]byte, dataHeaderLen)
	if _, err := s.f.ReadAt(hdr, 0); err != nil {
		return errors.Wrapf(err, "petrel: reading data file header")
	}
	if string(hdr[:8]) != dataMagic {
		return errors.Newf("petrel: not a data file: bad magic %q", hdr[:8])
	}
	if v := binary.LittleEndian.Uint32(hdr[8:12]); v != dataVersion {
		return errors.Newf("petrel: unsupported data file version %d", v)
	}
	if bs := binary.LittleEndian.Uint32(hdr[12:16]); bs != uint32(s.opts.BlockSize) {
		return errors.Newf(
			"petrel: data file block size %d does not match configured %d", bs, s.opts.BlockSize)
	}
	return nil
}

// loadIndex rebuilds the committed index from the snapshot left by the last
// clean shutdown, if one exists.
func (s *LogSerializer) loadIndex() error {
	path := base.MakeFilepath(s.dirname, base.FileTypeIndex)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	snap, err := LoadIndexSnapshot(path)
	if err != nil {
		return err
	}
	if snap.BlockSize != uint32(s.opts.BlockSize) {
		return errors.Newf(
			"petrel: index snapshot block size %d does not match configured %d",
			snap.BlockSize, s.opts.BlockSize)
	}
	s.mu.nextSerial = snap.NextSerial
	for _, e := range snap.Entries {
		entry := indexEntry{recency: e.Recency}
		if e.Offset >= 0 {
			tok := serializer.NewBlockToken(e.BlockID, e.Offset, s.mu.nextSerial, s.releaseToken)
			s.mu.nextSerial++
			tok.MarkWritten(e.Checksum)
			entry.tok = tok
			s.mu.slots.reserve(s.slotOf(e.Offset))
		}
		s.mu.index[e.BlockID] = entry
		s.mu.ids.reserve(e.BlockID)
	}
	return nil
}

// ReadDataHeader validates a data file's header and returns its block size.
// Used by introspection tooling; the serializer itself goes through Open.
func ReadDataHeader(path string) (blockSize uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "petrel: opening data file")
	}
	defer f.Close()
	hdr := make([]byte, dataHeaderLen)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return 0, errors.Wrapf(err, "petrel: reading data file header")
	}
	if string(hdr[:8]) != dataMagic {
		return 0, errors.Newf("petrel: not a data file: bad magic %q", hdr[:8])
	}
	if v := binary.LittleEndian.Uint32(hdr[8:12]); v != dataVersion {
		return 0, errors.Newf("petrel: unsupported data file version %d", v)
	}
	return binary.LittleEndian.Uint32(hdr[12:16]), nil
}

func (s *LogSerializer) offsetOf(slot int64) int64 {
	return (slot + 1) * int64(s.opts.BlockSize)
}

func (s *LogSerializer) slotOf(offset int64) int64 {
	return offset/int64(s.opts.BlockSize) - 1
}

// releaseToken recycles a token's slot once its last reference is released.
// Runs on whatever goroutine dropped the final reference.
func (s *LogSerializer) releaseToken(tok *serializer.BlockToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.slots.release(s.slotOf(tok.Offset()))
}

// Err returns the first physical write failure observed, if any.
func (s *LogSerializer) Err() error {
	s.werr.Lock()
	defer s.werr.Unlock()
	return s.werr.err
}

func (s *LogSerializer) setErr(err error) {
	s.werr.Lock()
	defer s.werr.Unlock()
	if s.werr.err == nil {
		s.werr.err = err
	}
}

// Metrics returns the serializer's metrics set.
func (s *LogSerializer) Metrics() *Metrics {
	return s.opts.Metrics
}

// MakeIOAccount creates a fairness/priority grouping billed against this
// serializer's throttle.
func (s *LogSerializer) MakeIOAccount(priority, maxOutstanding int) *serializer.IOAccount {
	s.ec.Check()
	return serializer.NewIOAccount(priority, maxOutstanding, s.throttle)
}

// NewBlockID allocates a fresh logical block id.
func (s *LogSerializer) NewBlockID() base.BlockID {
	s.ec.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.ids.gen()
}

// ReleaseBlockID returns a block id to the free pool. The caller must have
// deleted the block from the index first.
func (s *LogSerializer) ReleaseBlockID(id base.BlockID) {
	s.ec.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	if invariants.Enabled {
		if _, ok := s.mu.index[id]; ok {
			panic(fmt.Sprintf("petrel: release of indexed block id %s", id))
		}
	}
	s.mu.ids.release(id)
}

// Malloc returns a fresh block-size buffer from the pool.
func (s *LogSerializer) Malloc() []byte {
	return s.bufPool.Get().([]byte)
}

// Clone returns a new pool buffer holding a copy of p's contents.
func (s *LogSerializer) Clone(p []byte) []byte {
	buf := s.Malloc()
	copy(buf, p)
	return buf
}

// Release returns a buffer obtained from Malloc or Clone to the pool.
func (s *LogSerializer) Release(p []byte) {
	if invariants.Enabled && len(p) != s.opts.BlockSize {
		panic(fmt.Sprintf("petrel: release of foreign buffer (len %d)", len(p)))
	}
	s.bufPool.Put(p) //nolint:staticcheck
}

// IndexWrite atomically commits ops into the index. The data file is synced
// first (unless NoSyncOnCommit) so that the index never references
// non-durable data. A prior physical write failure poisons the commit.
func (s *LogSerializer) IndexWrite(ops []serializer.IndexWriteOp, acct *serializer.IOAccount) error {
	s.ec.Check()
	s.closed.AssertNotClosed()
	if err := s.Err(); err != nil {
		return errors.Wrapf(err, "petrel: refusing index write after write failure")
	}
	if invariants.Enabled {
		for i := range ops {
			if ops[i].SetToken && ops[i].Token != nil && !ops[i].Token.Written() {
				panic(fmt.Sprintf(
					"petrel: index write of block %s before its data write completed",
					ops[i].BlockID))
			}
		}
	}

	if !s.opts.NoSyncOnCommit {
		start := time.Now()
		if err := s.f.Sync(); err != nil {
			return errors.Wrapf(err, "petrel: syncing data file")
		}
		s.opts.Metrics.CommitSyncSeconds.Observe(time.Since(start).Seconds())
	}

	// Displaced tokens are unreffed only after mu is released: the final unref
	// runs the token's releaser, which takes mu to recycle the slot.
	var displaced []*serializer.BlockToken
	s.mu.Lock()
	for i := range ops {
		s.applyLocked(&ops[i], &displaced)
	}
	s.mu.Unlock()
	for _, tok := range displaced {
		tok.Unref()
	}

	s.opts.Metrics.IndexCommits.Inc()
	s.opts.Metrics.IndexOps.Add(float64(len(ops)))
	return nil
}

// applyLocked folds one operation into the index. Later operations in a
// batch apply after earlier ones; IndexWrite holds mu across the whole batch
// so lookups never observe a partial commit.
func (s *LogSerializer) applyLocked(
	op *serializer.IndexWriteOp, displaced *[]*serializer.BlockToken,
) {
	e, exists := s.mu.index[op.BlockID]
	if !op.SetToken {
		// Touch: recency only, the indexed token stays whatever the previous
		// commit established.
		e.recency = op.Recency
		s.mu.index[op.BlockID] = e
		return
	}
	if e.tok != nil {
		*displaced = append(*displaced, e.tok)
	}
	if op.Token == nil {
		// Deletion.
		if exists {
			delete(s.mu.index, op.BlockID)
		}
		return
	}
	e.tok = op.Token.Ref()
	e.recency = op.Recency
	s.mu.index[op.BlockID] = e
}

// IndexLookup returns the committed (token, recency) for a block. The
// returned token holds a new reference owned by the caller.
func (s *LogSerializer) IndexLookup(
	id base.BlockID,
) (tok *serializer.BlockToken, recency base.Recency, ok bool) {
	s.ec.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mu.index[id]
	if !ok {
		return nil, base.InvalidRecency, false
	}
	if e.tok != nil {
		tok = e.tok.Ref()
	}
	return tok, e.recency, true
}

// BlockRead fills p with the contents of the block version tok denotes,
// verifying the stored checksum. p must be exactly one block.
func (s *LogSerializer) BlockRead(tok *serializer.BlockToken, p []byte) error {
	s.ec.Check()
	if invariants.Enabled && !tok.Written() {
		panic(fmt.Sprintf("petrel: read of in-flight token for block %s", tok.BlockID()))
	}
	if len(p) != s.opts.BlockSize {
		return errors.Newf("petrel: read buffer is %d bytes, want %d", len(p), s.opts.BlockSize)
	}
	if _, err := s.f.ReadAt(p, tok.Offset()); err != nil {
		return errors.Wrapf(err, "petrel: reading block %s", tok.BlockID())
	}
	if sum := checksum(p); sum != tok.Checksum() {
		return errors.Newf(
			"petrel: block %s checksum mismatch: computed %x, token %x",
			tok.BlockID(), sum, tok.Checksum())
	}
	return nil
}

// Close drains the write queue, syncs the data file, persists the index
// snapshot, and releases the index's token references. Batches must not be in
// flight.
func (s *LogSerializer) Close() error {
	s.ec.Check()
	s.closed.Close()

	close(s.writeq)
	err := s.iog.Wait()
	if werr := s.Err(); err == nil {
		err = werr
	}

	if serr := s.f.Sync(); serr != nil && err == nil {
		err = errors.Wrapf(serr, "petrel: syncing data file")
	}
	if snapErr := s.writeIndexSnapshot(); snapErr != nil && err == nil {
		err = snapErr
	}
	if cerr := s.f.Close(); cerr != nil && err == nil {
		err = errors.Wrapf(cerr, "petrel: closing data file")
	}

	var held []*serializer.BlockToken
	s.mu.Lock()
	for id, e := range s.mu.index {
		if e.tok != nil {
			held = append(held, e.tok)
		}
		delete(s.mu.index, id)
	}
	s.mu.Unlock()
	for _, tok := range held {
		tok.Unref()
	}
	return err
}

// writeIndexSnapshot persists the committed index through a temp file and an
// atomic rename.
func (s *LogSerializer) writeIndexSnapshot() error {
	s.mu.Lock()
	entries := make([]SnapshotEntry, 0, len(s.mu.index))
	for id, e := range s.mu.index {
		se := SnapshotEntry{BlockID: id, Offset: -1, Recency: e.recency}
		if e.tok != nil {
			if !e.tok.Written() {
				s.mu.Unlock()
				return errors.AssertionFailedf(
					"petrel: block %s indexed with an unwritten token", id)
			}
			se.Offset = e.tok.Offset()
			se.Checksum = e.tok.Checksum()
		}
		entries = append(entries, se)
	}
	nextSerial := s.mu.nextSerial
	s.mu.Unlock()

	buf := encodeIndexSnapshot(uint32(s.opts.BlockSize), nextSerial, entries)
	tmpPath := base.MakeFilepath(s.dirname, base.FileTypeTemp)
	if err := os.WriteFile(tmpPath, buf, 0644); err != nil {
		return errors.Wrapf(err, "petrel: writing index snapshot")
	}
	finalPath := base.MakeFilepath(s.dirname, base.FileTypeIndex)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errors.Wrapf(err, "petrel: installing index snapshot")
	}
	return nil
}

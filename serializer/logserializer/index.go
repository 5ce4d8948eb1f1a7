// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package logserializer

import (
	"encoding/binary"
	"os"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/petreldb/petrel/internal/base"
	"github.com/petreldb/petrel/serializer"
)

// indexEntry is the committed state for one block: its current token (nil if
// the block has only ever been touched) and recency. The index holds its own
// reference on the token; that reference is released when the entry is
// overwritten or deleted.
type indexEntry struct {
	tok     *serializer.BlockToken
	recency base.Recency
}

const (
	indexMagic   = "PTRLIDX1"
	indexVersion = 1

	// snapshotNoOffset encodes a nil token in a snapshot record.
	snapshotNoOffset = ^uint64(0)

	indexHeaderLen = 8 + 4 + 4 + 8 + 8 // magic, version, block size, count, next serial
	indexRecordLen = 8 + 8 + 8 + 8     // block id, offset, recency, checksum
)

// SnapshotEntry is one block's record in an index snapshot.
type SnapshotEntry struct {
	BlockID base.BlockID
	// Offset is the data-file offset of the block's contents, or -1 if the
	// entry carries no token.
	Offset   int64
	Recency  base.Recency
	Checksum uint64
}

// IndexSnapshot is the decoded form of an index snapshot file.
type IndexSnapshot struct {
	BlockSize  uint32
	NextSerial uint64
	Entries    []SnapshotEntry
}

// encodeIndexSnapshot serializes entries (sorted by block id) with an xxhash
// trailer over the whole payload.
func encodeIndexSnapshot(blockSize uint32, nextSerial uint64, entries []SnapshotEntry) []byte {
	slices.SortFunc(entries, func(a, b SnapshotEntry) int {
		switch {
		case a.BlockID < b.BlockID:
			return -1
		case a.BlockID > b.BlockID:
			return 1
		}
		return 0
	})
	buf := make([]byte, 0, indexHeaderLen+len(entries)*indexRecordLen+8)
	buf = append(buf, indexMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, indexVersion)
	buf = binary.LittleEndian.AppendUint32(buf, blockSize)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(entries)))
	buf = binary.LittleEndian.AppendUint64(buf, nextSerial)
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.BlockID))
		off := snapshotNoOffset
		if e.Offset >= 0 {
			off = uint64(e.Offset)
		}
		buf = binary.LittleEndian.AppendUint64(buf, off)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Recency))
		buf = binary.LittleEndian.AppendUint64(buf, e.Checksum)
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

func decodeIndexSnapshot(buf []byte) (*IndexSnapshot, error) {
	if len(buf) < indexHeaderLen+8 {
		return nil, errors.Newf("index snapshot truncated: %d bytes", len(buf))
	}
	payload, trailer := buf[:len(buf)-8], binary.LittleEndian.Uint64(buf[len(buf)-8:])
	if sum := xxhash.Sum64(payload); sum != trailer {
		return nil, errors.Newf(
			"index snapshot checksum mismatch: computed %x, stored %x", sum, trailer)
	}
	if string(payload[:8]) != indexMagic {
		return nil, errors.Newf("not an index snapshot: bad magic %q", payload[:8])
	}
	if v := binary.LittleEndian.Uint32(payload[8:12]); v != indexVersion {
		return nil, errors.Newf("unsupported index snapshot version %d", v)
	}
	s := &IndexSnapshot{
		BlockSize:  binary.LittleEndian.Uint32(payload[12:16]),
		NextSerial: binary.LittleEndian.Uint64(payload[24:32]),
	}
	count := binary.LittleEndian.Uint64(payload[16:24])
	if want := indexHeaderLen + count*indexRecordLen; uint64(len(payload)) != want {
		return nil, errors.Newf(
			"index snapshot length mismatch: %d bytes for %d records", len(payload), count)
	}
	s.Entries = make([]SnapshotEntry, 0, count)
	rec := payload[indexHeaderLen:]
	for i := uint64(0); i < count; i++ {
		e := SnapshotEntry{
			BlockID:  base.BlockID(binary.LittleEndian.Uint64(rec[0:8])),
			Offset:   -1,
			Recency:  base.Recency(binary.LittleEndian.Uint64(rec[16:24])),
			Checksum: binary.LittleEndian.Uint64(rec[24:32]),
		}
		if off := binary.LittleEndian.Uint64(rec[8:16]); off != snapshotNoOffset {
			e.Offset = int64(off)
		}
		s.Entries = append(s.Entries, e)
		rec = rec[indexRecordLen:]
	}
	return s, nil
}

// LoadIndexSnapshot reads and decodes an index snapshot file. Used on open
// and by introspection tooling.
func LoadIndexSnapshot(path string) (*IndexSnapshot, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "petrel: reading index snapshot")
	}
	s, err := decodeIndexSnapshot(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "petrel: decoding %s", path)
	}
	return s, nil
}

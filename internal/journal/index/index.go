// Package index implements the journal node's per-segment indexes
// (spec §4.6): offset->position, timestamp->offset, tag->offsets,
// key->offset, and a build-progress marker, all stored in the
// kv.CFJournalIndex Badger column family under
// /index/<namespace>/<shard>/<segment>/... keys, tracking the four
// independent lookup structures a journal consumer needs: byte
// position by offset, a coarse time index, tag fan-out, and latest-value
// by key.
package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/robustmq/robustmq/internal/journal/segment"
	"github.com/robustmq/robustmq/internal/kv"
)

// DefaultGranularity is how many records elapse between offset->position
// index entries (spec §4.6 default 4096).
const DefaultGranularity = 4096

// Indexer maintains the indexes for one (namespace, shard, segment).
type Indexer struct {
	cf         *kv.CF
	namespace  string
	shard      string
	segmentSeq uint32
	granularity int

	recordsSinceMark int
}

// New creates an Indexer scoped to one segment's key namespace within cf.
func New(cf *kv.CF, namespace, shard string, segmentSeq uint32, granularity int) *Indexer {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	return &Indexer{cf: cf, namespace: namespace, shard: shard, segmentSeq: segmentSeq, granularity: granularity}
}

func (ix *Indexer) keyPrefix() string {
	return fmt.Sprintf("/index/%s/%s/%d/", ix.namespace, ix.shard, ix.segmentSeq)
}

func (ix *Indexer) key(suffix string) []byte {
	return []byte(ix.keyPrefix() + suffix)
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeU64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// OnAppend records index entries for one just-written record. posBefore
// is the byte position in the data file immediately before this record's
// frame was written. Callers invoke this once per record, in offset
// order, from the same serialized append path that wrote the frame (spec
// §5: per-shard async mutex).
func (ix *Indexer) OnAppend(ctx context.Context, rec *segment.Record, posBefore int64) error {
	if ix.recordsSinceMark%ix.granularity == 0 {
		if err := ix.cf.Set(ctx, ix.key(fmt.Sprintf("offset/position-%d", rec.Offset)), encodeU64(uint64(posBefore))); err != nil {
			return fmt.Errorf("index: put offset/position: %w", err)
		}
	}
	ix.recordsSinceMark++

	if _, err := ix.cf.Get(ctx, ix.key("offset/start")); err != nil {
		if err := ix.cf.Set(ctx, ix.key("offset/start"), encodeU64(rec.Offset)); err != nil {
			return fmt.Errorf("index: put offset/start: %w", err)
		}
	}
	if err := ix.cf.Set(ctx, ix.key("offset/end"), encodeU64(rec.Offset)); err != nil {
		return fmt.Errorf("index: put offset/end: %w", err)
	}

	sec := rec.Timestamp / 1000
	tsKey := ix.key(fmt.Sprintf("timestamp/time-%d", sec))
	if _, err := ix.cf.Get(ctx, tsKey); err != nil {
		if err := ix.cf.Set(ctx, tsKey, encodeU64(rec.Offset)); err != nil {
			return fmt.Errorf("index: put timestamp bucket: %w", err)
		}
	}
	if _, err := ix.cf.Get(ctx, ix.key("timestamp/start")); err != nil {
		if err := ix.cf.Set(ctx, ix.key("timestamp/start"), encodeU64(uint64(rec.Timestamp))); err != nil {
			return fmt.Errorf("index: put timestamp/start: %w", err)
		}
	}
	if err := ix.cf.Set(ctx, ix.key("timestamp/end"), encodeU64(uint64(rec.Timestamp))); err != nil {
		return fmt.Errorf("index: put timestamp/end: %w", err)
	}

	for _, tag := range rec.Tags {
		if err := ix.appendTag(ctx, tag.Key, rec.Offset); err != nil {
			return err
		}
	}

	if len(rec.Key) > 0 {
		if err := ix.cf.Set(ctx, ix.key("key/"+string(rec.Key)), encodeU64(rec.Offset)); err != nil {
			return fmt.Errorf("index: put key index: %w", err)
		}
	}

	return nil
}

func (ix *Indexer) appendTag(ctx context.Context, tag string, offset uint64) error {
	key := ix.key("tag/" + tag)
	existing, err := ix.cf.Get(ctx, key)
	var offsets []uint64
	if err == nil {
		offsets = decodeOffsetList(existing)
	}
	offsets = append(offsets, offset)
	return ix.cf.Set(ctx, key, encodeOffsetList(offsets))
}

func encodeOffsetList(offsets []uint64) []byte {
	buf := make([]byte, len(offsets)*8)
	for i, o := range offsets {
		binary.BigEndian.PutUint64(buf[i*8:], o)
	}
	return buf
}

func decodeOffsetList(buf []byte) []uint64 {
	n := len(buf) / 8
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint64(buf[i*8:])
	}
	return out
}

// PositionForOffset finds the greatest offset/position entry at or below
// target and returns its file position, for the caller to scan forward
// from (spec §4.6 lookup semantics).
func (ix *Indexer) PositionForOffset(ctx context.Context, target uint64) (int64, bool, error) {
	prefix := ix.key("offset/position-")
	var bestOffset uint64
	var bestPos int64
	found := false

	err := ix.cf.Scan(ctx, prefix, func(key, value []byte) bool {
		offStr := strings.TrimPrefix(string(key), string(prefix))
		off, err := strconv.ParseUint(offStr, 10, 64)
		if err != nil || off > target {
			return true
		}
		if !found || off > bestOffset {
			bestOffset = off
			bestPos = int64(decodeU64(value))
			found = true
		}
		return true
	})
	if err != nil {
		return 0, false, fmt.Errorf("index: scan offset/position: %w", err)
	}
	return bestPos, found, nil
}

// OffsetForTimestamp finds the greatest timestamp bucket at or before
// targetSec and returns its offset as a lower bound (spec §4.6).
func (ix *Indexer) OffsetForTimestamp(ctx context.Context, targetSec int64) (uint64, bool, error) {
	prefix := ix.key("timestamp/time-")
	var bestSec int64
	var bestOffset uint64
	found := false

	err := ix.cf.Scan(ctx, prefix, func(key, value []byte) bool {
		secStr := strings.TrimPrefix(string(key), string(prefix))
		sec, err := strconv.ParseInt(secStr, 10, 64)
		if err != nil || sec > targetSec {
			return true
		}
		if !found || sec > bestSec {
			bestSec = sec
			bestOffset = decodeU64(value)
			found = true
		}
		return true
	})
	if err != nil {
		return 0, false, fmt.Errorf("index: scan timestamp: %w", err)
	}
	return bestOffset, found, nil
}

// OffsetsForTag returns every offset recorded under tag, in append order.
func (ix *Indexer) OffsetsForTag(ctx context.Context, tag string) ([]uint64, error) {
	data, err := ix.cf.Get(ctx, ix.key("tag/"+tag))
	if err != nil {
		return nil, nil
	}
	return decodeOffsetList(data), nil
}

// OffsetForKey returns the latest offset recorded for key.
func (ix *Indexer) OffsetForKey(ctx context.Context, key string) (uint64, bool, error) {
	data, err := ix.cf.Get(ctx, ix.key("key/"+key))
	if err != nil {
		return 0, false, nil
	}
	return decodeU64(data), true, nil
}

// StartEndOffset returns the segment's recorded first/last offsets.
func (ix *Indexer) StartEndOffset(ctx context.Context) (start, end uint64, ok bool) {
	s, err1 := ix.cf.Get(ctx, ix.key("offset/start"))
	e, err2 := ix.cf.Get(ctx, ix.key("offset/end"))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return decodeU64(s), decodeU64(e), true
}

// MarkBuildFinished records that this segment's indexes are fully built,
// consulted on node startup to decide whether a sealed segment needs
// rebuilding.
func (ix *Indexer) MarkBuildFinished(ctx context.Context, lastOffset uint64) error {
	if err := ix.cf.Set(ctx, ix.key("build/last/offset"), encodeU64(lastOffset)); err != nil {
		return fmt.Errorf("index: put build/last/offset: %w", err)
	}
	return ix.cf.Set(ctx, ix.key("build/finish"), []byte{1})
}

// IsBuildFinished reports whether MarkBuildFinished has run for this
// segment.
func (ix *Indexer) IsBuildFinished(ctx context.Context) bool {
	data, err := ix.cf.Get(ctx, ix.key("build/finish"))
	return err == nil && len(data) == 1 && data[0] == 1
}

// Rebuild replays every record in file, one frame at a time so each
// record's exact file position is known to OnAppend, and reconstructs
// all indexes from scratch. Used on startup when IsBuildFinished is
// false (spec §4.6: "Active segments are always rebuilt").
func Rebuild(ctx context.Context, ix *Indexer, file *segment.File) error {
	ix.recordsSinceMark = 0
	var pos int64
	var lastOffset uint64
	any := false
	for {
		recs, endPos, err := file.ReadSeq(pos, 1)
		if err != nil {
			return fmt.Errorf("index: rebuild read: %w", err)
		}
		if len(recs) == 0 {
			break
		}
		if err := ix.OnAppend(ctx, recs[0], pos); err != nil {
			return err
		}
		lastOffset = recs[0].Offset
		any = true
		pos = endPos
	}

	if !any {
		return ix.MarkBuildFinished(ctx, 0)
	}
	return ix.MarkBuildFinished(ctx, lastOffset)
}

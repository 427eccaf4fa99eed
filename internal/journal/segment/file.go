// Package segment also implements the on-disk segment file itself: open,
// append, read-by-position, seal, and delete, structured as a
// Meta-placed, per-shard sequence of
// immutable-once-sealed journal segments.
package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robustmq/robustmq/pkg/crypto/adaptive"
)

const (
	// DataFileName is the fixed filename for a segment's record log,
	// matching the layout in spec §4.5:
	// <data_fold>/<namespace>/<shard>/<segment_seq>/data.log.
	DataFileName = "data.log"

	frameHeaderSize = 8 // len:u32 | crc32:u32
)

var (
	ErrSealed     = errors.New("segment: file is sealed")
	ErrNotSealed  = errors.New("segment: file is not sealed")
	ErrOutOfRange = errors.New("segment: offset out of range")
)

// Dir returns the on-disk directory for one segment.
func Dir(dataFold, namespace, shardName string, segmentSeq uint32) string {
	return filepath.Join(dataFold, namespace, shardName, fmt.Sprintf("%d", segmentSeq))
}

// File is one segment's append-only record log plus the in-memory
// position state a journal node keeps for it while it is resident.
// Durability follows spec §4.5: fsync after every batch when DurableSync
// is set, else on a bounded interval.
type File struct {
	mu sync.Mutex

	path        string
	f           *os.File
	w           *bufio.Writer
	cipher      adaptive.Cipher
	durableSync bool
	syncEvery   time.Duration

	startOffset uint64
	nextOffset  uint64
	size        int64
	sealed      bool

	stopSync chan struct{}
	syncDone chan struct{}
}

// OpenOptions configures Open.
type OpenOptions struct {
	StartOffset uint64
	Cipher      adaptive.Cipher
	DurableSync bool
	// SyncInterval bounds fsync latency when DurableSync is false; the
	// spec caps this at 200ms (§4.5).
	SyncInterval time.Duration
}

// Open opens (creating if absent) the segment file at dir/data.log for
// appending, positioned at the end of any existing records. A freshly
// created file starts empty with nextOffset = opts.StartOffset.
func Open(dir string, opts OpenOptions) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: create dir: %w", err)
	}
	path := filepath.Join(dir, DataFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open data file: %w", err)
	}

	sf := &File{
		path:        path,
		f:           f,
		w:           bufio.NewWriterSize(f, 64<<10),
		cipher:      opts.Cipher,
		durableSync: opts.DurableSync,
		syncEvery:   opts.SyncInterval,
		startOffset: opts.StartOffset,
		nextOffset:  opts.StartOffset,
	}

	size, lastOffset, err := sf.scanExisting()
	if err != nil {
		f.Close()
		return nil, err
	}
	sf.size = size
	if size > 0 {
		sf.nextOffset = lastOffset + 1
		sf.startOffset = opts.StartOffset
	}

	if !sf.durableSync {
		if sf.syncEvery <= 0 {
			sf.syncEvery = 200 * time.Millisecond
		}
		sf.stopSync = make(chan struct{})
		sf.syncDone = make(chan struct{})
		go sf.syncLoop()
	}

	return sf, nil
}

// scanExisting walks every frame already on disk to recover the current
// size and the offset of the last record, the way a journal node rebuilds
// in-memory position state for a segment it reopens after a restart.
func (sf *File) scanExisting() (size int64, lastOffset uint64, err error) {
	if _, err := sf.f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("segment: seek start: %w", err)
	}
	r := bufio.NewReader(sf.f)

	var pos int64
	var last uint64
	any := false
	for {
		header := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Truncated trailing frame from a crash; stop before it.
				break
			}
			return 0, 0, fmt.Errorf("segment: scan header: %w", err)
		}
		length := binary.BigEndian.Uint32(header[0:4])
		crc := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		rec, err := decodeFrame(payload, crc, sf.cipher)
		if err != nil {
			break
		}
		last = rec.Offset
		any = true
		pos += int64(frameHeaderSize) + int64(length)
	}
	if _, err := sf.f.Seek(0, io.SeekEnd); err != nil {
		return 0, 0, fmt.Errorf("segment: seek end: %w", err)
	}
	if !any {
		return pos, 0, nil
	}
	return pos, last, nil
}

func (sf *File) syncLoop() {
	defer close(sf.syncDone)
	t := time.NewTicker(sf.syncEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			sf.mu.Lock()
			_ = sf.flushLocked()
			sf.mu.Unlock()
		case <-sf.stopSync:
			return
		}
	}
}

// Append writes records in order, assigning each a monotonically
// increasing offset starting at the segment's current nextOffset, and
// returns the offsets assigned plus each record's exact starting byte
// position (for callers building an offset->position index without
// having to re-derive frame sizes). Append is the only mutator; callers
// serialize access per-shard (spec §5: "per-shard async mutex serializes
// appends").
func (sf *File) Append(records []*Record) (offsets []uint64, positions []int64, err error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.sealed {
		return nil, nil, ErrSealed
	}

	offsets = make([]uint64, len(records))
	positions = make([]int64, len(records))
	for i, r := range records {
		r.Offset = sf.nextOffset
		r.Timestamp = time.Now().UnixMilli()
		offsets[i] = r.Offset
		positions[i] = sf.size

		frame, encErr := encodeFrame(r, sf.cipher)
		if encErr != nil {
			return nil, nil, encErr
		}
		n, writeErr := sf.w.Write(frame)
		if writeErr != nil {
			return nil, nil, fmt.Errorf("segment: write record: %w", writeErr)
		}
		sf.size += int64(n)
		sf.nextOffset++
	}

	if sf.durableSync {
		if err := sf.flushLocked(); err != nil {
			return nil, nil, err
		}
	}

	return offsets, positions, nil
}

func (sf *File) flushLocked() error {
	if err := sf.w.Flush(); err != nil {
		return fmt.Errorf("segment: flush: %w", err)
	}
	return sf.f.Sync()
}

// Flush forces buffered writes to disk outside of the durable-sync or
// interval-sync policy, used before sealing.
func (sf *File) Flush() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.flushLocked()
}

// Size returns the current on-disk size in bytes.
func (sf *File) Size() int64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.size
}

// NextOffset returns the offset that would be assigned to the next
// appended record.
func (sf *File) NextOffset() uint64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.nextOffset
}

// ReadAt reads up to maxRecords records starting at fromPos (a byte
// position previously resolved via the offset index), stopping early if
// the file ends or a corrupt frame is hit.
func (sf *File) ReadAt(fromPos int64, maxRecords int) ([]*Record, error) {
	recs, _, err := sf.ReadSeq(fromPos, maxRecords)
	return recs, err
}

// ReadSeq behaves like ReadAt but also returns the byte position
// immediately after the last record read, letting a sequential scanner
// (e.g. index rebuild) resume exactly where it left off without having
// to re-derive frame sizes.
func (sf *File) ReadSeq(fromPos int64, maxRecords int) ([]*Record, int64, error) {
	f, err := os.Open(sf.path)
	if err != nil {
		return nil, fromPos, fmt.Errorf("segment: open for read: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(fromPos, io.SeekStart); err != nil {
		return nil, fromPos, fmt.Errorf("segment: seek: %w", err)
	}
	r := bufio.NewReader(f)

	pos := fromPos
	var out []*Record
	for len(out) < maxRecords {
		header := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, pos, fmt.Errorf("segment: read header: %w", err)
		}
		length := binary.BigEndian.Uint32(header[0:4])
		crc := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return out, pos, fmt.Errorf("segment: read payload: %w", err)
		}
		rec, err := decodeFrame(payload, crc, sf.cipher)
		if err != nil {
			return out, pos, err
		}
		out = append(out, rec)
		pos += int64(frameHeaderSize) + int64(length)
	}
	return out, pos, nil
}

// Seal flushes remaining writes and marks the file immutable; it is
// never reopened for writing afterward (spec §4.5).
func (sf *File) Seal() (startOffset, endOffset uint64, err error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.sealed {
		return sf.startOffset, sf.nextOffset - 1, nil
	}
	if err := sf.flushLocked(); err != nil {
		return 0, 0, err
	}
	sf.sealed = true
	if sf.stopSync != nil {
		close(sf.stopSync)
		<-sf.syncDone
	}
	return sf.startOffset, sf.nextOffset - 1, nil
}

// IsSealed reports whether the segment has been sealed.
func (sf *File) IsSealed() bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.sealed
}

// Close releases the file handle without sealing (used on graceful
// shutdown of an in-progress writer; the segment can be reopened later
// unless it was sealed).
func (sf *File) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if !sf.sealed && sf.stopSync != nil {
		close(sf.stopSync)
		<-sf.syncDone
		sf.stopSync = nil
	}
	_ = sf.flushLocked()
	return sf.f.Close()
}

// Delete removes the segment's directory from disk entirely, used after
// Meta has acknowledged the delete handshake (spec §4.3.1 PreDelete ->
// Deleting -> removed).
func Delete(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("segment: delete dir: %w", err)
	}
	return nil
}

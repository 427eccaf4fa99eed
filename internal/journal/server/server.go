// Package server implements the journal server loop (spec §4.7): the
// per-node RPC surface MQTT brokers and the Meta leader drive to write
// and read shard segments, commit/fetch consumer offsets, and learn
// about leadership/placement changes via UpdateCache notifications. It
// is the component that wires together segment.File (on-disk storage)
// and index.Indexer (lookup structures) behind the cached view of
// Meta-assigned placement that spec §4.9 ("Shared mutable caches") calls
// for: this node never talks to Raft directly, only to the cache Meta
// keeps current.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robustmq/robustmq/internal/journal/index"
	"github.com/robustmq/robustmq/internal/journal/segment"
	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/pkg/crypto/adaptive"
)

// NotLeaderError is returned when a write targets a (shard, segment)
// this node does not currently lead, carrying a hint to the real leader
// the way spec §4.7/§7 requires.
type NotLeaderError struct {
	Shard         string
	SegmentSeq    uint32
	CurrentLeader uint64
}

func (e *NotLeaderError) Error() string {
	return fmt.Sprintf("journal: not leader for %s/%d (current leader node %d)", e.Shard, e.SegmentSeq, e.CurrentLeader)
}

// FetchStrategy selects where FetchOffset should resolve from when no
// committed offset exists for a group.
type FetchStrategy int

const (
	Earliest FetchStrategy = iota
	Latest
	Timestamp
)

// CacheResourceType tags what UpdateCache's payload describes.
type CacheResourceType string

const (
	ResourceNode    CacheResourceType = "node"
	ResourceShard   CacheResourceType = "shard"
	ResourceSegment CacheResourceType = "segment"
)

// CacheAction selects whether UpdateCache should upsert or remove a
// resource.
type CacheAction string

const (
	ActionUpsert CacheAction = "upsert"
	ActionDelete CacheAction = "delete"
)

// segmentKey is the in-memory and on-disk join key for a shard's
// numbered segment.
type segmentKey struct {
	Namespace string
	Shard     string
	Seq       uint32
}

// segmentCache is this node's view of one segment's placement, refreshed
// only by UpdateCache notifications from the Meta leader.
type segmentCache struct {
	Leader      uint64
	ISR         []uint64
	Status      string
	StartOffset uint64
	EndOffset   uint64
}

// Config configures a journal Server.
type Config struct {
	NodeID          uint64
	DataFold        string
	IndexGranularity int
	DurableSync     bool
	Cipher          adaptive.Cipher
	Logger          *slog.Logger
}

// Server is one journal node's local runtime: open segment writers,
// their indexes, the offset-commit table, and a Meta placement cache.
type Server struct {
	cfg Config

	mu       sync.RWMutex
	segments map[segmentKey]*segmentCache
	nodes    map[uint64]string // node_id -> grpc_addr, for NotLeader hints

	filesMu sync.Mutex
	files   map[segmentKey]*segment.File
	indexes map[segmentKey]*index.Indexer

	indexCF *kv.CF
	offsets *kv.CF

	logger *slog.Logger
}

// New creates a journal Server backed by engine for its offset-commit and
// per-segment index tables.
func New(cfg Config, engine kv.Engine) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IndexGranularity <= 0 {
		cfg.IndexGranularity = index.DefaultGranularity
	}
	return &Server{
		cfg:      cfg,
		segments: make(map[segmentKey]*segmentCache),
		nodes:    make(map[uint64]string),
		files:    make(map[segmentKey]*segment.File),
		indexes:  make(map[segmentKey]*index.Indexer),
		indexCF:  kv.NewCF(engine, kv.CFJournalIndex),
		offsets:  kv.NewCF(engine, kv.CFOffset),
		logger:   cfg.Logger,
	}
}

func (s *Server) key(namespace, shard string, seq uint32) segmentKey {
	return segmentKey{Namespace: namespace, Shard: shard, Seq: seq}
}

// UpdateCache applies one cache notification from the Meta leader. This
// is the only path that mutates the server's placement cache (spec §4.9:
// caches are write-through from a single source of truth).
func (s *Server) UpdateCache(resourceType CacheResourceType, action CacheAction, payload json.RawMessage) error {
	switch resourceType {
	case ResourceSegment:
		var p struct {
			Namespace   string   `json:"namespace"`
			Shard       string   `json:"shard"`
			SegmentSeq  uint32   `json:"segment_seq"`
			Leader      uint64   `json:"leader"`
			ISR         []uint64 `json:"isr"`
			Status      string   `json:"status"`
			StartOffset uint64   `json:"start_offset"`
			EndOffset   uint64   `json:"end_offset"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("journal: decode segment cache update: %w", err)
		}
		k := s.key(p.Namespace, p.Shard, p.SegmentSeq)

		s.mu.Lock()
		prev, had := s.segments[k]
		if action == ActionDelete {
			delete(s.segments, k)
		} else {
			s.segments[k] = &segmentCache{Leader: p.Leader, ISR: p.ISR, Status: p.Status, StartOffset: p.StartOffset, EndOffset: p.EndOffset}
		}
		s.mu.Unlock()

		if action == ActionDelete {
			s.closeLocal(k)
			return nil
		}

		demoted := had && prev.Leader == s.cfg.NodeID && p.Leader != s.cfg.NodeID
		promoted := p.Leader == s.cfg.NodeID && (!had || prev.Leader != s.cfg.NodeID)
		if demoted {
			s.logger.Info("journal: demoted from segment leadership, closing local writer",
				"namespace", p.Namespace, "shard", p.Shard, "segment", p.SegmentSeq)
			s.closeLocal(k)
		}
		if promoted {
			s.logger.Info("journal: promoted to segment leadership",
				"namespace", p.Namespace, "shard", p.Shard, "segment", p.SegmentSeq)
		}
		return nil

	case ResourceNode:
		var p struct {
			NodeID   uint64 `json:"node_id"`
			GRPCAddr string `json:"grpc_addr"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("journal: decode node cache update: %w", err)
		}
		s.mu.Lock()
		if action == ActionDelete {
			delete(s.nodes, p.NodeID)
		} else {
			s.nodes[p.NodeID] = p.GRPCAddr
		}
		s.mu.Unlock()
		return nil

	case ResourceShard:
		// Shard-level cache (replica config) isn't consulted on the
		// journal write/read hot path; segment-level leadership is.
		return nil

	default:
		return fmt.Errorf("journal: unknown cache resource type %q", resourceType)
	}
}

func (s *Server) closeLocal(k segmentKey) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	if f, ok := s.files[k]; ok {
		_ = f.Close()
		delete(s.files, k)
		delete(s.indexes, k)
	}
}

// GetActiveSegment returns the currently cached leader/status for a
// shard's segment, the read path backing JournalInner.GetActiveSegment.
func (s *Server) GetActiveSegment(namespace, shard string, seq uint32) (leader uint64, status string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.segments[s.key(namespace, shard, seq)]
	if !ok {
		return 0, "", false
	}
	return sc.Leader, sc.Status, true
}

func (s *Server) requireLeader(k segmentKey) (*segmentCache, error) {
	s.mu.RLock()
	sc, ok := s.segments[k]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("journal: unknown segment %s/%d", k.Shard, k.Seq)
	}
	if sc.Leader != s.cfg.NodeID {
		return sc, &NotLeaderError{Shard: k.Shard, SegmentSeq: k.Seq, CurrentLeader: sc.Leader}
	}
	return sc, nil
}

func (s *Server) openFileLocked(k segmentKey, startOffset uint64) (*segment.File, *index.Indexer, error) {
	if f, ok := s.files[k]; ok {
		return f, s.indexes[k], nil
	}

	dir := segment.Dir(s.cfg.DataFold, k.Namespace, k.Shard, k.Seq)
	f, err := segment.Open(dir, segment.OpenOptions{
		StartOffset: startOffset,
		Cipher:      s.cfg.Cipher,
		DurableSync: s.cfg.DurableSync,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("journal: open segment file: %w", err)
	}
	ix := index.New(s.indexCF, k.Namespace, k.Shard, k.Seq, s.cfg.IndexGranularity)

	if !ix.IsBuildFinished(context.Background()) {
		if err := index.Rebuild(context.Background(), ix, f); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("journal: rebuild index: %w", err)
		}
	}

	s.files[k] = f
	s.indexes[k] = ix
	return f, ix, nil
}

// Write appends records to a shard's segment, leader-only: a non-leader
// replica (per the cached placement) rejects with NotLeaderError so the
// client pool can retry against the hinted leader (spec §4.7, §4.10).
func (s *Server) Write(ctx context.Context, namespace, shard string, seq uint32, records []*segment.Record) ([]uint64, error) {
	k := s.key(namespace, shard, seq)
	sc, err := s.requireLeader(k)
	if err != nil {
		return nil, err
	}

	s.filesMu.Lock()
	f, ix, err := s.openFileLocked(k, sc.StartOffset)
	if err != nil {
		s.filesMu.Unlock()
		return nil, err
	}

	offsets, positions, err := f.Append(records)
	s.filesMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("journal: append: %w", err)
	}

	for i, rec := range records {
		if err := ix.OnAppend(ctx, rec, positions[i]); err != nil {
			s.logger.Error("journal: index append failed", "namespace", namespace, "shard", shard, "segment", seq, "error", err)
		}
	}

	return offsets, nil
}

// Read returns up to maxRecords records at or after offset from a
// shard's segment, using the offset index to locate a starting file
// position (spec §4.5, §4.6).
func (s *Server) Read(ctx context.Context, namespace, shard string, seq uint32, offset uint64, maxRecords int) ([]*segment.Record, error) {
	k := s.key(namespace, shard, seq)

	s.mu.RLock()
	sc, ok := s.segments[k]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("journal: unknown segment %s/%d", shard, seq)
	}

	s.filesMu.Lock()
	f, ix, err := s.openFileLocked(k, sc.StartOffset)
	s.filesMu.Unlock()
	if err != nil {
		return nil, err
	}

	pos, found, err := ix.PositionForOffset(ctx, offset)
	if err != nil {
		return nil, fmt.Errorf("journal: resolve offset position: %w", err)
	}
	if !found {
		pos = 0
	}

	// The index only gives a lower-bound position up to one granularity
	// bucket stale, so read past maxRecords by that much and drop
	// anything before the requested offset.
	recs, err := f.ReadAt(pos, maxRecords+s.cfg.IndexGranularity)
	if err != nil && len(recs) == 0 {
		return nil, fmt.Errorf("journal: read: %w", err)
	}

	var out []*segment.Record
	for _, r := range recs {
		if r.Offset < offset {
			continue
		}
		out = append(out, r)
		if len(out) >= maxRecords {
			break
		}
	}
	return out, nil
}

// OffsetCommit durably records the last-processed offset for
// (group, namespace, shard).
func (s *Server) OffsetCommit(ctx context.Context, group, namespace, shard string, offset uint64) error {
	key := []byte(fmt.Sprintf("%s/%s/%s", group, namespace, shard))
	return s.offsets.Set(ctx, key, encodeOffset(offset))
}

// FetchOffset resolves a consumer's starting offset for (group,
// namespace, shard) per strategy: a committed offset if one exists,
// else Earliest/Latest/Timestamp against the segment's own bounds.
func (s *Server) FetchOffset(ctx context.Context, group, namespace, shard string, seq uint32, strategy FetchStrategy, atSec int64) (uint64, error) {
	key := []byte(fmt.Sprintf("%s/%s/%s", group, namespace, shard))
	if data, err := s.offsets.Get(ctx, key); err == nil {
		return decodeOffset(data), nil
	}

	k := s.key(namespace, shard, seq)
	s.mu.RLock()
	sc, ok := s.segments[k]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("journal: unknown segment %s/%d", shard, seq)
	}

	switch strategy {
	case Latest:
		return sc.EndOffset, nil
	case Timestamp:
		s.filesMu.Lock()
		_, ix, err := s.openFileLocked(k, sc.StartOffset)
		s.filesMu.Unlock()
		if err != nil {
			return 0, err
		}
		off, found, err := ix.OffsetForTimestamp(ctx, atSec)
		if err != nil {
			return 0, err
		}
		if !found {
			return sc.StartOffset, nil
		}
		return off, nil
	default: // Earliest
		return sc.StartOffset, nil
	}
}

func encodeOffset(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeOffset(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// DeleteSegmentFile removes a segment's on-disk files and index entries
// after Meta has acknowledged the delete (spec §4.3.1 PreDelete ->
// Deleting handshake).
func (s *Server) DeleteSegmentFile(namespace, shard string, seq uint32) error {
	k := s.key(namespace, shard, seq)
	s.closeLocal(k)

	dir := segment.Dir(s.cfg.DataFold, namespace, shard, seq)
	if err := segment.Delete(dir); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.segments, k)
	s.mu.Unlock()
	return nil
}

// GetSegmentDeleteStatus reports whether the named segment is absent from
// this node's placement cache (true once it has been deleted), used by
// Meta to know when every replica has finished the delete handshake.
func (s *Server) GetSegmentDeleteStatus(namespace, shard string, seq uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.segments[s.key(namespace, shard, seq)]
	return !ok
}

// DeleteShardFile removes every segment this node holds for a shard.
func (s *Server) DeleteShardFile(namespace, shard string, segmentSeqs []uint32) error {
	for _, seq := range segmentSeqs {
		if err := s.DeleteSegmentFile(namespace, shard, seq); err != nil {
			return err
		}
	}
	return nil
}

// GetShardDeleteStatus reports whether every named segment has been
// removed locally.
func (s *Server) GetShardDeleteStatus(namespace, shard string, segmentSeqs []uint32) bool {
	for _, seq := range segmentSeqs {
		if !s.GetSegmentDeleteStatus(namespace, shard, seq) {
			return false
		}
	}
	return true
}

// Close releases every open segment file handle, for graceful shutdown.
func (s *Server) Close() error {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	var firstErr error
	for k, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, k)
	}
	return firstErr
}

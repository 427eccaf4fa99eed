package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/meta/router"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// GCConfig configures the segment/shard garbage-collection sweep.
type GCConfig struct {
	// ScanInterval is how often the sweep runs.
	ScanInterval time.Duration
	Logger       *slog.Logger
}

// DefaultGCConfig sweeps every 10 seconds.
func DefaultGCConfig() GCConfig {
	return GCConfig{ScanInterval: 10 * time.Second, Logger: slog.Default()}
}

// GCController implements spec §4.4's Segment GC and Shard GC: retention-
// based segment deletion, and shard removal once every segment is
// Deleting. Like HeartbeatController, it only acts
// while the local Raft node holds leadership.
type GCController struct {
	cfg   GCConfig
	store *store.Store
	raft  proposer

	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGCController wires the controller to the shared store and Raft node.
func NewGCController(cfg GCConfig, st *store.Store, node proposer) *GCController {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	return &GCController{cfg: cfg, store: st, raft: node, logger: cfg.Logger}
}

// Start launches the background GC sweep. Calling Start twice without an
// intervening Stop is a no-op.
func (g *GCController) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.loop(ctx)
}

// Stop halts the sweep and waits for the current iteration to finish.
func (g *GCController) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	done := g.done
	g.cancel = nil
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (g *GCController) loop(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *GCController) sweep() {
	if !g.raft.IsLeader() {
		return
	}
	g.sweepSegmentRetention()
	g.sweepShards()
}

// sweepSegmentRetention implements spec §4.4's Segment GC: sealed
// segments whose end_timestamp has aged past the owning shard's
// retention window move to PreDelete in one batched tick (spec: "Batch
// into one request per tick").
func (g *GCController) sweepSegmentRetention() {
	now := time.Now().UnixMilli()
	shards := make(map[uint64]store.Shard)
	for _, sh := range g.store.ListShards() {
		shards[sh.ShardID] = sh
	}

	var expired int
	for _, seg := range g.store.AllSegments() {
		if seg.Status != store.SegmentSealUp {
			continue
		}
		sh, ok := shards[seg.ShardID]
		if !ok || sh.Config.RetentionSec <= 0 {
			continue
		}
		cutoff := now - sh.Config.RetentionSec*1000
		if seg.EndTimestamp == 0 || seg.EndTimestamp >= cutoff {
			continue
		}

		payload := struct {
			ShardID   uint64              `json:"shard_id"`
			SegmentID uint64              `json:"segment_id"`
			Status    store.SegmentStatus `json:"status"`
		}{seg.ShardID, seg.SegmentID, store.SegmentPreDelete}
		data, err := router.Encode(router.TypeSegmentStatus, payload)
		if err != nil {
			g.logger.Error("gc: encode segment retention delete", "shard_id", seg.ShardID, "segment_id", seg.SegmentID, "error", err)
			continue
		}
		if err := g.raft.Apply(data, 5*time.Second); err != nil {
			g.logger.Error("gc: propose segment retention delete", "shard_id", seg.ShardID, "segment_id", seg.SegmentID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		g.logger.Info("gc: segment retention sweep", "expired", expired)
	}
}

// sweepShards implements spec §4.4's Shard GC: once every segment of a
// shard is Deleting, the shard record and its segment records are
// removed. Only the control-plane status is checked; no journal node
// reports that a segment's files are purged.
func (g *GCController) sweepShards() {
	segsByShard := make(map[uint64][]store.SegmentMeta)
	for _, seg := range g.store.AllSegments() {
		segsByShard[seg.ShardID] = append(segsByShard[seg.ShardID], seg)
	}

	for _, sh := range g.store.ListShards() {
		segs := segsByShard[sh.ShardID]
		if len(segs) == 0 {
			continue
		}
		allDeleting := true
		for _, seg := range segs {
			if seg.Status != store.SegmentDeleting {
				allDeleting = false
				break
			}
		}
		if !allDeleting {
			continue
		}

		payload := struct {
			ShardID uint64 `json:"shard_id"`
		}{sh.ShardID}
		data, err := router.Encode(router.TypeShardDelete, payload)
		if err != nil {
			g.logger.Error("gc: encode shard delete", "shard_id", sh.ShardID, "error", err)
			continue
		}
		if err := g.raft.Apply(data, 5*time.Second); err != nil {
			g.logger.Error("gc: propose shard delete", "shard_id", sh.ShardID, "error", err)
			continue
		}
		for _, seg := range segs {
			delPayload := struct {
				ShardID   uint64 `json:"shard_id"`
				SegmentID uint64 `json:"segment_id"`
			}{seg.ShardID, seg.SegmentID}
			data, err := router.Encode(router.TypeSegmentDelete, delPayload)
			if err != nil {
				continue
			}
			_ = g.raft.Apply(data, 5*time.Second)
		}
		g.logger.Info("gc: shard purged", "shard_id", sh.ShardID, "segments", len(segs))
	}
}

package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/meta/router"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// PreferredReplicaConfig configures the preferred-replica election sweep.
type PreferredReplicaConfig struct {
	ScanInterval time.Duration
	Logger       *slog.Logger
}

// DefaultPreferredReplicaConfig sweeps every 5 seconds.
func DefaultPreferredReplicaConfig() PreferredReplicaConfig {
	return PreferredReplicaConfig{ScanInterval: 5 * time.Second, Logger: slog.Default()}
}

// PreferredReplicaController implements spec §4.4's preferred-replica
// election: if a segment's current leader isn't its preferred replica
// (replicas[0]) and the preferred replica is alive and in-ISR, trigger a
// leader change back to it. This keeps leadership from sticking on a
// replica that only became leader because the preferred one was briefly
// down.
type PreferredReplicaController struct {
	cfg   PreferredReplicaConfig
	store *store.Store
	raft  proposer

	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPreferredReplicaController wires the controller to the shared store
// and Raft node.
func NewPreferredReplicaController(cfg PreferredReplicaConfig, st *store.Store, node proposer) *PreferredReplicaController {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	return &PreferredReplicaController{cfg: cfg, store: st, raft: node, logger: cfg.Logger}
}

// Start launches the background election sweep.
func (p *PreferredReplicaController) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop halts the sweep and waits for the current iteration to finish.
func (p *PreferredReplicaController) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *PreferredReplicaController) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *PreferredReplicaController) sweep() {
	if !p.raft.IsLeader() {
		return
	}

	live := make(map[uint64]bool)
	for _, n := range p.store.ListNodes() {
		live[n.NodeID] = n.State == store.NodeAlive
	}

	for _, seg := range p.store.AllSegments() {
		if seg.Status != store.SegmentWriting && seg.Status != store.SegmentSealUp {
			continue
		}
		preferred := seg.Preferred()
		if preferred == 0 || preferred == seg.Leader {
			continue
		}
		if !live[preferred] {
			continue
		}
		if !inSet(seg.ISR, preferred) {
			continue
		}

		payload := struct {
			ShardID   uint64 `json:"shard_id"`
			SegmentID uint64 `json:"segment_id"`
			NewLeader uint64 `json:"new_leader"`
		}{seg.ShardID, seg.SegmentID, preferred}
		data, err := router.Encode(router.TypeSegmentLeaderChange, payload)
		if err != nil {
			p.logger.Error("preferred-replica: encode leader change", "shard_id", seg.ShardID, "segment_id", seg.SegmentID, "error", err)
			continue
		}
		if err := p.raft.Apply(data, 5*time.Second); err != nil {
			p.logger.Error("preferred-replica: propose leader change", "shard_id", seg.ShardID, "segment_id", seg.SegmentID, "error", err)
			continue
		}
		p.logger.Info("preferred-replica: restored leadership", "shard_id", seg.ShardID, "segment_id", seg.SegmentID, "from", seg.Leader, "to", preferred)
	}
}

func inSet(set []uint64, v uint64) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

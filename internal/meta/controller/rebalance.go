package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/robustmq/robustmq/internal/meta/placement"
	"github.com/robustmq/robustmq/internal/meta/router"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// RebalanceConfig configures the rebalance manager.
type RebalanceConfig struct {
	// MaxRateBytesPerSec caps the aggregate bandwidth segment migration
	// may consume, so a rebalance after a node join doesn't starve live
	// broker traffic.
	MaxRateBytesPerSec int64
	// ConcurrentShards bounds how many shard migrations run in parallel.
	ConcurrentShards int
	// ReplicaCount is how many nodes (primary + replicas) each shard
	// should be placed on.
	ReplicaCount int
	Logger       *slog.Logger
}

// DefaultRebalanceConfig matches the cluster config's rebalance defaults
// (20MB/s, 3-way concurrency) and places each shard on 3 nodes.
func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		MaxRateBytesPerSec: 20 * 1024 * 1024,
		ConcurrentShards:   3,
		ReplicaCount:       3,
		Logger:             slog.Default(),
	}
}

// SegmentTransferClient streams one journal segment's records from the
// local node to a remote target during rebalancing. Implemented by
// internal/client against the JournalInner RPC surface.
type SegmentTransferClient interface {
	// TransferSegment copies shardID/segmentID to targetAddr, returning
	// the number of bytes sent. The limiter must be respected via
	// limiter.WaitN before each write so aggregate throughput across all
	// concurrent transfers stays under MaxRateBytesPerSec.
	TransferSegment(ctx context.Context, targetAddr string, shardID, segmentID uint64, limiter *rate.Limiter) (int64, error)
}

// TaskStatus is a migration task's lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TransferTask tracks one shard's migration to a new replica set.
type TransferTask struct {
	ShardID    uint64
	FromNode   uint64
	ToNodes    []uint64
	Status     TaskStatus
	BytesMoved int64
	LastError  string

	startTime time.Time
	endTime   time.Time
	mu        sync.RWMutex
}

// RebalanceManager recomputes shard placement from the consistent-hash
// ring whenever the node set changes and migrates segment data to the
// new replica set, rate-limited so it never saturates a node's network
// link during steady-state traffic.
type RebalanceManager struct {
	cfg    RebalanceConfig
	store  *store.Store
	raft   proposer
	client SegmentTransferClient

	mu      sync.RWMutex
	tasks   map[uint64]*TransferTask
	running atomic.Bool

	logger *slog.Logger
}

// NewRebalanceManager wires the manager to the shared store, the Raft
// node used to commit placement changes, and the RPC client used to
// stream segment data to newly-placed nodes.
func NewRebalanceManager(cfg RebalanceConfig, st *store.Store, node proposer, client SegmentTransferClient) *RebalanceManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReplicaCount <= 0 {
		cfg.ReplicaCount = 3
	}
	return &RebalanceManager{
		cfg:    cfg,
		store:  st,
		raft:   node,
		client: client,
		tasks:  make(map[uint64]*TransferTask),
		logger: cfg.Logger,
	}
}

// Trigger recomputes placement for every known shard against the given
// ring (typically store.Ring() after a node join/leave) and migrates any
// shard whose primary or replica set changed.
func (rm *RebalanceManager) Trigger(ctx context.Context, ring *placement.Ring) error {
	if !rm.raft.IsLeader() {
		return nil
	}
	if !rm.running.CompareAndSwap(false, true) {
		return fmt.Errorf("controller: rebalance already in progress")
	}
	defer rm.running.Store(false)

	shards := rm.store.ListShards()
	migrations := make(map[uint64][]uint64)
	for _, sh := range shards {
		placed := ring.Place(sh.Topic, rm.cfg.ReplicaCount)
		if !sameNodes(placed, append([]uint64{sh.PrimaryNode}, sh.Replicas...)) {
			migrations[sh.ShardID] = placed
		}
	}

	if len(migrations) == 0 {
		rm.logger.Debug("rebalance: no shard placement changes")
		return nil
	}

	rm.logger.Info("rebalance triggered", "shards_affected", len(migrations))

	sem := make(chan struct{}, rm.cfg.ConcurrentShards)
	var wg sync.WaitGroup
	for shardID, placed := range migrations {
		wg.Add(1)
		go func(sid uint64, nodes []uint64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := rm.migrateShard(ctx, sid, nodes); err != nil {
				rm.logger.Error("shard migration failed", "shard_id", sid, "error", err)
			}
		}(shardID, placed)
	}
	wg.Wait()

	rm.logger.Info("rebalance completed", "migrated_shards", len(migrations))
	return nil
}

func (rm *RebalanceManager) migrateShard(ctx context.Context, shardID uint64, newNodes []uint64) error {
	sh, ok := rm.store.Shard(shardID)
	if !ok {
		return fmt.Errorf("controller: shard %d not found", shardID)
	}

	task := &TransferTask{ShardID: shardID, FromNode: sh.PrimaryNode, ToNodes: newNodes, Status: TaskPending, startTime: time.Now()}
	rm.mu.Lock()
	rm.tasks[shardID] = task
	rm.mu.Unlock()

	task.mu.Lock()
	task.Status = TaskRunning
	task.mu.Unlock()

	limiter := rate.NewLimiter(rate.Limit(rm.cfg.MaxRateBytesPerSec), int(rm.cfg.MaxRateBytesPerSec))

	segments := rm.store.SegmentsForShard(shardID)
	var totalBytes int64
	for _, seg := range segments {
		for _, target := range newNodes {
			if target == sh.PrimaryNode {
				continue // already resident
			}
			n, err := rm.client.TransferSegment(ctx, nodeAddr(rm.store, target), shardID, seg.SegmentID, limiter)
			if err != nil {
				rm.failTask(task, fmt.Sprintf("transfer segment %d to node %d: %v", seg.SegmentID, target, err))
				return err
			}
			totalBytes += n
		}
	}

	newShard := sh
	newShard.PrimaryNode = newNodes[0]
	if len(newNodes) > 1 {
		newShard.Replicas = newNodes[1:]
	} else {
		newShard.Replicas = nil
	}
	newShard.Version++

	data, err := router.Encode(router.TypeShardPut, newShard)
	if err != nil {
		rm.failTask(task, fmt.Sprintf("encode updated placement: %v", err))
		return err
	}
	if err := rm.raft.Apply(data, 10*time.Second); err != nil {
		rm.failTask(task, fmt.Sprintf("propose updated placement: %v", err))
		return err
	}

	task.mu.Lock()
	task.Status = TaskCompleted
	task.BytesMoved = totalBytes
	task.endTime = time.Now()
	task.mu.Unlock()

	rm.logger.Info("shard migration completed", "shard_id", shardID, "bytes", totalBytes, "elapsed", time.Since(task.startTime))
	return nil
}

func (rm *RebalanceManager) failTask(task *TransferTask, msg string) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.Status = TaskFailed
	task.LastError = msg
	task.endTime = time.Now()
}

// TaskStatusFor returns the current state of a shard's migration task, if any.
func (rm *RebalanceManager) TaskStatusFor(shardID uint64) (*TransferTask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	t, ok := rm.tasks[shardID]
	return t, ok
}

// IsRunning reports whether a rebalance sweep is currently executing.
func (rm *RebalanceManager) IsRunning() bool { return rm.running.Load() }

func nodeAddr(st *store.Store, nodeID uint64) string {
	if n, ok := st.Node(nodeID); ok {
		return n.GRPCAddr
	}
	return ""
}

func sameNodes(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uint64]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, c := range seen {
		if c != 0 {
			return false
		}
	}
	return true
}

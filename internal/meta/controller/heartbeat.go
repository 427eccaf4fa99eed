// Package controller runs the meta service's background cluster
// management: heartbeat-expiry liveness tracking and shard/segment
// rebalancing when the node set changes. Both only act while the local
// Raft node is leader; followers observe the same state through applied
// log entries instead of running their own copy of this logic.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/meta/router"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// proposer is the subset of *raft.Node the controller needs, kept as an
// interface so tests can supply a fake instead of standing up a real
// Raft cluster.
type proposer interface {
	IsLeader() bool
	Apply(data []byte, timeout time.Duration) error
}

// HeartbeatConfig configures liveness expiry thresholds. DeadAfter is the
// node's heartbeat timeout: once a node's heartbeat age reaches it, the
// node is unregistered and drops out of the cluster rather than sitting in
// a terminal "dead" state. SuspectAfter is an earlier, internal-only
// warning threshold surfaced through node state for `cluster status`; it
// never by itself removes a node.
type HeartbeatConfig struct {
	// SuspectAfter is how long since the last heartbeat before a node is
	// marked suspect.
	SuspectAfter time.Duration
	// DeadAfter is how long since the last heartbeat before a node is
	// unregistered from the cluster.
	DeadAfter time.Duration
	// ScanInterval is how often the expiry sweep runs.
	ScanInterval time.Duration
	Logger       *slog.Logger
}

// DefaultHeartbeatConfig sets DeadAfter to the node heartbeat timeout and
// SuspectAfter to half of it, giving `cluster status` an early warning
// before a node is actually dropped.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		SuspectAfter: 15 * time.Second,
		DeadAfter:    30 * time.Second,
		ScanInterval: 1 * time.Second,
		Logger:       slog.Default(),
	}
}

// HeartbeatController periodically sweeps the node registry for stale
// heartbeats and proposes state transitions through Raft so every
// replica agrees on cluster membership liveness.
type HeartbeatController struct {
	cfg   HeartbeatConfig
	store *store.Store
	raft  proposer

	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatController wires the controller to the shared store and a
// Raft node used to propose state transitions.
func NewHeartbeatController(cfg HeartbeatConfig, st *store.Store, node proposer) *HeartbeatController {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HeartbeatController{cfg: cfg, store: st, raft: node, logger: cfg.Logger}
}

// Start launches the background expiry sweep. Calling Start twice
// without an intervening Stop is a no-op.
func (h *HeartbeatController) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx)
}

// Stop halts the sweep and waits for the current iteration to finish.
func (h *HeartbeatController) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *HeartbeatController) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *HeartbeatController) sweep() {
	if !h.raft.IsLeader() {
		return
	}

	now := time.Now().UnixMilli()
	for _, n := range h.store.ListNodes() {
		age := time.Duration(now-n.LastHeartbeat) * time.Millisecond

		if age >= h.cfg.DeadAfter {
			h.unregister(n, age)
			continue
		}

		next := store.NodeAlive
		if age >= h.cfg.SuspectAfter {
			next = store.NodeSuspect
		}
		if next == n.State {
			continue
		}

		payload := struct {
			NodeID   uint64          `json:"node_id"`
			AtMillis int64           `json:"at_millis"`
			State    store.NodeState `json:"state"`
		}{NodeID: n.NodeID, AtMillis: n.LastHeartbeat, State: next}

		data, err := router.Encode(router.TypeNodeHeartbeat, payload)
		if err != nil {
			h.logger.Error("encode heartbeat transition", "node_id", n.NodeID, "error", err)
			continue
		}

		if err := h.raft.Apply(data, 5*time.Second); err != nil {
			h.logger.Error("propose heartbeat transition", "node_id", n.NodeID, "to", next, "error", err)
			continue
		}

		h.logger.Warn("node liveness transition", "node_id", n.NodeID, "from", n.State, "to", next, "since_last_heartbeat", age)
	}
}

// unregister proposes removing a node whose heartbeat age has crossed
// DeadAfter. It submits the same UnRegisterNode mutation the manual
// "node unregister" RPC/CLI path uses, so an expired node is dropped from
// the registry rather than parked in a terminal state.
func (h *HeartbeatController) unregister(n store.Node, age time.Duration) {
	payload := struct {
		NodeID uint64 `json:"node_id"`
	}{NodeID: n.NodeID}

	data, err := router.Encode(router.TypeNodeUnregister, payload)
	if err != nil {
		h.logger.Error("encode node unregister", "node_id", n.NodeID, "error", err)
		return
	}

	if err := h.raft.Apply(data, 5*time.Second); err != nil {
		h.logger.Error("propose node unregister", "node_id", n.NodeID, "error", err)
		return
	}

	h.logger.Warn("node heartbeat expired, unregistered", "node_id", n.NodeID, "since_last_heartbeat", age)
}

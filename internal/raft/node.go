// Package raft wraps hashicorp/raft with the tuning and lifecycle the meta
// service needs: a single Raft group spanning the whole cluster (see
// DESIGN.md for why RobustMQ runs one group rather than per-shard groups),
// BoltDB-backed log/stable stores, and voter/learner membership changes
// driven by the controller layer in internal/meta.
package raft

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config configures a Node.
type Config struct {
	// NodeID is this node's cluster-wide identifier.
	NodeID uint64
	// BindAddr is the address this node accepts Raft RPCs on.
	BindAddr string
	// DataDir holds the Raft log, stable store, and snapshots.
	DataDir string
	// Bootstrap marks this node as the cluster's first voter.
	Bootstrap bool
	// HeartbeatTimeout, ElectionTimeout, CommitTimeout, LeaderLeaseTimeout
	// tune Raft's internal timers; zero values fall back to the
	// low-latency defaults used across RobustMQ's meta cluster.
	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration
	SnapshotInterval   time.Duration
	SnapshotThreshold  uint64
	Logger             *slog.Logger
}

func (c Config) serverID() hraft.ServerID {
	return hraft.ServerID(strconv.FormatUint(c.NodeID, 10))
}

// Node wraps hashicorp/raft with RobustMQ-specific lifecycle management.
type Node struct {
	raft      *hraft.Raft
	transport *hraft.NetworkTransport
	fsm       hraft.FSM
	config    *hraft.Config
	logger    *slog.Logger

	logStore      hraft.LogStore
	stableStore   hraft.StableStore
	snapshotStore hraft.SnapshotStore

	leaderCh chan bool
}

// New creates and starts a Raft node running fsm as its state machine.
func New(cfg Config, fsm hraft.FSM) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("raft: data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("raft: create data dir: %w", err)
	}

	raftConfig := hraft.DefaultConfig()
	raftConfig.LocalID = cfg.serverID()
	raftConfig.Logger = &hcLogger{logger: cfg.Logger}

	raftConfig.HeartbeatTimeout = durOr(cfg.HeartbeatTimeout, 1000*time.Millisecond)
	raftConfig.ElectionTimeout = durOr(cfg.ElectionTimeout, 1000*time.Millisecond)
	raftConfig.CommitTimeout = durOr(cfg.CommitTimeout, 50*time.Millisecond)
	raftConfig.LeaderLeaseTimeout = durOr(cfg.LeaderLeaseTimeout, 500*time.Millisecond)
	if cfg.SnapshotInterval > 0 {
		raftConfig.SnapshotInterval = cfg.SnapshotInterval
	}
	if cfg.SnapshotThreshold > 0 {
		raftConfig.SnapshotThreshold = cfg.SnapshotThreshold
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("raft: resolve bind addr: %w", err)
	}

	transport, err := hraft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raft: create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("raft: create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("raft: create stable store: %w", err)
	}

	snapshotStore, err := hraft.NewFileSnapshotStore(cfg.DataDir, 3, os.Stderr)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("raft: create snapshot store: %w", err)
	}

	leaderCh := make(chan bool, 10)
	raftConfig.NotifyCh = leaderCh

	r, err := hraft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("raft: create raft: %w", err)
	}

	node := &Node{
		raft:          r,
		transport:     transport,
		fsm:           fsm,
		config:        raftConfig,
		logger:        cfg.Logger,
		logStore:      logStore,
		stableStore:   stableStore,
		snapshotStore: snapshotStore,
		leaderCh:      leaderCh,
	}

	if cfg.Bootstrap {
		configuration := hraft.Configuration{
			Servers: []hraft.Server{
				{ID: cfg.serverID(), Address: transport.LocalAddr()},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			node.Close()
			return nil, fmt.Errorf("raft: bootstrap cluster: %w", err)
		}
		cfg.Logger.Info("raft cluster bootstrapped", "node_id", cfg.NodeID, "addr", cfg.BindAddr)
	}

	cfg.Logger.Info("raft node created", "node_id", cfg.NodeID, "bind_addr", cfg.BindAddr, "bootstrap", cfg.Bootstrap)
	return node, nil
}

// Apply submits data to the Raft log and blocks until it commits (or the
// timeout elapses). If fsm.Apply returned an error value, that error is
// surfaced here rather than silently discarded.
func (n *Node) Apply(data []byte, timeout time.Duration) error {
	f := n.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	if resp := f.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (n *Node) IsLeader() bool { return n.raft.State() == hraft.Leader }

// Leader returns the current leader's Raft transport address.
func (n *Node) Leader() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the current leader's server ID.
func (n *Node) LeaderID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// AddVoter adds (or promotes) a full voting member.
func (n *Node) AddVoter(nodeID uint64, addr string, timeout time.Duration) error {
	id := hraft.ServerID(strconv.FormatUint(nodeID, 10))
	if err := n.raft.AddVoter(id, hraft.ServerAddress(addr), 0, timeout).Error(); err != nil {
		return fmt.Errorf("raft: add voter: %w", err)
	}
	return nil
}

// AddLearner adds a non-voting learner, used to stream a new replica up
// to date before promoting it with AddVoter (joint-consensus membership
// change, avoiding a window where quorum math is ambiguous).
func (n *Node) AddLearner(nodeID uint64, addr string, timeout time.Duration) error {
	id := hraft.ServerID(strconv.FormatUint(nodeID, 10))
	if err := n.raft.AddNonvoter(id, hraft.ServerAddress(addr), 0, timeout).Error(); err != nil {
		return fmt.Errorf("raft: add learner: %w", err)
	}
	return nil
}

// RemoveServer removes a server (voter or learner) from the cluster.
func (n *Node) RemoveServer(nodeID uint64, timeout time.Duration) error {
	id := hraft.ServerID(strconv.FormatUint(nodeID, 10))
	if err := n.raft.RemoveServer(id, 0, timeout).Error(); err != nil {
		return fmt.Errorf("raft: remove server: %w", err)
	}
	return nil
}

// Snapshot forces a snapshot outside of the normal threshold-driven cadence.
func (n *Node) Snapshot() error {
	if err := n.raft.Snapshot().Error(); err != nil {
		return fmt.Errorf("raft: snapshot: %w", err)
	}
	return nil
}

// GetConfiguration returns the current cluster membership.
func (n *Node) GetConfiguration() (*hraft.Configuration, error) {
	f := n.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("raft: get configuration: %w", err)
	}
	cfg := f.Configuration()
	return &cfg, nil
}

// LeaderCh notifies on every leadership transition (true on acquiring
// leadership, false on losing it).
func (n *Node) LeaderCh() <-chan bool { return n.leaderCh }

// Stats returns raw hashicorp/raft diagnostic counters.
func (n *Node) Stats() map[string]string { return n.raft.Stats() }

// Close shuts the Raft node and its on-disk stores down.
func (n *Node) Close() error {
	n.logger.Info("shutting down raft node")

	if err := n.raft.Shutdown().Error(); err != nil {
		n.logger.Error("raft shutdown failed", "error", err)
	}

	if s, ok := n.stableStore.(*raftboltdb.BoltStore); ok {
		if err := s.Close(); err != nil {
			n.logger.Error("close stable store failed", "error", err)
		}
	}
	if s, ok := n.logStore.(*raftboltdb.BoltStore); ok {
		if err := s.Close(); err != nil {
			n.logger.Error("close log store failed", "error", err)
		}
	}
	if err := n.transport.Close(); err != nil {
		n.logger.Error("close transport failed", "error", err)
	}

	close(n.leaderCh)
	n.logger.Info("raft node shutdown complete")
	return nil
}

func durOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

// hcLogger adapts slog.Logger to hashicorp/go-hclog.Logger, the interface
// hashicorp/raft requires for its own diagnostics.
type hcLogger struct {
	logger *slog.Logger
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Info:
		l.logger.Info(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *hcLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *hcLogger) IsTrace() bool { return false }
func (l *hcLogger) IsDebug() bool { return false }
func (l *hcLogger) IsInfo() bool  { return true }
func (l *hcLogger) IsWarn() bool  { return true }
func (l *hcLogger) IsError() bool { return true }

func (l *hcLogger) ImpliedArgs() []any           { return nil }
func (l *hcLogger) With(args ...any) hclog.Logger { return l }
func (l *hcLogger) Name() string                 { return "raft" }
func (l *hcLogger) Named(name string) hclog.Logger       { return l }
func (l *hcLogger) ResetNamed(name string) hclog.Logger  { return l }
func (l *hcLogger) SetLevel(level hclog.Level)           {}
func (l *hcLogger) GetLevel() hclog.Level                { return hclog.Info }
func (l *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger { return nil }
func (l *hcLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer   { return nil }

// Package discovery provides cluster membership discovery over gossip,
// used by meta nodes to find each other before Raft has a configuration
// and by broker/journal nodes to learn the meta cluster's address set
// without a hardcoded seed list.
package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/hashicorp/memberlist"
)

// Gossip wraps a memberlist instance carrying RobustMQ node metadata
// (numeric node ID, roles, gRPC/Raft addresses) instead of memberlist's
// bare name/address pair.
type Gossip struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	shutdown   atomic.Bool

	clusterID string

	onJoin   func(meta NodeMetadata)
	onLeave  func(nodeID uint64)
	onUpdate func(meta NodeMetadata)
}

// Config configures the gossip membership layer.
type Config struct {
	NodeID    uint64
	ClusterID string
	BindAddr  string
	BindPort  int
	GRPCAddr  string
	RaftAddr  string
	Roles     []string
	SeedNodes []string
	Logger    *slog.Logger
}

// NodeMetadata is gossiped in memberlist's per-node metadata blob so peers
// can resolve a gossip-layer node name to the addresses meta/rpc clients
// actually dial.
type NodeMetadata struct {
	NodeID    uint64   `json:"node_id"`
	ClusterID string   `json:"cluster_id"`
	Roles     []string `json:"roles"`
	GRPCAddr  string   `json:"grpc_addr"`
	RaftAddr  string   `json:"raft_addr,omitempty"`
}

// New starts gossiping and, if SeedNodes is non-empty, joins the cluster.
func New(cfg Config) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = strconv.FormatUint(cfg.NodeID, 10)
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}

	meta := NodeMetadata{
		NodeID:    cfg.NodeID,
		ClusterID: cfg.ClusterID,
		Roles:     cfg.Roles,
		GRPCAddr:  cfg.GRPCAddr,
		RaftAddr:  cfg.RaftAddr,
	}
	mlConfig.Delegate = &metadataDelegate{metadata: meta}

	g := &Gossip{
		config:    mlConfig,
		logger:    cfg.Logger,
		clusterID: cfg.ClusterID,
	}
	mlConfig.Events = &eventDelegate{gossip: g}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("discovery: create memberlist: %w", err)
	}
	g.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("discovery: join seeds: %w", err)
		}
		cfg.Logger.Info("joined gossip cluster", "node_id", cfg.NodeID, "joined_count", n)
	} else {
		cfg.Logger.Info("started gossip in bootstrap mode", "node_id", cfg.NodeID)
	}

	return g, nil
}

// Members returns the current gossip view, decoded into NodeMetadata.
func (g *Gossip) Members() []NodeMetadata {
	if g.memberList == nil {
		return nil
	}
	members := g.memberList.Members()
	out := make([]NodeMetadata, 0, len(members))
	for _, m := range members {
		var meta NodeMetadata
		if len(m.Meta) > 0 {
			if err := json.Unmarshal(m.Meta, &meta); err != nil {
				continue
			}
		}
		out = append(out, meta)
	}
	return out
}

// OnJoin registers a callback invoked when a node joins the gossip view.
func (g *Gossip) OnJoin(fn func(meta NodeMetadata)) { g.onJoin = fn }

// OnLeave registers a callback invoked when a node leaves.
func (g *Gossip) OnLeave(fn func(nodeID uint64)) { g.onLeave = fn }

// OnUpdate registers a callback invoked when a node's metadata changes.
func (g *Gossip) OnUpdate(fn func(meta NodeMetadata)) { g.onUpdate = fn }

// Leave gracefully announces departure to the cluster.
func (g *Gossip) Leave() error {
	if g.memberList == nil {
		return nil
	}
	if err := g.memberList.Leave(0); err != nil {
		return fmt.Errorf("discovery: leave: %w", err)
	}
	return nil
}

// Shutdown stops gossiping.
func (g *Gossip) Shutdown() error {
	if !g.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if g.memberList == nil {
		return nil
	}
	if err := g.memberList.Shutdown(); err != nil {
		return fmt.Errorf("discovery: shutdown memberlist: %w", err)
	}
	return nil
}

type eventDelegate struct {
	gossip *Gossip
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	meta := decodeMeta(node)
	e.gossip.logger.Info("gossip node joined", "node_id", meta.NodeID, "roles", meta.Roles)
	if e.gossip.clusterID != "" && meta.ClusterID != "" && meta.ClusterID != e.gossip.clusterID {
		e.gossip.logger.Error("rejecting node from foreign cluster", "node_id", meta.NodeID, "cluster_id", meta.ClusterID)
		return
	}
	if e.gossip.onJoin != nil {
		e.gossip.onJoin(meta)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	meta := decodeMeta(node)
	e.gossip.logger.Info("gossip node left", "node_id", meta.NodeID)
	if e.gossip.onLeave != nil {
		e.gossip.onLeave(meta.NodeID)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	meta := decodeMeta(node)
	if e.gossip.onUpdate != nil {
		e.gossip.onUpdate(meta)
	}
}

func decodeMeta(node *memberlist.Node) NodeMetadata {
	var meta NodeMetadata
	if len(node.Meta) > 0 {
		_ = json.Unmarshal(node.Meta, &meta)
	}
	if meta.GRPCAddr == "" {
		meta.GRPCAddr = net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
	}
	return meta
}

type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

type metadataDelegate struct {
	metadata NodeMetadata
}

func (m *metadataDelegate) NodeMeta(limit int) []byte {
	data, err := json.Marshal(m.metadata)
	if err != nil {
		return nil
	}
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

func (m *metadataDelegate) NotifyMsg([]byte)                           {}
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (m *metadataDelegate) LocalState(join bool) []byte                { return nil }
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool)      {}

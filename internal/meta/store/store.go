package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/meta/placement"
)

// Store is the meta service's full replicated state: small, hot
// membership/placement tables kept in memory, backed for durability by
// snapshot/restore, plus the larger MQTT control tables which live
// directly in Badger column families since they can grow far past what's
// comfortable to keep fully in memory on every node.
type Store struct {
	mu sync.RWMutex

	nodes    map[uint64]*Node
	shards   map[uint64]*Shard
	segments map[string]*SegmentMeta // "<shardID>/<segmentID>"
	ring     *placement.Ring

	// exclusiveSubs maps an exclusive topic filter to the client id
	// currently holding it (spec §4.9: "$exclusive/<filter>: at most one
	// active subscriber cluster-wide"). Small and hot, so it lives with
	// the other in-memory membership/placement tables rather than in a
	// Badger CF, and is captured by the same Raft snapshot.
	exclusiveSubs map[string]string

	logger *slog.Logger

	users     *kv.CF
	acls      *kv.CF
	blacklist *kv.CF
	sessions  *kv.CF
	retained  *kv.CF
	userKV    *kv.CF
}

// New creates a Store backed by engine for its large MQTT tables.
func New(engine kv.Engine, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		nodes:         make(map[uint64]*Node),
		shards:        make(map[uint64]*Shard),
		segments:      make(map[string]*SegmentMeta),
		exclusiveSubs: make(map[string]string),
		ring:          placement.New(),
		logger:        logger,
		users:     kv.NewCF(engine, kv.CFMQTTUser),
		acls:      kv.NewCF(engine, kv.CFMQTTACL),
		blacklist: kv.NewCF(engine, kv.CFMQTTTopic+"-bl"),
		sessions:  kv.NewCF(engine, kv.CFMQTTTopic+"-ss"),
		retained:  kv.NewCF(engine, kv.CFMQTTTopic+"-rt"),
		userKV:    kv.NewCF(engine, kv.CFKV),
	}
}

func segmentKey(shardID, segmentID uint64) string {
	return fmt.Sprintf("%d/%d", shardID, segmentID)
}

// --- Node registry -----------------------------------------------------

// RegisterNode adds or updates a cluster member and places it on the
// placement ring.
func (s *Store) RegisterNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.NodeID] = n
	s.ring.AddNode(n.NodeID)
	s.logger.Info("node registered", "node_id", n.NodeID, "roles", n.Roles, "addr", n.GRPCAddr)
}

// UnregisterNode removes a node from membership and the placement ring.
// Existing shard/segment assignments referencing it are left untouched;
// the rebalance controller is responsible for re-placing them.
func (s *Store) UnregisterNode(nodeID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, nodeID)
	s.ring.RemoveNode(nodeID)
	s.logger.Info("node unregistered", "node_id", nodeID)
}

// Heartbeat refreshes a node's liveness timestamp.
func (s *Store) Heartbeat(nodeID uint64, atMillis int64, state NodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		n.LastHeartbeat = atMillis
		n.State = state
	}
}

// Node returns a copy of a node record.
func (s *Store) Node(nodeID uint64) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// ListNodes returns all known nodes sorted by ID.
func (s *Store) ListNodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Ring exposes the placement ring for read-only routing decisions made
// outside of a Raft-applied mutation (e.g. the broker resolving which
// journal node owns a shard).
func (s *Store) Ring() *placement.Ring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring
}

// --- Shards --------------------------------------------------------

// PutShard inserts or replaces a shard record.
func (s *Store) PutShard(sh *Shard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[sh.ShardID] = sh
}

// Shard returns a copy of a shard record.
func (s *Store) Shard(shardID uint64) (Shard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[shardID]
	if !ok {
		return Shard{}, false
	}
	return *sh, true
}

// DeleteShard removes a shard record.
func (s *Store) DeleteShard(shardID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shards, shardID)
}

// ListShards returns all shard records sorted by ID.
func (s *Store) ListShards() []Shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Shard, 0, len(s.shards))
	for _, sh := range s.shards {
		out = append(out, *sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out
}

// --- Segments --------------------------------------------------------

func (s *Store) PutSegment(seg *SegmentMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[segmentKey(seg.ShardID, seg.SegmentID)] = seg
}

func (s *Store) Segment(shardID, segmentID uint64) (SegmentMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[segmentKey(shardID, segmentID)]
	if !ok {
		return SegmentMeta{}, false
	}
	return *seg, true
}

func (s *Store) DeleteSegment(shardID, segmentID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.segments, segmentKey(shardID, segmentID))
}

// UpdateSegmentStatus drives one edge of the segment state machine (spec
// §4.3.1). It is a no-op (reported via ok=false) if the segment doesn't
// exist or the transition isn't legal from its current status, so a
// replayed or duplicate controller tick can never corrupt the state
// machine: Apply must be deterministic, and rejecting an illegal edge the
// same way on every replica is what keeps it so.
func (s *Store) UpdateSegmentStatus(shardID, segmentID uint64, status SegmentStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segmentKey(shardID, segmentID)]
	if !ok || !seg.Status.CanTransition(status) {
		return false
	}
	seg.Status = status
	return true
}

// SealSegment applies the PreSealUp -> SealUp edge atomically with the
// final SegmentMeta the leader reported (spec §4.3.1: "meta is written
// atomically with the status change"). It accepts the transition from
// either PreSealUp (the normal seal_request -> seal_ack path) or Writing
// directly (an admin-forced seal that skipped the request step), since
// both are legal predecessors of SealUp once the leader has a final
// offset range to report.
func (s *Store) SealSegment(shardID, segmentID uint64, startOffset, endOffset uint64, startTS, endTS, sealedAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segmentKey(shardID, segmentID)]
	if !ok {
		return false
	}
	if seg.Status != SegmentPreSealUp && seg.Status != SegmentWriting {
		return false
	}
	seg.Status = SegmentSealUp
	seg.StartOffset = startOffset
	seg.EndOffset = endOffset
	seg.StartTimestamp = startTS
	seg.EndTimestamp = endTS
	seg.SealedAt = sealedAt
	return true
}

// UpdateSegmentLeader records a new leader for a segment, incrementing
// leader_epoch (spec GLOSSARY: "monotonically increasing counter,
// incremented on every leader change for a segment").
func (s *Store) UpdateSegmentLeader(shardID, segmentID, newLeader uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segmentKey(shardID, segmentID)]
	if !ok {
		return false
	}
	seg.Leader = newLeader
	seg.LeaderEpoch++
	inISR := false
	for _, id := range seg.ISR {
		if id == newLeader {
			inISR = true
			break
		}
	}
	if !inISR {
		seg.ISR = append(seg.ISR, newLeader)
	}
	return true
}

// SegmentCountForNode counts segments whose replica set includes nodeID,
// the input to the replica-placement ranking of spec §4.3.2 ("rank nodes
// by segments_hosted ASC, node_id ASC").
func (s *Store) SegmentCountForNode(nodeID uint64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, seg := range s.segments {
		for _, r := range seg.Replicas {
			if r.NodeID == nodeID {
				n++
				break
			}
		}
	}
	return n
}

// AllSegments returns every segment record known to this node, in no
// particular order; used by GC controllers that sweep the whole table.
func (s *Store) AllSegments() []SegmentMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SegmentMeta, 0, len(s.segments))
	for _, seg := range s.segments {
		out = append(out, *seg)
	}
	return out
}

// SegmentsForShard returns every segment belonging to a shard, ordered by
// segment ID (oldest first).
func (s *Store) SegmentsForShard(shardID uint64) []SegmentMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SegmentMeta
	for _, seg := range s.segments {
		if seg.ShardID == shardID {
			out = append(out, *seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out
}

// --- Exclusive subscriptions -----------------------------------------

// TryAcquireExclusive grants clientID the cluster-wide lock on filter if
// it is free or already held by clientID itself (re-subscription after a
// reconnect), and rejects it otherwise. This is the Raft-routed
// equivalent of a set-nx: since kv.CF has no compare-and-swap primitive,
// and the decision must be identical on every replica, the acquisition
// itself is proposed as a log entry and this method is only ever called
// from within Apply, on the committed entry, the same way segment state
// transitions are decided.
func (s *Store) TryAcquireExclusive(filter, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.exclusiveSubs[filter]; ok && holder != clientID {
		return false
	}
	s.exclusiveSubs[filter] = clientID
	return true
}

// ReleaseExclusive drops clientID's hold on filter, a no-op if clientID
// isn't the current holder (an unsubscribe racing a takeover it already
// lost).
func (s *Store) ReleaseExclusive(filter, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.exclusiveSubs[filter]; ok && holder == clientID {
		delete(s.exclusiveSubs, filter)
	}
}

// ExclusiveHolder reports the client currently holding filter, if any.
func (s *Store) ExclusiveHolder(filter string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holder, ok := s.exclusiveSubs[filter]
	return holder, ok
}

// ReleaseAllExclusive drops every exclusive hold owned by clientID, used
// on session close/takeover so a crashed client doesn't wedge the filter
// forever.
func (s *Store) ReleaseAllExclusive(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for filter, holder := range s.exclusiveSubs {
		if holder == clientID {
			delete(s.exclusiveSubs, filter)
		}
	}
}

// --- MQTT control tables (Badger-backed) ----------------------------

func (s *Store) PutUser(ctx context.Context, u *MQTTUser) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.users.Set(ctx, []byte(u.Username), data)
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	return s.users.Delete(ctx, []byte(username))
}

func (s *Store) GetUser(ctx context.Context, username string) (*MQTTUser, error) {
	data, err := s.users.Get(ctx, []byte(username))
	if err != nil {
		return nil, err
	}
	var u MQTTUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]MQTTUser, error) {
	var out []MQTTUser
	err := s.users.Scan(ctx, nil, func(key, value []byte) bool {
		var u MQTTUser
		if json.Unmarshal(value, &u) == nil {
			out = append(out, u)
		}
		return true
	})
	return out, err
}

func (s *Store) PutACL(ctx context.Context, rule *ACLRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	return s.acls.Set(ctx, []byte(rule.ID), data)
}

func (s *Store) DeleteACL(ctx context.Context, id string) error {
	return s.acls.Delete(ctx, []byte(id))
}

func (s *Store) ListACLs(ctx context.Context) ([]ACLRule, error) {
	var out []ACLRule
	err := s.acls.Scan(ctx, nil, func(key, value []byte) bool {
		var r ACLRule
		if json.Unmarshal(value, &r) == nil {
			out = append(out, r)
		}
		return true
	})
	return out, err
}

func (s *Store) PutBlacklist(ctx context.Context, b *Blacklist) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.blacklist.Set(ctx, []byte(b.Kind+":"+b.Value), data)
}

func (s *Store) DeleteBlacklist(ctx context.Context, kind, value string) error {
	return s.blacklist.Delete(ctx, []byte(kind+":"+value))
}

func (s *Store) ListBlacklist(ctx context.Context) ([]Blacklist, error) {
	var out []Blacklist
	err := s.blacklist.Scan(ctx, nil, func(key, value []byte) bool {
		var b Blacklist
		if json.Unmarshal(value, &b) == nil {
			out = append(out, b)
		}
		return true
	})
	return out, err
}

func (s *Store) PutSession(ctx context.Context, rec *SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.sessions.Set(ctx, []byte(rec.ClientID), data)
}

func (s *Store) GetSession(ctx context.Context, clientID string) (*SessionRecord, error) {
	data, err := s.sessions.Get(ctx, []byte(clientID))
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteSession(ctx context.Context, clientID string) error {
	return s.sessions.Delete(ctx, []byte(clientID))
}

func (s *Store) PutRetained(ctx context.Context, msg *RetainedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.retained.Set(ctx, []byte(msg.Topic), data)
}

func (s *Store) DeleteRetained(ctx context.Context, topic string) error {
	return s.retained.Delete(ctx, []byte(topic))
}

func (s *Store) GetRetained(ctx context.Context, topic string) (*RetainedMessage, error) {
	data, err := s.retained.Get(ctx, []byte(topic))
	if err != nil {
		return nil, err
	}
	var msg RetainedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListRetained returns every retained message, for a new subscription to
// filter against its wildcard filter (spec §4.9: "replay matching
// retained messages"). Retained topics aren't indexed by wildcard level,
// so matching is done by the caller after listing.
func (s *Store) ListRetained(ctx context.Context) ([]RetainedMessage, error) {
	var out []RetainedMessage
	err := s.retained.Scan(ctx, nil, func(_, value []byte) bool {
		var msg RetainedMessage
		if json.Unmarshal(value, &msg) == nil {
			out = append(out, msg)
		}
		return true
	})
	return out, err
}

func (s *Store) PutKV(ctx context.Context, e *KVEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.userKV.Set(ctx, []byte(e.Key), data)
}

func (s *Store) GetKV(ctx context.Context, key string) (*KVEntry, error) {
	data, err := s.userKV.Get(ctx, []byte(key))
	if err != nil {
		return nil, err
	}
	var e KVEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeleteKV(ctx context.Context, key string) error {
	return s.userKV.Delete(ctx, []byte(key))
}

func (s *Store) ListKV(ctx context.Context, prefix string) ([]KVEntry, error) {
	var out []KVEntry
	err := s.userKV.Scan(ctx, []byte(prefix), func(key, value []byte) bool {
		var e KVEntry
		if json.Unmarshal(value, &e) == nil {
			out = append(out, e)
		}
		return true
	})
	return out, err
}

// --- Snapshot/restore of the in-memory tables ------------------------

// memState is the JSON shape persisted by the Raft FSM snapshot; the
// Badger-backed tables snapshot themselves independently (kv.Engine.Save/LoadSnapshot).
type memState struct {
	Nodes         map[uint64]*Node        `json:"nodes"`
	Shards        map[uint64]*Shard       `json:"shards"`
	Segments      map[string]*SegmentMeta `json:"segments"`
	RingNodes     []uint64                `json:"ring_nodes"`
	ExclusiveSubs map[string]string       `json:"exclusive_subs"`
}

// SnapshotMem captures the in-memory tables for inclusion in a Raft
// snapshot.
func (s *Store) SnapshotMem() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := memState{
		Nodes:         make(map[uint64]*Node, len(s.nodes)),
		Shards:        make(map[uint64]*Shard, len(s.shards)),
		Segments:      make(map[string]*SegmentMeta, len(s.segments)),
		ExclusiveSubs: make(map[string]string, len(s.exclusiveSubs)),
	}
	for k, v := range s.nodes {
		cp := *v
		state.Nodes[k] = &cp
	}
	for k, v := range s.shards {
		cp := *v
		state.Shards[k] = &cp
	}
	for k, v := range s.segments {
		cp := *v
		state.Segments[k] = &cp
	}
	state.RingNodes = s.ring.Nodes()
	for k, v := range s.exclusiveSubs {
		state.ExclusiveSubs[k] = v
	}

	return json.Marshal(state)
}

// RestoreMem replaces the in-memory tables from a snapshot produced by
// SnapshotMem.
func (s *Store) RestoreMem(data []byte) error {
	var state memState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = state.Nodes
	if s.nodes == nil {
		s.nodes = make(map[uint64]*Node)
	}
	s.shards = state.Shards
	if s.shards == nil {
		s.shards = make(map[uint64]*Shard)
	}
	s.segments = state.Segments
	if s.segments == nil {
		s.segments = make(map[string]*SegmentMeta)
	}

	s.ring = placement.New()
	for _, id := range state.RingNodes {
		s.ring.AddNode(id)
	}

	s.exclusiveSubs = state.ExclusiveSubs
	if s.exclusiveSubs == nil {
		s.exclusiveSubs = make(map[string]string)
	}

	s.logger.Info("meta store restored from snapshot",
		"nodes", len(s.nodes), "shards", len(s.shards), "segments", len(s.segments))
	return nil
}

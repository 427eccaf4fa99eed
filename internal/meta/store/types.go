// Package store holds the meta service's replicated data model: the
// cluster's node registry, shard/segment placement, and the MQTT control
// data (users, ACLs, blacklist entries, retained messages, session
// pointers) that brokers resolve through MetaMqtt/MetaKv RPCs. Every
// mutation reaches this package only through the FSM in internal/meta/router,
// which is the sole writer once Raft has committed a log entry.
package store

import "time"

// NodeRole identifies which of the three RobustMQ services a node runs.
type NodeRole string

const (
	RoleMeta    NodeRole = "meta"
	RoleBroker  NodeRole = "broker"
	RoleJournal NodeRole = "journal"
)

// NodeState tracks cluster membership liveness as observed by the
// heartbeat-expiry controller.
type NodeState string

const (
	NodeAlive   NodeState = "alive"
	NodeSuspect NodeState = "suspect"
	NodeDead    NodeState = "dead"
)

// Node is a registered cluster member.
type Node struct {
	NodeID        uint64    `json:"node_id"`
	Roles         []string  `json:"roles"`
	GRPCAddr      string    `json:"grpc_addr"`
	RaftAddr      string    `json:"raft_addr,omitempty"`
	State         NodeState `json:"state"`
	RegisteredAt  int64     `json:"registered_at"`
	LastHeartbeat int64     `json:"last_heartbeat"`
}

// HasRole reports whether the node advertises the given role.
func (n *Node) HasRole(role NodeRole) bool {
	for _, r := range n.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// ShardConfig holds the per-shard knobs spec §3 groups under Shard.config:
// replica count, segment roll-over size, and retention. DurableSync is
// kept here rather than per-node per DESIGN.md's Open Question decision.
type ShardConfig struct {
	ReplicaNum     int   `json:"replica_num"`
	MaxSegmentSize int64 `json:"max_segment_size"`
	RetentionSec   int64 `json:"retention_sec"`
	DurableSync    bool  `json:"durable_sync"`
}

// Shard is a logical partition of MQTT topic traffic, placed onto one
// primary journal node plus a set of replicas by the placement ring.
type Shard struct {
	ShardID        uint64      `json:"shard_id"`
	Namespace      string      `json:"namespace"`
	Topic          string      `json:"topic"`
	PrimaryNode    uint64      `json:"primary_node"`
	Replicas       []uint64    `json:"replicas"`
	Config         ShardConfig `json:"config"`
	ActiveSeg      uint64      `json:"active_segment_id"`   // spec's active_segment_seq
	LastSegmentSeq uint64      `json:"last_segment_seq"`
	Version        uint64      `json:"version"`
	CreatedAt      int64       `json:"created_at"`
}

// SegmentStatus is the full segment lifecycle state machine of spec
// §4.3.1:
//
//	Idle --activate--> Write --seal_request--> PreSealUp --seal_ack--> SealUp
//	SealUp --delete_request--> PreDelete --delete_ack--> Deleting --purged--> (removed)
//
// PreWrite exists for symmetry with the activation handshake (a segment
// created but not yet ACKed by its elected leader); RobustMQ's
// CreateNextSegment resolves the leader synchronously so segments
// normally skip straight from Idle to Write, but the state is kept so a
// slow-ACK path has somewhere to sit rather than being force-fit into
// Idle or Write.
type SegmentStatus string

const (
	SegmentIdle      SegmentStatus = "idle"
	SegmentPreWrite  SegmentStatus = "pre_write"
	SegmentWriting   SegmentStatus = "writing" // spec's "Write"
	SegmentPreSealUp SegmentStatus = "pre_seal_up"
	SegmentSealUp    SegmentStatus = "seal_up" // spec's "SealUp"; immutable
	SegmentPreDelete SegmentStatus = "pre_delete"
	SegmentDeleting  SegmentStatus = "deleting"

	// SegmentSealed/SegmentDeleted are kept as aliases of SegmentSealUp/
	// SegmentDeleting for callers and snapshots written before the
	// 7-state machine replaced the original 3-state placeholder.
	SegmentSealed  SegmentStatus = SegmentSealUp
	SegmentDeleted SegmentStatus = SegmentDeleting
)

// validSegmentTransitions enumerates the edges the state machine allows;
// UpdateSegmentStatus (router.TypeSegmentStatus) rejects anything else so
// a bug upstream can't silently skip a handshake step.
var validSegmentTransitions = map[SegmentStatus][]SegmentStatus{
	SegmentIdle:      {SegmentPreWrite, SegmentWriting},
	SegmentPreWrite:  {SegmentWriting},
	SegmentWriting:   {SegmentPreSealUp},
	SegmentPreSealUp: {SegmentSealUp, SegmentWriting}, // failed seal_ack retries from Write
	SegmentSealUp:    {SegmentPreDelete},
	SegmentPreDelete: {SegmentDeleting, SegmentSealUp}, // failed delete_ack retries
	SegmentDeleting:  {},
}

// CanTransition reports whether moving from to is a legal edge in the
// segment state machine.
func (s SegmentStatus) CanTransition(to SegmentStatus) bool {
	for _, next := range validSegmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SegmentReplica is one node's placement for a segment: which node holds
// it, which on-disk fold it was assigned round-robin (spec §4.3.2 step
// 2), and its position in the replica list (position 0 is the preferred
// replica the preferred-replica-election controller tries to restore
// leadership to).
type SegmentReplica struct {
	NodeID     uint64 `json:"node_id"`
	Fold       string `json:"fold"`
	ReplicaSeq int    `json:"replica_seq"`
}

// SegmentMeta is the control-plane record for one journal segment file;
// the data itself lives on the journal node named by its shard's replica
// set, not in the meta store.
type SegmentMeta struct {
	ShardID      uint64           `json:"shard_id"`
	SegmentID    uint64           `json:"segment_id"`
	Status       SegmentStatus    `json:"status"`
	StartOffset  uint64           `json:"start_offset"`
	EndOffset    uint64           `json:"end_offset"`
	StartTimestamp int64          `json:"start_timestamp,omitempty"`
	EndTimestamp   int64          `json:"end_timestamp,omitempty"`
	SizeBytes    int64            `json:"size_bytes"`
	Replicas     []SegmentReplica `json:"replicas"`
	Leader       uint64           `json:"leader"`
	LeaderEpoch  uint64           `json:"leader_epoch"`
	ISR          []uint64         `json:"isr"` // in-sync replica node IDs
	CreatedAt    int64            `json:"created_at"`
	SealedAt     int64            `json:"sealed_at,omitempty"`
}

// Preferred returns the segment's preferred-replica node ID (replicas[0]
// per spec §4.3.2), or 0 if the segment has no recorded replica list.
func (sm *SegmentMeta) Preferred() uint64 {
	if len(sm.Replicas) == 0 {
		return 0
	}
	return sm.Replicas[0].NodeID
}

// MQTTUser is a broker-authenticatable credential.
type MQTTUser struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	IsSuperuser  bool   `json:"is_superuser"`
	CreatedAt    int64  `json:"created_at"`
}

// ACLPermission is the effect of an ACL rule.
type ACLPermission string

const (
	ACLAllow ACLPermission = "allow"
	ACLDeny  ACLPermission = "deny"
)

// ACLAction scopes an ACL rule to publish, subscribe, or both.
type ACLAction string

const (
	ACLPublish   ACLAction = "publish"
	ACLSubscribe ACLAction = "subscribe"
	ACLAll       ACLAction = "all"
)

// ACLRule grants or denies a principal access to a topic filter.
type ACLRule struct {
	ID         string        `json:"id"`
	Username   string        `json:"username,omitempty"`
	ClientID   string        `json:"client_id,omitempty"`
	IPAddr     string        `json:"ip_addr,omitempty"`
	TopicFilter string       `json:"topic_filter"`
	Action     ACLAction     `json:"action"`
	Permission ACLPermission `json:"permission"`
}

// Blacklist bans a username, client ID, or IP from connecting.
type Blacklist struct {
	Kind      string `json:"kind"` // "username" | "client_id" | "ip"
	Value     string `json:"value"`
	Reason    string `json:"reason,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // 0 = never
}

// SessionRecord is the durable pointer to a client's session, tracking
// which broker node currently owns the live connection so the cluster can
// reject/redirect a second CONNECT for the same client ID.
type SessionRecord struct {
	ClientID        string `json:"client_id"`
	OwnerNode       uint64 `json:"owner_node"`
	CleanStart      bool   `json:"clean_start"`
	SessionExpiry   uint32 `json:"session_expiry_interval"`
	CreatedAt       int64  `json:"created_at"`
	LastConnectedAt int64  `json:"last_connected_at"`
}

// RetainedMessage is the last retained publish for a topic, replicated
// through meta so any broker node can serve it to a new subscriber.
type RetainedMessage struct {
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	QoS       byte   `json:"qos"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	StoredAt  int64  `json:"stored_at"`
}

// KVEntry is a generic user-facing key/value pair exposed through the
// MetaKv.* RPC surface (component J's client-facing namespace), distinct
// from the internal column families meta uses for its own bookkeeping.
type KVEntry struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }

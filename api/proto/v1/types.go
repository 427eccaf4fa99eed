package v1

import "google.golang.org/protobuf/types/known/timestamppb"

// --- MetaService.* --------------------------------------------------

type RegisterNodeRequest struct {
	NodeID   uint64   `json:"node_id"`
	NodeIP   string   `json:"node_ip"`
	GRPCAddr string   `json:"grpc_addr"`
	RaftAddr string   `json:"raft_addr,omitempty"`
	Roles    []string `json:"roles"`
}

type RegisterNodeResponse struct {
	RegisterTime *timestamppb.Timestamp `json:"register_time"`
}

type UnRegisterNodeRequest struct {
	NodeID uint64 `json:"node_id"`
}

type UnRegisterNodeResponse struct{}

type HeartbeatRequest struct {
	NodeID uint64 `json:"node_id"`
}

type HeartbeatResponse struct{}

type NodeListRequest struct {
	ClusterType string `json:"cluster_type,omitempty"`
}

type NodeInfo struct {
	NodeID        uint64   `json:"node_id"`
	Roles         []string `json:"roles"`
	GRPCAddr      string   `json:"grpc_addr"`
	State         string   `json:"state"`
	LastHeartbeat int64    `json:"last_heartbeat"`
}

type NodeListResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

// --- MetaJournal.* ----------------------------------------------------

type CreateShardRequest struct {
	Namespace      string `json:"namespace"`
	ShardName      string `json:"shard_name"`
	ReplicaNum     int    `json:"replica_num"`
	MaxSegmentSize int64  `json:"max_segment_size"`
	RetentionSec   int64  `json:"retention_sec"`
	DurableSync    bool   `json:"durable_sync"`
}

type CreateShardResponse struct {
	ShardID uint64 `json:"shard_id"`
}

type DeleteShardRequest struct {
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
}

type DeleteShardResponse struct{}

type CreateNextSegmentRequest struct {
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
}

type SegmentReplica struct {
	NodeID     uint64 `json:"node_id"`
	Fold       string `json:"fold"`
	ReplicaSeq int    `json:"replica_seq"`
}

type CreateNextSegmentResponse struct {
	SegmentSeq uint32           `json:"segment_seq"`
	Replicas   []SegmentReplica `json:"replicas"`
	Leader     uint64           `json:"leader"`
}

type SealUpSegmentRequest struct {
	Namespace     string `json:"namespace"`
	ShardName     string `json:"shard_name"`
	SegmentSeq    uint32 `json:"segment_seq"`
	StartOffset   uint64 `json:"start_offset"`
	EndOffset     uint64 `json:"end_offset"`
	StartTime     int64  `json:"start_timestamp"`
	EndTime       int64  `json:"end_timestamp"`
}

type SealUpSegmentResponse struct {
	SealedAt *timestamppb.Timestamp `json:"sealed_at"`
}

type DeleteSegmentRequest struct {
	Namespace  string `json:"namespace"`
	ShardName  string `json:"shard_name"`
	SegmentSeq uint32 `json:"segment_seq"`
}

type DeleteSegmentResponse struct{}

// --- MetaKv.* -----------------------------------------------------------

type KvSetRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type KvSetResponse struct{}

type KvGetRequest struct {
	Key string `json:"key"`
}

type KvGetResponse struct {
	Value []byte `json:"value"`
	Found bool   `json:"found"`
}

type KvDeleteRequest struct {
	Key string `json:"key"`
}

type KvDeleteResponse struct{}

type KvExistsRequest struct {
	Key string `json:"key"`
}

type KvExistsResponse struct {
	Exists bool `json:"exists"`
}

type KvPrefixListRequest struct {
	Prefix string `json:"prefix"`
}

type KvPrefixListResponse struct {
	Entries []KvEntry `json:"entries"`
}

type KvEntry struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// --- MetaMqtt.* (broker control-plane tables + exclusive subscription
// coordination, spec §4.9) ----------------------------------------------

type AcquireExclusiveSubRequest struct {
	Filter   string `json:"filter"`
	ClientID string `json:"client_id"`
}

type AcquireExclusiveSubResponse struct {
	Granted bool `json:"granted"`
}

type ReleaseExclusiveSubRequest struct {
	Filter   string `json:"filter"`
	ClientID string `json:"client_id"`
}

type ReleaseExclusiveSubResponse struct{}

type MQTTUser struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	IsSuperuser  bool   `json:"is_superuser"`
}

type PutUserRequest struct{ User MQTTUser }
type PutUserResponse struct{}

type DeleteUserRequest struct{ Username string }
type DeleteUserResponse struct{}

type GetUserRequest struct{ Username string }
type GetUserResponse struct {
	User  MQTTUser `json:"user"`
	Found bool     `json:"found"`
}

type ListUsersRequest struct{}
type ListUsersResponse struct{ Users []MQTTUser }

type ACLRule struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	IPAddr      string `json:"ip_addr,omitempty"`
	TopicFilter string `json:"topic_filter"`
	Action      string `json:"action"`
	Permission  string `json:"permission"`
}

type PutACLRequest struct{ Rule ACLRule }
type PutACLResponse struct{}

type DeleteACLRequest struct{ ID string }
type DeleteACLResponse struct{}

type ListACLsRequest struct{}
type ListACLsResponse struct{ Rules []ACLRule }

type Blacklist struct {
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	Reason    string `json:"reason,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type PutBlacklistRequest struct{ Entry Blacklist }
type PutBlacklistResponse struct{}

type DeleteBlacklistRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}
type DeleteBlacklistResponse struct{}

type ListBlacklistRequest struct{}
type ListBlacklistResponse struct{ Entries []Blacklist }

type SessionRecord struct {
	ClientID        string `json:"client_id"`
	OwnerNode       uint64 `json:"owner_node"`
	CleanStart      bool   `json:"clean_start"`
	SessionExpiry   uint32 `json:"session_expiry_interval"`
	LastConnectedAt int64  `json:"last_connected_at"`
}

type PutSessionRequest struct{ Session SessionRecord }
type PutSessionResponse struct{}

type GetSessionRequest struct{ ClientID string }
type GetSessionResponse struct {
	Session SessionRecord `json:"session"`
	Found   bool          `json:"found"`
}

type DeleteSessionRequest struct{ ClientID string }
type DeleteSessionResponse struct{}

type RetainedMessage struct {
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	QoS       byte   `json:"qos"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type PutRetainedRequest struct{ Message RetainedMessage }
type PutRetainedResponse struct{}

type GetRetainedRequest struct{ Topic string }
type GetRetainedResponse struct {
	Message RetainedMessage `json:"message"`
	Found   bool            `json:"found"`
}

type DeleteRetainedRequest struct{ Topic string }
type DeleteRetainedResponse struct{}

type ListRetainedRequest struct{}
type ListRetainedResponse struct{ Messages []RetainedMessage }

// --- JournalInner.* ----------------------------------------------------

type JournalWriteRequest struct {
	Namespace  string          `json:"namespace"`
	ShardName  string          `json:"shard_name"`
	SegmentSeq uint32          `json:"segment_seq"`
	Records    []JournalRecord `json:"records"`
}

type JournalRecord struct {
	Header map[string]string `json:"header,omitempty"`
	Key    []byte            `json:"key"`
	Value  []byte            `json:"value"`
	Tags   []string          `json:"tags,omitempty"`
}

type JournalWriteResponse struct {
	Offsets []uint64 `json:"offsets"`
}

// NotLeaderHint is carried inside a connect.Error detail when a
// JournalInner.Write targets a non-leader replica (spec §4.7, §7).
type NotLeaderHint struct {
	CurrentLeader uint64 `json:"current_leader"`
}

type JournalReadRequest struct {
	Namespace  string `json:"namespace"`
	ShardName  string `json:"shard_name"`
	SegmentSeq uint32 `json:"segment_seq"`
	Offset     uint64 `json:"offset"`
	MaxRecords int    `json:"max_records"`
}

type JournalReadResponse struct {
	Records []JournalRecordOut `json:"records"`
}

type JournalRecordOut struct {
	Offset    uint64            `json:"offset"`
	Timestamp int64             `json:"timestamp"`
	Header    map[string]string `json:"header,omitempty"`
	Key       []byte            `json:"key"`
	Value     []byte            `json:"value"`
	Tags      []string          `json:"tags,omitempty"`
}

type OffsetCommitRequest struct {
	Group     string `json:"group"`
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
	Offset    uint64 `json:"offset"`
}

type OffsetCommitResponse struct{}

type FetchOffsetRequest struct {
	Group      string `json:"group"`
	Namespace  string `json:"namespace"`
	ShardName  string `json:"shard_name"`
	SegmentSeq uint32 `json:"segment_seq"`
	Strategy   string `json:"strategy"` // "earliest" | "latest" | "timestamp"
	AtSec      int64  `json:"at_sec,omitempty"`
}

type FetchOffsetResponse struct {
	Offset uint64 `json:"offset"`
}

type GetActiveSegmentRequest struct {
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
}

type GetActiveSegmentResponse struct {
	SegmentSeq uint32           `json:"segment_seq"`
	Replicas   []SegmentReplica `json:"replicas"`
	Leader     uint64           `json:"leader"`
}

type UpdateCacheRequest struct {
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	Payload      []byte `json:"payload"`
}

type UpdateCacheResponse struct{}

type DeleteShardFileRequest struct {
	Namespace   string   `json:"namespace"`
	ShardName   string   `json:"shard_name"`
	SegmentSeqs []uint32 `json:"segment_seqs"`
}

type DeleteShardFileResponse struct{}

type GetShardDeleteStatusRequest struct {
	Namespace   string   `json:"namespace"`
	ShardName   string   `json:"shard_name"`
	SegmentSeqs []uint32 `json:"segment_seqs"`
}

type GetShardDeleteStatusResponse struct {
	Done bool `json:"done"`
}

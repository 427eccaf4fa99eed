package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robustmq/robustmq/internal/meta/router"
	"github.com/robustmq/robustmq/internal/meta/store"
	"github.com/robustmq/robustmq/internal/raft"

	"google.golang.org/protobuf/types/known/timestamppb"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

func timestampNow() *timestamppb.Timestamp {
	return timestamppb.New(time.Now())
}

// ApplyTimeout bounds how long a mutating RPC waits for its Raft entry to
// commit before giving up.
const ApplyTimeout = 5 * time.Second

// MetaServer implements the business logic behind MetaService, MetaJournal,
// and MetaKv: every mutation is encoded as a router.StorageData entry and
// driven through raft.Node.Apply so all replicas observe the same order;
// every read goes straight to the local store.Store, which is current as
// of the last locally-applied index (linearizable only when this node
// holds leadership).
type MetaServer struct {
	node *raft.Node
	st   *store.Store
	log  *slog.Logger
}

func NewMetaServer(node *raft.Node, st *store.Store, logger *slog.Logger) *MetaServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetaServer{node: node, st: st, log: logger}
}

func (m *MetaServer) apply(t router.StorageDataType, payload any) error {
	data, err := router.Encode(t, payload)
	if err != nil {
		return err
	}
	return m.node.Apply(data, ApplyTimeout)
}

// --- MetaService --------------------------------------------------------

func (m *MetaServer) RegisterNode(ctx context.Context, req *v1.RegisterNodeRequest) (*v1.RegisterNodeResponse, error) {
	n := store.Node{
		NodeID:       req.NodeID,
		Roles:        req.Roles,
		GRPCAddr:     req.GRPCAddr,
		RaftAddr:     req.RaftAddr,
		State:        store.NodeAlive,
		RegisteredAt: time.Now().UnixMilli(),
	}
	if err := m.apply(router.TypeNodeRegister, n); err != nil {
		return nil, fmt.Errorf("rpc: register node: %w", err)
	}
	return &v1.RegisterNodeResponse{RegisterTime: timestampNow()}, nil
}

func (m *MetaServer) UnRegisterNode(ctx context.Context, req *v1.UnRegisterNodeRequest) (*v1.UnRegisterNodeResponse, error) {
	payload := struct {
		NodeID uint64 `json:"node_id"`
	}{req.NodeID}
	if err := m.apply(router.TypeNodeUnregister, payload); err != nil {
		return nil, fmt.Errorf("rpc: unregister node: %w", err)
	}
	return &v1.UnRegisterNodeResponse{}, nil
}

func (m *MetaServer) Heartbeat(ctx context.Context, req *v1.HeartbeatRequest) (*v1.HeartbeatResponse, error) {
	payload := struct {
		NodeID   uint64          `json:"node_id"`
		AtMillis int64           `json:"at_millis"`
		State    store.NodeState `json:"state"`
	}{req.NodeID, time.Now().UnixMilli(), store.NodeAlive}
	if err := m.apply(router.TypeNodeHeartbeat, payload); err != nil {
		return nil, fmt.Errorf("rpc: heartbeat: %w", err)
	}
	return &v1.HeartbeatResponse{}, nil
}

func (m *MetaServer) NodeList(ctx context.Context, req *v1.NodeListRequest) (*v1.NodeListResponse, error) {
	nodes := m.st.ListNodes()
	out := make([]v1.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		if req.ClusterType != "" && !n.HasRole(store.NodeRole(req.ClusterType)) {
			continue
		}
		out = append(out, v1.NodeInfo{
			NodeID:        n.NodeID,
			Roles:         n.Roles,
			GRPCAddr:      n.GRPCAddr,
			State:         string(n.State),
			LastHeartbeat: n.LastHeartbeat,
		})
	}
	return &v1.NodeListResponse{Nodes: out}, nil
}

// --- MetaJournal ---------------------------------------------------------

// nextShardID picks a shard ID one past the highest currently known,
// computed from this node's own (leader's) read of the store so the
// chosen value is fixed before the mutation is submitted to Raft; Apply
// itself never invents IDs (see router.FSM.Apply).
func (m *MetaServer) nextShardID() uint64 {
	var max uint64
	for _, sh := range m.st.ListShards() {
		if sh.ShardID > max {
			max = sh.ShardID
		}
	}
	return max + 1
}

func (m *MetaServer) CreateShard(ctx context.Context, req *v1.CreateShardRequest) (*v1.CreateShardResponse, error) {
	replicaNum := req.ReplicaNum
	if replicaNum <= 0 {
		replicaNum = 1
	}
	replicas := m.st.Ring().Place(req.Namespace+"/"+req.ShardName, replicaNum)
	if len(replicas) == 0 {
		return nil, fmt.Errorf("rpc: create shard: no journal nodes registered")
	}

	sh := store.Shard{
		ShardID:     m.nextShardID(),
		Namespace:   req.Namespace,
		Topic:       req.ShardName,
		PrimaryNode: replicas[0],
		Replicas:    replicas,
		Config: store.ShardConfig{
			ReplicaNum:     replicaNum,
			MaxSegmentSize: req.MaxSegmentSize,
			RetentionSec:   req.RetentionSec,
			DurableSync:    req.DurableSync,
		},
		CreatedAt: time.Now().UnixMilli(),
		Version:   1,
	}
	if err := m.apply(router.TypeShardPut, sh); err != nil {
		return nil, fmt.Errorf("rpc: create shard: %w", err)
	}

	// A shard always starts with segment 0 already Writing (spec §4.3:
	// "CreateShard with initial segment 0 in Idle -> Write"), placed on
	// the same replica set the shard itself was just placed on.
	if _, err := m.CreateNextSegment(ctx, &v1.CreateNextSegmentRequest{Namespace: req.Namespace, ShardName: req.ShardName}); err != nil {
		return nil, fmt.Errorf("rpc: create shard: activate initial segment: %w", err)
	}

	return &v1.CreateShardResponse{ShardID: sh.ShardID}, nil
}

func (m *MetaServer) shardByName(namespace, shardName string) (store.Shard, error) {
	for _, sh := range m.st.ListShards() {
		if sh.Namespace == namespace && sh.Topic == shardName {
			return sh, nil
		}
	}
	return store.Shard{}, fmt.Errorf("rpc: shard %s/%s not found", namespace, shardName)
}

func (m *MetaServer) DeleteShard(ctx context.Context, req *v1.DeleteShardRequest) (*v1.DeleteShardResponse, error) {
	sh, err := m.shardByName(req.Namespace, req.ShardName)
	if err != nil {
		return nil, err
	}
	payload := struct {
		ShardID uint64 `json:"shard_id"`
	}{sh.ShardID}
	if err := m.apply(router.TypeShardDelete, payload); err != nil {
		return nil, fmt.Errorf("rpc: delete shard: %w", err)
	}
	return &v1.DeleteShardResponse{}, nil
}

// rankReplicasBySegmentsHosted implements spec §4.3.2 step 1: rank
// candidate nodes by (segments_hosted ASC, node_id ASC) and take the
// first replicaNum. Candidates are the shard's fixed replica set (chosen
// by the placement ring at shard-creation time); re-ranking within that
// set for every new segment lets a lightly-loaded replica pick up more
// segment leadership over the shard's lifetime without ever moving the
// shard to a journal node outside its assigned replica set.
func rankReplicasBySegmentsHosted(candidates []uint64, replicaNum int, hosted func(uint64) int) []uint64 {
	ranked := append([]uint64(nil), candidates...)
	sort.Slice(ranked, func(i, j int) bool {
		hi, hj := hosted(ranked[i]), hosted(ranked[j])
		if hi != hj {
			return hi < hj
		}
		return ranked[i] < ranked[j]
	})
	if replicaNum > len(ranked) {
		replicaNum = len(ranked)
	}
	return ranked[:replicaNum]
}

// CreateNextSegment implements the replica placement algorithm of spec
// §4.3.2 and is idempotent per spec §4.3.1/§8: if the shard's current
// last segment hasn't sealed yet, it IS the "next" segment and is
// returned unchanged rather than creating a duplicate.
func (m *MetaServer) CreateNextSegment(ctx context.Context, req *v1.CreateNextSegmentRequest) (*v1.CreateNextSegmentResponse, error) {
	sh, err := m.shardByName(req.Namespace, req.ShardName)
	if err != nil {
		return nil, err
	}

	existing := m.st.SegmentsForShard(sh.ShardID)
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		if last.Status != store.SegmentSealUp && last.Status != store.SegmentDeleting {
			return segmentResponse(last), nil
		}
	}

	var nextSeq uint64
	if len(existing) > 0 {
		nextSeq = existing[len(existing)-1].SegmentID + 1
	}

	replicaNum := sh.Config.ReplicaNum
	if replicaNum <= 0 {
		replicaNum = len(sh.Replicas)
	}
	picked := rankReplicasBySegmentsHosted(sh.Replicas, replicaNum, m.st.SegmentCountForNode)
	if len(picked) == 0 {
		return nil, fmt.Errorf("rpc: create next segment: shard %s/%s has no replicas", req.Namespace, req.ShardName)
	}

	replicas := make([]store.SegmentReplica, 0, len(picked))
	for i, nodeID := range picked {
		replicas = append(replicas, store.SegmentReplica{
			NodeID:     nodeID,
			Fold:       fmt.Sprintf("data-%d", (nextSeq+uint64(i))%uint64(len(picked))),
			ReplicaSeq: i,
		})
	}

	seg := store.SegmentMeta{
		ShardID:   sh.ShardID,
		SegmentID: nextSeq,
		Status:    store.SegmentIdle,
		Replicas:  replicas,
		Leader:    picked[0],
		ISR:       picked,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := m.apply(router.TypeSegmentPut, seg); err != nil {
		return nil, fmt.Errorf("rpc: create next segment: %w", err)
	}

	// Activation: the elected leader ACKs immediately in this
	// implementation (no separate async handshake RPC), moving
	// Idle -> Write per spec §4.3.1.
	statusPayload := struct {
		ShardID   uint64              `json:"shard_id"`
		SegmentID uint64              `json:"segment_id"`
		Status    store.SegmentStatus `json:"status"`
	}{sh.ShardID, nextSeq, store.SegmentWriting}
	if err := m.apply(router.TypeSegmentStatus, statusPayload); err != nil {
		return nil, fmt.Errorf("rpc: create next segment: activate: %w", err)
	}

	newShard := sh
	newShard.LastSegmentSeq = nextSeq
	newShard.ActiveSeg = nextSeq
	newShard.Version++
	if err := m.apply(router.TypeShardPut, newShard); err != nil {
		return nil, fmt.Errorf("rpc: create next segment: update shard: %w", err)
	}

	seg.Status = store.SegmentWriting
	return segmentResponse(seg), nil
}

func segmentResponse(seg store.SegmentMeta) *v1.CreateNextSegmentResponse {
	replicas := make([]v1.SegmentReplica, 0, len(seg.Replicas))
	for _, r := range seg.Replicas {
		replicas = append(replicas, v1.SegmentReplica{NodeID: r.NodeID, Fold: r.Fold, ReplicaSeq: r.ReplicaSeq})
	}
	return &v1.CreateNextSegmentResponse{
		SegmentSeq: uint32(seg.SegmentID),
		Replicas:   replicas,
		Leader:     seg.Leader,
	}
}

// SealUpSegment drives Write -> PreSealUp -> SealUp (spec §4.3.1),
// writing the leader-reported final offsets atomically with the SealUp
// transition.
func (m *MetaServer) SealUpSegment(ctx context.Context, req *v1.SealUpSegmentRequest) (*v1.SealUpSegmentResponse, error) {
	sh, err := m.shardByName(req.Namespace, req.ShardName)
	if err != nil {
		return nil, err
	}
	seg, ok := m.st.Segment(sh.ShardID, uint64(req.SegmentSeq))
	if !ok {
		return nil, fmt.Errorf("rpc: seal segment: %s/%d not found", req.ShardName, req.SegmentSeq)
	}

	if seg.Status == store.SegmentWriting {
		statusPayload := struct {
			ShardID   uint64              `json:"shard_id"`
			SegmentID uint64              `json:"segment_id"`
			Status    store.SegmentStatus `json:"status"`
		}{sh.ShardID, uint64(req.SegmentSeq), store.SegmentPreSealUp}
		if err := m.apply(router.TypeSegmentStatus, statusPayload); err != nil {
			return nil, fmt.Errorf("rpc: seal segment: seal_request: %w", err)
		}
	}

	sealedAt := time.Now().UnixMilli()
	sealPayload := struct {
		ShardID        uint64 `json:"shard_id"`
		SegmentID      uint64 `json:"segment_id"`
		StartOffset    uint64 `json:"start_offset"`
		EndOffset      uint64 `json:"end_offset"`
		StartTimestamp int64  `json:"start_timestamp"`
		EndTimestamp   int64  `json:"end_timestamp"`
		SealedAt       int64  `json:"sealed_at"`
	}{sh.ShardID, uint64(req.SegmentSeq), req.StartOffset, req.EndOffset, req.StartTime, req.EndTime, sealedAt}
	if err := m.apply(router.TypeSegmentSeal, sealPayload); err != nil {
		return nil, fmt.Errorf("rpc: seal segment: seal_ack: %w", err)
	}

	// Sealing the active segment implies the shard needs a successor;
	// CreateNextSegment is idempotent so callers that already raced us
	// to it observe no duplicate.
	if _, err := m.CreateNextSegment(ctx, &v1.CreateNextSegmentRequest{Namespace: req.Namespace, ShardName: req.ShardName}); err != nil {
		m.log.Error("rpc: seal segment: failed to roll successor segment", "shard", req.ShardName, "error", err)
	}

	return &v1.SealUpSegmentResponse{SealedAt: timestampNow()}, nil
}

// DeleteSegment drives SealUp -> PreDelete (spec §4.3.1's delete_request
// edge). No journal node reports purge completion and no code moves the
// segment on from PreDelete to Deleting, so the segment GC controller
// never removes a record deleted this way.
func (m *MetaServer) DeleteSegment(ctx context.Context, req *v1.DeleteSegmentRequest) (*v1.DeleteSegmentResponse, error) {
	sh, err := m.shardByName(req.Namespace, req.ShardName)
	if err != nil {
		return nil, err
	}
	statusPayload := struct {
		ShardID   uint64              `json:"shard_id"`
		SegmentID uint64              `json:"segment_id"`
		Status    store.SegmentStatus `json:"status"`
	}{sh.ShardID, uint64(req.SegmentSeq), store.SegmentPreDelete}
	if err := m.apply(router.TypeSegmentStatus, statusPayload); err != nil {
		return nil, fmt.Errorf("rpc: delete segment: %w", err)
	}
	return &v1.DeleteSegmentResponse{}, nil
}

// --- MetaKv --------------------------------------------------------------

func (m *MetaServer) KvSet(ctx context.Context, req *v1.KvSetRequest) (*v1.KvSetResponse, error) {
	e := store.KVEntry{Key: req.Key, Value: req.Value, UpdatedAt: time.Now().UnixMilli()}
	if err := m.apply(router.TypeKVPut, e); err != nil {
		return nil, fmt.Errorf("rpc: kv set: %w", err)
	}
	return &v1.KvSetResponse{}, nil
}

func (m *MetaServer) KvGet(ctx context.Context, req *v1.KvGetRequest) (*v1.KvGetResponse, error) {
	e, err := m.st.GetKV(ctx, req.Key)
	if err != nil {
		return &v1.KvGetResponse{Found: false}, nil
	}
	return &v1.KvGetResponse{Value: e.Value, Found: true}, nil
}

func (m *MetaServer) KvDelete(ctx context.Context, req *v1.KvDeleteRequest) (*v1.KvDeleteResponse, error) {
	payload := struct {
		Key string `json:"key"`
	}{req.Key}
	if err := m.apply(router.TypeKVDelete, payload); err != nil {
		return nil, fmt.Errorf("rpc: kv delete: %w", err)
	}
	return &v1.KvDeleteResponse{}, nil
}

func (m *MetaServer) KvExists(ctx context.Context, req *v1.KvExistsRequest) (*v1.KvExistsResponse, error) {
	_, err := m.st.GetKV(ctx, req.Key)
	return &v1.KvExistsResponse{Exists: err == nil}, nil
}

func (m *MetaServer) KvPrefixList(ctx context.Context, req *v1.KvPrefixListRequest) (*v1.KvPrefixListResponse, error) {
	entries, err := m.st.ListKV(ctx, req.Prefix)
	if err != nil {
		return nil, fmt.Errorf("rpc: kv prefix list: %w", err)
	}
	out := make([]v1.KvEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, v1.KvEntry{Key: e.Key, Value: e.Value, UpdatedAt: e.UpdatedAt})
	}
	return &v1.KvPrefixListResponse{Entries: out}, nil
}

// --- MetaMqtt (exclusive subscription coordination, spec §4.9) ----------

// AcquireExclusiveSub serializes a subscribe-time exclusive-filter
// acquisition through Raft so every broker observes the same winner. A
// rejection surfaces as router.ErrExclusiveSubHeld rather than a
// transport error, so it's unwrapped into a plain not-granted response
// instead of being propagated as an RPC failure.
func (m *MetaServer) AcquireExclusiveSub(ctx context.Context, req *v1.AcquireExclusiveSubRequest) (*v1.AcquireExclusiveSubResponse, error) {
	payload := struct {
		Filter   string `json:"filter"`
		ClientID string `json:"client_id"`
	}{req.Filter, req.ClientID}
	if err := m.apply(router.TypeExclusiveSubAcquire, payload); err != nil {
		if errors.Is(err, router.ErrExclusiveSubHeld) {
			return &v1.AcquireExclusiveSubResponse{Granted: false}, nil
		}
		return nil, fmt.Errorf("rpc: acquire exclusive sub: %w", err)
	}
	return &v1.AcquireExclusiveSubResponse{Granted: true}, nil
}

func (m *MetaServer) ReleaseExclusiveSub(ctx context.Context, req *v1.ReleaseExclusiveSubRequest) (*v1.ReleaseExclusiveSubResponse, error) {
	payload := struct {
		Filter   string `json:"filter"`
		ClientID string `json:"client_id"`
	}{req.Filter, req.ClientID}
	if err := m.apply(router.TypeExclusiveSubRelease, payload); err != nil {
		return nil, fmt.Errorf("rpc: release exclusive sub: %w", err)
	}
	return &v1.ReleaseExclusiveSubResponse{}, nil
}

func (m *MetaServer) PutUser(ctx context.Context, req *v1.PutUserRequest) (*v1.PutUserResponse, error) {
	u := store.MQTTUser{Username: req.User.Username, PasswordHash: req.User.PasswordHash, IsSuperuser: req.User.IsSuperuser, CreatedAt: time.Now().UnixMilli()}
	if err := m.apply(router.TypeMQTTUserPut, u); err != nil {
		return nil, fmt.Errorf("rpc: put user: %w", err)
	}
	return &v1.PutUserResponse{}, nil
}

func (m *MetaServer) DeleteUser(ctx context.Context, req *v1.DeleteUserRequest) (*v1.DeleteUserResponse, error) {
	payload := struct {
		Username string `json:"username"`
	}{req.Username}
	if err := m.apply(router.TypeMQTTUserDelete, payload); err != nil {
		return nil, fmt.Errorf("rpc: delete user: %w", err)
	}
	return &v1.DeleteUserResponse{}, nil
}

func (m *MetaServer) GetUser(ctx context.Context, req *v1.GetUserRequest) (*v1.GetUserResponse, error) {
	u, err := m.st.GetUser(ctx, req.Username)
	if err != nil {
		return &v1.GetUserResponse{Found: false}, nil
	}
	return &v1.GetUserResponse{User: v1.MQTTUser{Username: u.Username, PasswordHash: u.PasswordHash, IsSuperuser: u.IsSuperuser}, Found: true}, nil
}

func (m *MetaServer) ListUsers(ctx context.Context, req *v1.ListUsersRequest) (*v1.ListUsersResponse, error) {
	users, err := m.st.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpc: list users: %w", err)
	}
	out := make([]v1.MQTTUser, 0, len(users))
	for _, u := range users {
		out = append(out, v1.MQTTUser{Username: u.Username, PasswordHash: u.PasswordHash, IsSuperuser: u.IsSuperuser})
	}
	return &v1.ListUsersResponse{Users: out}, nil
}

func (m *MetaServer) PutACL(ctx context.Context, req *v1.PutACLRequest) (*v1.PutACLResponse, error) {
	r := req.Rule
	rule := store.ACLRule{ID: r.ID, Username: r.Username, ClientID: r.ClientID, IPAddr: r.IPAddr, TopicFilter: r.TopicFilter, Action: store.ACLAction(r.Action), Permission: store.ACLPermission(r.Permission)}
	if err := m.apply(router.TypeMQTTACLPut, rule); err != nil {
		return nil, fmt.Errorf("rpc: put acl: %w", err)
	}
	return &v1.PutACLResponse{}, nil
}

func (m *MetaServer) DeleteACL(ctx context.Context, req *v1.DeleteACLRequest) (*v1.DeleteACLResponse, error) {
	payload := struct {
		ID string `json:"id"`
	}{req.ID}
	if err := m.apply(router.TypeMQTTACLDelete, payload); err != nil {
		return nil, fmt.Errorf("rpc: delete acl: %w", err)
	}
	return &v1.DeleteACLResponse{}, nil
}

func (m *MetaServer) ListACLs(ctx context.Context, req *v1.ListACLsRequest) (*v1.ListACLsResponse, error) {
	rules, err := m.st.ListACLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpc: list acls: %w", err)
	}
	out := make([]v1.ACLRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, v1.ACLRule{ID: r.ID, Username: r.Username, ClientID: r.ClientID, IPAddr: r.IPAddr, TopicFilter: r.TopicFilter, Action: string(r.Action), Permission: string(r.Permission)})
	}
	return &v1.ListACLsResponse{Rules: out}, nil
}

func (m *MetaServer) PutBlacklist(ctx context.Context, req *v1.PutBlacklistRequest) (*v1.PutBlacklistResponse, error) {
	e := req.Entry
	b := store.Blacklist{Kind: e.Kind, Value: e.Value, Reason: e.Reason, ExpiresAt: e.ExpiresAt}
	if err := m.apply(router.TypeMQTTBlacklistPut, b); err != nil {
		return nil, fmt.Errorf("rpc: put blacklist: %w", err)
	}
	return &v1.PutBlacklistResponse{}, nil
}

func (m *MetaServer) DeleteBlacklist(ctx context.Context, req *v1.DeleteBlacklistRequest) (*v1.DeleteBlacklistResponse, error) {
	payload := struct{ Kind, Value string }{req.Kind, req.Value}
	if err := m.apply(router.TypeMQTTBlacklistDel, payload); err != nil {
		return nil, fmt.Errorf("rpc: delete blacklist: %w", err)
	}
	return &v1.DeleteBlacklistResponse{}, nil
}

func (m *MetaServer) ListBlacklist(ctx context.Context, req *v1.ListBlacklistRequest) (*v1.ListBlacklistResponse, error) {
	entries, err := m.st.ListBlacklist(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpc: list blacklist: %w", err)
	}
	out := make([]v1.Blacklist, 0, len(entries))
	for _, e := range entries {
		out = append(out, v1.Blacklist{Kind: e.Kind, Value: e.Value, Reason: e.Reason, ExpiresAt: e.ExpiresAt})
	}
	return &v1.ListBlacklistResponse{Entries: out}, nil
}

func (m *MetaServer) PutSession(ctx context.Context, req *v1.PutSessionRequest) (*v1.PutSessionResponse, error) {
	s := req.Session
	rec := store.SessionRecord{ClientID: s.ClientID, OwnerNode: s.OwnerNode, CleanStart: s.CleanStart, SessionExpiry: s.SessionExpiry, CreatedAt: time.Now().UnixMilli(), LastConnectedAt: time.Now().UnixMilli()}
	if err := m.apply(router.TypeMQTTSessionPut, rec); err != nil {
		return nil, fmt.Errorf("rpc: put session: %w", err)
	}
	return &v1.PutSessionResponse{}, nil
}

func (m *MetaServer) GetSession(ctx context.Context, req *v1.GetSessionRequest) (*v1.GetSessionResponse, error) {
	rec, err := m.st.GetSession(ctx, req.ClientID)
	if err != nil {
		return &v1.GetSessionResponse{Found: false}, nil
	}
	return &v1.GetSessionResponse{Session: v1.SessionRecord{ClientID: rec.ClientID, OwnerNode: rec.OwnerNode, CleanStart: rec.CleanStart, SessionExpiry: rec.SessionExpiry, LastConnectedAt: rec.LastConnectedAt}, Found: true}, nil
}

func (m *MetaServer) DeleteSession(ctx context.Context, req *v1.DeleteSessionRequest) (*v1.DeleteSessionResponse, error) {
	payload := struct {
		ClientID string `json:"client_id"`
	}{req.ClientID}
	if err := m.apply(router.TypeMQTTSessionDel, payload); err != nil {
		return nil, fmt.Errorf("rpc: delete session: %w", err)
	}
	return &v1.DeleteSessionResponse{}, nil
}

func (m *MetaServer) PutRetained(ctx context.Context, req *v1.PutRetainedRequest) (*v1.PutRetainedResponse, error) {
	msg := req.Message
	rm := store.RetainedMessage{Topic: msg.Topic, Payload: msg.Payload, QoS: msg.QoS, ExpiresAt: msg.ExpiresAt, StoredAt: time.Now().UnixMilli()}
	if err := m.apply(router.TypeMQTTRetainedPut, rm); err != nil {
		return nil, fmt.Errorf("rpc: put retained: %w", err)
	}
	return &v1.PutRetainedResponse{}, nil
}

func (m *MetaServer) GetRetained(ctx context.Context, req *v1.GetRetainedRequest) (*v1.GetRetainedResponse, error) {
	rm, err := m.st.GetRetained(ctx, req.Topic)
	if err != nil {
		return &v1.GetRetainedResponse{Found: false}, nil
	}
	return &v1.GetRetainedResponse{Message: v1.RetainedMessage{Topic: rm.Topic, Payload: rm.Payload, QoS: rm.QoS, ExpiresAt: rm.ExpiresAt}, Found: true}, nil
}

func (m *MetaServer) DeleteRetained(ctx context.Context, req *v1.DeleteRetainedRequest) (*v1.DeleteRetainedResponse, error) {
	payload := struct {
		Topic string `json:"topic"`
	}{req.Topic}
	if err := m.apply(router.TypeMQTTRetainedDel, payload); err != nil {
		return nil, fmt.Errorf("rpc: delete retained: %w", err)
	}
	return &v1.DeleteRetainedResponse{}, nil
}

func (m *MetaServer) ListRetained(ctx context.Context, req *v1.ListRetainedRequest) (*v1.ListRetainedResponse, error) {
	msgs, err := m.st.ListRetained(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpc: list retained: %w", err)
	}
	out := make([]v1.RetainedMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, v1.RetainedMessage{Topic: msg.Topic, Payload: msg.Payload, QoS: msg.QoS, ExpiresAt: msg.ExpiresAt})
	}
	return &v1.ListRetainedResponse{Messages: out}, nil
}

// --- MetaOpenRaft ---------------------------------------------------------

type AddLearnerRequest struct {
	NodeID uint64 `json:"node_id"`
	Addr   string `json:"addr"`
}

type AddLearnerResponse struct{}

func (m *MetaServer) AddLearner(ctx context.Context, req *AddLearnerRequest) (*AddLearnerResponse, error) {
	if err := m.node.AddLearner(req.NodeID, req.Addr, ApplyTimeout); err != nil {
		return nil, fmt.Errorf("rpc: add learner: %w", err)
	}
	return &AddLearnerResponse{}, nil
}

type ChangeMembershipRequest struct {
	NodeID  uint64 `json:"node_id"`
	Addr    string `json:"addr"`
	Promote bool   `json:"promote"` // true = voter, false = remove
}

type ChangeMembershipResponse struct{}

func (m *MetaServer) ChangeMembership(ctx context.Context, req *ChangeMembershipRequest) (*ChangeMembershipResponse, error) {
	var err error
	switch {
	case req.Promote:
		err = m.node.AddVoter(req.NodeID, req.Addr, ApplyTimeout)
	default:
		err = m.node.RemoveServer(req.NodeID, ApplyTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("rpc: change membership: %w", err)
	}
	return &ChangeMembershipResponse{}, nil
}

// Package router implements the meta service's Raft state machine: a
// single tagged-union dispatch table (StorageDataType) that takes a
// committed log entry and applies it to the shared store.Store. This is
// the generalization of a single-purpose cluster FSM into the full
// RobustMQ data router: every mutating meta operation (node registry,
// shard/segment placement, MQTT user/ACL/session/retained tables, the
// generic KV namespace) funnels through one Apply switch so that Raft's
// commit order is the only source of truth for state ordering.
package router

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/raft"

	"github.com/robustmq/robustmq/internal/meta/store"
)

// ErrExclusiveSubHeld is returned as the Apply response (and therefore
// surfaced through raft.Node.Apply as a normal error) when an exclusive
// subscription filter is already held by a different client.
var ErrExclusiveSubHeld = errors.New("router: exclusive subscription already held")

// StorageDataType tags the payload carried by a committed log entry.
// Keeping this a flat enum (rather than nested per-domain enums) means
// a single switch in Apply can route every mutation in the system, which
// is what makes the FSM auditable: every write path the cluster can take
// appears as one case here.
type StorageDataType uint8

const (
	TypeNodeRegister   StorageDataType = 1
	TypeNodeUnregister StorageDataType = 2
	TypeNodeHeartbeat  StorageDataType = 3

	TypeShardPut    StorageDataType = 10
	TypeShardDelete StorageDataType = 11

	TypeSegmentPut    StorageDataType = 20
	TypeSegmentDelete StorageDataType = 21
	// TypeSegmentStatus drives one edge of the segment state machine
	// (spec §4.3.1: activate/seal_request/seal_ack/delete_request/
	// delete_ack) without rewriting the whole record.
	TypeSegmentStatus StorageDataType = 22
	// TypeSegmentLeaderChange records a segment leadership change
	// (preferred-replica election, or failover after a dead leader),
	// incrementing leader_epoch.
	TypeSegmentLeaderChange StorageDataType = 23
	// TypeSegmentSeal applies the PreSealUp -> SealUp edge together with
	// the leader-reported final SegmentMeta, atomically (spec §4.3.1).
	TypeSegmentSeal StorageDataType = 24

	TypeMQTTUserPut      StorageDataType = 30
	TypeMQTTUserDelete   StorageDataType = 31
	TypeMQTTACLPut       StorageDataType = 32
	TypeMQTTACLDelete    StorageDataType = 33
	TypeMQTTBlacklistPut StorageDataType = 34
	TypeMQTTBlacklistDel StorageDataType = 35
	TypeMQTTSessionPut   StorageDataType = 36
	TypeMQTTSessionDel   StorageDataType = 37
	TypeMQTTRetainedPut  StorageDataType = 38
	TypeMQTTRetainedDel  StorageDataType = 39

	TypeKVPut    StorageDataType = 40
	TypeKVDelete StorageDataType = 41

	// TypeExclusiveSubAcquire/TypeExclusiveSubRelease serialize the
	// cluster-wide exclusive-subscription lock (spec §4.9) through Raft,
	// the same way segment state transitions are serialized, since
	// there's no other single source of truth to arbitrate a set-nx
	// across brokers.
	TypeExclusiveSubAcquire StorageDataType = 50
	TypeExclusiveSubRelease StorageDataType = 51
)

// StorageData is the envelope every Raft log entry carries.
type StorageData struct {
	Type StorageDataType `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode marshals a typed payload into the StorageData envelope Apply
// expects, for callers constructing log entries to submit via Node.Apply.
func Encode(t StorageDataType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("router: encode payload: %w", err)
	}
	return json.Marshal(StorageData{Type: t, Data: data})
}

// FSM implements raft.FSM by dispatching committed entries to the shared
// store.
type FSM struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates an FSM over store, writing mutations synchronously.
func New(st *store.Store, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{store: st, logger: logger}
}

// Apply routes one committed log entry to the store. Unmarshal failures
// and unrecognized types panic rather than returning an error: a
// corrupted or unversioned entry means this replica's state machine can
// no longer promise it agrees with its peers, and continuing to serve
// reads after that would be worse than crashing and relying on Raft's
// own replication to recover this node from its peers.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var sd StorageData
	if err := json.Unmarshal(log.Data, &sd); err != nil {
		f.logger.Error("FATAL: failed to unmarshal log entry", "error", err, "log_index", log.Index)
		panic(fmt.Sprintf("router.FSM.Apply: unmarshal failed at index=%d: %v", log.Index, err))
	}

	ctx := context.Background()

	switch sd.Type {
	case TypeNodeRegister:
		var n store.Node
		mustUnmarshal(sd.Data, &n, log.Index)
		f.store.RegisterNode(&n)

	case TypeNodeUnregister:
		var p struct {
			NodeID uint64 `json:"node_id"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		f.store.UnregisterNode(p.NodeID)

	case TypeNodeHeartbeat:
		var p struct {
			NodeID uint64          `json:"node_id"`
			AtMillis int64         `json:"at_millis"`
			State    store.NodeState `json:"state"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		f.store.Heartbeat(p.NodeID, p.AtMillis, p.State)

	case TypeShardPut:
		var sh store.Shard
		mustUnmarshal(sd.Data, &sh, log.Index)
		f.store.PutShard(&sh)

	case TypeShardDelete:
		var p struct {
			ShardID uint64 `json:"shard_id"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		f.store.DeleteShard(p.ShardID)

	case TypeSegmentPut:
		var seg store.SegmentMeta
		mustUnmarshal(sd.Data, &seg, log.Index)
		f.store.PutSegment(&seg)

	case TypeSegmentDelete:
		var p struct {
			ShardID   uint64 `json:"shard_id"`
			SegmentID uint64 `json:"segment_id"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		f.store.DeleteSegment(p.ShardID, p.SegmentID)

	case TypeSegmentStatus:
		var p struct {
			ShardID   uint64              `json:"shard_id"`
			SegmentID uint64              `json:"segment_id"`
			Status    store.SegmentStatus `json:"status"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		if !f.store.UpdateSegmentStatus(p.ShardID, p.SegmentID, p.Status) {
			f.logger.Warn("router: rejected illegal segment status transition",
				"shard_id", p.ShardID, "segment_id", p.SegmentID, "to", p.Status, "log_index", log.Index)
		}

	case TypeSegmentLeaderChange:
		var p struct {
			ShardID   uint64 `json:"shard_id"`
			SegmentID uint64 `json:"segment_id"`
			NewLeader uint64 `json:"new_leader"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		if !f.store.UpdateSegmentLeader(p.ShardID, p.SegmentID, p.NewLeader) {
			f.logger.Warn("router: segment leader change on unknown segment",
				"shard_id", p.ShardID, "segment_id", p.SegmentID, "log_index", log.Index)
		}

	case TypeSegmentSeal:
		var p struct {
			ShardID        uint64 `json:"shard_id"`
			SegmentID      uint64 `json:"segment_id"`
			StartOffset    uint64 `json:"start_offset"`
			EndOffset      uint64 `json:"end_offset"`
			StartTimestamp int64  `json:"start_timestamp"`
			EndTimestamp   int64  `json:"end_timestamp"`
			SealedAt       int64  `json:"sealed_at"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		if !f.store.SealSegment(p.ShardID, p.SegmentID, p.StartOffset, p.EndOffset, p.StartTimestamp, p.EndTimestamp, p.SealedAt) {
			f.logger.Warn("router: rejected seal on segment not in a sealable state",
				"shard_id", p.ShardID, "segment_id", p.SegmentID, "log_index", log.Index)
		}

	case TypeMQTTUserPut:
		var u store.MQTTUser
		mustUnmarshal(sd.Data, &u, log.Index)
		if err := f.store.PutUser(ctx, &u); err != nil {
			f.fatalWrite("PutUser", err, log.Index)
		}

	case TypeMQTTUserDelete:
		var p struct{ Username string `json:"username"` }
		mustUnmarshal(sd.Data, &p, log.Index)
		if err := f.store.DeleteUser(ctx, p.Username); err != nil {
			f.fatalWrite("DeleteUser", err, log.Index)
		}

	case TypeMQTTACLPut:
		var r store.ACLRule
		mustUnmarshal(sd.Data, &r, log.Index)
		if err := f.store.PutACL(ctx, &r); err != nil {
			f.fatalWrite("PutACL", err, log.Index)
		}

	case TypeMQTTACLDelete:
		var p struct{ ID string `json:"id"` }
		mustUnmarshal(sd.Data, &p, log.Index)
		if err := f.store.DeleteACL(ctx, p.ID); err != nil {
			f.fatalWrite("DeleteACL", err, log.Index)
		}

	case TypeMQTTBlacklistPut:
		var b store.Blacklist
		mustUnmarshal(sd.Data, &b, log.Index)
		if err := f.store.PutBlacklist(ctx, &b); err != nil {
			f.fatalWrite("PutBlacklist", err, log.Index)
		}

	case TypeMQTTBlacklistDel:
		var p struct{ Kind, Value string }
		mustUnmarshal(sd.Data, &p, log.Index)
		if err := f.store.DeleteBlacklist(ctx, p.Kind, p.Value); err != nil {
			f.fatalWrite("DeleteBlacklist", err, log.Index)
		}

	case TypeMQTTSessionPut:
		var rec store.SessionRecord
		mustUnmarshal(sd.Data, &rec, log.Index)
		if err := f.store.PutSession(ctx, &rec); err != nil {
			f.fatalWrite("PutSession", err, log.Index)
		}

	case TypeMQTTSessionDel:
		var p struct{ ClientID string `json:"client_id"` }
		mustUnmarshal(sd.Data, &p, log.Index)
		if err := f.store.DeleteSession(ctx, p.ClientID); err != nil {
			f.fatalWrite("DeleteSession", err, log.Index)
		}

	case TypeMQTTRetainedPut:
		var m store.RetainedMessage
		mustUnmarshal(sd.Data, &m, log.Index)
		if err := f.store.PutRetained(ctx, &m); err != nil {
			f.fatalWrite("PutRetained", err, log.Index)
		}

	case TypeMQTTRetainedDel:
		var p struct{ Topic string `json:"topic"` }
		mustUnmarshal(sd.Data, &p, log.Index)
		if err := f.store.DeleteRetained(ctx, p.Topic); err != nil {
			f.fatalWrite("DeleteRetained", err, log.Index)
		}

	case TypeKVPut:
		var e store.KVEntry
		mustUnmarshal(sd.Data, &e, log.Index)
		if err := f.store.PutKV(ctx, &e); err != nil {
			f.fatalWrite("PutKV", err, log.Index)
		}

	case TypeKVDelete:
		var p struct{ Key string `json:"key"` }
		mustUnmarshal(sd.Data, &p, log.Index)
		if err := f.store.DeleteKV(ctx, p.Key); err != nil {
			f.fatalWrite("DeleteKV", err, log.Index)
		}

	case TypeExclusiveSubAcquire:
		var p struct {
			Filter   string `json:"filter"`
			ClientID string `json:"client_id"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		if !f.store.TryAcquireExclusive(p.Filter, p.ClientID) {
			return ErrExclusiveSubHeld
		}

	case TypeExclusiveSubRelease:
		var p struct {
			Filter   string `json:"filter"`
			ClientID string `json:"client_id"`
		}
		mustUnmarshal(sd.Data, &p, log.Index)
		f.store.ReleaseExclusive(p.Filter, p.ClientID)

	default:
		f.logger.Error("FATAL: unknown storage data type", "type", sd.Type, "log_index", log.Index)
		panic(fmt.Sprintf("router.FSM.Apply: unknown type %d at index=%d", sd.Type, log.Index))
	}

	return nil
}

func (f *FSM) fatalWrite(op string, err error, index uint64) {
	f.logger.Error("FATAL: durable write failed during Apply", "op", op, "error", err, "log_index", index)
	panic(fmt.Sprintf("router.FSM.Apply: %s failed at index=%d: %v", op, index, err))
}

func mustUnmarshal(data []byte, v any, index uint64) {
	if err := json.Unmarshal(data, v); err != nil {
		panic(fmt.Sprintf("router.FSM.Apply: payload unmarshal failed at index=%d: %v", index, err))
	}
}

// Snapshot captures the in-memory membership/placement tables. The
// Badger-backed MQTT tables are not part of this snapshot; they persist
// through Badger's own WAL and are restored by replaying the KV engine's
// directory rather than through Raft (see DESIGN.md).
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.store.SnapshotMem()
	if err != nil {
		return nil, fmt.Errorf("router: snapshot mem state: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the in-memory tables from a snapshot written by Persist.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("router: create gzip reader: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return fmt.Errorf("router: read snapshot: %w", err)
	}

	return f.store.RestoreMem(data)
}

type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		gz := gzip.NewWriter(sink)
		if _, err := gz.Write(s.data); err != nil {
			return fmt.Errorf("router: write snapshot: %w", err)
		}
		return gz.Close()
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

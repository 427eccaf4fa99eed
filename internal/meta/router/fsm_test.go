package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/hashicorp/raft"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/meta/store"
)

func newTestFSM(t *testing.T) *FSM {
	t.Helper()
	dir, err := os.MkdirTemp("", "robustmq-router-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	engine, err := kv.NewBadgerEngine(kv.DefaultConfig(dir), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })

	st := store.New(engine, slog.Default())
	return New(st, slog.Default())
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestFSM_ApplyNodeRegister(t *testing.T) {
	fsm := newTestFSM(t)

	logData, err := Encode(TypeNodeRegister, store.Node{NodeID: 1, Roles: []string{"meta"}, GRPCAddr: "127.0.0.1:9982"})
	if err != nil {
		t.Fatal(err)
	}

	result := fsm.Apply(&raft.Log{Index: 1, Data: logData})
	if err, ok := result.(error); ok {
		t.Fatalf("unexpected error: %v", err)
	}

	n, ok := fsm.store.Node(1)
	if !ok {
		t.Fatal("expected node 1 to be registered")
	}
	if n.GRPCAddr != "127.0.0.1:9982" {
		t.Errorf("unexpected grpc addr: %s", n.GRPCAddr)
	}
}

func TestFSM_ApplyShardAndSegment(t *testing.T) {
	fsm := newTestFSM(t)

	shardData, _ := Encode(TypeShardPut, store.Shard{ShardID: 7, Topic: "sensors/+", PrimaryNode: 1, Replicas: []uint64{2, 3}})
	fsm.Apply(&raft.Log{Index: 1, Data: shardData})

	sh, ok := fsm.store.Shard(7)
	if !ok || sh.PrimaryNode != 1 {
		t.Fatalf("expected shard 7 placed on node 1, got %+v ok=%v", sh, ok)
	}

	segData, _ := Encode(TypeSegmentPut, store.SegmentMeta{ShardID: 7, SegmentID: 1, Status: store.SegmentWriting, ISR: []uint64{1, 2, 3}})
	fsm.Apply(&raft.Log{Index: 2, Data: segData})

	seg, ok := fsm.store.Segment(7, 1)
	if !ok || seg.Status != store.SegmentWriting {
		t.Fatalf("expected segment 1 writing, got %+v ok=%v", seg, ok)
	}
}

func TestFSM_SegmentStateMachine(t *testing.T) {
	fsm := newTestFSM(t)

	segData, _ := Encode(TypeSegmentPut, store.SegmentMeta{ShardID: 1, SegmentID: 0, Status: store.SegmentIdle, Replicas: []store.SegmentReplica{{NodeID: 1}}, Leader: 1})
	fsm.Apply(&raft.Log{Index: 1, Data: segData})

	activate, _ := Encode(TypeSegmentStatus, struct {
		ShardID   uint64              `json:"shard_id"`
		SegmentID uint64              `json:"segment_id"`
		Status    store.SegmentStatus `json:"status"`
	}{1, 0, store.SegmentWriting})
	fsm.Apply(&raft.Log{Index: 2, Data: activate})

	seg, ok := fsm.store.Segment(1, 0)
	if !ok || seg.Status != store.SegmentWriting {
		t.Fatalf("expected segment activated to writing, got %+v ok=%v", seg, ok)
	}

	// Illegal edge (Writing -> Idle) must be rejected, not silently
	// applied, so replay stays deterministic across replicas.
	illegal, _ := Encode(TypeSegmentStatus, struct {
		ShardID   uint64              `json:"shard_id"`
		SegmentID uint64              `json:"segment_id"`
		Status    store.SegmentStatus `json:"status"`
	}{1, 0, store.SegmentIdle})
	fsm.Apply(&raft.Log{Index: 3, Data: illegal})
	seg, _ = fsm.store.Segment(1, 0)
	if seg.Status != store.SegmentWriting {
		t.Fatalf("illegal transition should be rejected, status now %v", seg.Status)
	}

	sealData, _ := Encode(TypeSegmentSeal, struct {
		ShardID        uint64 `json:"shard_id"`
		SegmentID      uint64 `json:"segment_id"`
		StartOffset    uint64 `json:"start_offset"`
		EndOffset      uint64 `json:"end_offset"`
		StartTimestamp int64  `json:"start_timestamp"`
		EndTimestamp   int64  `json:"end_timestamp"`
		SealedAt       int64  `json:"sealed_at"`
	}{1, 0, 0, 999, 100, 200, 300})
	fsm.Apply(&raft.Log{Index: 4, Data: sealData})

	seg, ok = fsm.store.Segment(1, 0)
	if !ok || seg.Status != store.SegmentSealUp || seg.EndOffset != 999 {
		t.Fatalf("expected segment sealed with end_offset=999, got %+v ok=%v", seg, ok)
	}
}

func TestFSM_ApplyMQTTUserLifecycle(t *testing.T) {
	fsm := newTestFSM(t)

	putData, _ := Encode(TypeMQTTUserPut, store.MQTTUser{Username: "alice", PasswordHash: "bcrypt$..."})
	fsm.Apply(&raft.Log{Index: 1, Data: putData})

	u, err := fsm.store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected user alice to exist: %v", err)
	}
	if u.PasswordHash != "bcrypt$..." {
		t.Errorf("unexpected password hash: %s", u.PasswordHash)
	}

	delData, _ := Encode(TypeMQTTUserDelete, struct {
		Username string `json:"username"`
	}{Username: "alice"})
	fsm.Apply(&raft.Log{Index: 2, Data: delData})

	if _, err := fsm.store.GetUser(context.Background(), "alice"); err == nil {
		t.Error("expected alice to be deleted")
	}
}

func TestFSM_ApplyPanicsOnUnknownType(t *testing.T) {
	fsm := newTestFSM(t)

	logData := mustMarshal(t, StorageData{Type: 255, Data: json.RawMessage(`{}`)})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Apply should panic for unknown storage data type")
		}
		if !strings.Contains(r.(string), "unknown type") {
			t.Errorf("panic message should mention unknown type, got: %v", r)
		}
	}()

	fsm.Apply(&raft.Log{Index: 99, Data: logData})
}

func TestFSM_ApplyPanicsOnCorruptData(t *testing.T) {
	fsm := newTestFSM(t)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Apply should panic on corrupt log data")
		}
		if !strings.Contains(r.(string), "unmarshal failed") {
			t.Errorf("panic message should mention unmarshal, got: %v", r)
		}
	}()

	fsm.Apply(&raft.Log{Index: 5, Data: []byte("not json")})
}

func TestFSM_SnapshotRestoreRoundTrip(t *testing.T) {
	fsm := newTestFSM(t)

	nodeData, _ := Encode(TypeNodeRegister, store.Node{NodeID: 1, Roles: []string{"meta"}})
	fsm.Apply(&raft.Log{Index: 1, Data: nodeData})
	shardData, _ := Encode(TypeShardPut, store.Shard{ShardID: 3, PrimaryNode: 1})
	fsm.Apply(&raft.Log{Index: 2, Data: shardData})

	snap, err := fsm.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	sink := &memSink{buf: &bytes.Buffer{}}
	if err := snap.Persist(sink); err != nil {
		t.Fatal(err)
	}

	dir, err := os.MkdirTemp("", "robustmq-router-restore-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	engine, err := kv.NewBadgerEngine(kv.DefaultConfig(dir), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	restored := New(store.New(engine, slog.Default()), slog.Default())
	if err := restored.Restore(io.NopCloser(sink.buf)); err != nil {
		t.Fatal(err)
	}

	if _, ok := restored.store.Node(1); !ok {
		t.Error("expected node 1 to survive snapshot restore")
	}
	if _, ok := restored.store.Shard(3); !ok {
		t.Error("expected shard 3 to survive snapshot restore")
	}
}

// memSink is a minimal in-memory raft.SnapshotSink for exercising
// FSMSnapshot.Persist without a real Raft snapshot store.
type memSink struct {
	buf *bytes.Buffer
}

func (s *memSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *memSink) Close() error                 { return nil }
func (s *memSink) ID() string                   { return "test-sink" }
func (s *memSink) Cancel() error                { return nil }

package controller

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/raft"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/meta/router"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// fakeProposer stands in for *raft.Node: applies are run directly
// against the attached FSM rather than going through real consensus.
type fakeProposer struct {
	leader bool
	fsm    *router.FSM
}

func (f *fakeProposer) IsLeader() bool { return f.leader }

func (f *fakeProposer) Apply(data []byte, _ time.Duration) error {
	if result := f.fsm.Apply(&raft.Log{Data: data}); result != nil {
		if err, ok := result.(error); ok {
			return err
		}
	}
	return nil
}

func newTestStoreAndFSM(t *testing.T) (*store.Store, *router.FSM) {
	t.Helper()
	dir, err := os.MkdirTemp("", "robustmq-controller-test-*")
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
	return st, router.New(st, slog.Default())
}

func TestHeartbeatController_UnregistersAfterExpiry(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: true, fsm: fsm}

	st.RegisterNode(&store.Node{NodeID: 1, Roles: []string{"broker"}, GRPCAddr: "127.0.0.1:9000"})
	st.Heartbeat(1, time.Now().Add(-2*time.Minute).UnixMilli(), store.NodeAlive)

	cfg := HeartbeatConfig{
		SuspectAfter: 30 * time.Second,
		DeadAfter:    60 * time.Second,
		ScanInterval: time.Hour, // irrelevant, sweep() called directly
		Logger:       slog.Default(),
	}
	hc := NewHeartbeatController(cfg, st, node)
	hc.sweep()

	if _, ok := st.Node(1); ok {
		t.Fatal("expected node 1 to be unregistered after its heartbeat expired")
	}
}

func TestHeartbeatController_MarksSuspectBeforeExpiry(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: true, fsm: fsm}

	st.RegisterNode(&store.Node{NodeID: 1, Roles: []string{"broker"}, GRPCAddr: "127.0.0.1:9000"})
	st.Heartbeat(1, time.Now().Add(-45*time.Second).UnixMilli(), store.NodeAlive)

	cfg := HeartbeatConfig{
		SuspectAfter: 30 * time.Second,
		DeadAfter:    60 * time.Second,
		ScanInterval: time.Hour,
		Logger:       slog.Default(),
	}
	hc := NewHeartbeatController(cfg, st, node)
	hc.sweep()

	n, ok := st.Node(1)
	if !ok {
		t.Fatal("expected node 1 to still be registered")
	}
	if n.State != store.NodeSuspect {
		t.Errorf("expected node to be marked suspect, got %s", n.State)
	}
}

func TestHeartbeatController_SkipsSweepWhenNotLeader(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: false, fsm: fsm}

	st.RegisterNode(&store.Node{NodeID: 1, Roles: []string{"broker"}})
	st.Heartbeat(1, time.Now().Add(-2*time.Minute).UnixMilli(), store.NodeAlive)

	hc := NewHeartbeatController(DefaultHeartbeatConfig(), st, node)
	hc.sweep()

	n, _ := st.Node(1)
	if n.State != store.NodeAlive {
		t.Errorf("follower should not apply liveness transitions, got %s", n.State)
	}
}

package controller

import (
	"context"
	"testing"

	"golang.org/x/time/rate"

	"github.com/robustmq/robustmq/internal/meta/placement"
	"github.com/robustmq/robustmq/internal/meta/store"
)

type fakeSegmentClient struct {
	transfers int
}

func (f *fakeSegmentClient) TransferSegment(_ context.Context, _ string, _, _ uint64, _ *rate.Limiter) (int64, error) {
	f.transfers++
	return 4096, nil
}

func TestRebalanceManager_TriggerMigratesChangedPlacement(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	_ = fsm
	node := &fakeProposer{leader: true, fsm: fsm}

	st.RegisterNode(&store.Node{NodeID: 1, Roles: []string{"journal"}, GRPCAddr: "127.0.0.1:9100"})
	st.RegisterNode(&store.Node{NodeID: 2, Roles: []string{"journal"}, GRPCAddr: "127.0.0.1:9200"})
	st.PutShard(&store.Shard{ShardID: 1, Topic: "sensors/temp", PrimaryNode: 1})
	st.PutSegment(&store.SegmentMeta{ShardID: 1, SegmentID: 1, Status: store.SegmentSealed})

	ring := placement.New()
	ring.AddNode(1)
	ring.AddNode(2)

	client := &fakeSegmentClient{}
	cfg := DefaultRebalanceConfig()
	cfg.ReplicaCount = 2
	rm := NewRebalanceManager(cfg, st, node, client)

	if err := rm.Trigger(context.Background(), ring); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	task, ok := rm.TaskStatusFor(1)
	if !ok {
		t.Fatal("expected a migration task for shard 1")
	}
	if task.Status != TaskCompleted {
		t.Fatalf("expected task completed, got %s (err=%s)", task.Status, task.LastError)
	}
}

func TestRebalanceManager_SkipsWhenNotLeader(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: false, fsm: fsm}

	st.PutShard(&store.Shard{ShardID: 1, Topic: "sensors/temp", PrimaryNode: 1})

	ring := placement.New()
	ring.AddNode(1)
	ring.AddNode(2)

	rm := NewRebalanceManager(DefaultRebalanceConfig(), st, node, &fakeSegmentClient{})
	if err := rm.Trigger(context.Background(), ring); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, ok := rm.TaskStatusFor(1); ok {
		t.Error("follower should not run rebalance tasks")
	}
}

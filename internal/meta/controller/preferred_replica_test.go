package controller

import (
	"testing"

	"github.com/robustmq/robustmq/internal/meta/store"
)

func TestPreferredReplicaController_RestoresPreferredLeader(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: true, fsm: fsm}

	st.RegisterNode(&store.Node{NodeID: 1, Roles: []string{"journal"}})
	st.Heartbeat(1, 0, store.NodeAlive)
	st.RegisterNode(&store.Node{NodeID: 2, Roles: []string{"journal"}})
	st.Heartbeat(2, 0, store.NodeAlive)

	st.PutSegment(&store.SegmentMeta{
		ShardID:   1,
		SegmentID: 0,
		Status:    store.SegmentWriting,
		Replicas: []store.SegmentReplica{
			{NodeID: 1, ReplicaSeq: 0},
			{NodeID: 2, ReplicaSeq: 1},
		},
		Leader: 2,
		ISR:    []uint64{1, 2},
	})

	pc := NewPreferredReplicaController(DefaultPreferredReplicaConfig(), st, node)
	pc.sweep()

	seg, ok := st.Segment(1, 0)
	if !ok || seg.Leader != 1 {
		t.Fatalf("expected leadership restored to preferred replica 1, got %+v ok=%v", seg, ok)
	}
}

func TestPreferredReplicaController_SkipsWhenPreferredNotInISR(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: true, fsm: fsm}

	st.RegisterNode(&store.Node{NodeID: 1, Roles: []string{"journal"}})
	st.Heartbeat(1, 0, store.NodeAlive)
	st.RegisterNode(&store.Node{NodeID: 2, Roles: []string{"journal"}})
	st.Heartbeat(2, 0, store.NodeAlive)

	st.PutSegment(&store.SegmentMeta{
		ShardID:   1,
		SegmentID: 0,
		Status:    store.SegmentWriting,
		Replicas: []store.SegmentReplica{
			{NodeID: 1, ReplicaSeq: 0},
			{NodeID: 2, ReplicaSeq: 1},
		},
		Leader: 2,
		ISR:    []uint64{2}, // preferred replica 1 has fallen out of ISR
	})

	pc := NewPreferredReplicaController(DefaultPreferredReplicaConfig(), st, node)
	pc.sweep()

	seg, ok := st.Segment(1, 0)
	if !ok || seg.Leader != 2 {
		t.Fatalf("expected leadership unchanged while preferred replica is out of ISR, got %+v ok=%v", seg, ok)
	}
}

func TestPreferredReplicaController_SkipsSweepWhenNotLeader(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: false, fsm: fsm}

	st.RegisterNode(&store.Node{NodeID: 1, Roles: []string{"journal"}})
	st.Heartbeat(1, 0, store.NodeAlive)

	st.PutSegment(&store.SegmentMeta{
		ShardID:   1,
		SegmentID: 0,
		Status:    store.SegmentWriting,
		Replicas:  []store.SegmentReplica{{NodeID: 1, ReplicaSeq: 0}},
		Leader:    9,
		ISR:       []uint64{1, 9},
	})

	pc := NewPreferredReplicaController(DefaultPreferredReplicaConfig(), st, node)
	pc.sweep()

	seg, _ := st.Segment(1, 0)
	if seg.Leader != 9 {
		t.Errorf("non-leader sweep should not mutate state, got leader=%d", seg.Leader)
	}
}

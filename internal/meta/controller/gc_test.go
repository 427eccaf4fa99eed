package controller

import (
	"testing"
	"time"

	"github.com/robustmq/robustmq/internal/meta/store"
)

func TestGCController_ExpiresRetainedSegment(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: true, fsm: fsm}

	st.PutShard(&store.Shard{ShardID: 1, Config: store.ShardConfig{RetentionSec: 60}})
	old := time.Now().Add(-2 * time.Minute).UnixMilli()
	st.PutSegment(&store.SegmentMeta{ShardID: 1, SegmentID: 0, Status: store.SegmentSealUp, EndTimestamp: old})

	gc := NewGCController(DefaultGCConfig(), st, node)
	gc.sweep()

	seg, ok := st.Segment(1, 0)
	if !ok || seg.Status != store.SegmentPreDelete {
		t.Fatalf("expected expired segment moved to pre_delete, got %+v ok=%v", seg, ok)
	}
}

func TestGCController_KeepsFreshSegment(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: true, fsm: fsm}

	st.PutShard(&store.Shard{ShardID: 1, Config: store.ShardConfig{RetentionSec: 3600}})
	recent := time.Now().Add(-1 * time.Minute).UnixMilli()
	st.PutSegment(&store.SegmentMeta{ShardID: 1, SegmentID: 0, Status: store.SegmentSealUp, EndTimestamp: recent})

	gc := NewGCController(DefaultGCConfig(), st, node)
	gc.sweep()

	seg, ok := st.Segment(1, 0)
	if !ok || seg.Status != store.SegmentSealUp {
		t.Fatalf("expected fresh segment to remain sealed, got %+v ok=%v", seg, ok)
	}
}

func TestGCController_PurgesShardWhenAllSegmentsDeleting(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: true, fsm: fsm}

	st.PutShard(&store.Shard{ShardID: 2})
	st.PutSegment(&store.SegmentMeta{ShardID: 2, SegmentID: 0, Status: store.SegmentDeleting})
	st.PutSegment(&store.SegmentMeta{ShardID: 2, SegmentID: 1, Status: store.SegmentDeleting})

	gc := NewGCController(DefaultGCConfig(), st, node)
	gc.sweep()

	if _, ok := st.Shard(2); ok {
		t.Fatal("expected shard 2 to be purged")
	}
	if _, ok := st.Segment(2, 0); ok {
		t.Error("expected segment 0 to be purged with shard")
	}
}

func TestGCController_SkipsSweepWhenNotLeader(t *testing.T) {
	st, fsm := newTestStoreAndFSM(t)
	node := &fakeProposer{leader: false, fsm: fsm}

	st.PutShard(&store.Shard{ShardID: 3, Config: store.ShardConfig{RetentionSec: 60}})
	old := time.Now().Add(-2 * time.Minute).UnixMilli()
	st.PutSegment(&store.SegmentMeta{ShardID: 3, SegmentID: 0, Status: store.SegmentSealUp, EndTimestamp: old})

	gc := NewGCController(DefaultGCConfig(), st, node)
	gc.sweep()

	seg, _ := st.Segment(3, 0)
	if seg.Status != store.SegmentSealUp {
		t.Errorf("non-leader sweep should not mutate state, got %v", seg.Status)
	}
}

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/robustmq/robustmq/internal/journal/segment"
	"github.com/robustmq/robustmq/internal/kv"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	engine, err := kv.NewBadgerEngine(kv.DefaultConfig(dir), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })

	return New(Config{NodeID: 1, DataFold: t.TempDir(), DurableSync: true}, engine)
}

func upsertSegment(t *testing.T, s *Server, namespace, shard string, seq uint32, leader uint64) {
	t.Helper()
	payload, _ := json.Marshal(struct {
		Namespace  string `json:"namespace"`
		Shard      string `json:"shard"`
		SegmentSeq uint32 `json:"segment_seq"`
		Leader     uint64 `json:"leader"`
	}{namespace, shard, seq, leader})
	if err := s.UpdateCache(ResourceSegment, ActionUpsert, payload); err != nil {
		t.Fatal(err)
	}
}

func TestWriteRejectsNonLeader(t *testing.T) {
	s := newTestServer(t)
	upsertSegment(t, s, "n1", "s1", 0, 2) // leader is node 2, this server is node 1

	_, err := s.Write(context.Background(), "n1", "s1", 0, []*segment.Record{{Key: []byte("a")}})
	if _, ok := err.(*NotLeaderError); !ok {
		t.Fatalf("expected NotLeaderError, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	upsertSegment(t, s, "n1", "s1", 0, 1)

	var recs []*segment.Record
	for i := 0; i < 10; i++ {
		recs = append(recs, &segment.Record{Key: []byte("k"), Value: []byte("v")})
	}
	offsets, err := s.Write(ctx, "n1", "s1", 0, recs)
	if err != nil {
		t.Fatal(err)
	}
	for i, off := range offsets {
		if off != uint64(i) {
			t.Fatalf("offset[%d] = %d want %d", i, off, i)
		}
	}

	got, err := s.Read(ctx, "n1", "s1", 0, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("read %d records, want 4", len(got))
	}
	if got[0].Offset != 3 {
		t.Fatalf("first record offset = %d, want 3", got[0].Offset)
	}
}

func TestOffsetCommitFetch(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	upsertSegment(t, s, "n1", "s1", 0, 1)

	if err := s.OffsetCommit(ctx, "g1", "n1", "s1", 42); err != nil {
		t.Fatal(err)
	}
	off, err := s.FetchOffset(ctx, "g1", "n1", "s1", 0, Earliest, 0)
	if err != nil {
		t.Fatal(err)
	}
	if off != 42 {
		t.Fatalf("fetched offset = %d, want 42", off)
	}
}

func TestDeleteSegmentFile(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	upsertSegment(t, s, "n1", "s1", 0, 1)

	if _, err := s.Write(ctx, "n1", "s1", 0, []*segment.Record{{Key: []byte("a")}}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSegmentFile("n1", "s1", 0); err != nil {
		t.Fatal(err)
	}
	if !s.GetSegmentDeleteStatus("n1", "s1", 0) {
		t.Fatal("expected segment reported deleted")
	}
}

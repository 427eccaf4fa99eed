package index

import (
	"context"
	"log/slog"
	"testing"

	"github.com/robustmq/robustmq/internal/journal/segment"
	"github.com/robustmq/robustmq/internal/kv"
)

func newTestCF(t *testing.T) *kv.CF {
	t.Helper()
	dir := t.TempDir()
	engine, err := kv.NewBadgerEngine(kv.DefaultConfig(dir), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })
	return kv.NewCF(engine, kv.CFJournalIndex)
}

func TestIndexerOffsetAndKeyLookup(t *testing.T) {
	ctx := context.Background()
	cf := newTestCF(t)
	ix := New(cf, "n1", "s1", 0, 2)

	recs := []*segment.Record{
		{Offset: 0, Key: []byte("a"), Timestamp: 1000, Tags: []segment.Tag{{Key: "x"}}},
		{Offset: 1, Key: []byte("b"), Timestamp: 1000, Tags: []segment.Tag{{Key: "x"}}},
		{Offset: 2, Key: []byte("a"), Timestamp: 2000},
	}
	var pos int64
	for _, r := range recs {
		if err := ix.OnAppend(ctx, r, pos); err != nil {
			t.Fatal(err)
		}
		pos += 32
	}

	start, end, ok := ix.StartEndOffset(ctx)
	if !ok || start != 0 || end != 2 {
		t.Fatalf("start/end = %d,%d,%v want 0,2,true", start, end, ok)
	}

	offsets, err := ix.OffsetsForTag(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(offsets) != 2 || offsets[0] != 0 || offsets[1] != 1 {
		t.Fatalf("tag offsets = %v", offsets)
	}

	off, ok, err := ix.OffsetForKey(ctx, "a")
	if err != nil || !ok || off != 2 {
		t.Fatalf("key lookup = %d,%v,%v want 2,true,nil", off, ok, err)
	}

	tsOffset, ok, err := ix.OffsetForTimestamp(ctx, 1)
	if err != nil || !ok || tsOffset != 0 {
		t.Fatalf("timestamp lookup = %d,%v,%v want 0,true,nil", tsOffset, ok, err)
	}

	if ix.IsBuildFinished(ctx) {
		t.Fatal("expected build not finished yet")
	}
	if err := ix.MarkBuildFinished(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if !ix.IsBuildFinished(ctx) {
		t.Fatal("expected build finished")
	}
}

func TestRebuildFromSegmentFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := segment.Open(dir, segment.OpenOptions{DurableSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, _, err := f.Append([]*segment.Record{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: []byte("v2")},
		{Key: []byte("k3"), Value: []byte("v3")},
	}); err != nil {
		t.Fatal(err)
	}

	cf := newTestCF(t)
	ix := New(cf, "n1", "s1", 0, 4096)
	if err := Rebuild(ctx, ix, f); err != nil {
		t.Fatal(err)
	}

	start, end, ok := ix.StartEndOffset(ctx)
	if !ok || start != 0 || end != 2 {
		t.Fatalf("rebuilt start/end = %d,%d,%v", start, end, ok)
	}
	if !ix.IsBuildFinished(ctx) {
		t.Fatal("expected rebuild to mark finished")
	}

	off, ok, err := ix.OffsetForKey(ctx, "k2")
	if err != nil || !ok || off != 1 {
		t.Fatalf("key lookup k2 = %d,%v,%v want 1,true,nil", off, ok, err)
	}
}

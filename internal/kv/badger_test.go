package kv

import (
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"testing"
)

func TestBadgerEngine_BasicOperations(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "robustmq-kv-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := DefaultConfig(tmpDir)
	cfg.Badger.GCInterval = "1h"

	engine, err := NewBadgerEngine(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		key := []byte("node/1")
		value := []byte("10.0.0.1:9982")

		if err := engine.Set(ctx, key, value); err != nil {
			t.Fatal(err)
		}
		got, err := engine.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(value) {
			t.Errorf("expected %s, got %s", value, got)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		if _, err := engine.Get(ctx, []byte("missing")); err != ErrKeyNotFound {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := []byte("node/2")
		if err := engine.Set(ctx, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := engine.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, key); err != ErrKeyNotFound {
			t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
		}
	})

	t.Run("AppendEntry decodes uint64 offset", func(t *testing.T) {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, 4242)

		offset, err := engine.AppendEntry(ctx, key, []byte("entry"))
		if err != nil {
			t.Fatal(err)
		}
		if offset != 4242 {
			t.Errorf("expected offset 4242, got %d", offset)
		}
	})
}

func TestBadgerEngine_Scan(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "robustmq-kv-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	engine, err := NewBadgerEngine(DefaultConfig(tmpDir), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	ctx := context.Background()
	data := map[string]string{
		"shard/0001": "node-1",
		"shard/0002": "node-2",
		"shard/0003": "node-3",
		"other/0001": "unrelated",
	}
	for k, v := range data {
		if err := engine.Set(ctx, []byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]string{}
	err = engine.Scan(ctx, []byte("shard/"), func(key, value []byte) bool {
		seen[string(key)] = string(value)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 shard entries, got %d", len(seen))
	}
	if seen["shard/0002"] != "node-2" {
		t.Errorf("unexpected value for shard/0002: %s", seen["shard/0002"])
	}
}

func TestBadgerEngine_SnapshotRoundTrip(t *testing.T) {
	srcDir, err := os.MkdirTemp("", "robustmq-kv-src-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(srcDir)

	src, err := NewBadgerEngine(DefaultConfig(srcDir), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := src.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	snap, err := src.SaveSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()
	src.Close()

	dstDir, err := os.MkdirTemp("", "robustmq-kv-dst-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dstDir)

	dst, err := NewBadgerEngine(DefaultConfig(dstDir), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	if err := dst.LoadSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	got, err := dst.Get(ctx, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %s", got)
	}
}

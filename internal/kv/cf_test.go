package kv

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func TestCF_Isolation(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "robustmq-cf-test-*")
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
	users := NewCF(engine, CFMQTTUser)
	acls := NewCF(engine, CFMQTTACL)

	if err := users.Set(ctx, []byte("alice"), []byte("hash1")); err != nil {
		t.Fatal(err)
	}
	if err := acls.Set(ctx, []byte("alice"), []byte("allow")); err != nil {
		t.Fatal(err)
	}

	gotUser, err := users.Get(ctx, []byte("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotUser) != "hash1" {
		t.Errorf("expected hash1, got %s", gotUser)
	}

	gotACL, err := acls.Get(ctx, []byte("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotACL) != "allow" {
		t.Errorf("expected allow, got %s", gotACL)
	}

	// same key in two families must not collide on the shared engine.
	raw, err := engine.Get(ctx, []byte(CFMQTTUser+"/alice"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "hash1" {
		t.Errorf("expected raw prefixed key to hold hash1, got %s", raw)
	}
}

func TestCF_ScanStripsPrefix(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "robustmq-cf-test-*")
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
	shards := NewCF(engine, CFShard)
	for _, id := range []string{"0001", "0002", "0003"} {
		if err := shards.Set(ctx, []byte(id), []byte("node-"+id)); err != nil {
			t.Fatal(err)
		}
	}

	var keys []string
	err = shards.Scan(ctx, nil, func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d: %v", len(keys), keys)
	}
	for _, k := range keys {
		if len(k) != 4 {
			t.Errorf("expected stripped key of length 4, got %q", k)
		}
	}
}

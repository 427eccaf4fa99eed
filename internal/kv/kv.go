// Package kv provides the embedded key-value engine backing the meta
// service: cluster/node/shard metadata, the MQTT user/ACL/session tables
// exposed over MetaKv, and (via a second instance) the journal server's
// offset index. Badger has no notion of column families, so callers get
// isolation through key-prefix namespacing instead (see CF).
package kv

import (
	"context"
	"io"
)

// Engine is the interface the meta and journal services program against,
// allowing Badger to be swapped for another embedded store (bbolt, Pebble)
// without touching callers.
type Engine interface {
	// AppendEntry stores a sequentially-keyed entry and, for an 8-byte key,
	// returns the key decoded as a big-endian sequence number. The Raft
	// log and stable stores do not go through this engine; they live in
	// raft-boltdb.
	AppendEntry(ctx context.Context, key, value []byte) (uint64, error)

	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Scan iterates keys sharing prefix in lexical order. fn returning
	// false stops iteration early.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	SaveSnapshot(ctx context.Context) (io.ReadCloser, error)
	LoadSnapshot(ctx context.Context, r io.Reader) error

	// Prune deletes entries keyed below beforeOffset, used to compact the
	// append-only namespaces after a snapshot has captured their state.
	Prune(ctx context.Context, beforeOffset uint64) error

	GC(ctx context.Context) (uint64, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats reports storage engine utilization.
type Stats struct {
	TotalKeys        uint64
	TotalSize        uint64
	LSMSize          uint64
	ValueLogSize     uint64
	LastGCTime       int64
	GCBytesReclaimed uint64
}

// Config configures an embedded KV engine instance.
type Config struct {
	// Engine selects the backing implementation. Only "badger" is wired
	// today; the field exists so a future Pebble/bbolt engine can be
	// selected without an Engine interface change.
	Engine string
	Dir    string
	Badger BadgerConfig
}

// BadgerConfig holds Badger-specific tuning knobs, mirrored from the
// node's [kv] TOML section.
type BadgerConfig struct {
	GCInterval              string
	GCThreshold              float64
	CacheSize                int64
	ValueLogFileSize         int64
	NumMemtables             int
	NumLevelZeroTables       int
	NumLevelZeroTablesStall  int
	SyncWrites               bool
	DetectConflicts          bool
}

// DefaultConfig returns the default KV configuration for a data directory.
func DefaultConfig(dir string) Config {
	return Config{
		Engine: "badger",
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns Badger tuning defaults sized for a metadata
// workload (small values, moderate write volume, no need for strict
// sync-per-write since the Raft log is the durability boundary).
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:              "10m",
		GCThreshold:             0.5,
		CacheSize:               64 << 20,
		ValueLogFileSize:        1 << 30,
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		SyncWrites:              false,
		DetectConflicts:         false,
	}
}

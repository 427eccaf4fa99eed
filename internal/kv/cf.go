package kv

import (
	"bytes"
	"context"
)

// Column family name prefixes used by the meta service. Kept short
// because every key on disk carries one of these as its first segment.
const (
	CFCluster  = "cl" // cluster/node registry
	CFShard    = "sh" // shard assignment + replica placement
	CFSegment  = "sg" // segment metadata (journal control plane)
	CFMQTTUser = "mu" // MQTT user credentials
	CFMQTTACL  = "ma" // MQTT ACL rules
	CFMQTTTopic = "mt" // MQTT topic/session bookkeeping mirrored to meta
	CFKV       = "kv" // generic user key-value namespace (MetaKv.*)
	CFOffset   = "of" // journal server offset index
	CFJournalIndex = "ji" // journal per-segment offset/timestamp/tag/key indexes (spec §4.6)
)

// CF is a namespaced view over an Engine: every key passed through it is
// prefixed with "<name>/" before reaching the underlying store, and every
// key returned from Scan has that prefix stripped back off. This is how
// RobustMQ gets Badger column-family semantics out of a store that has
// none — each logical table gets its own CF instance sharing one Badger
// handle, so there is exactly one LSM tree, one value log, and one GC
// loop for the whole meta node.
type CF struct {
	engine Engine
	prefix []byte
}

// NewCF returns a namespaced view of engine under the given family name.
func NewCF(engine Engine, name string) *CF {
	return &CF{engine: engine, prefix: append([]byte(name), '/')}
}

func (c *CF) key(k []byte) []byte {
	buf := make([]byte, 0, len(c.prefix)+len(k))
	buf = append(buf, c.prefix...)
	buf = append(buf, k...)
	return buf
}

func (c *CF) Get(ctx context.Context, key []byte) ([]byte, error) {
	return c.engine.Get(ctx, c.key(key))
}

func (c *CF) Set(ctx context.Context, key, value []byte) error {
	return c.engine.Set(ctx, c.key(key), value)
}

func (c *CF) Delete(ctx context.Context, key []byte) error {
	return c.engine.Delete(ctx, c.key(key))
}

// Scan iterates keys within this family sharing the given sub-prefix,
// invoking fn with the family prefix already stripped.
func (c *CF) Scan(ctx context.Context, subPrefix []byte, fn func(key, value []byte) bool) error {
	full := c.key(subPrefix)
	return c.engine.Scan(ctx, full, func(key, value []byte) bool {
		return fn(bytes.TrimPrefix(key, c.prefix), value)
	})
}

// AppendEntry delegates to the underlying engine's sequential-key path
// with the family prefix applied.
func (c *CF) AppendEntry(ctx context.Context, key, value []byte) (uint64, error) {
	return c.engine.AppendEntry(ctx, c.key(key), value)
}

// Package main provides the entry point for journal-server, the
// append-only segment storage node described in spec §4.5-§4.7: per-shard
// segment files, the offset/timestamp/tag/key indexes built over them,
// and the JournalInner RPC surface brokers and the Meta rebalance
// controller use to read, write, and migrate that data.
package main

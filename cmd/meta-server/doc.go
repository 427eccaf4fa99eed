// Package main provides the entry point for meta-server, the Raft-backed
// metadata and control-plane process described in spec §4: cluster
// membership, shard/segment placement, MQTT control tables, and the
// generic KV namespace, all replicated through a single Raft group and
// served to brokers and journal nodes over Connect-RPC.
package main

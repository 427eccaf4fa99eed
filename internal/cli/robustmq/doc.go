// Package robustmq provides the command definitions for robustmq-cli, the
// cluster admin tool described in spec §6: cluster/node inspection, MQTT
// control-table management (users, ACLs, blacklist, sessions, retained
// messages), the generic KV namespace, and journal shard administration.
// It is a single urfave/cli/v2 app talking directly to the Connect-RPC
// surfaces in internal/meta/rpc and internal/journal/rpc — one RPC call
// per command invocation, no persistent connection or REPL mode.
package robustmq

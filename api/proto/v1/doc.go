// Package v1 holds the wire types shared by RobustMQ's inter-service RPC
// groups (MetaService, MetaJournal, MetaMqtt, MetaOpenRaft, MetaKv,
// JournalInner, BrokerMqtt, BrokerStorage — spec §6). This workspace has
// no protoc available, so requests and responses here are plain Go
// structs with `json` tags carried over connectrpc.com/connect
// using a custom JSON codec (see internal/meta/rpc.jsonCodec) instead of
// protobuf wire encoding — the same connect.NewUnaryHandler/
// connect.NewClient call shapes, same interceptor chain, different
// payload codec. google.golang.org/protobuf stays linked and exercised
// through types/known/timestamppb.Timestamp for the handful of fields
// that are genuinely wall-clock timestamps (see DESIGN.md).
package v1

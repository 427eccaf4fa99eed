// Package rpc is the meta service's Connect-RPC surface: the MetaService,
// MetaJournal, MetaKv, and MetaOpenRaft method groups (spec §6), each a
// thin connect.NewUnaryHandler/connect.NewClient wiring over the
// already-built meta store, router, and raft.Node. The JournalInner group
// lives in internal/journal/rpc.
package rpc

import (
	"encoding/json"
	"fmt"
)

// jsonCodec implements connect.Codec over encoding/json instead of
// protobuf wire encoding. This workspace has no protoc/buf available to
// generate proto.Message implementations from api/proto/v1, so the
// method groups exchange the plain structs in that package using this
// codec name ("json") registered via connect.WithCodec, rather than
// connect's built-in "proto"/"grpc+proto" codecs (see DESIGN.md).
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("rpc: unmarshal: empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal: %w", err)
	}
	return nil
}

// Codec is the shared jsonCodec instance every handler and client in this
// package registers with connect.WithCodec.
var Codec = jsonCodec{}

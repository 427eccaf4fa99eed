package client

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
	jrpc "github.com/robustmq/robustmq/internal/journal/rpc"
	jserver "github.com/robustmq/robustmq/internal/journal/server"
	"github.com/robustmq/robustmq/internal/meta/store"
	"github.com/robustmq/robustmq/pkg/cmap"
)

// readBatchSize bounds how many records SegmentTransfer reads per RPC
// round-trip while streaming a segment to a new replica.
const readBatchSize = 256

// SegmentTransfer implements controller.SegmentTransferClient by reading
// a segment out of this node's local journal server and replaying it onto
// a remote node's JournalInner.Write, rate-limited the same way the
// rebalance migration loop throttles its transfers (see DESIGN.md).
type SegmentTransfer struct {
	local      *jserver.Server
	store      *store.Store
	httpClient connect.HTTPClient
	clients    *cmap.Map[string, *jrpc.Client]
}

// NewSegmentTransfer wires a SegmentTransfer over the local journal server
// (the source of segment bytes) and the meta store (to resolve a
// shard ID to its namespace and topic).
func NewSegmentTransfer(local *jserver.Server, st *store.Store, httpClient connect.HTTPClient) *SegmentTransfer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SegmentTransfer{
		local:      local,
		store:      st,
		httpClient: httpClient,
		clients:    cmap.New[string, *jrpc.Client](),
	}
}

func (t *SegmentTransfer) clientFor(addr string) *jrpc.Client {
	c, ok := t.clients.Get(addr)
	if ok {
		return c
	}
	c = jrpc.NewClient(t.httpClient, addr)
	existing, loaded := t.clients.GetOrSet(addr, c)
	if loaded {
		return existing
	}
	return c
}

// TransferSegment streams shardID's segmentID from this node to
// targetAddr, honoring limiter so the aggregate rebalance bandwidth stays
// under the configured cap.
func (t *SegmentTransfer) TransferSegment(ctx context.Context, targetAddr string, shardID, segmentID uint64, limiter *rate.Limiter) (int64, error) {
	sh, ok := t.store.Shard(shardID)
	if !ok {
		return 0, fmt.Errorf("client: shard %d not found", shardID)
	}

	client := t.clientFor(targetAddr)
	var totalBytes int64
	var offset uint64

	for {
		recs, err := t.local.Read(ctx, sh.Namespace, sh.Topic, uint32(segmentID), offset, readBatchSize)
		if err != nil {
			return totalBytes, fmt.Errorf("client: read local segment: %w", err)
		}
		if len(recs) == 0 {
			break
		}

		wireRecs := make([]v1.JournalRecord, 0, len(recs))
		var batchBytes int64
		for _, r := range recs {
			tags := make([]string, 0, len(r.Tags))
			for _, tag := range r.Tags {
				tags = append(tags, tag.Key)
			}
			wireRecs = append(wireRecs, v1.JournalRecord{Header: r.Header, Key: r.Key, Value: r.Value, Tags: tags})
			batchBytes += int64(len(r.Key) + len(r.Value))
		}

		if err := limiter.WaitN(ctx, int(batchBytes)); err != nil {
			return totalBytes, fmt.Errorf("client: rate limit wait: %w", err)
		}

		_, err = client.Write(ctx, &v1.JournalWriteRequest{
			Namespace: sh.Namespace, ShardName: sh.Topic, SegmentSeq: uint32(segmentID), Records: wireRecs,
		})
		if err != nil {
			return totalBytes, fmt.Errorf("client: write to target: %w", err)
		}

		totalBytes += batchBytes
		offset = recs[len(recs)-1].Offset + 1

		if len(recs) < readBatchSize {
			break
		}
	}

	return totalBytes, nil
}

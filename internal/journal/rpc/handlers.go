// Package rpc exposes a journal node's Server (internal/journal/server)
// over Connect-RPC as the JournalInner method group (spec §6, §4.7):
// Write/Read/FetchOffset/OffsetCommit/GetActiveSegment/UpdateCache plus
// the delete handshake brokers and the Meta controller drive. It mirrors
// internal/meta/rpc's custom-JSON-codec pattern exactly.
package rpc

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
	"github.com/robustmq/robustmq/internal/journal/segment"
	jserver "github.com/robustmq/robustmq/internal/journal/server"
	metarpc "github.com/robustmq/robustmq/internal/meta/rpc"
)

const (
	procWrite                = "/journal.v1.JournalInner/Write"
	procRead                 = "/journal.v1.JournalInner/Read"
	procOffsetCommit         = "/journal.v1.JournalInner/OffsetCommit"
	procFetchOffset          = "/journal.v1.JournalInner/FetchOffset"
	procGetActiveSegment     = "/journal.v1.JournalInner/GetActiveSegment"
	procUpdateCache          = "/journal.v1.JournalInner/UpdateCache"
	procDeleteShardFile      = "/journal.v1.JournalInner/DeleteShardFile"
	procGetShardDeleteStatus = "/journal.v1.JournalInner/GetShardDeleteStatus"
)

// jsonCodecOpt reuses internal/meta/rpc's custom JSON connect.Codec so
// every Connect-RPC surface in the cluster speaks the same wire format.
var jsonCodecOpt = connect.WithCodec(metarpc.Codec)

// Handler adapts jserver.Server to the JournalInner wire shapes.
type Handler struct {
	srv *jserver.Server
}

func NewHandler(srv *jserver.Server) *Handler { return &Handler{srv: srv} }

func (h *Handler) write(ctx context.Context, req *v1.JournalWriteRequest) (*v1.JournalWriteResponse, error) {
	recs := make([]*segment.Record, 0, len(req.Records))
	for _, r := range req.Records {
		tags := make([]segment.Tag, 0, len(r.Tags))
		for _, t := range r.Tags {
			tags = append(tags, segment.Tag{Key: t})
		}
		recs = append(recs, &segment.Record{Header: r.Header, Key: r.Key, Value: r.Value, Tags: tags})
	}
	offsets, err := h.srv.Write(ctx, req.Namespace, req.ShardName, req.SegmentSeq, recs)
	if err != nil {
		if nle, ok := err.(*jserver.NotLeaderError); ok {
			cerr := connect.NewError(connect.CodeUnavailable, err)
			if detail, derr := connect.NewErrorDetail(&v1.NotLeaderHint{CurrentLeader: nle.CurrentLeader}); derr == nil {
				cerr.AddDetail(detail)
			}
			return nil, cerr
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return &v1.JournalWriteResponse{Offsets: offsets}, nil
}

func (h *Handler) read(ctx context.Context, req *v1.JournalReadRequest) (*v1.JournalReadResponse, error) {
	recs, err := h.srv.Read(ctx, req.Namespace, req.ShardName, req.SegmentSeq, req.Offset, req.MaxRecords)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	out := make([]v1.JournalRecordOut, 0, len(recs))
	for _, r := range recs {
		tags := make([]string, 0, len(r.Tags))
		for _, t := range r.Tags {
			tags = append(tags, t.Key)
		}
		out = append(out, v1.JournalRecordOut{
			Offset: r.Offset, Timestamp: r.Timestamp, Header: r.Header,
			Key: r.Key, Value: r.Value, Tags: tags,
		})
	}
	return &v1.JournalReadResponse{Records: out}, nil
}

func (h *Handler) offsetCommit(ctx context.Context, req *v1.OffsetCommitRequest) (*v1.OffsetCommitResponse, error) {
	if err := h.srv.OffsetCommit(ctx, req.Group, req.Namespace, req.ShardName, req.Offset); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return &v1.OffsetCommitResponse{}, nil
}

func (h *Handler) fetchOffset(ctx context.Context, req *v1.FetchOffsetRequest) (*v1.FetchOffsetResponse, error) {
	var strategy jserver.FetchStrategy
	switch req.Strategy {
	case "latest":
		strategy = jserver.Latest
	case "timestamp":
		strategy = jserver.Timestamp
	default:
		strategy = jserver.Earliest
	}
	off, err := h.srv.FetchOffset(ctx, req.Group, req.Namespace, req.ShardName, req.SegmentSeq, strategy, req.AtSec)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return &v1.FetchOffsetResponse{Offset: off}, nil
}

func (h *Handler) getActiveSegment(ctx context.Context, req *v1.GetActiveSegmentRequest) (*v1.GetActiveSegmentResponse, error) {
	leader, status, ok := h.srv.GetActiveSegment(req.Namespace, req.ShardName, 0)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("journal rpc: no active segment for %s/%s", req.Namespace, req.ShardName))
	}
	_ = status
	return &v1.GetActiveSegmentResponse{Leader: leader}, nil
}

func (h *Handler) updateCache(ctx context.Context, req *v1.UpdateCacheRequest) (*v1.UpdateCacheResponse, error) {
	err := h.srv.UpdateCache(jserver.CacheResourceType(req.ResourceType), jserver.CacheAction(req.Action), req.Payload)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return &v1.UpdateCacheResponse{}, nil
}

func (h *Handler) deleteShardFile(ctx context.Context, req *v1.DeleteShardFileRequest) (*v1.DeleteShardFileResponse, error) {
	if err := h.srv.DeleteShardFile(req.Namespace, req.ShardName, req.SegmentSeqs); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return &v1.DeleteShardFileResponse{}, nil
}

func (h *Handler) getShardDeleteStatus(ctx context.Context, req *v1.GetShardDeleteStatusRequest) (*v1.GetShardDeleteStatusResponse, error) {
	done := h.srv.GetShardDeleteStatus(req.Namespace, req.ShardName, req.SegmentSeqs)
	return &v1.GetShardDeleteStatusResponse{Done: done}, nil
}

func mount[Req, Res any](mux *http.ServeMux, path string, fn func(context.Context, *Req) (*Res, error)) {
	wrapped := func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(res), nil
	}
	mux.Handle(path, connect.NewUnaryHandler(path, wrapped, jsonCodecOpt))
}

// RegisterHandlers mounts every JournalInner method on mux.
func RegisterHandlers(mux *http.ServeMux, srv *jserver.Server) {
	h := NewHandler(srv)
	mount(mux, procWrite, h.write)
	mount(mux, procRead, h.read)
	mount(mux, procOffsetCommit, h.offsetCommit)
	mount(mux, procFetchOffset, h.fetchOffset)
	mount(mux, procGetActiveSegment, h.getActiveSegment)
	mount(mux, procUpdateCache, h.updateCache)
	mount(mux, procDeleteShardFile, h.deleteShardFile)
	mount(mux, procGetShardDeleteStatus, h.getShardDeleteStatus)
}

// NewClient builds a JournalInner client addressing baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	return &Client{
		write:        connect.NewClient[v1.JournalWriteRequest, v1.JournalWriteResponse](httpClient, baseURL+procWrite, jsonCodecOpt),
		read:         connect.NewClient[v1.JournalReadRequest, v1.JournalReadResponse](httpClient, baseURL+procRead, jsonCodecOpt),
		fetchOffset:  connect.NewClient[v1.FetchOffsetRequest, v1.FetchOffsetResponse](httpClient, baseURL+procFetchOffset, jsonCodecOpt),
		offsetCommit: connect.NewClient[v1.OffsetCommitRequest, v1.OffsetCommitResponse](httpClient, baseURL+procOffsetCommit, jsonCodecOpt),
		updateCache:  connect.NewClient[v1.UpdateCacheRequest, v1.UpdateCacheResponse](httpClient, baseURL+procUpdateCache, jsonCodecOpt),
	}
}

// Client is the subset of JournalInner methods the CLI and the segment
// transfer in internal/client call as clients. Each method makes a
// single unary call; no pool or retry wraps it.
type Client struct {
	write        *connect.Client[v1.JournalWriteRequest, v1.JournalWriteResponse]
	read         *connect.Client[v1.JournalReadRequest, v1.JournalReadResponse]
	fetchOffset  *connect.Client[v1.FetchOffsetRequest, v1.FetchOffsetResponse]
	offsetCommit *connect.Client[v1.OffsetCommitRequest, v1.OffsetCommitResponse]
	updateCache  *connect.Client[v1.UpdateCacheRequest, v1.UpdateCacheResponse]
}

func (c *Client) Write(ctx context.Context, req *v1.JournalWriteRequest) (*v1.JournalWriteResponse, error) {
	res, err := c.write.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Read(ctx context.Context, req *v1.JournalReadRequest) (*v1.JournalReadResponse, error) {
	res, err := c.read.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) FetchOffset(ctx context.Context, req *v1.FetchOffsetRequest) (*v1.FetchOffsetResponse, error) {
	res, err := c.fetchOffset.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) OffsetCommit(ctx context.Context, req *v1.OffsetCommitRequest) (*v1.OffsetCommitResponse, error) {
	res, err := c.offsetCommit.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) UpdateCache(ctx context.Context, req *v1.UpdateCacheRequest) (*v1.UpdateCacheResponse, error) {
	res, err := c.updateCache.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

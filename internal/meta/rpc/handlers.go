package rpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

// procedure paths, following connect's "/package.Service/Method" shape
// even without a generated .proto package declaration.
const (
	procRegisterNode      = "/meta.v1.MetaService/RegisterNode"
	procUnRegisterNode    = "/meta.v1.MetaService/UnRegisterNode"
	procHeartbeat         = "/meta.v1.MetaService/Heartbeat"
	procNodeList          = "/meta.v1.MetaService/NodeList"
	procCreateShard       = "/meta.v1.MetaJournal/CreateShard"
	procDeleteShard       = "/meta.v1.MetaJournal/DeleteShard"
	procCreateNextSegment = "/meta.v1.MetaJournal/CreateNextSegment"
	procSealUpSegment     = "/meta.v1.MetaJournal/SealUpSegment"
	procDeleteSegment     = "/meta.v1.MetaJournal/DeleteSegment"
	procKvSet             = "/meta.v1.MetaKv/Set"
	procKvGet             = "/meta.v1.MetaKv/Get"
	procKvDelete          = "/meta.v1.MetaKv/Delete"
	procKvExists          = "/meta.v1.MetaKv/Exists"
	procKvPrefixList      = "/meta.v1.MetaKv/PrefixList"
	procAddLearner        = "/meta.v1.MetaOpenRaft/AddLearner"
	procChangeMembership  = "/meta.v1.MetaOpenRaft/ChangeMembership"
	procAcquireExclusiveSub = "/meta.v1.MetaMqtt/AcquireExclusiveSub"
	procReleaseExclusiveSub = "/meta.v1.MetaMqtt/ReleaseExclusiveSub"
	procPutUser           = "/meta.v1.MetaMqtt/PutUser"
	procDeleteUser        = "/meta.v1.MetaMqtt/DeleteUser"
	procGetUser           = "/meta.v1.MetaMqtt/GetUser"
	procListUsers         = "/meta.v1.MetaMqtt/ListUsers"
	procPutACL            = "/meta.v1.MetaMqtt/PutACL"
	procDeleteACL         = "/meta.v1.MetaMqtt/DeleteACL"
	procListACLs          = "/meta.v1.MetaMqtt/ListACLs"
	procPutBlacklist      = "/meta.v1.MetaMqtt/PutBlacklist"
	procDeleteBlacklist   = "/meta.v1.MetaMqtt/DeleteBlacklist"
	procListBlacklist     = "/meta.v1.MetaMqtt/ListBlacklist"
	procPutSession        = "/meta.v1.MetaMqtt/PutSession"
	procGetSession        = "/meta.v1.MetaMqtt/GetSession"
	procDeleteSession     = "/meta.v1.MetaMqtt/DeleteSession"
	procPutRetained       = "/meta.v1.MetaMqtt/PutRetained"
	procGetRetained       = "/meta.v1.MetaMqtt/GetRetained"
	procDeleteRetained    = "/meta.v1.MetaMqtt/DeleteRetained"
	procListRetained      = "/meta.v1.MetaMqtt/ListRetained"
)

// unary adapts a plain (ctx, *Req) (*Res, error) business method into the
// connect.Request/connect.Response wrapper shape connect.NewUnaryHandler
// expects, and mounts it on mux.
func unary[Req, Res any](path string, fn func(context.Context, *Req) (*Res, error), mux *http.ServeMux) {
	wrapped := func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return connect.NewResponse(res), nil
	}
	handler := connect.NewUnaryHandler(path, wrapped, connect.WithCodec(Codec))
	mux.Handle(path, handler)
}

// RegisterHandlers mounts every MetaService/MetaJournal/MetaKv/MetaOpenRaft
// method onto mux using connect.NewUnaryHandler, each bound to one
// MetaServer business-logic method (spec §6).
func RegisterHandlers(mux *http.ServeMux, srv *MetaServer) {
	unary(procRegisterNode, srv.RegisterNode, mux)
	unary(procUnRegisterNode, srv.UnRegisterNode, mux)
	unary(procHeartbeat, srv.Heartbeat, mux)
	unary(procNodeList, srv.NodeList, mux)
	unary(procCreateShard, srv.CreateShard, mux)
	unary(procDeleteShard, srv.DeleteShard, mux)
	unary(procCreateNextSegment, srv.CreateNextSegment, mux)
	unary(procSealUpSegment, srv.SealUpSegment, mux)
	unary(procDeleteSegment, srv.DeleteSegment, mux)
	unary(procKvSet, srv.KvSet, mux)
	unary(procKvGet, srv.KvGet, mux)
	unary(procKvDelete, srv.KvDelete, mux)
	unary(procKvExists, srv.KvExists, mux)
	unary(procKvPrefixList, srv.KvPrefixList, mux)
	unary(procAddLearner, srv.AddLearner, mux)
	unary(procChangeMembership, srv.ChangeMembership, mux)
	unary(procAcquireExclusiveSub, srv.AcquireExclusiveSub, mux)
	unary(procReleaseExclusiveSub, srv.ReleaseExclusiveSub, mux)
	unary(procPutUser, srv.PutUser, mux)
	unary(procDeleteUser, srv.DeleteUser, mux)
	unary(procGetUser, srv.GetUser, mux)
	unary(procListUsers, srv.ListUsers, mux)
	unary(procPutACL, srv.PutACL, mux)
	unary(procDeleteACL, srv.DeleteACL, mux)
	unary(procListACLs, srv.ListACLs, mux)
	unary(procPutBlacklist, srv.PutBlacklist, mux)
	unary(procDeleteBlacklist, srv.DeleteBlacklist, mux)
	unary(procListBlacklist, srv.ListBlacklist, mux)
	unary(procPutSession, srv.PutSession, mux)
	unary(procGetSession, srv.GetSession, mux)
	unary(procDeleteSession, srv.DeleteSession, mux)
	unary(procPutRetained, srv.PutRetained, mux)
	unary(procGetRetained, srv.GetRetained, mux)
	unary(procDeleteRetained, srv.DeleteRetained, mux)
	unary(procListRetained, srv.ListRetained, mux)
}

// Client is a thin MetaService/MetaJournal/MetaKv RPC client over one
// fixed base address. Each method makes a single unary call; no pool or
// retry wraps it.
type Client struct {
	registerNode      *connect.Client[v1.RegisterNodeRequest, v1.RegisterNodeResponse]
	unRegisterNode    *connect.Client[v1.UnRegisterNodeRequest, v1.UnRegisterNodeResponse]
	heartbeat         *connect.Client[v1.HeartbeatRequest, v1.HeartbeatResponse]
	nodeList          *connect.Client[v1.NodeListRequest, v1.NodeListResponse]
	createShard       *connect.Client[v1.CreateShardRequest, v1.CreateShardResponse]
	deleteShard       *connect.Client[v1.DeleteShardRequest, v1.DeleteShardResponse]
	createNextSegment *connect.Client[v1.CreateNextSegmentRequest, v1.CreateNextSegmentResponse]
	sealUpSegment     *connect.Client[v1.SealUpSegmentRequest, v1.SealUpSegmentResponse]
	deleteSegment     *connect.Client[v1.DeleteSegmentRequest, v1.DeleteSegmentResponse]
	kvGet             *connect.Client[v1.KvGetRequest, v1.KvGetResponse]
	kvSet             *connect.Client[v1.KvSetRequest, v1.KvSetResponse]
	kvDelete          *connect.Client[v1.KvDeleteRequest, v1.KvDeleteResponse]
	kvExists          *connect.Client[v1.KvExistsRequest, v1.KvExistsResponse]
	kvPrefixList      *connect.Client[v1.KvPrefixListRequest, v1.KvPrefixListResponse]
	acquireExclusiveSub *connect.Client[v1.AcquireExclusiveSubRequest, v1.AcquireExclusiveSubResponse]
	releaseExclusiveSub *connect.Client[v1.ReleaseExclusiveSubRequest, v1.ReleaseExclusiveSubResponse]
	putUser           *connect.Client[v1.PutUserRequest, v1.PutUserResponse]
	deleteUser        *connect.Client[v1.DeleteUserRequest, v1.DeleteUserResponse]
	getUser           *connect.Client[v1.GetUserRequest, v1.GetUserResponse]
	listUsers         *connect.Client[v1.ListUsersRequest, v1.ListUsersResponse]
	putACL            *connect.Client[v1.PutACLRequest, v1.PutACLResponse]
	deleteACL         *connect.Client[v1.DeleteACLRequest, v1.DeleteACLResponse]
	listACLs          *connect.Client[v1.ListACLsRequest, v1.ListACLsResponse]
	putBlacklist      *connect.Client[v1.PutBlacklistRequest, v1.PutBlacklistResponse]
	deleteBlacklist   *connect.Client[v1.DeleteBlacklistRequest, v1.DeleteBlacklistResponse]
	listBlacklist     *connect.Client[v1.ListBlacklistRequest, v1.ListBlacklistResponse]
	putSession        *connect.Client[v1.PutSessionRequest, v1.PutSessionResponse]
	getSession        *connect.Client[v1.GetSessionRequest, v1.GetSessionResponse]
	deleteSession     *connect.Client[v1.DeleteSessionRequest, v1.DeleteSessionResponse]
	putRetained       *connect.Client[v1.PutRetainedRequest, v1.PutRetainedResponse]
	getRetained       *connect.Client[v1.GetRetainedRequest, v1.GetRetainedResponse]
	deleteRetained    *connect.Client[v1.DeleteRetainedRequest, v1.DeleteRetainedResponse]
	listRetained      *connect.Client[v1.ListRetainedRequest, v1.ListRetainedResponse]
}

// NewClient builds a Client addressing baseURL (a node's HTTP listen
// address), using httpClient for transport (h2c for cleartext HTTP/2, the
// way connect-go recommends for intra-cluster traffic).
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	opt := connect.WithCodec(Codec)
	return &Client{
		registerNode:      connect.NewClient[v1.RegisterNodeRequest, v1.RegisterNodeResponse](httpClient, baseURL+procRegisterNode, opt),
		unRegisterNode:    connect.NewClient[v1.UnRegisterNodeRequest, v1.UnRegisterNodeResponse](httpClient, baseURL+procUnRegisterNode, opt),
		heartbeat:         connect.NewClient[v1.HeartbeatRequest, v1.HeartbeatResponse](httpClient, baseURL+procHeartbeat, opt),
		nodeList:          connect.NewClient[v1.NodeListRequest, v1.NodeListResponse](httpClient, baseURL+procNodeList, opt),
		createShard:       connect.NewClient[v1.CreateShardRequest, v1.CreateShardResponse](httpClient, baseURL+procCreateShard, opt),
		deleteShard:       connect.NewClient[v1.DeleteShardRequest, v1.DeleteShardResponse](httpClient, baseURL+procDeleteShard, opt),
		createNextSegment: connect.NewClient[v1.CreateNextSegmentRequest, v1.CreateNextSegmentResponse](httpClient, baseURL+procCreateNextSegment, opt),
		sealUpSegment:     connect.NewClient[v1.SealUpSegmentRequest, v1.SealUpSegmentResponse](httpClient, baseURL+procSealUpSegment, opt),
		deleteSegment:     connect.NewClient[v1.DeleteSegmentRequest, v1.DeleteSegmentResponse](httpClient, baseURL+procDeleteSegment, opt),
		kvGet:             connect.NewClient[v1.KvGetRequest, v1.KvGetResponse](httpClient, baseURL+procKvGet, opt),
		kvSet:             connect.NewClient[v1.KvSetRequest, v1.KvSetResponse](httpClient, baseURL+procKvSet, opt),
		kvDelete:          connect.NewClient[v1.KvDeleteRequest, v1.KvDeleteResponse](httpClient, baseURL+procKvDelete, opt),
		kvExists:          connect.NewClient[v1.KvExistsRequest, v1.KvExistsResponse](httpClient, baseURL+procKvExists, opt),
		kvPrefixList:      connect.NewClient[v1.KvPrefixListRequest, v1.KvPrefixListResponse](httpClient, baseURL+procKvPrefixList, opt),
		acquireExclusiveSub: connect.NewClient[v1.AcquireExclusiveSubRequest, v1.AcquireExclusiveSubResponse](httpClient, baseURL+procAcquireExclusiveSub, opt),
		releaseExclusiveSub: connect.NewClient[v1.ReleaseExclusiveSubRequest, v1.ReleaseExclusiveSubResponse](httpClient, baseURL+procReleaseExclusiveSub, opt),
		putUser:           connect.NewClient[v1.PutUserRequest, v1.PutUserResponse](httpClient, baseURL+procPutUser, opt),
		deleteUser:        connect.NewClient[v1.DeleteUserRequest, v1.DeleteUserResponse](httpClient, baseURL+procDeleteUser, opt),
		getUser:           connect.NewClient[v1.GetUserRequest, v1.GetUserResponse](httpClient, baseURL+procGetUser, opt),
		listUsers:         connect.NewClient[v1.ListUsersRequest, v1.ListUsersResponse](httpClient, baseURL+procListUsers, opt),
		putACL:            connect.NewClient[v1.PutACLRequest, v1.PutACLResponse](httpClient, baseURL+procPutACL, opt),
		deleteACL:         connect.NewClient[v1.DeleteACLRequest, v1.DeleteACLResponse](httpClient, baseURL+procDeleteACL, opt),
		listACLs:          connect.NewClient[v1.ListACLsRequest, v1.ListACLsResponse](httpClient, baseURL+procListACLs, opt),
		putBlacklist:      connect.NewClient[v1.PutBlacklistRequest, v1.PutBlacklistResponse](httpClient, baseURL+procPutBlacklist, opt),
		deleteBlacklist:   connect.NewClient[v1.DeleteBlacklistRequest, v1.DeleteBlacklistResponse](httpClient, baseURL+procDeleteBlacklist, opt),
		listBlacklist:     connect.NewClient[v1.ListBlacklistRequest, v1.ListBlacklistResponse](httpClient, baseURL+procListBlacklist, opt),
		putSession:        connect.NewClient[v1.PutSessionRequest, v1.PutSessionResponse](httpClient, baseURL+procPutSession, opt),
		getSession:        connect.NewClient[v1.GetSessionRequest, v1.GetSessionResponse](httpClient, baseURL+procGetSession, opt),
		deleteSession:     connect.NewClient[v1.DeleteSessionRequest, v1.DeleteSessionResponse](httpClient, baseURL+procDeleteSession, opt),
		putRetained:       connect.NewClient[v1.PutRetainedRequest, v1.PutRetainedResponse](httpClient, baseURL+procPutRetained, opt),
		getRetained:       connect.NewClient[v1.GetRetainedRequest, v1.GetRetainedResponse](httpClient, baseURL+procGetRetained, opt),
		deleteRetained:    connect.NewClient[v1.DeleteRetainedRequest, v1.DeleteRetainedResponse](httpClient, baseURL+procDeleteRetained, opt),
		listRetained:      connect.NewClient[v1.ListRetainedRequest, v1.ListRetainedResponse](httpClient, baseURL+procListRetained, opt),
	}
}

func (c *Client) RegisterNode(ctx context.Context, req *v1.RegisterNodeRequest) (*v1.RegisterNodeResponse, error) {
	res, err := c.registerNode.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Heartbeat(ctx context.Context, req *v1.HeartbeatRequest) (*v1.HeartbeatResponse, error) {
	res, err := c.heartbeat.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) NodeList(ctx context.Context, req *v1.NodeListRequest) (*v1.NodeListResponse, error) {
	res, err := c.nodeList.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) CreateShard(ctx context.Context, req *v1.CreateShardRequest) (*v1.CreateShardResponse, error) {
	res, err := c.createShard.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) UnRegisterNode(ctx context.Context, req *v1.UnRegisterNodeRequest) (*v1.UnRegisterNodeResponse, error) {
	res, err := c.unRegisterNode.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DeleteShard(ctx context.Context, req *v1.DeleteShardRequest) (*v1.DeleteShardResponse, error) {
	res, err := c.deleteShard.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) CreateNextSegment(ctx context.Context, req *v1.CreateNextSegmentRequest) (*v1.CreateNextSegmentResponse, error) {
	res, err := c.createNextSegment.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) SealUpSegment(ctx context.Context, req *v1.SealUpSegmentRequest) (*v1.SealUpSegmentResponse, error) {
	res, err := c.sealUpSegment.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DeleteSegment(ctx context.Context, req *v1.DeleteSegmentRequest) (*v1.DeleteSegmentResponse, error) {
	res, err := c.deleteSegment.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) KvGet(ctx context.Context, req *v1.KvGetRequest) (*v1.KvGetResponse, error) {
	res, err := c.kvGet.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) KvSet(ctx context.Context, req *v1.KvSetRequest) (*v1.KvSetResponse, error) {
	res, err := c.kvSet.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) KvDelete(ctx context.Context, req *v1.KvDeleteRequest) (*v1.KvDeleteResponse, error) {
	res, err := c.kvDelete.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) KvExists(ctx context.Context, req *v1.KvExistsRequest) (*v1.KvExistsResponse, error) {
	res, err := c.kvExists.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) KvPrefixList(ctx context.Context, req *v1.KvPrefixListRequest) (*v1.KvPrefixListResponse, error) {
	res, err := c.kvPrefixList.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) AcquireExclusiveSub(ctx context.Context, req *v1.AcquireExclusiveSubRequest) (*v1.AcquireExclusiveSubResponse, error) {
	res, err := c.acquireExclusiveSub.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ReleaseExclusiveSub(ctx context.Context, req *v1.ReleaseExclusiveSubRequest) (*v1.ReleaseExclusiveSubResponse, error) {
	res, err := c.releaseExclusiveSub.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) PutUser(ctx context.Context, req *v1.PutUserRequest) (*v1.PutUserResponse, error) {
	res, err := c.putUser.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DeleteUser(ctx context.Context, req *v1.DeleteUserRequest) (*v1.DeleteUserResponse, error) {
	res, err := c.deleteUser.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) GetUser(ctx context.Context, req *v1.GetUserRequest) (*v1.GetUserResponse, error) {
	res, err := c.getUser.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ListUsers(ctx context.Context, req *v1.ListUsersRequest) (*v1.ListUsersResponse, error) {
	res, err := c.listUsers.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) PutACL(ctx context.Context, req *v1.PutACLRequest) (*v1.PutACLResponse, error) {
	res, err := c.putACL.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DeleteACL(ctx context.Context, req *v1.DeleteACLRequest) (*v1.DeleteACLResponse, error) {
	res, err := c.deleteACL.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ListACLs(ctx context.Context, req *v1.ListACLsRequest) (*v1.ListACLsResponse, error) {
	res, err := c.listACLs.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) PutBlacklist(ctx context.Context, req *v1.PutBlacklistRequest) (*v1.PutBlacklistResponse, error) {
	res, err := c.putBlacklist.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DeleteBlacklist(ctx context.Context, req *v1.DeleteBlacklistRequest) (*v1.DeleteBlacklistResponse, error) {
	res, err := c.deleteBlacklist.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ListBlacklist(ctx context.Context, req *v1.ListBlacklistRequest) (*v1.ListBlacklistResponse, error) {
	res, err := c.listBlacklist.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) PutSession(ctx context.Context, req *v1.PutSessionRequest) (*v1.PutSessionResponse, error) {
	res, err := c.putSession.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) GetSession(ctx context.Context, req *v1.GetSessionRequest) (*v1.GetSessionResponse, error) {
	res, err := c.getSession.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DeleteSession(ctx context.Context, req *v1.DeleteSessionRequest) (*v1.DeleteSessionResponse, error) {
	res, err := c.deleteSession.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) PutRetained(ctx context.Context, req *v1.PutRetainedRequest) (*v1.PutRetainedResponse, error) {
	res, err := c.putRetained.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) GetRetained(ctx context.Context, req *v1.GetRetainedRequest) (*v1.GetRetainedResponse, error) {
	res, err := c.getRetained.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DeleteRetained(ctx context.Context, req *v1.DeleteRetainedRequest) (*v1.DeleteRetainedResponse, error) {
	res, err := c.deleteRetained.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ListRetained(ctx context.Context, req *v1.ListRetainedRequest) (*v1.ListRetainedResponse, error) {
	res, err := c.listRetained.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

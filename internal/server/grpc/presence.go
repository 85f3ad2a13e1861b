package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified presence service name.
const ServiceName = "lexchat.presence.v1.Presence"

const (
	methodIsOnline     = "/" + ServiceName + "/IsOnline"
	methodOnlineSubset = "/" + ServiceName + "/OnlineSubset"
	methodStats        = "/" + ServiceName + "/Stats"
)

type IsOnlineRequest struct {
	UserID string `json:"userId"`
}

type IsOnlineResponse struct {
	Online      bool `json:"online"`
	Connections int  `json:"connections"`
}

type OnlineSubsetRequest struct {
	UserIDs []string `json:"userIds"`
}

type OnlineSubsetResponse struct {
	Online []string `json:"online"`
}

type StatsRequest struct{}

type StatsResponse struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// PresenceServer is the server API for the presence service.
type PresenceServer interface {
	IsOnline(context.Context, *IsOnlineRequest) (*IsOnlineResponse, error)
	OnlineSubset(context.Context, *OnlineSubsetRequest) (*OnlineSubsetResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// RegisterPresenceServer registers srv on s.
func RegisterPresenceServer(s grpc.ServiceRegistrar, srv PresenceServer) {
	s.RegisterService(&presenceServiceDesc, srv)
}

var presenceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PresenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IsOnline", Handler: isOnlineHandler},
		{MethodName: "OnlineSubset", Handler: onlineSubsetHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lexchat/presence/v1/presence.json",
}

func isOnlineHandler(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
	in := new(IsOnlineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if ic == nil {
		return srv.(PresenceServer).IsOnline(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodIsOnline}
	return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServer).IsOnline(ctx, req.(*IsOnlineRequest))
	})
}

func onlineSubsetHandler(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
	in := new(OnlineSubsetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if ic == nil {
		return srv.(PresenceServer).OnlineSubset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodOnlineSubset}
	return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServer).OnlineSubset(ctx, req.(*OnlineSubsetRequest))
	})
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if ic == nil {
		return srv.(PresenceServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStats}
	return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServer).Stats(ctx, req.(*StatsRequest))
	})
}

// PresenceClient is the client API for the presence service.
type PresenceClient interface {
	IsOnline(ctx context.Context, in *IsOnlineRequest, opts ...grpc.CallOption) (*IsOnlineResponse, error)
	OnlineSubset(ctx context.Context, in *OnlineSubsetRequest, opts ...grpc.CallOption) (*OnlineSubsetResponse, error)
	Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error)
}

type presenceClient struct {
	cc grpc.ClientConnInterface
}

// NewPresenceClient returns a client that speaks the JSON codec over cc.
func NewPresenceClient(cc grpc.ClientConnInterface) PresenceClient {
	return &presenceClient{cc: cc}
}

func (c *presenceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *presenceClient) IsOnline(ctx context.Context, in *IsOnlineRequest, opts ...grpc.CallOption) (*IsOnlineResponse, error) {
	out := new(IsOnlineResponse)
	if err := c.invoke(ctx, methodIsOnline, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *presenceClient) OnlineSubset(ctx context.Context, in *OnlineSubsetRequest, opts ...grpc.CallOption) (*OnlineSubsetResponse, error) {
	out := new(OnlineSubsetResponse)
	if err := c.invoke(ctx, methodOnlineSubset, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *presenceClient) Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	out := new(StatsResponse)
	if err := c.invoke(ctx, methodStats, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

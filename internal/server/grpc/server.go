// Package grpcserver exposes read-only presence queries over gRPC.
package grpcserver

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/and161185/lexchat/internal/presence"
)

// maxSubset bounds the ids accepted by a single OnlineSubset call.
const maxSubset = 1000

// Server answers presence queries from the live registry.
type Server struct {
	reg *presence.Registry
}

var _ PresenceServer = (*Server)(nil)

// New constructs a presence RPC server over reg.
func New(reg *presence.Registry) *Server {
	return &Server{reg: reg}
}

// IsOnline reports whether a user holds at least one live connection.
func (s *Server) IsOnline(_ context.Context, req *IsOnlineRequest) (*IsOnlineResponse, error) {
	id := strings.TrimSpace(req.UserID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "empty userId")
	}
	n := s.reg.Count(id)
	return &IsOnlineResponse{Online: n > 0, Connections: n}, nil
}

// OnlineSubset returns the given ids that are currently online, in request order.
func (s *Server) OnlineSubset(_ context.Context, req *OnlineSubsetRequest) (*OnlineSubsetResponse, error) {
	if len(req.UserIDs) > maxSubset {
		return nil, status.Errorf(codes.InvalidArgument, "too many ids (%d > %d)", len(req.UserIDs), maxSubset)
	}
	return &OnlineSubsetResponse{Online: s.reg.OnlineSubsetOf(req.UserIDs)}, nil
}

// Stats returns registry totals.
func (s *Server) Stats(context.Context, *StatsRequest) (*StatsResponse, error) {
	users, conns := s.reg.Stats()
	return &StatsResponse{Users: users, Connections: conns}, nil
}

// Options configure NewGRPCServer.
type Options struct {
	Tokens     TokenVerifier
	Log        *zap.Logger
	Reflection bool
	// Extra server options, e.g. grpc.Creds.
	Extra []grpc.ServerOption
}

// NewGRPCServer builds a grpc.Server with the interceptor chain, the presence
// service, the health service and, optionally, reflection.
func NewGRPCServer(srv *Server, opts Options) (*grpc.Server, *health.Server) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("grpc")

	so := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
			AuthUnary(opts.Tokens),
		),
	}, opts.Extra...)
	gs := grpc.NewServer(so...)

	RegisterPresenceServer(gs, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	if opts.Reflection {
		reflection.Register(gs)
	}
	return gs, hs
}

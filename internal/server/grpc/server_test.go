package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/lexchat/internal/auth"
	"github.com/and161185/lexchat/internal/presence"
)

type stubConn struct{ id string }

func (c stubConn) ID() string      { return c.id }
func (stubConn) Send([]byte) error { return nil }
func (stubConn) Close(error)       {}

type rpcHarness struct {
	reg    *presence.Registry
	tokens *auth.Manager
	cc     *grpc.ClientConn
}

func newRPCHarness(t *testing.T) *rpcHarness {
	t.Helper()

	reg := presence.NewRegistry()
	tokens := auth.NewManager([]byte("rpc-secret"), time.Hour)
	gs, _ := NewGRPCServer(New(reg), Options{Tokens: tokens, Log: zaptest.NewLogger(t)})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cc.Close()
		gs.Stop()
	})
	return &rpcHarness{reg: reg, tokens: tokens, cc: cc}
}

func (h *rpcHarness) authed(t *testing.T) context.Context {
	t.Helper()
	tok, err := h.tokens.Issue(uuid.Must(uuid.NewV4()), "admin")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok.AccessToken)
}

func TestPresenceRPC_Queries(t *testing.T) {
	t.Parallel()
	h := newRPCHarness(t)
	h.reg.Register("alice", stubConn{"c1"})
	h.reg.Register("alice", stubConn{"c2"})
	h.reg.Register("bob", stubConn{"c3"})

	client := NewPresenceClient(h.cc)
	ctx := h.authed(t)

	on, err := client.IsOnline(ctx, &IsOnlineRequest{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, &IsOnlineResponse{Online: true, Connections: 2}, on)

	off, err := client.IsOnline(ctx, &IsOnlineRequest{UserID: "carol"})
	require.NoError(t, err)
	require.False(t, off.Online)

	sub, err := client.OnlineSubset(ctx, &OnlineSubsetRequest{UserIDs: []string{"carol", "bob", "alice", "bob"}})
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "alice"}, sub.Online)

	st, err := client.Stats(ctx, &StatsRequest{})
	require.NoError(t, err)
	require.Equal(t, &StatsResponse{Users: 2, Connections: 3}, st)
}

func TestPresenceRPC_Errors(t *testing.T) {
	t.Parallel()
	h := newRPCHarness(t)
	client := NewPresenceClient(h.cc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Stats(ctx, &StatsRequest{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.IsOnline(h.authed(t), &IsOnlineRequest{UserID: "  "})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.OnlineSubset(h.authed(t), &OnlineSubsetRequest{UserIDs: make([]string, maxSubset+1)})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPresenceRPC_HealthWithoutToken(t *testing.T) {
	t.Parallel()
	h := newRPCHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(h.cc).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

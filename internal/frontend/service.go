// Package frontend is the request/reply RPC surface (component C7) that
// funnels match requests into the matchmaker core and returns the assigned
// server. It does no authentication itself — it is a thin reverse-proxy
// onto the matchmaker core's in-process request channel.
package frontend

import (
	"context"

	"google.golang.org/grpc"
)

// QuickMatchRequest is a client's request for a match.
type QuickMatchRequest struct {
	Username string
	Password []byte
}

// QuickMatchReply is the matchmaker's reply. Server is "FAIL" on failure,
// with Response naming the reason.
type QuickMatchReply struct {
	Username string
	Server   string
	AuthKey  string
	Ranking  float64
	Response string
}

// AdminStatusRequest carries no fields; present for symmetry with the
// generated-RPC shape.
type AdminStatusRequest struct{}

// MatchStatus is one live match's operator-visible summary. It never
// carries gameplay payloads.
type MatchStatus struct {
	Port           int
	Usernames      []string
	ElapsedSeconds float64
}

// AdminStatusReply is the operator snapshot returned by AdminStatus.
type AdminStatusReply struct {
	QueueUsernames []string
	FreePorts      int
	InUsePorts     int
	Matches        []MatchStatus
}

// Server is the service interface the matchmaker process implements.
type Server interface {
	GetMatch(ctx context.Context, req *QuickMatchRequest) (*QuickMatchReply, error)
	AdminStatus(ctx context.Context, req *AdminStatusRequest) (*AdminStatusReply, error)
}

const serviceName = "matchcore.Matchmaker"

// ServiceDesc is the hand-authored equivalent of protoc-gen-go-grpc output
// for this service (see internal/rpcutil for why this module doesn't run
// protoc).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMatch", Handler: getMatchHandler},
		{MethodName: "AdminStatus", Handler: adminStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/frontend/service.go",
}

func getMatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(QuickMatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetMatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetMatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetMatch(ctx, req.(*QuickMatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func adminStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AdminStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).AdminStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AdminStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).AdminStatus(ctx, req.(*AdminStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client wraps a connection to the matchmaking frontend.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection to the matchmaking port.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetMatch(ctx context.Context, req *QuickMatchRequest) (*QuickMatchReply, error) {
	out := new(QuickMatchReply)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetMatch", req, out)
	return out, err
}

func (c *Client) AdminStatus(ctx context.Context, req *AdminStatusRequest) (*AdminStatusReply, error) {
	out := new(AdminStatusReply)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/AdminStatus", req, out)
	return out, err
}

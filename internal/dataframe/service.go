package dataframe

import (
	"context"

	"google.golang.org/grpc"
)

// Wire messages for the Dataframe service. Plain structs — see
// internal/rpcutil for how these ride grpc-go without protoc.

type JoinRequest struct {
	Token string
	Name  string
}

type JoinReply struct {
	PID            int64
	DimensionNames []string
}

type PullRequest struct {
	PID int64
}

type PullReply struct {
	Player PlayerRecord
	// PlayerClock is the player record's current vector-clock stamp
	// (Vector.String()), handed back so a subsequent Commit can report
	// what it was based on; see CommitRequest.SinceClock.
	PlayerClock string
	State       ServerStateRecord
}

type CommitRequest struct {
	PID                  int64
	Action               []byte
	Ready                bool
	AcknowledgesGameOver bool
	// SinceClock is the PlayerClock from the Pull this commit's decision
	// was based on. The store compares it against the record's current
	// clock and logs a stale write if the server has mutated the record
	// since — e.g. a disconnect timeout flipped Turn between this
	// client's last Pull and this Commit.
	SinceClock string
}

type CommitReply struct{}

type LeaveRequest struct {
	PID int64
}

type LeaveReply struct{}

// Server is the service interface a match server implements to host its
// dataframe over gRPC.
type Server interface {
	Join(ctx context.Context, req *JoinRequest) (*JoinReply, error)
	Pull(ctx context.Context, req *PullRequest) (*PullReply, error)
	Commit(ctx context.Context, req *CommitRequest) (*CommitReply, error)
	Leave(ctx context.Context, req *LeaveRequest) (*LeaveReply, error)
}

const serviceName = "matchcore.Dataframe"

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for a service with these four unary RPCs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: joinHandler},
		{MethodName: "Pull", Handler: pullHandler},
		{MethodName: "Commit", Handler: commitHandler},
		{MethodName: "Leave", Handler: leaveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/dataframe/service.go",
}

func joinHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(JoinRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Join(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Join"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Join(ctx, req.(*JoinRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pullHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PullRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Pull(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Pull"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Pull(ctx, req.(*PullRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func commitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CommitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Commit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Commit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Commit(ctx, req.(*CommitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func leaveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LeaveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Leave(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Leave"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Leave(ctx, req.(*LeaveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is a thin wrapper a match client adapter uses to call the four
// RPCs against one match's dataframe connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection to a match's game port.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Join(ctx context.Context, req *JoinRequest) (*JoinReply, error) {
	out := new(JoinReply)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Join", req, out)
	return out, err
}

func (c *Client) Pull(ctx context.Context, req *PullRequest) (*PullReply, error) {
	out := new(PullReply)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Pull", req, out)
	return out, err
}

func (c *Client) Commit(ctx context.Context, req *CommitRequest) (*CommitReply, error) {
	out := new(CommitReply)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Commit", req, out)
	return out, err
}

func (c *Client) Leave(ctx context.Context, req *LeaveRequest) (*LeaveReply, error) {
	out := new(LeaveReply)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Leave", req, out)
	return out, err
}

// Package admin exposes a daemon's membership view over gRPC.
//
// The service has a single unary method, Snapshot, that takes
// google.protobuf.Empty and returns the snapshot as a google.protobuf.Struct,
// so no generated stubs are needed on either side.
package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ryandielhenn/ringd/pkg/gossip"
)

const (
	ServiceName    = "ringd.admin.v1.Inspector"
	snapshotMethod = "/" + ServiceName + "/Snapshot"
)

type InspectorServer interface {
	Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Snapshotter is satisfied by *gossip.Daemon.
type Snapshotter interface {
	Snapshot() gossip.Snapshot
}

type Inspector struct {
	view   Snapshotter
	bootID string
}

func NewInspector(view Snapshotter, bootID string) *Inspector {
	return &Inspector{view: view, bootID: bootID}
}

func (i *Inspector) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	out, err := ToStruct(i.view.Snapshot())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	out.Fields["boot_id"] = structpb.NewStringValue(i.bootID)
	return out, nil
}

// ToStruct converts a snapshot to a Struct through its JSON form so both
// admin surfaces report the same field names.
func ToStruct(s gossip.Snapshot) (*structpb.Struct, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(st *structpb.Struct) (gossip.Snapshot, error) {
	var s gossip.Snapshot
	b, err := protojson.Marshal(st)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func Register(s grpc.ServiceRegistrar, srv InspectorServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InspectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringd/admin/v1/inspector.proto",
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InspectorServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InspectorServer).Snapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the Inspector service over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Snapshot(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, snapshotMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

package rowstore

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "loancollect.rowstore.v1.RowStore"

const (
	MethodUpsert = "/" + ServiceName + "/Upsert"
	MethodDelete = "/" + ServiceName + "/Delete"
	MethodSelect = "/" + ServiceName + "/Select"
	MethodPing   = "/" + ServiceName + "/Ping"
)

// Server is implemented by the remote entity store.
type Server interface {
	Upsert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Select(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Ping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Upsert", Handler: unary(MethodUpsert, Server.Upsert)},
		{MethodName: "Delete", Handler: unary(MethodDelete, Server.Delete)},
		{MethodName: "Select", Handler: unary(MethodSelect, Server.Select)},
		{MethodName: "Ping", Handler: unary(MethodPing, Server.Ping)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rowstore",
}

type call func(Server, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, fn call) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(Server), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

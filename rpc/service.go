package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "keeper.Persistence"

	StatsMethod      = "/keeper.Persistence/Stats"
	LoadMethod       = "/keeper.Persistence/Load"
	FlushOwnerMethod = "/keeper.Persistence/FlushOwner"
)

// PersistenceServer is the server API for the keeper.Persistence service.
// Requests and replies are well-known Struct messages so no generated code is
// needed.
type PersistenceServer interface {
	// Stats returns queue_depth, available_tokens and capacity.
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Load reads {entity_type, owner} from the store with retries.
	Load(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// FlushOwner writes every queued request for {owner} immediately.
	FlushOwner(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterPersistenceServer(s grpc.ServiceRegistrar, srv PersistenceServer) {
	s.RegisterService(&Persistence_ServiceDesc, srv)
}

func _Persistence_Stats_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PersistenceServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: StatsMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PersistenceServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Persistence_Load_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PersistenceServer).Load(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: LoadMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PersistenceServer).Load(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Persistence_FlushOwner_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PersistenceServer).FlushOwner(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FlushOwnerMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PersistenceServer).FlushOwner(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Persistence_ServiceDesc is the grpc.ServiceDesc for the keeper.Persistence service.
var Persistence_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PersistenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Stats",
			Handler:    _Persistence_Stats_Handler,
		},
		{
			MethodName: "Load",
			Handler:    _Persistence_Load_Handler,
		},
		{
			MethodName: "FlushOwner",
			Handler:    _Persistence_FlushOwner_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keeper/persistence.proto",
}

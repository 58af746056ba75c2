// Package smmsyncv1 описывает gRPC-контракт ProviderSyncService.
//
// Сообщения передаются как google.protobuf.Struct, поэтому пакет не требует
// кодогенерации: дескриптор сервиса и обёртки клиента написаны вручную в том
// же виде, в каком их выдаёт protoc-gen-go-grpc.
package smmsyncv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ProviderSyncService_ServiceName               = "smmsync.v1.ProviderSyncService"
	ProviderSyncService_SyncOrders_FullMethodName = "/smmsync.v1.ProviderSyncService/SyncOrders"
	ProviderSyncService_ListLogs_FullMethodName   = "/smmsync.v1.ProviderSyncService/ListLogs"
)

// ProviderSyncServiceClient — клиентский API сервиса синхронизации.
type ProviderSyncServiceClient interface {
	SyncOrders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListLogs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type providerSyncServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewProviderSyncServiceClient(cc grpc.ClientConnInterface) ProviderSyncServiceClient {
	return &providerSyncServiceClient{cc}
}

func (c *providerSyncServiceClient) SyncOrders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ProviderSyncService_SyncOrders_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *providerSyncServiceClient) ListLogs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ProviderSyncService_ListLogs_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ProviderSyncServiceServer — серверная сторона. Реализации должны встраивать
// UnimplementedProviderSyncServiceServer.
type ProviderSyncServiceServer interface {
	SyncOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	mustEmbedUnimplementedProviderSyncServiceServer()
}

type UnimplementedProviderSyncServiceServer struct{}

func (UnimplementedProviderSyncServiceServer) SyncOrders(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SyncOrders not implemented")
}

func (UnimplementedProviderSyncServiceServer) ListLogs(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListLogs not implemented")
}

func (UnimplementedProviderSyncServiceServer) mustEmbedUnimplementedProviderSyncServiceServer() {}

func RegisterProviderSyncServiceServer(s grpc.ServiceRegistrar, srv ProviderSyncServiceServer) {
	s.RegisterService(&ProviderSyncService_ServiceDesc, srv)
}

func _ProviderSyncService_SyncOrders_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProviderSyncServiceServer).SyncOrders(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ProviderSyncService_SyncOrders_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProviderSyncServiceServer).SyncOrders(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _ProviderSyncService_ListLogs_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProviderSyncServiceServer).ListLogs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ProviderSyncService_ListLogs_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProviderSyncServiceServer).ListLogs(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ProviderSyncService_ServiceDesc — дескриптор для grpc.RegisterService.
var ProviderSyncService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ProviderSyncService_ServiceName,
	HandlerType: (*ProviderSyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SyncOrders",
			Handler:    _ProviderSyncService_SyncOrders_Handler,
		},
		{
			MethodName: "ListLogs",
			Handler:    _ProviderSyncService_ListLogs_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smmsync/v1/provider_sync.proto",
}

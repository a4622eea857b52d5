package transport

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName      = "causality.v1.TimestampExchange"
	ingestMethod     = "/" + serviceName + "/Ingest"
	statusMethod     = "/" + serviceName + "/Status"
	serviceSourceRef = "causality/v1/timestamp_exchange"
)

// TimestampExchangeServer is the server API of the timestamp exchange
type TimestampExchangeServer interface {
	Ingest(context.Context, *IngestRequest) (*IngestResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// RegisterTimestampExchangeServer registers srv on s
func RegisterTimestampExchangeServer(s grpc.ServiceRegistrar, srv TimestampExchangeServer) {
	s.RegisterService(&timestampExchangeServiceDesc, srv)
}

func ingestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(IngestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TimestampExchangeServer).Ingest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ingestMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TimestampExchangeServer).Ingest(ctx, req.(*IngestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TimestampExchangeServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: statusMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TimestampExchangeServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var timestampExchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TimestampExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ingest",
			Handler:    ingestHandler,
		},
		{
			MethodName: "Status",
			Handler:    statusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceSourceRef,
}

package broker

import (
	"context"

	"google.golang.org/grpc"
)

const deliverMethod = "/ezdl.broker.Broker/Deliver"

type brokerServer interface {
	Deliver(ctx context.Context, req *deliverRequest) (*deliverReply, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(deliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(brokerServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(brokerServer).Deliver(ctx, req.(*deliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerBrokerServer(s grpc.ServiceRegistrar, srv brokerServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "ezdl.broker.Broker",
		HandlerType: (*brokerServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Deliver",
				Handler:    deliverHandler,
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "broker.proto",
	}, srv)
}

package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The delivery service is small enough that we describe it by hand rather
// than generating it.  The wire format stays ordinary protobuf, a request
// carrying the envelope bytes and an empty acknowledgement.

const deliveryDeliverMethod = "/msgbus.v1.Delivery/Deliver"

// DeliveryService is the server-side interface of the delivery RPC.
type DeliveryService interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func RegisterDeliveryService(s grpc.ServiceRegistrar, svc DeliveryService) {
	s.RegisterService(&deliveryServiceDesc, svc)
}

func _Delivery_Deliver_Handler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeliveryService).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliveryDeliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeliveryService).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var deliveryServiceDesc = grpc.ServiceDesc{
	ServiceName: "msgbus.v1.Delivery",
	HandlerType: (*DeliveryService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    _Delivery_Deliver_Handler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

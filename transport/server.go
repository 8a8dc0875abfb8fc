package transport

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/runtime/protoiface"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	epb "google.golang.org/genproto/googleapis/rpc/errdetails"
)

// Handler consumes messages that arrive at this node.  An error return is
// propagated to the sending side as the failure of its delivery.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

type DeliveryServerOptions struct {
	Handler Handler
	Logger  *zap.Logger
}

// DeliveryServer is the receiving side of the transport.  It unpacks
// incoming frames and hands them to the configured handler.
type DeliveryServer struct {
	handler Handler
	logger  *zap.Logger
}

var _ DeliveryService = (*DeliveryServer)(nil)

func NewDeliveryServer(opts *DeliveryServerOptions) (*DeliveryServer, error) {
	if opts.Handler == nil {
		return nil, errors.New("a message handler must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryServer{
		handler: opts.Handler,
		logger:  logger,
	}, nil
}

func (s *DeliveryServer) tryAttachStatusDetails(st *status.Status, details ...protoiface.MessageV1) *status.Status {
	// try to attach the details
	if newSt, err := st.WithDetails(details...); err == nil {
		return newSt
	}

	return st
}

func (s *DeliveryServer) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	msg, err := DecodeEnvelope(req.GetValue())
	if err != nil {
		s.logger.Warn("rejected an undecodable delivery", zap.Error(err))

		st := status.New(codes.InvalidArgument, "The message envelope could not be decoded.")
		st = s.tryAttachStatusDetails(st, &epb.ErrorInfo{
			Reason: "INVALID_ENVELOPE",
			Domain: "msgbus",
		})
		return nil, st.Err()
	}

	err = s.handler.HandleMessage(ctx, msg)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok {
			s.logger.Error("the message handler failed",
				zap.String("kind", msg.Kind),
				zap.Stringer("messageId", msg.ID),
				zap.Error(err))

			st = status.New(codes.Internal, "An internal error occurred while handling the message.")
		}
		return nil, st.Err()
	}

	return &emptypb.Empty{}, nil
}

package interceptors

import (
	"context"

	"github.com/couchbaselabs/gomsgbus/utils/clientnames"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

type DeliveryLoggingInterceptor struct {
	logger *zap.Logger
}

func NewDeliveryLoggingInterceptor(log *zap.Logger) *DeliveryLoggingInterceptor {
	return &DeliveryLoggingInterceptor{
		logger: log,
	}
}

func clientNameFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	userAgents := md.Get("user-agent")
	if len(userAgents) == 0 {
		return ""
	}

	return clientnames.FromUserAgent(userAgents[0])
}

func (dli *DeliveryLoggingInterceptor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (response interface{}, err error) {
		peerAddr := "unknown"
		if p, ok := peer.FromContext(ctx); ok {
			peerAddr = p.Addr.String()
		}

		clientName := clientNameFromContext(ctx)

		resp, err := handler(ctx, req)

		if err != nil {
			dli.logger.Debug("delivery failed",
				zap.String("method", info.FullMethod),
				zap.String("peer", peerAddr),
				zap.String("client", clientName),
				zap.Error(err))
		} else {
			dli.logger.Debug("delivery handled",
				zap.String("method", info.FullMethod),
				zap.String("peer", peerAddr),
				zap.String("client", clientName))
		}

		return resp, err
	}
}

package interceptors

import (
	"context"

	"github.com/couchbaselabs/gomsgbus/pkg/metrics"
	"google.golang.org/grpc"
)

type MetricsInterceptor struct {
	metrics *metrics.BusMetrics
}

func NewMetricsInterceptor(metrics *metrics.BusMetrics) *MetricsInterceptor {
	return &MetricsInterceptor{
		metrics: metrics,
	}
}

func (mi *MetricsInterceptor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (response interface{}, err error) {
		mi.metrics.Deliveries.Add(ctx, 1)
		mi.metrics.ActiveDeliveries.Add(ctx, 1)

		resp, err := handler(ctx, req)

		mi.metrics.ActiveDeliveries.Add(ctx, -1)
		if err != nil {
			mi.metrics.DeliveryFailures.Add(ctx, 1)
		}

		return resp, err
	}
}

func (mi *MetricsInterceptor) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		mi.metrics.Deliveries.Add(ss.Context(), 1)
		mi.metrics.ActiveDeliveries.Add(ss.Context(), 1)

		err := handler(srv, ss)

		mi.metrics.ActiveDeliveries.Add(ss.Context(), -1)
		if err != nil {
			mi.metrics.DeliveryFailures.Add(ss.Context(), 1)
		}

		return err
	}
}

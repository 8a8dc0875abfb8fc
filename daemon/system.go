package daemon

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/couchbaselabs/gomsgbus/contrib/grpcrejectunknown"
	"github.com/couchbaselabs/gomsgbus/pkg/interceptors"
	"github.com/couchbaselabs/gomsgbus/pkg/metrics"
	"github.com/couchbaselabs/gomsgbus/pkg/ratelimiting"
	"github.com/couchbaselabs/gomsgbus/transport"
	"github.com/couchbaselabs/gomsgbus/utils/authhdr"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
)

const maxMsgSize = 25 * 1024 * 1024 // 25MiB

type SystemOptions struct {
	Logger *zap.Logger

	Handler     transport.Handler
	Metrics     *metrics.BusMetrics
	RateLimiter ratelimiting.RateLimiter

	TlsConfig *tls.Config
	AuthToken string
	Debug     bool
}

// System owns the delivery-side grpc server of a node.
type System struct {
	logger *zap.Logger

	deliveryServer *grpc.Server
}

func NewSystem(opts *SystemOptions) (*System, error) {
	deliverySvc, err := transport.NewDeliveryServer(&transport.DeliveryServerOptions{
		Handler: opts.Handler,
		Logger:  opts.Logger.Named("delivery"),
	})
	if err != nil {
		return nil, err
	}

	metricsInterceptor := interceptors.NewMetricsInterceptor(opts.Metrics)
	loggingInterceptor := interceptors.NewDeliveryLoggingInterceptor(opts.Logger.Named("grpc-debug"))

	recoveryHandler := func(p any) (err error) {
		opts.Logger.Error("a panic has been triggered", zap.Any("error: ", p))
		return status.Errorf(codes.Internal, "An internal error occurred.")
	}

	var unaryInterceptors []grpc.UnaryServerInterceptor
	unaryInterceptors = append(unaryInterceptors, metricsInterceptor.UnaryInterceptor())
	if opts.Debug {
		unaryInterceptors = append(unaryInterceptors, loggingInterceptor.UnaryInterceptor())
	}
	if opts.AuthToken != "" {
		unaryInterceptors = append(unaryInterceptors, newBearerAuthInterceptor(opts.AuthToken))
	}
	if opts.RateLimiter != nil {
		unaryInterceptors = append(unaryInterceptors, opts.RateLimiter.GrpcUnaryInterceptor())
	}
	unaryInterceptors = append(unaryInterceptors, grpcrejectunknown.MakeGrpcUnaryInterceptor(opts.Logger))
	unaryInterceptors = append(unaryInterceptors, recovery.UnaryServerInterceptor(
		recovery.WithRecoveryHandler(recoveryHandler),
	))

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
		grpc.MaxRecvMsgSize(maxMsgSize),
	}

	if opts.TlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(opts.TlsConfig)))
	}

	switch otel.GetMeterProvider().(type) {
	case noop.MeterProvider:
	default:
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	deliverySrv := grpc.NewServer(serverOpts...)
	transport.RegisterDeliveryService(deliverySrv, deliverySvc)

	// health check
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for serviceName := range deliverySrv.GetServiceInfo() {
		healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	grpc_health_v1.RegisterHealthServer(deliverySrv, healthServer)

	s := &System{
		logger:         opts.Logger,
		deliveryServer: deliverySrv,
	}

	return s, nil
}

// newBearerAuthInterceptor rejects calls that do not carry the expected
// bearer token.  Health checks stay unauthenticated so load balancers can
// probe the node.
func newBearerAuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		authValues := md.Get("authorization")
		if len(authValues) != 1 {
			return nil, status.Error(codes.Unauthenticated, "An authorization token is required.")
		}

		reqToken, ok := authhdr.DecodeBearerAuth(authValues[0])
		if !ok || reqToken != token {
			return nil, status.Error(codes.Unauthenticated, "The authorization token is not valid.")
		}

		return handler(ctx, req)
	}
}

func (s *System) Serve(ctx context.Context, l *Listeners) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		s.deliveryServer.Stop()
	}()

	if l.deliveryListener != nil {
		wg.Add(1)
		go func() {
			err := s.deliveryServer.Serve(l.deliveryListener)
			if err != nil {
				s.logger.Warn("delivery server serve failed", zap.Error(err))
			}
			wg.Done()
		}()
	}

	wg.Wait()
	return nil
}

func (s *System) Shutdown() {
	s.deliveryServer.GracefulStop()
}

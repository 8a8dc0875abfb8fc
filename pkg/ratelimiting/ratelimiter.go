package ratelimiting

import (
	"google.golang.org/grpc"
)

type RateLimiter interface {
	GrpcUnaryInterceptor() grpc.UnaryServerInterceptor
}

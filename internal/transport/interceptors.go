package transport

import (
	"context"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDUnaryClientInterceptor propagates the request id carried on ctx,
// minting one when absent, so engine logs can be correlated with the caller.
func RequestIDUnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, id := logging.EnsureRequestID(ctx)
		ctx = metadata.AppendToOutgoingContext(ctx, logging.RequestIDMetadataKey, id)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

package simengine

import (
	"context"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/internal/observability"
	"github.com/signalsfoundry/simcontrol/internal/transport"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server adapts an Engine to the control protocol.
type Server struct {
	engine *Engine
	log    logging.Logger
}

var _ transport.EngineServer = (*Server)(nil)

// NewServer wraps engine.
func NewServer(engine *Engine, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{engine: engine, log: log}
}

// Register attaches the server to s.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	transport.RegisterEngineServer(reg, s)
}

func (s *Server) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, s.log)
}

// StartSimulation starts or resumes the engine.
func (s *Server) StartSimulation(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(s.engine.Start(ctx)), nil
}

// StopSimulation stops the engine and resets its clock.
func (s *Server) StopSimulation(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(s.engine.Stop(ctx)), nil
}

// CopyPasteObjects duplicates the requested objects.
func (s *Server) CopyPasteObjects(ctx context.Context, req *structpb.ListValue) (*structpb.ListValue, error) {
	handles, err := transport.DecodeHandles(req)
	if err != nil {
		s.logger(ctx).Warn(ctx, "rejecting copy request", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return transport.EncodeHandles(s.engine.CopyPaste(ctx, handles)), nil
}

// GetObjectHandle resolves an object name.
func (s *Server) GetObjectHandle(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(int32(s.engine.Handle(req.GetValue()))), nil
}

// SetObjectPosition moves an object within a reference frame.
func (s *Server) SetObjectPosition(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int32Value, error) {
	handle, relativeTo, pos, err := transport.DecodeMoveRequest(req)
	if err != nil {
		s.logger(ctx).Warn(ctx, "rejecting move request", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return wrapperspb.Int32(s.engine.SetPosition(ctx, handle, relativeTo, pos)), nil
}

// GetObjectPose reports an object pose within a reference frame.
func (s *Server) GetObjectPose(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle, relativeTo, err := transport.DecodePoseRequest(req)
	if err != nil {
		s.logger(ctx).Warn(ctx, "rejecting pose request", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return transport.EncodePose(s.engine.Pose(handle, relativeTo)), nil
}

// LoadScene replaces the scene with a YAML file from the engine host.
func (s *Server) LoadScene(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(s.engine.LoadScene(ctx, req.GetValue())), nil
}

// SubscribeInfo streams simulator info until the client goes away or the
// engine closes.
func (s *Server) SubscribeInfo(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	updates, cancel := s.engine.Subscribe()
	defer cancel()

	// Headers acknowledge the subscription before the first message.
	if err := stream.SendHeader(nil); err != nil {
		return ToStatusError(err)
	}
	s.logger(ctx).Debug(ctx, "info subscriber attached")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-updates:
			if !ok {
				return nil
			}
			if err := stream.Send(transport.EncodeInfo(n.Code, n.SimulationTime)); err != nil {
				return ToStatusError(err)
			}
		}
	}
}

// NewGRPCServer builds a gRPC server carrying the engine service with
// request-id, tracing and, when collector is non-nil, metrics interceptors.
func NewGRPCServer(engine *Engine, log logging.Logger, collector *observability.Collector, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = logging.Noop()
	}
	unary := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	stream := []grpc.StreamServerInterceptor{
		RequestIDStreamServerInterceptor(log),
	}
	if collector != nil {
		unary = append(unary, collector.UnaryServerInterceptor())
		stream = append(stream, collector.StreamServerInterceptor())
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}, opts...)
	server := grpc.NewServer(serverOpts...)
	NewServer(engine, log).Register(server)
	return server
}

// Package transport binds a control client to a simulation engine over
// gRPC. A Connection holds one bound endpoint per remote operation plus the
// inbound simulator info subscription.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/signalsfoundry/simcontrol/control"
	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var _ control.Engine = (*Connection)(nil)

// Config controls how a Connection is bound.
type Config struct {
	// Endpoint is the engine's host:port.
	Endpoint string
	// BindTimeout bounds connecting and opening the info subscription.
	BindTimeout time.Duration
	// CallTimeout applies to calls whose context carries no deadline.
	CallTimeout time.Duration
	// NotificationBuffer is the depth of the notification queue. When full,
	// the oldest queued notification is dropped.
	NotificationBuffer int
}

func (c Config) withDefaults() Config {
	if c.BindTimeout <= 0 {
		c.BindTimeout = 5 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = 1
	}
	return c
}

// ConnectionError reports a failure to bind the engine endpoints.
type ConnectionError struct {
	Endpoint string
	Stage    string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bind %s: %s: %v", e.Endpoint, e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a remote call that did not produce a response,
// such as an unreachable engine or an expired deadline.
type TransportError struct {
	Op   model.Operation
	Code codes.Code
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure (%s): %v", e.Op, e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type bindOptions struct {
	log          logging.Logger
	dialOptions  []grpc.DialOption
	interceptors []grpc.UnaryClientInterceptor
}

// Option customises Bind.
type Option func(*bindOptions)

// WithLogger sets the connection logger.
func WithLogger(log logging.Logger) Option {
	return func(o *bindOptions) { o.log = log }
}

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *bindOptions) { o.dialOptions = append(o.dialOptions, opts...) }
}

// WithUnaryInterceptors appends client interceptors, e.g. metrics.
func WithUnaryInterceptors(interceptors ...grpc.UnaryClientInterceptor) Option {
	return func(o *bindOptions) { o.interceptors = append(o.interceptors, interceptors...) }
}

// Connection is a bound engine. It is safe for concurrent use.
type Connection struct {
	endpoint    string
	conn        *grpc.ClientConn
	endpoints   map[model.Operation]string
	callTimeout time.Duration
	log         logging.Logger

	notifications chan model.InfoNotification
	cancel        context.CancelFunc
	done          chan struct{}
	closeOnce     sync.Once
}

// Bind connects to cfg.Endpoint, binds every operation endpoint and opens
// the info subscription. It makes a single attempt; any failure is returned
// as a *ConnectionError.
func Bind(ctx context.Context, cfg Config, opts ...Option) (*Connection, error) {
	cfg = cfg.withDefaults()
	o := bindOptions{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	if cfg.Endpoint == "" {
		return nil, &ConnectionError{Stage: "dial", Err: errors.New("endpoint is required")}
	}
	log := o.log.With(logging.String("endpoint", cfg.Endpoint))

	interceptors := append([]grpc.UnaryClientInterceptor{RequestIDUnaryClientInterceptor()}, o.interceptors...)
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(interceptors...),
	}
	dialOpts = append(dialOpts, o.dialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, &ConnectionError{Endpoint: cfg.Endpoint, Stage: "dial", Err: err}
	}

	bindCtx, bindCancel := context.WithTimeout(ctx, cfg.BindTimeout)
	defer bindCancel()

	if err := waitReady(bindCtx, conn); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Endpoint: cfg.Endpoint, Stage: "connect", Err: err}
	}

	endpoints := make(map[model.Operation]string, len(model.Operations))
	for _, op := range model.Operations {
		endpoints[op] = MethodFor(op)
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	stream, err := subscribe(bindCtx, subCtx, conn)
	if err != nil {
		subCancel()
		_ = conn.Close()
		return nil, &ConnectionError{Endpoint: cfg.Endpoint, Stage: "subscribe", Err: err}
	}

	c := &Connection{
		endpoint:      cfg.Endpoint,
		conn:          conn,
		endpoints:     endpoints,
		callTimeout:   cfg.CallTimeout,
		log:           log,
		notifications: make(chan model.InfoNotification, cfg.NotificationBuffer),
		cancel:        subCancel,
		done:          make(chan struct{}),
	}
	go c.pump(stream)

	log.Info(ctx, "bound simulation engine", logging.Int("operations", len(endpoints)))
	return c, nil
}

// waitReady drives conn to READY. A transient failure ends the attempt.
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("connection state %s", state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// subscribe opens the info stream on streamCtx and waits, bounded by
// bindCtx, for the engine to acknowledge it with response headers.
func subscribe(bindCtx, streamCtx context.Context, conn *grpc.ClientConn) (grpc.ServerStreamingClient[structpb.Struct], error) {
	st, err := conn.NewStream(streamCtx, &EngineServiceDesc.Streams[0], MethodSubscribeInfo)
	if err != nil {
		return nil, err
	}
	stream := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: st}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	headerErr := make(chan error, 1)
	go func() {
		_, err := stream.Header()
		headerErr <- err
	}()
	select {
	case err := <-headerErr:
		if err != nil {
			return nil, err
		}
		return stream, nil
	case <-bindCtx.Done():
		return nil, bindCtx.Err()
	}
}

func (c *Connection) pump(stream grpc.ServerStreamingClient[structpb.Struct]) {
	defer close(c.done)
	defer close(c.notifications)

	ctx := context.Background()
	var seq uint64
	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				c.log.Debug(ctx, "info subscription ended")
			} else {
				c.log.Warn(ctx, "info subscription failed", logging.Err(err))
			}
			return
		}
		code, simTime, err := DecodeInfo(msg)
		if err != nil {
			c.log.Warn(ctx, "dropping malformed info notification", logging.Err(err))
			continue
		}
		seq++
		c.deliver(model.InfoNotification{
			Seq:            seq,
			Code:           code,
			SimulationTime: simTime,
			ReceivedAt:     time.Now(),
		})
	}
}

// deliver queues n, evicting the oldest queued notification when full.
func (c *Connection) deliver(n model.InfoNotification) {
	for {
		select {
		case c.notifications <- n:
			return
		default:
		}
		select {
		case <-c.notifications:
		default:
		}
	}
}

// Endpoint returns the engine address this connection is bound to.
func (c *Connection) Endpoint() string { return c.endpoint }

// Endpoints returns the method path bound for every operation.
func (c *Connection) Endpoints() map[model.Operation]string {
	out := make(map[model.Operation]string, len(c.endpoints))
	for op, m := range c.endpoints {
		out[op] = m
	}
	return out
}

// Notifications implements control.Engine. The channel is closed when the
// subscription ends.
func (c *Connection) Notifications() <-chan model.InfoNotification {
	return c.notifications
}

// Close ends the subscription and releases the underlying connection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *Connection) invoke(ctx context.Context, op model.Operation, in, out proto.Message) error {
	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, c.endpoints[op], in, out); err != nil {
		return &TransportError{Op: op, Code: status.Code(err), Err: err}
	}
	return nil
}

func (c *Connection) invokeResult(ctx context.Context, op model.Operation, in proto.Message) (int32, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.invoke(ctx, op, in, out); err != nil {
		return -1, err
	}
	return out.GetValue(), nil
}

// StartSimulation implements control.Engine.
func (c *Connection) StartSimulation(ctx context.Context) (int32, error) {
	return c.invokeResult(ctx, model.OpStartSimulation, &emptypb.Empty{})
}

// StopSimulation implements control.Engine.
func (c *Connection) StopSimulation(ctx context.Context) (int32, error) {
	return c.invokeResult(ctx, model.OpStopSimulation, &emptypb.Empty{})
}

// CopyPasteObjects implements control.Engine.
func (c *Connection) CopyPasteObjects(ctx context.Context, handles []model.ObjectHandle) ([]model.ObjectHandle, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, model.OpCopyPasteObjects, EncodeHandles(handles), out); err != nil {
		return nil, err
	}
	copies, err := DecodeHandles(out)
	if err != nil {
		return nil, &TransportError{Op: model.OpCopyPasteObjects, Code: codes.DataLoss, Err: err}
	}
	return copies, nil
}

// GetObjectHandle implements control.Engine.
func (c *Connection) GetObjectHandle(ctx context.Context, name string) (model.ObjectHandle, error) {
	res, err := c.invokeResult(ctx, model.OpGetObjectHandle, wrapperspb.String(name))
	if err != nil {
		return model.InvalidHandle, err
	}
	return model.ObjectHandle(res), nil
}

// SetObjectPosition implements control.Engine.
func (c *Connection) SetObjectPosition(ctx context.Context, handle, relativeTo model.ObjectHandle, position r3.Vec) (int32, error) {
	return c.invokeResult(ctx, model.OpSetObjectPosition, EncodeMoveRequest(handle, relativeTo, position))
}

// GetObjectPose implements control.Engine.
func (c *Connection) GetObjectPose(ctx context.Context, handle, relativeTo model.ObjectHandle) (model.Pose, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, model.OpGetObjectPose, EncodePoseRequest(handle, relativeTo), out); err != nil {
		return model.Pose{}, err
	}
	pose, err := DecodePose(out)
	if err != nil {
		return model.Pose{}, &TransportError{Op: model.OpGetObjectPose, Code: codes.DataLoss, Err: err}
	}
	return pose, nil
}

// LoadScene implements control.Engine.
func (c *Connection) LoadScene(ctx context.Context, fileName string) (int32, error) {
	return c.invokeResult(ctx, model.OpLoadScene, wrapperspb.String(fileName))
}

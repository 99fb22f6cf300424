package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/simcontrol/model"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service exposed by engines.
const ServiceName = "simcontrol.engine.v1.EngineService"

// Full method paths, one per remote operation.
const (
	MethodStartSimulation   = "/" + ServiceName + "/StartSimulation"
	MethodStopSimulation    = "/" + ServiceName + "/StopSimulation"
	MethodCopyPasteObjects  = "/" + ServiceName + "/CopyPasteObjects"
	MethodGetObjectHandle   = "/" + ServiceName + "/GetObjectHandle"
	MethodSetObjectPosition = "/" + ServiceName + "/SetObjectPosition"
	MethodGetObjectPose     = "/" + ServiceName + "/GetObjectPose"
	MethodLoadScene         = "/" + ServiceName + "/LoadScene"
	MethodSubscribeInfo     = "/" + ServiceName + "/SubscribeInfo"
)

// ErrMalformedMessage indicates a wire message is missing a field or has a
// field of the wrong kind.
var ErrMalformedMessage = errors.New("malformed message")

// MethodFor returns the full method path bound to op.
func MethodFor(op model.Operation) string {
	return "/" + ServiceName + "/" + string(op)
}

// EngineServer is implemented by engines serving the control protocol.
type EngineServer interface {
	StartSimulation(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error)
	StopSimulation(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error)
	CopyPasteObjects(context.Context, *structpb.ListValue) (*structpb.ListValue, error)
	GetObjectHandle(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int32Value, error)
	SetObjectPosition(context.Context, *structpb.Struct) (*wrapperspb.Int32Value, error)
	GetObjectPose(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadScene(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int32Value, error)
	SubscribeInfo(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// EngineServiceDesc describes the engine service for grpc.Server.
var EngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartSimulation", Handler: unaryHandler(MethodStartSimulation, newEmpty, EngineServer.StartSimulation)},
		{MethodName: "StopSimulation", Handler: unaryHandler(MethodStopSimulation, newEmpty, EngineServer.StopSimulation)},
		{MethodName: "CopyPasteObjects", Handler: unaryHandler(MethodCopyPasteObjects, newList, EngineServer.CopyPasteObjects)},
		{MethodName: "GetObjectHandle", Handler: unaryHandler(MethodGetObjectHandle, newString, EngineServer.GetObjectHandle)},
		{MethodName: "SetObjectPosition", Handler: unaryHandler(MethodSetObjectPosition, newStruct, EngineServer.SetObjectPosition)},
		{MethodName: "GetObjectPose", Handler: unaryHandler(MethodGetObjectPose, newStruct, EngineServer.GetObjectPose)},
		{MethodName: "LoadScene", Handler: unaryHandler(MethodLoadScene, newString, EngineServer.LoadScene)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeInfo",
			Handler:       subscribeInfoHandler,
			ServerStreams: true,
		},
	},
}

// RegisterEngineServer registers srv on s.
func RegisterEngineServer(s grpc.ServiceRegistrar, srv EngineServer) {
	s.RegisterService(&EngineServiceDesc, srv)
}

func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }
func newList() *structpb.ListValue       { return new(structpb.ListValue) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newStruct() *structpb.Struct        { return new(structpb.Struct) }

func unaryHandler[Req, Resp proto.Message](
	fullMethod string,
	newReq func() Req,
	call func(EngineServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		invoke := func(ctx context.Context, req any) (any, error) {
			resp, err := call(srv.(EngineServer), ctx, req.(Req))
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if interceptor == nil {
			return invoke(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, invoke)
	}
}

func subscribeInfoHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EngineServer).SubscribeInfo(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// ---- message encoding ----

const (
	fieldHandle         = "handle"
	fieldRelativeTo     = "relative_to"
	fieldPosition       = "position"
	fieldOrientation    = "orientation"
	fieldSimulatorState = "simulator_state"
	fieldSimulationTime = "simulation_time"
)

// EncodeHandles encodes a handle list.
func EncodeHandles(handles []model.ObjectHandle) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(handles))
	for _, h := range handles {
		values = append(values, structpb.NewNumberValue(float64(h)))
	}
	return &structpb.ListValue{Values: values}
}

// DecodeHandles decodes a handle list. Every element must be an integer.
func DecodeHandles(list *structpb.ListValue) ([]model.ObjectHandle, error) {
	out := make([]model.ObjectHandle, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
			return nil, fmt.Errorf("%w: handle %d is not an integer", ErrMalformedMessage, i)
		}
		out = append(out, model.ObjectHandle(n.NumberValue))
	}
	return out, nil
}

// EncodeMoveRequest encodes a SetObjectPosition request.
func EncodeMoveRequest(handle, relativeTo model.ObjectHandle, pos r3.Vec) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldHandle:     structpb.NewNumberValue(float64(handle)),
		fieldRelativeTo: structpb.NewNumberValue(float64(relativeTo)),
		fieldPosition:   structpb.NewStructValue(encodeVec(pos)),
	}}
}

// DecodeMoveRequest decodes a SetObjectPosition request.
func DecodeMoveRequest(s *structpb.Struct) (handle, relativeTo model.ObjectHandle, pos r3.Vec, err error) {
	if handle, relativeTo, err = decodeHandlePair(s); err != nil {
		return
	}
	pos, err = decodeVec(s, fieldPosition)
	return
}

// EncodePoseRequest encodes a GetObjectPose request.
func EncodePoseRequest(handle, relativeTo model.ObjectHandle) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldHandle:     structpb.NewNumberValue(float64(handle)),
		fieldRelativeTo: structpb.NewNumberValue(float64(relativeTo)),
	}}
}

// DecodePoseRequest decodes a GetObjectPose request.
func DecodePoseRequest(s *structpb.Struct) (handle, relativeTo model.ObjectHandle, err error) {
	return decodeHandlePair(s)
}

// EncodePose encodes a pose response.
func EncodePose(p model.Pose) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldRelativeTo: structpb.NewNumberValue(float64(p.RelativeTo)),
		fieldPosition:   structpb.NewStructValue(encodeVec(p.Position)),
		fieldOrientation: structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"x": structpb.NewNumberValue(p.Orientation.Imag),
			"y": structpb.NewNumberValue(p.Orientation.Jmag),
			"z": structpb.NewNumberValue(p.Orientation.Kmag),
			"w": structpb.NewNumberValue(p.Orientation.Real),
		}}),
	}}
}

// DecodePose decodes a pose response.
func DecodePose(s *structpb.Struct) (model.Pose, error) {
	rel, err := numberField(s, fieldRelativeTo)
	if err != nil {
		return model.Pose{}, err
	}
	pos, err := decodeVec(s, fieldPosition)
	if err != nil {
		return model.Pose{}, err
	}
	o, err := structField(s, fieldOrientation)
	if err != nil {
		return model.Pose{}, err
	}
	var q quat.Number
	for key, dst := range map[string]*float64{"x": &q.Imag, "y": &q.Jmag, "z": &q.Kmag, "w": &q.Real} {
		if *dst, err = numberField(o, key); err != nil {
			return model.Pose{}, err
		}
	}
	return model.Pose{Position: pos, Orientation: q, RelativeTo: model.ObjectHandle(rel)}, nil
}

// EncodeInfo encodes one simulator info notification.
func EncodeInfo(code int32, simTime time.Duration) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSimulatorState: structpb.NewNumberValue(float64(code)),
		fieldSimulationTime: structpb.NewNumberValue(simTime.Seconds()),
	}}
}

// DecodeInfo decodes one simulator info notification.
func DecodeInfo(s *structpb.Struct) (code int32, simTime time.Duration, err error) {
	c, err := numberField(s, fieldSimulatorState)
	if err != nil {
		return 0, 0, err
	}
	if c != math.Trunc(c) || c < math.MinInt32 || c > math.MaxInt32 {
		return 0, 0, fmt.Errorf("%w: %s %v is not an int32", ErrMalformedMessage, fieldSimulatorState, c)
	}
	// simulation_time is optional.
	var seconds float64
	if _, ok := s.GetFields()[fieldSimulationTime]; ok {
		if seconds, err = numberField(s, fieldSimulationTime); err != nil {
			return 0, 0, err
		}
	}
	return int32(c), time.Duration(seconds * float64(time.Second)), nil
}

func encodeVec(v r3.Vec) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"x": structpb.NewNumberValue(v.X),
		"y": structpb.NewNumberValue(v.Y),
		"z": structpb.NewNumberValue(v.Z),
	}}
}

func decodeVec(s *structpb.Struct, key string) (r3.Vec, error) {
	inner, err := structField(s, key)
	if err != nil {
		return r3.Vec{}, err
	}
	var v r3.Vec
	if v.X, err = numberField(inner, "x"); err != nil {
		return r3.Vec{}, err
	}
	if v.Y, err = numberField(inner, "y"); err != nil {
		return r3.Vec{}, err
	}
	if v.Z, err = numberField(inner, "z"); err != nil {
		return r3.Vec{}, err
	}
	return v, nil
}

func decodeHandlePair(s *structpb.Struct) (model.ObjectHandle, model.ObjectHandle, error) {
	h, err := numberField(s, fieldHandle)
	if err != nil {
		return model.InvalidHandle, model.InvalidHandle, err
	}
	rel, err := numberField(s, fieldRelativeTo)
	if err != nil {
		return model.InvalidHandle, model.InvalidHandle, err
	}
	return model.ObjectHandle(h), model.ObjectHandle(rel), nil
}

func numberField(s *structpb.Struct, key string) (float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedMessage, key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedMessage, key)
	}
	return n.NumberValue, nil
}

func structField(s *structpb.Struct, key string) (*structpb.Struct, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedMessage, key)
	}
	inner, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an object", ErrMalformedMessage, key)
	}
	return inner.StructValue, nil
}

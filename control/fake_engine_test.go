package control

import (
	"context"
	"sync"

	"github.com/signalsfoundry/simcontrol/model"
	"gonum.org/v1/gonum/spatial/r3"
)

// fakeEngine returns canned results and records every call it receives.
type fakeEngine struct {
	mu    sync.Mutex
	calls []model.Operation

	startResult int32
	stopResult  int32
	moveResult  int32
	loadResult  int32
	handles     map[string]model.ObjectHandle
	copies      []model.ObjectHandle
	pose        model.Pose
	err         error

	lastMove    moveCall
	lastLoad    string
	lastCopyReq []model.ObjectHandle

	notifications chan model.InfoNotification
}

type moveCall struct {
	handle     model.ObjectHandle
	relativeTo model.ObjectHandle
	position   r3.Vec
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		startResult:   1,
		stopResult:    1,
		moveResult:    1,
		loadResult:    1,
		handles:       map[string]model.ObjectHandle{},
		notifications: make(chan model.InfoNotification, 16),
	}
}

func (f *fakeEngine) record(op model.Operation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeEngine) callCount(op model.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeEngine) StartSimulation(context.Context) (int32, error) {
	f.record(model.OpStartSimulation)
	return f.startResult, f.err
}

func (f *fakeEngine) StopSimulation(context.Context) (int32, error) {
	f.record(model.OpStopSimulation)
	return f.stopResult, f.err
}

func (f *fakeEngine) CopyPasteObjects(_ context.Context, handles []model.ObjectHandle) ([]model.ObjectHandle, error) {
	f.record(model.OpCopyPasteObjects)
	f.lastCopyReq = append([]model.ObjectHandle(nil), handles...)
	return f.copies, f.err
}

func (f *fakeEngine) GetObjectHandle(_ context.Context, name string) (model.ObjectHandle, error) {
	f.record(model.OpGetObjectHandle)
	if f.err != nil {
		return 0, f.err
	}
	if h, ok := f.handles[name]; ok {
		return h, nil
	}
	return model.InvalidHandle, nil
}

func (f *fakeEngine) SetObjectPosition(_ context.Context, handle, relativeTo model.ObjectHandle, position r3.Vec) (int32, error) {
	f.record(model.OpSetObjectPosition)
	f.lastMove = moveCall{handle: handle, relativeTo: relativeTo, position: position}
	if handle == model.InvalidHandle {
		return -1, f.err
	}
	return f.moveResult, f.err
}

func (f *fakeEngine) GetObjectPose(_ context.Context, handle, relativeTo model.ObjectHandle) (model.Pose, error) {
	f.record(model.OpGetObjectPose)
	p := f.pose
	p.RelativeTo = relativeTo
	return p, f.err
}

func (f *fakeEngine) LoadScene(_ context.Context, fileName string) (int32, error) {
	f.record(model.OpLoadScene)
	f.lastLoad = fileName
	return f.loadResult, f.err
}

func (f *fakeEngine) Notifications() <-chan model.InfoNotification {
	return f.notifications
}

// countingRecorder counts failures per operation.
type countingRecorder struct {
	mu                sync.Mutex
	failures          map[model.Operation]int
	transportFailures map[model.Operation]int
	states            []model.SimulationState
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		failures:          map[model.Operation]int{},
		transportFailures: map[model.Operation]int{},
	}
}

func (r *countingRecorder) ObserveFailure(op model.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op]++
}

func (r *countingRecorder) ObserveTransportFailure(op model.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transportFailures[op]++
}

func (r *countingRecorder) SetSimulationState(s model.SimulationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *countingRecorder) failureCount(op model.Operation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[op]
}

func (r *countingRecorder) transportFailureCount(op model.Operation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transportFailures[op]
}

// Package simengine is an in-memory simulation engine that serves the
// control protocol. It keeps a scene of named objects, an authoritative run
// state and a simulation clock, and broadcasts simulator info to subscribers.
package simengine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
	"github.com/signalsfoundry/simcontrol/timectrl"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Result values returned by engine operations.
const (
	ResultFailed    int32 = -1
	ResultUnchanged int32 = 0
	ResultOK        int32 = 1
)

// MaxHandle is the largest handle the engine hands out. Results travel as
// int32 on the wire.
const MaxHandle model.ObjectHandle = math.MaxInt32

// subscriberBuffer is the per-subscriber queue depth. When a queue is full
// its oldest notification is dropped.
const subscriberBuffer = 16

// Recorder receives engine metrics. *observability.Collector implements it.
type Recorder interface {
	SetSimulationState(model.SimulationState)
	SetSceneObjects(int)
	IncNotifications()
}

type noopRecorder struct{}

func (noopRecorder) SetSimulationState(model.SimulationState) {}
func (noopRecorder) SetSceneObjects(int)                      {}
func (noopRecorder) IncNotifications()                        {}

// Engine is safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	state     model.SimulationState
	sceneName string
	objects   map[model.ObjectHandle]*Object
	byName    map[string]model.ObjectHandle
	copyCount map[string]int

	subs   map[int]chan model.InfoNotification
	nextID int
	closed bool

	clock    *timectrl.TimeController
	log      logging.Logger
	recorder Recorder
}

// New builds a stopped engine with an empty scene. A nil clock defaults to a
// real-time clock ticking every 50ms.
func New(clock *timectrl.TimeController, log logging.Logger, recorder Recorder) *Engine {
	if clock == nil {
		clock = timectrl.NewTimeController(50*time.Millisecond, timectrl.RealTime)
	}
	if log == nil {
		log = logging.Noop()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	e := &Engine{
		state:     model.Stopped,
		objects:   make(map[model.ObjectHandle]*Object),
		byName:    make(map[string]model.ObjectHandle),
		copyCount: make(map[string]int),
		subs:      make(map[int]chan model.InfoNotification),
		clock:     clock,
		log:       log.With(logging.String("component", "simengine")),
		recorder:  recorder,
	}
	clock.AddListener(e.onTick)
	recorder.SetSimulationState(model.Stopped)
	return e
}

// Run drives the simulation clock until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.clock.Run(ctx)
}

// State returns the authoritative run state.
func (e *Engine) State() model.SimulationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SimulationTime returns the elapsed simulation time.
func (e *Engine) SimulationTime() time.Duration { return e.clock.Now() }

// Start moves a stopped or paused simulation to Running. It returns
// ResultUnchanged when already running.
func (e *Engine) Start(ctx context.Context) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ResultFailed
	}
	if e.state == model.Running {
		return ResultUnchanged
	}
	e.transitionLocked(ctx, model.Running)
	return ResultOK
}

// Stop moves the simulation to Stopped and rewinds the clock. It returns
// ResultUnchanged when already stopped.
func (e *Engine) Stop(ctx context.Context) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ResultFailed
	}
	if e.state == model.Stopped {
		return ResultUnchanged
	}
	e.transitionLocked(ctx, model.Stopped)
	return ResultOK
}

// Pause suspends a running simulation. Only Start resumes it.
func (e *Engine) Pause(ctx context.Context) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != model.Running {
		return ResultFailed
	}
	e.transitionLocked(ctx, model.Paused)
	return ResultOK
}

func (e *Engine) transitionLocked(ctx context.Context, next model.SimulationState) {
	prev := e.state
	e.state = next
	e.clock.SetRunning(next == model.Running)
	if next == model.Stopped {
		e.clock.Reset()
	}
	e.recorder.SetSimulationState(next)
	e.log.Info(ctx, "simulation state changed",
		logging.String("from", prev.String()),
		logging.String("to", next.String()),
	)
	e.broadcastLocked(model.CodeFor(next), e.clock.Now())
}

func (e *Engine) onTick(now time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != model.Running {
		return
	}
	e.broadcastLocked(model.CodeRunning, now)
}

// broadcastLocked requires e.mu held (read or write). Sends never block; a
// full subscriber queue loses its oldest entry, so the latest state always
// arrives.
func (e *Engine) broadcastLocked(code int32, now time.Duration) {
	if e.closed {
		return
	}
	n := model.InfoNotification{Code: code, SimulationTime: now}
	for _, ch := range e.subs {
		enqueueLatest(ch, n)
	}
	e.recorder.IncNotifications()
}

func enqueueLatest(ch chan model.InfoNotification, n model.InfoNotification) {
	for {
		select {
		case ch <- n:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe registers a notification subscriber. The current state is queued
// immediately. The returned cancel func unregisters and closes the channel;
// Close does the same for every subscriber.
func (e *Engine) Subscribe() (<-chan model.InfoNotification, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan model.InfoNotification, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	ch <- model.InfoNotification{Code: model.CodeFor(e.state), SimulationTime: e.clock.Now()}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
}

// Close ends every subscription and rejects further state changes.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.clock.SetRunning(false)
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

// Handle returns the handle of the named object or model.InvalidHandle.
func (e *Engine) Handle(name string) model.ObjectHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if h, ok := e.byName[name]; ok {
		return h
	}
	return model.InvalidHandle
}

// Object returns a copy of the object with handle h.
func (e *Engine) Object(h model.ObjectHandle) (Object, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.objects[h]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

// Objects returns every object ordered by handle.
func (e *Engine) Objects() []Object {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Object, 0, len(e.objects))
	for _, o := range e.objects {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// CopyPaste duplicates every known handle in handles. Copies receive handles
// above the current maximum and the source name suffixed with #n. Unknown
// handles are skipped, so an all-invalid request yields an empty list.
func (e *Engine) CopyPaste(ctx context.Context, handles []model.ObjectHandle) []model.ObjectHandle {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.maxHandleLocked() + 1
	out := make([]model.ObjectHandle, 0, len(handles))
	for _, h := range handles {
		src, ok := e.objects[h]
		if !ok {
			continue
		}
		if next > MaxHandle {
			e.log.Warn(ctx, "handle space exhausted", logging.Int64("handle", int64(h)))
			break
		}
		name := e.copyNameLocked(src.Name)
		clone := &Object{Handle: next, Name: name, Position: src.Position, Orientation: src.Orientation}
		e.objects[next] = clone
		e.byName[name] = next
		out = append(out, next)
		next++
	}
	if len(out) > 0 {
		e.recorder.SetSceneObjects(len(e.objects))
		e.log.Debug(ctx, "copied objects", logging.Int("requested", len(handles)), logging.Int("copied", len(out)))
	}
	return out
}

func (e *Engine) maxHandleLocked() model.ObjectHandle {
	maxHandle := model.InvalidHandle
	for h := range e.objects {
		if h > maxHandle {
			maxHandle = h
		}
	}
	return maxHandle
}

func (e *Engine) copyNameLocked(base string) string {
	for {
		n := e.copyCount[base]
		e.copyCount[base] = n + 1
		name := fmt.Sprintf("%s#%d", base, n)
		if _, taken := e.byName[name]; !taken {
			return name
		}
	}
}

// SetPosition places handle at position expressed in the frame of
// relativeTo (model.WorldFrame for world coordinates).
func (e *Engine) SetPosition(ctx context.Context, handle, relativeTo model.ObjectHandle, position r3.Vec) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	obj, ok := e.objects[handle]
	if !ok {
		return ResultFailed
	}
	world := position
	if relativeTo != model.WorldFrame {
		ref, ok := e.objects[relativeTo]
		if !ok {
			return ResultFailed
		}
		world = r3.Add(ref.Position, model.Rotate(ref.Orientation, position))
	}
	obj.Position = world
	e.log.Debug(ctx, "object moved",
		logging.Int64("handle", int64(handle)),
		logging.Float64("x", world.X),
		logging.Float64("y", world.Y),
		logging.Float64("z", world.Z),
	)
	return ResultOK
}

// Pose returns the pose of handle in the frame of relativeTo. Unknown
// handles yield the zero Pose.
func (e *Engine) Pose(handle, relativeTo model.ObjectHandle) model.Pose {
	e.mu.RLock()
	defer e.mu.RUnlock()

	obj, ok := e.objects[handle]
	if !ok {
		return model.Pose{}
	}
	if relativeTo == model.WorldFrame {
		return model.Pose{Position: obj.Position, Orientation: obj.Orientation, RelativeTo: model.WorldFrame}
	}
	ref, ok := e.objects[relativeTo]
	if !ok {
		return model.Pose{}
	}
	inv := quat.Conj(ref.Orientation)
	return model.Pose{
		Position:    model.Rotate(inv, r3.Sub(obj.Position, ref.Position)),
		Orientation: quat.Mul(inv, obj.Orientation),
		RelativeTo:  relativeTo,
	}
}

// LoadScene replaces the scene with the YAML file at path. It fails unless
// the simulation is stopped.
func (e *Engine) LoadScene(ctx context.Context, path string) int32 {
	if e.State() != model.Stopped {
		e.log.Warn(ctx, "scene load rejected while simulation is active", logging.String("path", path))
		return ResultFailed
	}
	scene, err := LoadSceneFile(path)
	if err != nil {
		e.log.Warn(ctx, "scene load failed", logging.String("path", path), logging.Err(err))
		return ResultFailed
	}
	if !e.ReplaceScene(ctx, scene) {
		return ResultFailed
	}
	return ResultOK
}

// ReplaceScene installs scene. It reports false when the simulation is not
// stopped.
func (e *Engine) ReplaceScene(ctx context.Context, scene *Scene) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != model.Stopped {
		return false
	}

	e.sceneName = scene.Name
	e.objects = make(map[model.ObjectHandle]*Object, len(scene.Objects))
	e.byName = make(map[string]model.ObjectHandle, len(scene.Objects))
	e.copyCount = make(map[string]int)
	for _, o := range scene.Objects {
		obj := o
		e.objects[obj.Handle] = &obj
		e.byName[obj.Name] = obj.Handle
	}
	e.recorder.SetSceneObjects(len(e.objects))
	e.log.Info(ctx, "scene loaded",
		logging.String("scene", scene.Name),
		logging.Int("objects", len(scene.Objects)),
	)
	return true
}

// SceneName returns the name of the loaded scene.
func (e *Engine) SceneName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sceneName
}

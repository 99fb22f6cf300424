package control

import (
	"context"
	"time"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
	"gonum.org/v1/gonum/spatial/r3"
)

// Client bundles the control components over a single Engine.
type Client struct {
	engine    Engine
	monitor   *StateMonitor
	resolver  *HandleResolver
	lifecycle *Lifecycle
	spatial   *Spatial
	scenes    *SceneLoader
}

type clientOptions struct {
	log      logging.Logger
	policy   HandlePolicy
	locator  PackageLocator
	recorder Recorder
}

// Option customises Client construction.
type Option func(*clientOptions)

// WithLogger sets the logger shared by all components.
func WithLogger(log logging.Logger) Option {
	return func(o *clientOptions) { o.log = log }
}

// WithHandlePolicy selects how invalid handles are treated.
func WithHandlePolicy(p HandlePolicy) Option {
	return func(o *clientOptions) { o.policy = p }
}

// WithPackageLocator sets the resolver used by LoadProblemScene.
func WithPackageLocator(l PackageLocator) Option {
	return func(o *clientOptions) { o.locator = l }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *clientOptions) { o.recorder = r }
}

// NewClient wires every component to engine.
func NewClient(engine Engine, opts ...Option) *Client {
	o := clientOptions{log: logging.Noop(), policy: PassThrough}
	for _, opt := range opts {
		opt(&o)
	}

	monitor := NewStateMonitor(engine.Notifications(), o.log, o.recorder)
	resolver := NewHandleResolver(engine, o.log, o.recorder)
	return &Client{
		engine:    engine,
		monitor:   monitor,
		resolver:  resolver,
		lifecycle: NewLifecycle(engine, monitor, o.log, o.recorder),
		spatial:   NewSpatial(engine, resolver, o.policy, o.log, o.recorder),
		scenes:    NewSceneLoader(engine, o.locator, o.log, o.recorder),
	}
}

// Monitor exposes the state monitor, e.g. to run it in the background.
func (c *Client) Monitor() *StateMonitor { return c.monitor }

// Start asks the engine to run; false means it reported failure.
func (c *Client) Start(ctx context.Context) (bool, error) { return c.lifecycle.Start(ctx) }

// Stop asks the engine to stop; false means it reported failure.
func (c *Client) Stop(ctx context.Context) (bool, error) { return c.lifecycle.Stop(ctx) }

// IsRunning drains pending notifications and reports whether the engine runs.
func (c *Client) IsRunning() bool { return c.lifecycle.IsRunning() }

// State drains pending notifications and returns the run state.
func (c *Client) State() model.SimulationState { return c.monitor.DrainAndRead() }

// WaitForState blocks until the monitor reports want or ctx ends.
func (c *Client) WaitForState(ctx context.Context, want model.SimulationState, interval time.Duration) error {
	return c.monitor.WaitFor(ctx, want, interval)
}

// Handle resolves name; model.InvalidHandle means no such object.
func (c *Client) Handle(ctx context.Context, name string) (model.ObjectHandle, error) {
	return c.resolver.Resolve(ctx, name)
}

// MoveObject sets the world position of handle.
func (c *Client) MoveObject(ctx context.Context, handle model.ObjectHandle, pos r3.Vec) (bool, error) {
	return c.spatial.MoveObject(ctx, handle, pos)
}

// MoveObjectByName resolves name and moves that object.
func (c *Client) MoveObjectByName(ctx context.Context, name string, pos r3.Vec) (bool, error) {
	return c.spatial.MoveObjectByName(ctx, name, pos)
}

// CopyObject duplicates handle and returns the copy, or model.InvalidHandle.
func (c *Client) CopyObject(ctx context.Context, handle model.ObjectHandle) (model.ObjectHandle, error) {
	return c.spatial.CopyObject(ctx, handle)
}

// GetPose returns the world-frame pose of handle.
func (c *Client) GetPose(ctx context.Context, handle model.ObjectHandle) (model.Pose, error) {
	return c.spatial.GetPose(ctx, handle)
}

// GetPoseRelative returns the pose of handle in the frame of relativeTo.
func (c *Client) GetPoseRelative(ctx context.Context, handle, relativeTo model.ObjectHandle) (model.Pose, error) {
	return c.spatial.GetPoseRelative(ctx, handle, relativeTo)
}

// LoadScene loads the scene file at fullPath.
func (c *Client) LoadScene(ctx context.Context, fullPath string) (bool, error) {
	return c.scenes.Load(ctx, fullPath)
}

// LoadProblemScene loads relativePath under problem in package pkg.
func (c *Client) LoadProblemScene(ctx context.Context, problem, relativePath, pkg string) (bool, error) {
	return c.scenes.LoadProblem(ctx, problem, relativePath, pkg)
}

// LoadSceneReference loads whichever scene ref names.
func (c *Client) LoadSceneReference(ctx context.Context, ref model.SceneReference) (bool, error) {
	return c.scenes.LoadReference(ctx, ref)
}

// Package control drives a remote simulation engine: run-state tracking,
// handle resolution, object manipulation and scene loading.
//
// Every component talks to the engine through the Engine capability
// interface. Remote failures are reported the way the engine reports them,
// as sentinel results; the error return is reserved for transport failures.
package control

import (
	"context"
	"errors"

	"github.com/signalsfoundry/simcontrol/model"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInvalidHandle is returned by strict-mode pose queries given an
	// unresolved handle.
	ErrInvalidHandle = errors.New("invalid object handle")
	// ErrPackageNotFound indicates a package root could not be located.
	ErrPackageNotFound = errors.New("package not found")
)

// Engine is the set of remote operations offered by a simulation engine,
// plus its inbound simulator info stream. Results follow the engine's own
// conventions: -1 for failed calls, 1 for a loaded scene.
type Engine interface {
	StartSimulation(ctx context.Context) (int32, error)
	StopSimulation(ctx context.Context) (int32, error)
	CopyPasteObjects(ctx context.Context, handles []model.ObjectHandle) ([]model.ObjectHandle, error)
	GetObjectHandle(ctx context.Context, name string) (model.ObjectHandle, error)
	SetObjectPosition(ctx context.Context, handle, relativeTo model.ObjectHandle, position r3.Vec) (int32, error)
	GetObjectPose(ctx context.Context, handle, relativeTo model.ObjectHandle) (model.Pose, error)
	LoadScene(ctx context.Context, fileName string) (int32, error)

	// Notifications delivers simulator info messages in arrival order.
	Notifications() <-chan model.InfoNotification
}

// Recorder receives outcome signals for metrics.
type Recorder interface {
	// ObserveFailure counts a call that returned the engine's failure sentinel.
	ObserveFailure(op model.Operation)
	// ObserveTransportFailure counts a call that produced no response.
	ObserveTransportFailure(op model.Operation)
	SetSimulationState(state model.SimulationState)
}

type noopRecorder struct{}

func (noopRecorder) ObserveFailure(model.Operation)           {}
func (noopRecorder) ObserveTransportFailure(model.Operation)  {}
func (noopRecorder) SetSimulationState(model.SimulationState) {}

package control

import (
	"context"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
)

// HandleResolver maps object names to engine handles.
type HandleResolver struct {
	engine Engine
	reporter
}

// NewHandleResolver builds a resolver over engine.
func NewHandleResolver(engine Engine, log logging.Logger, recorder Recorder) *HandleResolver {
	return &HandleResolver{engine: engine, reporter: newReporter(log, recorder, "resolver")}
}

// Resolve returns the handle of the object called name, or
// model.InvalidHandle when the engine knows no such object. The handle is
// returned exactly as the engine reported it.
func (r *HandleResolver) Resolve(ctx context.Context, name string) (model.ObjectHandle, error) {
	h, err := r.engine.GetObjectHandle(ctx, name)
	if err != nil {
		r.transportFailure(ctx, model.OpGetObjectHandle, err)
		return model.InvalidHandle, err
	}
	r.outcome(ctx, model.OpGetObjectHandle, h != model.InvalidHandle,
		logging.String("name", name),
		logging.Int64("handle", int64(h)),
	)
	return h, nil
}

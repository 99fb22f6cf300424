package control

import (
	"context"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
)

// Result is an integer result as returned by the engine.
type Result int32

const (
	// ResultFailed is the failure sentinel for start, stop and move.
	ResultFailed Result = -1
	// ResultSceneLoaded is the only success value for scene loads.
	ResultSceneLoaded Result = 1
)

// OK reports success under the -1 failure convention.
func (r Result) OK() bool { return r != ResultFailed }

// Loaded reports success under the scene load convention.
func (r Result) Loaded() bool { return r == ResultSceneLoaded }

// reporter logs and records the outcome of one remote call.
type reporter struct {
	log      logging.Logger
	recorder Recorder
}

func (r reporter) outcome(ctx context.Context, op model.Operation, ok bool, fields ...logging.Field) {
	fields = append(fields, logging.String("op", string(op)), logging.Bool("ok", ok))
	r.log.Debug(ctx, "engine call completed", fields...)
	if !ok {
		r.recorder.ObserveFailure(op)
	}
}

func (r reporter) transportFailure(ctx context.Context, op model.Operation, err error) {
	r.log.Warn(ctx, "engine call failed", logging.String("op", string(op)), logging.Err(err))
	r.recorder.ObserveTransportFailure(op)
}

func newReporter(log logging.Logger, recorder Recorder, component string) reporter {
	if log == nil {
		log = logging.Noop()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return reporter{
		log:      log.With(logging.String("component", component)),
		recorder: recorder,
	}
}

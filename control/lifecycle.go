package control

import (
	"context"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
)

// Lifecycle starts and stops the simulation.
//
// Start and Stop report only whether the engine accepted the request. The
// run state itself changes when the engine's notification arrives, so
// IsRunning may lag a successful Start until the monitor has drained it.
type Lifecycle struct {
	engine  Engine
	monitor *StateMonitor
	reporter
}

// NewLifecycle builds a Lifecycle reading run state from monitor.
func NewLifecycle(engine Engine, monitor *StateMonitor, log logging.Logger, recorder Recorder) *Lifecycle {
	return &Lifecycle{
		engine:   engine,
		monitor:  monitor,
		reporter: newReporter(log, recorder, "lifecycle"),
	}
}

// Start asks the engine to start or resume the simulation. It returns false
// when the engine answers with the failure sentinel.
func (l *Lifecycle) Start(ctx context.Context) (bool, error) {
	res, err := l.engine.StartSimulation(ctx)
	if err != nil {
		l.transportFailure(ctx, model.OpStartSimulation, err)
		return false, err
	}
	ok := Result(res).OK()
	l.outcome(ctx, model.OpStartSimulation, ok, logging.Int64("result", int64(res)))
	return ok, nil
}

// Stop asks the engine to stop the simulation.
func (l *Lifecycle) Stop(ctx context.Context) (bool, error) {
	res, err := l.engine.StopSimulation(ctx)
	if err != nil {
		l.transportFailure(ctx, model.OpStopSimulation, err)
		return false, err
	}
	ok := Result(res).OK()
	l.outcome(ctx, model.OpStopSimulation, ok, logging.Int64("result", int64(res)))
	return ok, nil
}

// IsRunning drains pending notifications and reports the resulting state.
func (l *Lifecycle) IsRunning() bool {
	return l.monitor.IsRunning()
}

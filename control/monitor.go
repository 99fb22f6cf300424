package control

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
)

// Snapshot is the monitor's view of the most recently applied notification.
type Snapshot struct {
	State          model.SimulationState
	Code           int32
	Seq            uint64
	SimulationTime time.Duration
	// Observed is false until the first notification has been applied.
	Observed bool
}

// StateMonitor tracks the simulation run state reported by the engine's
// notification stream. It is the only writer of the cached state.
//
// Callers poll with DrainAndRead, which never blocks. Run may additionally
// consume the stream in the background; both paths apply notifications in
// Seq order and discard anything older than what is already applied.
type StateMonitor struct {
	mu   sync.Mutex
	in   <-chan model.InfoNotification
	snap Snapshot

	log      logging.Logger
	recorder Recorder
}

// NewStateMonitor builds a monitor over in. A nil channel yields a monitor
// that always reports Stopped.
func NewStateMonitor(in <-chan model.InfoNotification, log logging.Logger, recorder Recorder) *StateMonitor {
	if log == nil {
		log = logging.Noop()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &StateMonitor{
		in:       in,
		snap:     Snapshot{State: model.Stopped, Code: model.CodeStopped},
		log:      log.With(logging.String("component", "state_monitor")),
		recorder: recorder,
	}
}

// DrainAndRead consumes every pending notification, applies the newest one
// and returns the resulting state. With nothing pending it returns the
// cached state.
func (m *StateMonitor) DrainAndRead() model.SimulationState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		latest model.InfoNotification
		found  bool
	)
drain:
	for m.in != nil {
		select {
		case n, ok := <-m.in:
			if !ok {
				m.log.Debug(context.Background(), "notification stream closed")
				m.in = nil
				break drain
			}
			latest, found = n, true
		default:
			break drain
		}
	}
	if found {
		m.applyLocked(latest)
	}
	return m.snap.State
}

// IsRunning drains pending notifications and reports whether the latest
// observed state is Running.
func (m *StateMonitor) IsRunning() bool {
	return m.DrainAndRead() == model.Running
}

// State returns the cached state without draining.
func (m *StateMonitor) State() model.SimulationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.State
}

// Snapshot returns a copy of the cached view without draining.
func (m *StateMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Run applies notifications as they arrive until ctx is done or the stream
// closes. It returns nil when the stream closes and ctx.Err() otherwise.
func (m *StateMonitor) Run(ctx context.Context) error {
	m.mu.Lock()
	in := m.in
	m.mu.Unlock()
	if in == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-in:
			m.mu.Lock()
			if !ok {
				m.in = nil
				m.mu.Unlock()
				m.log.Debug(ctx, "notification stream closed")
				return nil
			}
			m.applyLocked(n)
			m.mu.Unlock()
		}
	}
}

// WaitFor polls DrainAndRead every interval until the state equals want.
// It only ever reports what notifications say; Paused is never produced.
func (m *StateMonitor) WaitFor(ctx context.Context, want model.SimulationState, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if m.DrainAndRead() == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *StateMonitor) applyLocked(n model.InfoNotification) {
	if n.Seq != 0 && m.snap.Seq != 0 && n.Seq <= m.snap.Seq {
		return
	}

	prev := m.snap.State
	next := model.StateFromCode(n.Code)
	m.snap = Snapshot{
		State:          next,
		Code:           n.Code,
		Seq:            n.Seq,
		SimulationTime: n.SimulationTime,
		Observed:       true,
	}
	m.recorder.SetSimulationState(next)

	if prev != next {
		m.log.Info(context.Background(), "simulation state changed",
			logging.String("from", prev.String()),
			logging.String("to", next.String()),
			logging.Int64("code", int64(n.Code)),
		)
	}
}

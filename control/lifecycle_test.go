package control

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
)

func TestStartStopSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result int32
		want   bool
	}{
		{name: "success", result: 1, want: true},
		{name: "no-op", result: 0, want: true},
		{name: "other positive", result: 3, want: true},
		{name: "failure sentinel", result: -1, want: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			eng := newFakeEngine()
			eng.startResult = tc.result
			eng.stopResult = tc.result
			rec := newCountingRecorder()
			monitor := NewStateMonitor(eng.Notifications(), logging.Noop(), rec)
			l := NewLifecycle(eng, monitor, logging.Noop(), rec)

			started, err := l.Start(context.Background())
			if err != nil || started != tc.want {
				t.Fatalf("Start() = %v, %v; want %v", started, err, tc.want)
			}
			stopped, err := l.Stop(context.Background())
			if err != nil || stopped != tc.want {
				t.Fatalf("Stop() = %v, %v; want %v", stopped, err, tc.want)
			}

			wantFailures := 0
			if !tc.want {
				wantFailures = 1
			}
			if got := rec.failureCount(model.OpStartSimulation); got != wantFailures {
				t.Fatalf("start failures = %d, want %d", got, wantFailures)
			}
		})
	}
}

func TestStartDoesNotTouchRunState(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	monitor := NewStateMonitor(eng.Notifications(), logging.Noop(), nil)
	l := NewLifecycle(eng, monitor, logging.Noop(), nil)

	ok, err := l.Start(context.Background())
	if err != nil || !ok {
		t.Fatalf("Start() = %v, %v", ok, err)
	}
	if l.IsRunning() {
		t.Fatalf("IsRunning true before any notification")
	}

	eng.notifications <- model.InfoNotification{Seq: 1, Code: model.CodeRunning}
	if !l.IsRunning() {
		t.Fatalf("IsRunning false after running notification")
	}

	if ok, _ := l.Stop(context.Background()); !ok {
		t.Fatalf("Stop() = false")
	}
	if !l.IsRunning() {
		t.Fatalf("IsRunning changed without a notification")
	}
	eng.notifications <- model.InfoNotification{Seq: 2, Code: model.CodeStopped}
	if l.IsRunning() {
		t.Fatalf("IsRunning true after stopped notification")
	}
}

func TestStartSurfacesTransportError(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.err = errors.New("unavailable")
	rec := newCountingRecorder()
	l := NewLifecycle(eng, NewStateMonitor(nil, nil, nil), logging.Noop(), rec)

	ok, err := l.Start(context.Background())
	if ok || err == nil {
		t.Fatalf("Start() = %v, %v; want false with error", ok, err)
	}
	if got := rec.transportFailureCount(model.OpStartSimulation); got != 1 {
		t.Fatalf("transport failures = %d, want 1", got)
	}
	if got := rec.failureCount(model.OpStartSimulation); got != 0 {
		t.Fatalf("transport failure counted as a sentinel failure (%d)", got)
	}
}

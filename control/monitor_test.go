package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
)

func TestDrainAndReadWithoutNotificationsKeepsCachedState(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification, 4)
	m := NewStateMonitor(in, logging.Noop(), nil)

	if got := m.DrainAndRead(); got != model.Stopped {
		t.Fatalf("initial state = %v, want stopped", got)
	}
	if m.Snapshot().Observed {
		t.Fatalf("snapshot observed before any notification")
	}
}

func TestDrainAndReadAppliesMostRecent(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification, 4)
	rec := newCountingRecorder()
	m := NewStateMonitor(in, logging.Noop(), rec)

	in <- model.InfoNotification{Seq: 1, Code: model.CodeStopped}
	in <- model.InfoNotification{Seq: 2, Code: model.CodeRunning}
	in <- model.InfoNotification{Seq: 3, Code: model.CodeRunning, SimulationTime: 50 * time.Millisecond}

	if got := m.DrainAndRead(); got != model.Running {
		t.Fatalf("state = %v, want running", got)
	}
	snap := m.Snapshot()
	if snap.Seq != 3 || snap.SimulationTime != 50*time.Millisecond || !snap.Observed {
		t.Fatalf("snapshot = %+v, want seq 3 at 50ms", snap)
	}
	if len(in) != 0 {
		t.Fatalf("channel not drained: %d pending", len(in))
	}
	if len(rec.states) != 1 {
		t.Fatalf("recorder saw %d applications, want 1 (only the newest is applied)", len(rec.states))
	}
}

func TestNonRunningCodesReportStopped(t *testing.T) {
	t.Parallel()

	for _, code := range []int32{model.CodeStopped, model.CodePaused, 7, -1} {
		in := make(chan model.InfoNotification, 2)
		m := NewStateMonitor(in, logging.Noop(), nil)
		in <- model.InfoNotification{Seq: 1, Code: model.CodeRunning}
		m.DrainAndRead()
		in <- model.InfoNotification{Seq: 2, Code: code}
		if got := m.DrainAndRead(); got != model.Stopped {
			t.Fatalf("code %d -> %v, want stopped", code, got)
		}
	}
}

func TestStaleNotificationIsDiscarded(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification, 2)
	m := NewStateMonitor(in, logging.Noop(), nil)

	in <- model.InfoNotification{Seq: 5, Code: model.CodeRunning}
	m.DrainAndRead()
	in <- model.InfoNotification{Seq: 4, Code: model.CodeStopped}
	if got := m.DrainAndRead(); got != model.Running {
		t.Fatalf("stale notification regressed state to %v", got)
	}
}

func TestClosedStreamKeepsLastState(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification, 1)
	m := NewStateMonitor(in, logging.Noop(), nil)
	in <- model.InfoNotification{Seq: 1, Code: model.CodeRunning}
	close(in)

	if got := m.DrainAndRead(); got != model.Running {
		t.Fatalf("state = %v, want running", got)
	}
	if got := m.DrainAndRead(); got != model.Running {
		t.Fatalf("state after close = %v, want running", got)
	}
}

func TestNilChannelMonitorReportsStopped(t *testing.T) {
	t.Parallel()

	m := NewStateMonitor(nil, nil, nil)
	if m.IsRunning() {
		t.Fatalf("nil-channel monitor reports running")
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run on nil channel: %v", err)
	}
}

func TestRunAppliesNotificationsInBackground(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification)
	m := NewStateMonitor(in, logging.Noop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	in <- model.InfoNotification{Seq: 1, Code: model.CodeRunning}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	for m.State() != model.Running {
		select {
		case <-waitCtx.Done():
			t.Fatalf("Run never applied the notification")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestConcurrentRunAndDrainNeverRegress(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification, 8)
	m := NewStateMonitor(in, logging.Noop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last uint64
		for i := 0; i < 500; i++ {
			m.DrainAndRead()
			seq := m.Snapshot().Seq
			if seq < last {
				t.Errorf("seq regressed from %d to %d", last, seq)
				return
			}
			last = seq
		}
	}()

	for i := uint64(1); i <= 200; i++ {
		code := model.CodeStopped
		if i%2 == 0 {
			code = model.CodeRunning
		}
		in <- model.InfoNotification{Seq: i, Code: code}
	}
	wg.Wait()
}

func TestWaitForTimesOutWithoutNotification(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification, 1)
	m := NewStateMonitor(in, logging.Noop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.WaitFor(ctx, model.Running, 5*time.Millisecond); err != context.DeadlineExceeded {
		t.Fatalf("WaitFor = %v, want deadline exceeded", err)
	}
	if m.IsRunning() {
		t.Fatalf("monitor reports running without a running notification")
	}
}

func TestWaitForReturnsOnceRunningArrives(t *testing.T) {
	t.Parallel()

	in := make(chan model.InfoNotification, 1)
	m := NewStateMonitor(in, logging.Noop(), nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		in <- model.InfoNotification{Seq: 1, Code: model.CodeRunning}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.WaitFor(ctx, model.Running, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
}

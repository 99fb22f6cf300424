package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	tc := NewTimeController(time.Second, RealTime)

	tc.SetTime(42 * time.Second)
	if got := tc.Now(); got != 42*time.Second {
		t.Fatalf("Now() = %v, want 42s", got)
	}
	tc.Reset()
	if got := tc.Now(); got != 0 {
		t.Fatalf("Now() after Reset = %v, want 0", got)
	}
}

func TestStepOnlyAdvancesWhileRunning(t *testing.T) {
	tc := NewTimeController(50*time.Millisecond, RealTime)

	var heard []time.Duration
	tc.AddListener(func(now time.Duration) { heard = append(heard, now) })

	if _, moved := tc.Step(); moved {
		t.Fatalf("stopped controller advanced")
	}
	tc.SetRunning(true)
	tc.Step()
	now, moved := tc.Step()
	if !moved || now != 100*time.Millisecond {
		t.Fatalf("Step() = %v, %v; want 100ms, true", now, moved)
	}
	tc.SetRunning(false)
	tc.Step()

	if len(heard) != 2 || heard[1] != 100*time.Millisecond {
		t.Fatalf("listener saw %v", heard)
	}
}

func TestListenersAddedDuringStepRunFromNextStep(t *testing.T) {
	tc := NewTimeController(time.Second, RealTime)
	tc.SetRunning(true)

	var late []time.Duration
	added := false
	tc.AddListener(func(time.Duration) {
		if !added {
			added = true
			tc.AddListener(func(now time.Duration) { late = append(late, now) })
		}
	})

	tc.Step()
	if len(late) != 0 {
		t.Fatalf("listener added mid-step ran in the same step: %v", late)
	}
	tc.Step()
	if len(late) != 1 || late[0] != 2*time.Second {
		t.Fatalf("late listener saw %v, want [2s]", late)
	}
}

func TestRunAdvancesInAcceleratedMode(t *testing.T) {
	tc := NewTimeController(time.Second, Accelerated)
	tc.SetRunning(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for tc.Now() < 3*time.Second {
		if time.Now().After(deadline) {
			t.Fatalf("sim time stuck at %v", tc.Now())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestModeString(t *testing.T) {
	if RealTime.String() != "realtime" || Accelerated.String() != "accelerated" {
		t.Fatalf("unexpected mode names %q %q", RealTime, Accelerated)
	}
}

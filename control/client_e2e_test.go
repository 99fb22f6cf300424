package control_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/simcontrol/control"
	"github.com/signalsfoundry/simcontrol/internal/observability"
	"github.com/signalsfoundry/simcontrol/internal/simengine"
	"github.com/signalsfoundry/simcontrol/internal/transport"
	"github.com/signalsfoundry/simcontrol/model"
	"github.com/signalsfoundry/simcontrol/timectrl"
	"gonum.org/v1/gonum/spatial/r3"
)

const workcell = `
name: workcell
objects:
  - name: Robot
    handle: 12
    position: [0, 0, 0]
  - name: Crate
    position: [4, 4, 0]
`

type session struct {
	client    *control.Client
	collector *observability.Collector
	scene     string
	packages  string
}

// newSession serves a reference engine on loopback and binds a client to it.
func newSession(t *testing.T, opts ...control.Option) *session {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	engine := simengine.New(timectrl.NewTimeController(10*time.Millisecond, timectrl.Accelerated), nil, nil)
	server := simengine.NewGRPCServer(engine, nil, nil)
	go func() { _ = server.Serve(lis) }()

	runCtx, stopRun := context.WithCancel(context.Background())
	go func() { _ = engine.Run(runCtx) }()

	conn, err := transport.Bind(context.Background(), transport.Config{
		Endpoint:    lis.Addr().String(),
		BindTimeout: 2 * time.Second,
		CallTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		stopRun()
		engine.Close()
		server.Stop()
	})

	packages := t.TempDir()
	problemDir := filepath.Join(packages, "benchmarks", "problems", "pick")
	if err := os.MkdirAll(problemDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(problemDir, "cell.yaml"), []byte(workcell), 0o644); err != nil {
		t.Fatalf("write problem scene: %v", err)
	}
	scene := filepath.Join(t.TempDir(), "workcell.yaml")
	if err := os.WriteFile(scene, []byte(workcell), 0o644); err != nil {
		t.Fatalf("write scene: %v", err)
	}

	collector, err := observability.NewCollector(prometheus.NewRegistry(), "simctl")
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	opts = append([]control.Option{
		control.WithRecorder(collector),
		control.WithPackageLocator(control.SearchPathLocator{Dirs: []string{packages}}),
	}, opts...)

	return &session{
		client:    control.NewClient(conn, opts...),
		collector: collector,
		scene:     scene,
		packages:  packages,
	}
}

func TestClientScenario(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	c := s.client

	if ok, err := c.LoadScene(ctx, s.scene); err != nil || !ok {
		t.Fatalf("LoadScene = %v, %v", ok, err)
	}
	if ok, err := c.Start(ctx); err != nil || !ok {
		t.Fatalf("Start = %v, %v", ok, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.WaitForState(waitCtx, model.Running, 5*time.Millisecond); err != nil {
		t.Fatalf("never observed Running: %v", err)
	}
	if !c.IsRunning() {
		t.Fatalf("IsRunning = false after Running observed")
	}

	robot, err := c.Handle(ctx, "Robot")
	if err != nil || robot != 12 {
		t.Fatalf("Handle(Robot) = %d, %v", robot, err)
	}
	if ok, err := c.MoveObject(ctx, robot, r3.Vec{X: 1, Y: 2, Z: 0.5}); err != nil || !ok {
		t.Fatalf("MoveObject = %v, %v", ok, err)
	}
	pose, err := c.GetPose(ctx, robot)
	if err != nil {
		t.Fatalf("GetPose: %v", err)
	}
	if r3.Norm(r3.Sub(pose.Position, r3.Vec{X: 1, Y: 2, Z: 0.5})) > 1e-9 {
		t.Fatalf("pose = %+v, want (1, 2, 0.5)", pose.Position)
	}

	clone, err := c.CopyObject(ctx, robot)
	if err != nil || !clone.Valid() || clone == robot {
		t.Fatalf("CopyObject = %d, %v", clone, err)
	}
	clonePose, err := c.GetPose(ctx, clone)
	if err != nil || clonePose.Position != pose.Position {
		t.Fatalf("clone pose = %+v, %v; want %+v", clonePose, err, pose.Position)
	}

	if ok, err := c.Stop(ctx); err != nil || !ok {
		t.Fatalf("Stop = %v, %v", ok, err)
	}
	if err := c.WaitForState(waitCtx, model.Stopped, 5*time.Millisecond); err != nil {
		t.Fatalf("never observed Stopped: %v", err)
	}
}

func TestClientFailureSentinels(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	c := s.client

	if ok, err := c.MoveObject(ctx, model.InvalidHandle, r3.Vec{X: 1}); err != nil || ok {
		t.Fatalf("MoveObject(-1) = %v, %v; want false, nil", ok, err)
	}
	if ok, err := c.MoveObjectByName(ctx, "Ghost", r3.Vec{X: 1}); err != nil || ok {
		t.Fatalf("MoveObjectByName(Ghost) = %v, %v; want false, nil", ok, err)
	}
	if h, err := c.CopyObject(ctx, model.InvalidHandle); err != nil || h != model.InvalidHandle {
		t.Fatalf("CopyObject(-1) = %d, %v", h, err)
	}
	if ok, err := c.LoadScene(ctx, filepath.Join(t.TempDir(), "nope.yaml")); err != nil || ok {
		t.Fatalf("LoadScene(missing) = %v, %v; want false, nil", ok, err)
	}
	// 0 means "nothing to do"; only -1 is a failure.
	if ok, err := c.Stop(ctx); err != nil || !ok {
		t.Fatalf("Stop on a stopped engine = %v, %v; want true, nil", ok, err)
	}

	for _, op := range []model.Operation{model.OpSetObjectPosition, model.OpCopyPasteObjects, model.OpLoadScene} {
		if got := testutil.ToFloat64(s.collector.SentinelFailures.WithLabelValues(string(op))); got < 1 {
			t.Errorf("sentinel_failures_total{operation=%q} = %v, want >= 1", op, got)
		}
	}
}

func TestClientLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	for i := 0; i < 2; i++ {
		if ok, err := s.client.LoadScene(ctx, s.scene); err != nil || !ok {
			t.Fatalf("load %d = %v, %v", i, ok, err)
		}
	}
	if ok, err := s.client.LoadProblemScene(ctx, "pick", "cell.yaml", "benchmarks"); err != nil || !ok {
		t.Fatalf("LoadProblemScene = %v, %v", ok, err)
	}
	if _, err := s.client.LoadProblemScene(ctx, "pick", "cell.yaml", "missing"); !errors.Is(err, control.ErrPackageNotFound) {
		t.Fatalf("LoadProblemScene(missing package) error = %v, want ErrPackageNotFound", err)
	}
}

func TestClientStrictPolicySkipsEngine(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, control.WithHandlePolicy(control.Strict))

	if ok, err := s.client.MoveObject(ctx, model.InvalidHandle, r3.Vec{}); err != nil || ok {
		t.Fatalf("MoveObject(-1) = %v, %v", ok, err)
	}
	if _, err := s.client.GetPose(ctx, model.InvalidHandle); !errors.Is(err, control.ErrInvalidHandle) {
		t.Fatalf("GetPose(-1) error = %v, want ErrInvalidHandle", err)
	}
}

func TestBackgroundMonitorTracksTicks(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = s.client.Monitor().Run(runCtx) }()

	if _, err := s.client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.client.Monitor().Snapshot().SimulationTime == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("simulation time never advanced: %+v", s.client.Monitor().Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.client.State() != model.Running {
		t.Fatalf("State = %s, want running", s.client.State())
	}
}

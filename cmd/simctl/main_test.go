package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/simcontrol/internal/simengine"
	"github.com/signalsfoundry/simcontrol/model"
	"github.com/signalsfoundry/simcontrol/timectrl"
)

const cliScene = `
name: cli
objects:
  - name: Robot
    handle: 12
    position: [0, 0, 0]
`

// serveEngine starts a loopback engine and points SIMCTL_ENDPOINT at it.
func serveEngine(t *testing.T) (*simengine.Engine, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	engine := simengine.New(timectrl.NewTimeController(10*time.Millisecond, timectrl.Accelerated), nil, nil)
	server := simengine.NewGRPCServer(engine, nil, nil)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(func() {
		engine.Close()
		server.Stop()
	})

	t.Setenv("SIMCTL_ENDPOINT", lis.Addr().String())
	t.Setenv("SIMCTL_LOG_LEVEL", "error")

	scene := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(scene, []byte(cliScene), 0o644); err != nil {
		t.Fatalf("write scene: %v", err)
	}
	return engine, scene
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code := execute(ctx, args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestCLIScenario(t *testing.T) {
	engine, scene := serveEngine(t)

	if code, out, errOut := runCLI(t, "load", scene); code != 0 || strings.TrimSpace(out) != "ok" {
		t.Fatalf("load: code=%d out=%q err=%q", code, out, errOut)
	}
	if code, out, _ := runCLI(t, "handle", "Robot"); code != 0 || strings.TrimSpace(out) != "12" {
		t.Fatalf("handle: code=%d out=%q", code, out)
	}
	if code, out, _ := runCLI(t, "move", "Robot", "1", "2", "0.5"); code != 0 || strings.TrimSpace(out) != "ok" {
		t.Fatalf("move: code=%d out=%q", code, out)
	}

	code, out, _ := runCLI(t, "pose", "12", "--json")
	if code != 0 {
		t.Fatalf("pose: code=%d out=%q", code, out)
	}
	var pose poseJSON
	if err := json.Unmarshal([]byte(out), &pose); err != nil {
		t.Fatalf("pose output %q: %v", out, err)
	}
	if pose.Handle != 12 || pose.RelativeTo != -1 || pose.Position != (vecJSON{X: 1, Y: 2, Z: 0.5}) || pose.Orientation.W != 1 {
		t.Fatalf("pose = %+v", pose)
	}

	if code, out, _ := runCLI(t, "copy", "12"); code != 0 || strings.TrimSpace(out) != "13" {
		t.Fatalf("copy: code=%d out=%q", code, out)
	}

	if code, out, _ := runCLI(t, "start", "--wait"); code != 0 || strings.TrimSpace(out) != "ok" {
		t.Fatalf("start: code=%d out=%q", code, out)
	}
	if engine.State() != model.Running {
		t.Fatalf("engine state = %s", engine.State())
	}
	if code, out, _ := runCLI(t, "status"); code != 0 || !strings.HasPrefix(out, "running") {
		t.Fatalf("status: code=%d out=%q", code, out)
	}
	if code, out, _ := runCLI(t, "stop", "--wait"); code != 0 || strings.TrimSpace(out) != "ok" {
		t.Fatalf("stop: code=%d out=%q", code, out)
	}
	// Stopping a stopped engine returns 0, which is not the failure sentinel.
	if code, out, _ := runCLI(t, "stop"); code != 0 || strings.TrimSpace(out) != "ok" {
		t.Fatalf("second stop: code=%d out=%q", code, out)
	}
}

func TestCLIFailuresExitOne(t *testing.T) {
	_, scene := serveEngine(t)
	if code, _, _ := runCLI(t, "load", scene); code != 0 {
		t.Fatalf("load failed")
	}

	cases := []struct {
		name string
		args []string
		out  string
	}{
		{"unknown name", []string{"handle", "Ghost"}, "-1"},
		{"move unknown", []string{"move", "Ghost", "1", "2", "3"}, "failed"},
		{"copy unknown", []string{"copy", "99"}, "-1"},
		{"missing scene", []string{"load", filepath.Join(t.TempDir(), "nope.yaml")}, "failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, out, errOut := runCLI(t, tc.args...)
			if code != 1 {
				t.Fatalf("exit code = %d, want 1 (out=%q err=%q)", code, out, errOut)
			}
			if strings.TrimSpace(out) != tc.out {
				t.Fatalf("output = %q, want %q", out, tc.out)
			}
		})
	}
}

func TestCLILoadProblemScene(t *testing.T) {
	_, _ = serveEngine(t)

	pkgRoot := t.TempDir()
	dir := filepath.Join(pkgRoot, "bench", "problems", "pick")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cell.yaml"), []byte(cliScene), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	code, out, errOut := runCLI(t, "--package-path", pkgRoot, "load", "--problem", "pick", "--package", "bench", "cell.yaml")
	if code != 0 || strings.TrimSpace(out) != "ok" {
		t.Fatalf("load problem: code=%d out=%q err=%q", code, out, errOut)
	}

	code, _, errOut = runCLI(t, "--package-path", pkgRoot, "load", "--problem", "pick", "--package", "absent", "cell.yaml")
	if code != 1 || !strings.Contains(errOut, "package not found") {
		t.Fatalf("missing package: code=%d err=%q", code, errOut)
	}
}

func TestCLIStrictPolicy(t *testing.T) {
	_, _ = serveEngine(t)

	code, _, errOut := runCLI(t, "--handle-policy", "strict", "pose", "Ghost")
	if code != 1 || !strings.Contains(errOut, "invalid object handle") {
		t.Fatalf("strict pose: code=%d err=%q", code, errOut)
	}
}

func TestCLIBindFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	code, _, errOut := runCLI(t, "--endpoint", addr, "--bind-timeout", "300ms", "status")
	if code != 1 || !strings.Contains(errOut, "bind "+addr) {
		t.Fatalf("bind failure: code=%d err=%q", code, errOut)
	}
}

func TestWatchEmitsStateChanges(t *testing.T) {
	engine, _ := serveEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- execute(ctx, []string{"watch", "--interval", "5ms"}, &out, &bytes.Buffer{})
	}()

	time.Sleep(100 * time.Millisecond)
	engine.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	cancel()

	if code := <-done; code != 0 {
		t.Fatalf("watch exit code = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "stopped") || !strings.HasPrefix(lines[len(lines)-1], "running") {
		t.Fatalf("watch output = %q", out.String())
	}
}

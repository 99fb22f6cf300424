package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/simcontrol/control"
	"github.com/signalsfoundry/simcontrol/internal/config"
	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/internal/observability"
	"github.com/signalsfoundry/simcontrol/internal/transport"
	"github.com/spf13/cobra"
)

// errOperationFailed marks an engine-reported failure. It maps to exit code 1
// without an extra error line, since the command has already said "failed".
var errOperationFailed = errors.New("operation failed")

type app struct {
	cfg       config.ClientConfig
	out       io.Writer
	errOut    io.Writer
	log       logging.Logger
	collector *observability.Collector
	shutdown  func(context.Context) error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "simctl",
		Short:         "control a remote simulation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.Endpoint, "endpoint", a.cfg.Endpoint, "engine host:port")
	flags.DurationVar(&a.cfg.BindTimeout, "bind-timeout", a.cfg.BindTimeout, "time allowed to bind the engine")
	flags.DurationVar(&a.cfg.CallTimeout, "call-timeout", a.cfg.CallTimeout, "per-call deadline")
	flags.StringVar(&a.cfg.HandlePolicy, "handle-policy", a.cfg.HandlePolicy, "pass-through or strict")
	flags.StringSliceVar(&a.cfg.PackagePath, "package-path", a.cfg.PackagePath, "directories searched for scene packages")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "debug, info, warn or error")
	flags.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "text or json")

	root.AddCommand(
		newStartCmd(a),
		newStopCmd(a),
		newStatusCmd(a),
		newHandleCmd(a),
		newMoveCmd(a),
		newCopyCmd(a),
		newPoseCmd(a),
		newLoadCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.log = logging.New(logging.Config{Level: a.cfg.LogLevel, Format: a.cfg.LogFormat, Writer: a.errOut})

	shutdown, err := observability.InitTracing(ctx, a.cfg.Tracing, a.log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.shutdown = shutdown

	collector, err := observability.NewCollector(prometheus.NewRegistry(), "simctl")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.collector = collector
	return nil
}

func (a *app) close() {
	observability.ShutdownWithTimeout(context.Background(), a.shutdown, a.log)
}

// connect binds the engine and returns a client plus its release func.
func (a *app) connect(ctx context.Context) (*control.Client, func(), error) {
	conn, err := transport.Bind(ctx, a.cfg.Transport(),
		transport.WithLogger(a.log),
		transport.WithUnaryInterceptors(a.collector.UnaryClientInterceptor()),
	)
	if err != nil {
		return nil, nil, err
	}
	client := control.NewClient(conn,
		control.WithLogger(a.log),
		control.WithHandlePolicy(a.cfg.Policy()),
		control.WithPackageLocator(control.SearchPathLocator{Dirs: a.cfg.PackagePath}),
		control.WithRecorder(a.collector),
	)
	return client, func() { _ = conn.Close() }, nil
}

func (a *app) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.CallTimeout)
}

// report prints ok or failed and converts a false outcome into
// errOperationFailed.
func (a *app) report(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "failed")
		return errOperationFailed
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

// execute runs simctl with args and returns the process exit code.
func execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(errOut, "simctl:", err)
		return 2
	}
	a := &app{cfg: cfg, out: out, errOut: errOut, log: logging.Noop()}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errOperationFailed) {
			fmt.Fprintln(errOut, "simctl:", err)
		}
		return 1
	}
	return 0
}

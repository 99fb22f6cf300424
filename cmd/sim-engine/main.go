// Command sim-engine serves an in-memory simulation engine over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/simcontrol/internal/config"
	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/internal/observability"
	"github.com/signalsfoundry/simcontrol/internal/simengine"
	"github.com/signalsfoundry/simcontrol/timectrl"
)

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "sim-engine exited", logging.Err(err))
		os.Exit(1)
	}
}

// parseConfig reads SIM_ENGINE_* variables, then lets flags override them.
func parseConfig(fs *flag.FlagSet, args []string) (config.EngineConfig, error) {
	cfg, err := config.LoadEngine()
	if err != nil {
		return config.EngineConfig{}, err
	}

	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address the engine gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&cfg.Scene, "scene", cfg.Scene, "YAML scene loaded at startup")
	fs.DurationVar(&cfg.Tick, "tick", cfg.Tick, "simulation time advanced per step")
	fs.BoolVar(&cfg.Accelerated, "accelerated", cfg.Accelerated, "step as fast as possible instead of in real time")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	if err := fs.Parse(args); err != nil {
		return config.EngineConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.EngineConfig{}, err
	}
	return cfg, nil
}

// run serves the engine on lis until ctx is done.
func run(ctx context.Context, cfg config.EngineConfig, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewCollector(prometheus.NewRegistry(), "sim_engine")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	engine := simengine.New(timectrl.NewTimeController(cfg.Tick, mode), log, collector)
	if cfg.Scene != "" {
		if res := engine.LoadScene(ctx, cfg.Scene); res != simengine.ResultOK {
			return fmt.Errorf("load scene %s: result %d", cfg.Scene, res)
		}
	}

	server := simengine.NewGRPCServer(engine, log, collector)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		if err := engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn(ctx, "engine clock stopped", logging.Err(err))
		}
	}()

	log.Info(ctx, "starting sim-engine gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.String("mode", mode.String()),
		logging.String("tick", cfg.Tick.String()),
	)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(lis) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		engine.Close()
		return fmt.Errorf("grpc server: %w", err)
	}

	log.Info(context.Background(), "shutting down sim-engine")
	// Closing the engine ends info subscriptions so GracefulStop can drain.
	engine.Close()
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

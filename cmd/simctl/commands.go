package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/signalsfoundry/simcontrol/control"
	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"
)

func newStartCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transition(cmd.Context(), true, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the engine reports running")
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "stop the simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transition(cmd.Context(), false, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the engine reports stopped")
	return cmd
}

func (a *app) transition(ctx context.Context, start, wait bool) error {
	client, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	callCtx, cancel := a.callContext(ctx)
	defer cancel()

	op, want := client.Stop, model.Stopped
	if start {
		op, want = client.Start, model.Running
	}
	ok, err := op(callCtx)
	if err != nil || !ok || !wait {
		return a.report(ok, err)
	}
	if err := client.WaitForState(callCtx, want, 10*time.Millisecond); err != nil {
		return fmt.Errorf("waiting for %s: %w", want, err)
	}
	return a.report(true, nil)
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the simulation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			snap := awaitFirstNotification(cmd.Context(), client.Monitor(), a.cfg.CallTimeout)
			fmt.Fprintf(a.out, "%s sim_time=%s\n", snap.State, snap.SimulationTime)
			return nil
		},
	}
}

// awaitFirstNotification gives the subscription up to limit to report the
// engine's state, then returns whatever the monitor holds.
func awaitFirstNotification(ctx context.Context, m *control.StateMonitor, limit time.Duration) control.Snapshot {
	deadline := time.Now().Add(limit)
	for {
		m.DrainAndRead()
		snap := m.Snapshot()
		if snap.Observed || time.Now().After(deadline) || ctx.Err() != nil {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newHandleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "handle NAME",
		Short: "resolve an object name to its handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			h, err := client.Handle(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, int64(h))
			if !h.Valid() {
				return errOperationFailed
			}
			return nil
		},
	}
}

// resolveTarget accepts a numeric handle or an object name.
func resolveTarget(ctx context.Context, client *control.Client, target string) (model.ObjectHandle, error) {
	if h, err := model.ParseHandle(target); err == nil {
		return h, nil
	}
	return client.Handle(ctx, target)
}

func newMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move TARGET X Y Z",
		Short: "set an object's world position",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var coords [3]float64
			for i, s := range args[1:] {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return fmt.Errorf("coordinate %q: %w", s, err)
				}
				coords[i] = v
			}

			client, release, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			h, err := resolveTarget(ctx, client, args[0])
			if err != nil {
				return err
			}
			return a.report(client.MoveObject(ctx, h, r3.Vec{X: coords[0], Y: coords[1], Z: coords[2]}))
		},
	}
}

func newCopyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "copy HANDLE",
		Short: "duplicate an object and print the copy's handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := model.ParseHandle(args[0])
			if err != nil {
				return fmt.Errorf("handle %q: %w", args[0], err)
			}
			client, release, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			clone, err := client.CopyObject(ctx, h)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, int64(clone))
			if !clone.Valid() {
				return errOperationFailed
			}
			return nil
		},
	}
}

type vecJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quatJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type poseJSON struct {
	Handle      int64    `json:"handle"`
	RelativeTo  int64    `json:"relative_to"`
	Position    vecJSON  `json:"position"`
	Orientation quatJSON `json:"orientation"`
}

func newPoseCmd(a *app) *cobra.Command {
	var (
		asJSON   bool
		relative string
	)
	cmd := &cobra.Command{
		Use:   "pose TARGET",
		Short: "print an object's pose",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			h, err := resolveTarget(ctx, client, args[0])
			if err != nil {
				return err
			}
			rel := model.WorldFrame
			if relative != "" {
				if rel, err = resolveTarget(ctx, client, relative); err != nil {
					return err
				}
			}
			pose, err := client.GetPoseRelative(ctx, h, rel)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				return enc.Encode(poseJSON{
					Handle:      int64(h),
					RelativeTo:  int64(pose.RelativeTo),
					Position:    vecJSON{X: pose.Position.X, Y: pose.Position.Y, Z: pose.Position.Z},
					Orientation: quatJSON{X: pose.Orientation.Imag, Y: pose.Orientation.Jmag, Z: pose.Orientation.Kmag, W: pose.Orientation.Real},
				})
			}
			fmt.Fprintf(a.out, "position: %g %g %g\n", pose.Position.X, pose.Position.Y, pose.Position.Z)
			fmt.Fprintf(a.out, "orientation: %g %g %g %g\n",
				pose.Orientation.Imag, pose.Orientation.Jmag, pose.Orientation.Kmag, pose.Orientation.Real)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the pose as JSON")
	cmd.Flags().StringVar(&relative, "relative-to", "", "reference object handle or name (default world)")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var problem, pkg string
	cmd := &cobra.Command{
		Use:   "load PATH | load --problem P --package K RELATIVE_PATH",
		Short: "load a scene file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := model.SceneReference{Problem: problem, Package: pkg, RelativePath: args[0]}
			if problem == "" && pkg == "" {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				ref = model.SceneReference{FullPath: abs}
			}
			if err := ref.Validate(); err != nil {
				return err
			}

			client, release, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			return a.report(client.LoadSceneReference(ctx, ref))
		},
	}
	cmd.Flags().StringVar(&problem, "problem", "", "problem name under <package>/problems")
	cmd.Flags().StringVar(&pkg, "package", "", "package located on --package-path")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		interval    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "print simulation state changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, release, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer release()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: a.collector.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Warn(ctx, "metrics server exited", logging.Err(err))
					}
				}()
				defer srv.Close()
			}
			return watch(ctx, client.Monitor(), interval, func(s control.Snapshot) {
				fmt.Fprintf(a.out, "%s sim_time=%s\n", s.State, s.SimulationTime)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")
	cmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "poll interval")
	return cmd
}

// watch polls m and calls emit whenever the run state changes, until ctx ends.
func watch(ctx context.Context, m *control.StateMonitor, interval time.Duration, emit func(control.Snapshot)) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last    model.SimulationState
		emitted bool
	)
	for {
		m.DrainAndRead()
		if snap := m.Snapshot(); snap.Observed && (!emitted || snap.State != last) {
			emit(snap)
			last, emitted = snap.State, true
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

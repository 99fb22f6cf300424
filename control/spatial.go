package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
	"gonum.org/v1/gonum/spatial/r3"
)

// HandlePolicy decides what happens when an operation is given
// model.InvalidHandle, typically after a failed name lookup.
type HandlePolicy int

const (
	// PassThrough forwards the invalid handle to the engine and reports the
	// engine's failure result. This is the default.
	PassThrough HandlePolicy = iota
	// Strict fails locally without issuing a remote call.
	Strict
)

func (p HandlePolicy) String() string {
	if p == Strict {
		return "strict"
	}
	return "pass-through"
}

// ParseHandlePolicy accepts "strict" or "pass-through" (case-insensitive).
// The empty string selects PassThrough.
func ParseHandlePolicy(s string) (HandlePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pass-through", "passthrough":
		return PassThrough, nil
	case "strict":
		return Strict, nil
	default:
		return PassThrough, fmt.Errorf("unknown handle policy %q", s)
	}
}

// Spatial moves, copies and queries scene objects.
type Spatial struct {
	engine   Engine
	resolver *HandleResolver
	policy   HandlePolicy
	reporter
}

// NewSpatial builds a Spatial that resolves names through resolver.
func NewSpatial(engine Engine, resolver *HandleResolver, policy HandlePolicy, log logging.Logger, recorder Recorder) *Spatial {
	return &Spatial{
		engine:   engine,
		resolver: resolver,
		policy:   policy,
		reporter: newReporter(log, recorder, "spatial"),
	}
}

// Policy returns the configured invalid-handle policy.
func (s *Spatial) Policy() HandlePolicy { return s.policy }

func (s *Spatial) rejects(h model.ObjectHandle) bool {
	return s.policy == Strict && !h.Valid()
}

// MoveObject sets the world-frame position of handle. It returns false when
// the engine reports the failure sentinel.
func (s *Spatial) MoveObject(ctx context.Context, handle model.ObjectHandle, pos r3.Vec) (bool, error) {
	fields := []logging.Field{
		logging.Int64("handle", int64(handle)),
		logging.Float64("x", pos.X),
		logging.Float64("y", pos.Y),
		logging.Float64("z", pos.Z),
	}
	if s.rejects(handle) {
		s.outcome(ctx, model.OpSetObjectPosition, false, append(fields, logging.Bool("short_circuit", true))...)
		return false, nil
	}

	res, err := s.engine.SetObjectPosition(ctx, handle, model.WorldFrame, pos)
	if err != nil {
		s.transportFailure(ctx, model.OpSetObjectPosition, err)
		return false, err
	}
	ok := Result(res).OK()
	s.outcome(ctx, model.OpSetObjectPosition, ok, fields...)
	return ok, nil
}

// MoveObjectByName resolves name and moves the object. Under PassThrough an
// unresolved name still reaches the engine as model.InvalidHandle.
func (s *Spatial) MoveObjectByName(ctx context.Context, name string, pos r3.Vec) (bool, error) {
	handle, err := s.resolver.Resolve(ctx, name)
	if err != nil {
		return false, err
	}
	return s.MoveObject(ctx, handle, pos)
}

// CopyObject duplicates handle and returns the new object's handle, or
// model.InvalidHandle when the engine returned no copies.
func (s *Spatial) CopyObject(ctx context.Context, handle model.ObjectHandle) (model.ObjectHandle, error) {
	if s.rejects(handle) {
		s.outcome(ctx, model.OpCopyPasteObjects, false, logging.Bool("short_circuit", true))
		return model.InvalidHandle, nil
	}

	copies, err := s.engine.CopyPasteObjects(ctx, []model.ObjectHandle{handle})
	if err != nil {
		s.transportFailure(ctx, model.OpCopyPasteObjects, err)
		return model.InvalidHandle, err
	}
	if len(copies) == 0 {
		s.outcome(ctx, model.OpCopyPasteObjects, false, logging.Int64("handle", int64(handle)))
		return model.InvalidHandle, nil
	}
	s.outcome(ctx, model.OpCopyPasteObjects, copies[0] != model.InvalidHandle,
		logging.Int64("handle", int64(handle)),
		logging.Int64("copy", int64(copies[0])),
	)
	return copies[0], nil
}

// GetPose returns the world-frame pose of handle as reported by the engine.
func (s *Spatial) GetPose(ctx context.Context, handle model.ObjectHandle) (model.Pose, error) {
	return s.GetPoseRelative(ctx, handle, model.WorldFrame)
}

// GetPoseRelative returns the pose of handle expressed in the frame of
// relativeTo. The engine's answer is returned without validation.
func (s *Spatial) GetPoseRelative(ctx context.Context, handle, relativeTo model.ObjectHandle) (model.Pose, error) {
	if s.rejects(handle) {
		return model.Pose{RelativeTo: relativeTo}, ErrInvalidHandle
	}

	pose, err := s.engine.GetObjectPose(ctx, handle, relativeTo)
	if err != nil {
		s.transportFailure(ctx, model.OpGetObjectPose, err)
		return model.Pose{}, err
	}
	s.log.Debug(ctx, "engine call completed",
		logging.String("op", string(model.OpGetObjectPose)),
		logging.Int64("handle", int64(handle)),
		logging.Int64("relative_to", int64(relativeTo)),
	)
	return pose, nil
}

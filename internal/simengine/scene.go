package simengine

import (
	"errors"
	"fmt"
	"os"

	"github.com/signalsfoundry/simcontrol/model"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScene is wrapped by every scene validation failure.
var ErrInvalidScene = errors.New("invalid scene")

// SceneFile is the on-disk YAML scene layout.
type SceneFile struct {
	Name    string        `yaml:"name"`
	Objects []SceneObject `yaml:"objects"`
}

// SceneObject is one object entry. Handle is optional; Orientation is
// x, y, z, w and defaults to identity.
type SceneObject struct {
	Name        string    `yaml:"name"`
	Handle      *int64    `yaml:"handle,omitempty"`
	Position    []float64 `yaml:"position"`
	Orientation []float64 `yaml:"orientation,omitempty"`
}

// Object is a scene object held by the engine.
type Object struct {
	Handle      model.ObjectHandle
	Name        string
	Position    r3.Vec
	Orientation quat.Number
}

// Scene is a validated, loaded scene.
type Scene struct {
	Name    string
	Objects []Object
}

// LoadSceneFile reads and validates a YAML scene.
func LoadSceneFile(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScene(data)
}

// ParseScene decodes and validates a YAML scene. Objects without an
// explicit handle are numbered after the highest explicit one.
func ParseScene(data []byte) (*Scene, error) {
	var file SceneFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScene, err)
	}

	var next model.ObjectHandle
	for _, o := range file.Objects {
		if o.Handle != nil && model.ObjectHandle(*o.Handle) > MaxHandle {
			return nil, fmt.Errorf("%w: object %q handle %d exceeds %d", ErrInvalidScene, o.Name, *o.Handle, MaxHandle)
		}
		if o.Handle != nil && model.ObjectHandle(*o.Handle) >= next {
			next = model.ObjectHandle(*o.Handle) + 1
		}
	}

	scene := &Scene{Name: file.Name, Objects: make([]Object, 0, len(file.Objects))}
	names := make(map[string]struct{}, len(file.Objects))
	handles := make(map[model.ObjectHandle]struct{}, len(file.Objects))
	for i, o := range file.Objects {
		if o.Name == "" {
			return nil, fmt.Errorf("%w: object %d has no name", ErrInvalidScene, i)
		}
		if _, dup := names[o.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate object name %q", ErrInvalidScene, o.Name)
		}
		names[o.Name] = struct{}{}

		h := next
		if o.Handle != nil {
			h = model.ObjectHandle(*o.Handle)
			if !h.Valid() {
				return nil, fmt.Errorf("%w: object %q has negative handle %d", ErrInvalidScene, o.Name, h)
			}
		} else {
			if h > MaxHandle {
				return nil, fmt.Errorf("%w: no handle left for object %q", ErrInvalidScene, o.Name)
			}
			next++
		}
		if _, dup := handles[h]; dup {
			return nil, fmt.Errorf("%w: duplicate handle %d", ErrInvalidScene, h)
		}
		handles[h] = struct{}{}

		if len(o.Position) != 3 {
			return nil, fmt.Errorf("%w: object %q position needs 3 components, got %d", ErrInvalidScene, o.Name, len(o.Position))
		}
		q := model.IdentityOrientation
		switch len(o.Orientation) {
		case 0:
		case 4:
			q = model.Normalize(quat.Number{Imag: o.Orientation[0], Jmag: o.Orientation[1], Kmag: o.Orientation[2], Real: o.Orientation[3]})
		default:
			return nil, fmt.Errorf("%w: object %q orientation needs 4 components, got %d", ErrInvalidScene, o.Name, len(o.Orientation))
		}

		scene.Objects = append(scene.Objects, Object{
			Handle:      h,
			Name:        o.Name,
			Position:    r3.Vec{X: o.Position[0], Y: o.Position[1], Z: o.Position[2]},
			Orientation: q,
		})
	}
	return scene, nil
}

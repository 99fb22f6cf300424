package model

import (
	"errors"
	"path/filepath"
)

// ErrEmptySceneReference indicates a SceneReference with neither form set.
var ErrEmptySceneReference = errors.New("empty scene reference")

// SceneReference names a scene file either by absolute path or by a
// (problem, relative path, package) triple resolved against a package root.
type SceneReference struct {
	FullPath string

	Problem      string
	RelativePath string
	Package      string
}

// IsAbsolute reports whether the reference carries a full path.
func (r SceneReference) IsAbsolute() bool { return r.FullPath != "" }

// Validate checks that exactly one addressing form is usable.
func (r SceneReference) Validate() error {
	if r.IsAbsolute() {
		if !filepath.IsAbs(r.FullPath) {
			return errors.New("scene path must be absolute")
		}
		return nil
	}
	if r.Problem == "" || r.RelativePath == "" || r.Package == "" {
		return ErrEmptySceneReference
	}
	return nil
}

package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/simcontrol/internal/logging"
	"github.com/signalsfoundry/simcontrol/model"
)

// PackageLocator resolves a package name to the directory it lives in.
type PackageLocator interface {
	PackagePath(pkg string) (string, error)
}

// SearchPathLocator finds packages as <dir>/<pkg> under a list of
// directories, first match wins.
type SearchPathLocator struct {
	Dirs []string
}

// PackagePath implements PackageLocator.
func (l SearchPathLocator) PackagePath(pkg string) (string, error) {
	if pkg == "" {
		return "", fmt.Errorf("%w: empty package name", ErrPackageNotFound)
	}
	for _, dir := range l.Dirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, pkg)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPackageNotFound, pkg)
}

// StaticLocator maps package names to fixed roots.
type StaticLocator map[string]string

// PackagePath implements PackageLocator.
func (l StaticLocator) PackagePath(pkg string) (string, error) {
	if root, ok := l[pkg]; ok {
		return root, nil
	}
	return "", fmt.Errorf("%w: %s", ErrPackageNotFound, pkg)
}

// ProblemScenePath builds <root>/problems/<problem>/<relativePath>.
func ProblemScenePath(root, problem, relativePath string) string {
	return root + "/problems/" + problem + "/" + relativePath
}

// SceneLoader asks the engine to load scene files.
type SceneLoader struct {
	engine  Engine
	locator PackageLocator
	reporter
}

// NewSceneLoader builds a loader. locator may be nil when only absolute
// paths are used.
func NewSceneLoader(engine Engine, locator PackageLocator, log logging.Logger, recorder Recorder) *SceneLoader {
	return &SceneLoader{
		engine:   engine,
		locator:  locator,
		reporter: newReporter(log, recorder, "scene_loader"),
	}
}

// Load loads the scene at fullPath. Success is a result of exactly 1; any
// other result is a failure.
func (l *SceneLoader) Load(ctx context.Context, fullPath string) (bool, error) {
	res, err := l.engine.LoadScene(ctx, fullPath)
	if err != nil {
		l.transportFailure(ctx, model.OpLoadScene, err)
		return false, err
	}
	ok := Result(res).Loaded()
	l.outcome(ctx, model.OpLoadScene, ok,
		logging.String("path", fullPath),
		logging.Int64("result", int64(res)),
	)
	return ok, nil
}

// LoadProblem loads <package root>/problems/<problem>/<relativePath>. When
// the package cannot be located no remote call is made.
func (l *SceneLoader) LoadProblem(ctx context.Context, problem, relativePath, pkg string) (bool, error) {
	if l.locator == nil {
		return false, fmt.Errorf("%w: no package locator configured", ErrPackageNotFound)
	}
	root, err := l.locator.PackagePath(pkg)
	if err != nil {
		return false, fmt.Errorf("resolve package %q: %w", pkg, err)
	}
	return l.Load(ctx, ProblemScenePath(root, problem, relativePath))
}

// LoadReference loads whichever form ref carries.
func (l *SceneLoader) LoadReference(ctx context.Context, ref model.SceneReference) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	if ref.IsAbsolute() {
		return l.Load(ctx, ref.FullPath)
	}
	return l.LoadProblem(ctx, ref.Problem, ref.RelativePath, ref.Package)
}

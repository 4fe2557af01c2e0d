// Package validation inspects manifests in depth before long-running use
package validation

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipway/slipway/pkg/semver"
	"github.com/slipway/slipway/pkg/types"
)

// Level grades how serious an issue is
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Issue is one problem found in a manifest
type Issue struct {
	Field   string
	Message string
	Level   Level
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Level, i.Field, i.Message)
}

// Result collects every issue found in one pass. Valid is false once
// any error-level issue is recorded; warnings never flip it.
type Result struct {
	Valid  bool
	Issues []Issue
}

func (r *Result) add(field, message string, level Level) {
	r.Issues = append(r.Issues, Issue{Field: field, Message: message, Level: level})
	if level == LevelError {
		r.Valid = false
	}
}

// Failures returns the error-level issues
func (r *Result) Failures() []Issue {
	return r.filter(LevelError)
}

// Warnings returns the warning-level issues
func (r *Result) Warnings() []Issue {
	return r.filter(LevelWarning)
}

func (r *Result) filter(level Level) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Level == level {
			out = append(out, issue)
		}
	}
	return out
}

// ManifestValidator checks a manifest against the filesystem it will
// operate on. Unlike load-time validation, which stops at the first
// problem, this collects everything so the user fixes one round, not
// one issue.
type ManifestValidator struct {
	projectRoot string
}

// NewManifestValidator creates a validator rooted at the project
func NewManifestValidator(projectRoot string) *ManifestValidator {
	return &ManifestValidator{
		projectRoot: projectRoot,
	}
}

// Validate runs every check and returns the collected result
func (v *ManifestValidator) Validate(manifest *types.Manifest) *Result {
	result := &Result{Valid: true}

	v.checkProject(manifest, result)
	v.checkBuild(manifest, result)
	v.checkDependencies(manifest, result)
	v.checkTest(manifest, result)
	v.checkCheck(manifest, result)
	v.checkPublish(manifest, result)
	v.checkWatch(manifest, result)

	return result
}

func (v *ManifestValidator) checkProject(manifest *types.Manifest, result *Result) {
	if manifest.Version != "1.0" {
		result.add("version", fmt.Sprintf("unsupported schema version %q", manifest.Version), LevelError)
	}

	name := manifest.Project.Name
	if name == "" {
		result.add("project.name", "project name is required", LevelError)
	} else if strings.ContainsAny(name, " \t") {
		result.add("project.name", "project name cannot contain whitespace", LevelError)
	}

	if _, err := semver.Parse(manifest.Project.Version); err != nil {
		result.add("project.version", err.Error(), LevelError)
	}
}

func (v *ManifestValidator) checkBuild(manifest *types.Manifest, result *Result) {
	if manifest.Build.Command == "" {
		result.add("build.command", "build command is required", LevelError)
	}
	if filepath.IsAbs(manifest.Build.OutputDir) {
		result.add("build.outputDir", "output directory should be relative to the project root", LevelWarning)
	}
}

func (v *ManifestValidator) checkDependencies(manifest *types.Manifest, result *Result) {
	seen := make(map[string]bool)
	for _, group := range manifest.Dependencies {
		if group.Name == "" || group.Command == "" {
			result.add("dependencies", "every group needs a name and a command", LevelError)
			continue
		}
		if seen[group.Name] {
			result.add("dependencies", fmt.Sprintf("duplicate group %q", group.Name), LevelError)
		}
		seen[group.Name] = true
	}
}

func (v *ManifestValidator) checkTest(manifest *types.Manifest, result *Result) {
	if manifest.Test == nil {
		return
	}

	seen := make(map[string]bool)
	for _, suite := range manifest.Test.Suites {
		if suite.Name == "" || suite.Command == "" {
			result.add("test.suites", "every suite needs a name and a command", LevelError)
			continue
		}
		if seen[suite.Name] {
			result.add("test.suites", fmt.Sprintf("duplicate suite %q", suite.Name), LevelError)
		}
		seen[suite.Name] = true
	}

	if file := manifest.Test.CoverageFile; filepath.IsAbs(file) {
		result.add("test.coverageFile", "coverage file should be relative to the project root", LevelWarning)
	}
}

func (v *ManifestValidator) checkCheck(manifest *types.Manifest, result *Result) {
	if manifest.Check == nil || manifest.Check.LockfilePath == "" {
		return
	}

	path := manifest.Check.LockfilePath
	if !strings.ContainsAny(path, "*?") {
		if _, err := os.Stat(v.resolve(path)); os.IsNotExist(err) {
			result.add("check.lockfilePath", fmt.Sprintf("lockfile %s does not exist yet", path), LevelWarning)
		}
	}
}

func (v *ManifestValidator) checkPublish(manifest *types.Manifest, result *Result) {
	if manifest.Publish == nil {
		return
	}

	raw := manifest.Publish.IndexURL
	if raw == "" {
		result.add("publish.indexUrl", "publish is configured without an index URL", LevelError)
		return
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		result.add("publish.indexUrl", fmt.Sprintf("%q is not an absolute URL", raw), LevelError)
	}
}

func (v *ManifestValidator) checkWatch(manifest *types.Manifest, result *Result) {
	if manifest.Watch == nil || len(manifest.Watch.Paths) == 0 {
		result.add("watch.paths", "no watch paths declared; watch mode will sit idle", LevelWarning)
		return
	}

	for _, path := range manifest.Watch.Paths {
		if path == "" {
			result.add("watch.paths", "empty watch path", LevelError)
			continue
		}
		if filepath.IsAbs(path) {
			result.add("watch.paths", fmt.Sprintf("watch path should be relative: %s", path), LevelWarning)
			continue
		}

		// A glob's base directory must exist for events to arrive
		base := path
		if idx := strings.IndexAny(base, "*?"); idx >= 0 {
			base = filepath.Dir(base[:idx])
		}
		if base == "." || base == "" {
			continue
		}
		if _, err := os.Stat(v.resolve(base)); os.IsNotExist(err) {
			result.add("watch.paths", fmt.Sprintf("watched directory does not exist: %s", base), LevelWarning)
		}
	}
}

func (v *ManifestValidator) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(v.projectRoot, path)
}

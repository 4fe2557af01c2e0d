// Package config handles manifest loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipway/slipway/pkg/semver"
	"github.com/slipway/slipway/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultManifestNames are the file names probed by Discover, in order
var DefaultManifestNames = []string{
	"slipway.config.json",
	"slipway.config.yaml",
	"slipway.config.yml",
}

// Manager handles manifest operations
type Manager struct{}

// NewManager creates a new manifest manager
func NewManager() *Manager {
	return &Manager{}
}

// Discover locates the manifest file in a project root
func Discover(root string) (string, error) {
	for _, name := range DefaultManifestNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", types.ErrManifestNotFound, root)
}

// LoadManifest loads a manifest from a file
func (m *Manager) LoadManifest(path string) (*types.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest types.Manifest

	// Try JSON first
	if err := json.Unmarshal(data, &manifest); err == nil {
		return m.validateManifest(&manifest)
	}

	// Try YAML via a JSON round trip to keep one set of tags authoritative
	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err == nil {
		jsonData, err := json.Marshal(yamlData)
		if err == nil {
			if err := json.Unmarshal(jsonData, &manifest); err == nil {
				return m.validateManifest(&manifest)
			}
		}
	}

	return nil, fmt.Errorf("failed to parse manifest as JSON or YAML")
}

// SaveManifest writes a manifest back to disk atomically, choosing the
// encoding from the file extension.
func (m *Manager) SaveManifest(path string, manifest *types.Manifest) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(manifest)
	default:
		data, err = json.MarshalIndent(manifest, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	}
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// ValidateManifest validates a manifest
func (m *Manager) ValidateManifest(manifest *types.Manifest) error {
	// Check schema version
	if manifest.Version != "1.0" {
		return fmt.Errorf("unsupported manifest version: %s", manifest.Version)
	}

	// Check project type
	validProjectTypes := map[types.ProjectType]bool{
		types.ProjectTypePython: true,
		types.ProjectTypeNode:   true,
		types.ProjectTypeRust:   true,
		types.ProjectTypeGo:     true,
		types.ProjectTypeMixed:  true,
	}
	if !validProjectTypes[manifest.ProjectType] {
		return fmt.Errorf("invalid project type: %s", manifest.ProjectType)
	}

	// Check project identity
	if manifest.Project.Name == "" {
		return fmt.Errorf("missing project name")
	}
	if _, err := semver.Parse(manifest.Project.Version); err != nil {
		return fmt.Errorf("project version: %w", err)
	}

	// Check the build section
	if manifest.Build.Command == "" {
		return fmt.Errorf("missing build command")
	}

	// Dependency group names must be unique and runnable
	groupNames := make(map[string]bool)
	for i, group := range manifest.Dependencies {
		if group.Name == "" {
			return fmt.Errorf("dependency group %d: missing name", i)
		}
		if group.Command == "" {
			return fmt.Errorf("dependency group '%s': missing command", group.Name)
		}
		if groupNames[group.Name] {
			return fmt.Errorf("duplicate dependency group: %s", group.Name)
		}
		groupNames[group.Name] = true
	}

	// Test suites must be named and runnable
	if manifest.Test != nil {
		suiteNames := make(map[string]bool)
		for i, suite := range manifest.Test.Suites {
			if suite.Name == "" {
				return fmt.Errorf("test suite %d: missing name", i)
			}
			if suite.Command == "" {
				return fmt.Errorf("test suite '%s': missing command", suite.Name)
			}
			if suiteNames[suite.Name] {
				return fmt.Errorf("duplicate test suite: %s", suite.Name)
			}
			suiteNames[suite.Name] = true
		}
	}

	// Publish needs somewhere to upload to
	if manifest.Publish != nil && manifest.Publish.IndexURL == "" {
		return fmt.Errorf("publish section missing indexUrl")
	}

	return nil
}

// GetDefaultManifest returns a default manifest for a project type
func (m *Manager) GetDefaultManifest(projectType types.ProjectType, projectName string) *types.Manifest {
	enabled := true

	manifest := &types.Manifest{
		Version:     "1.0",
		ProjectType: projectType,
		Project: types.ProjectConfig{
			Name:    projectName,
			Version: "0.1.0",
		},
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
		Watch: &types.WatchConfig{
			Paths:       []string{"."},
			ExcludeDirs: getDefaultExclusions(),
			Operation:   types.OperationTest,
		},
	}

	switch projectType {
	case types.ProjectTypePython:
		manifest.Toolchain = &types.ToolchainConfig{
			Installer:      "uv",
			Bootstrap:      "pip install uv",
			Runtime:        "python3",
			RuntimeVersion: "3.11",
		}
		manifest.Dependencies = []types.DependencyGroup{
			{Name: "main", Command: "uv sync --all-extras"},
			{Name: "dev", Command: "uv sync --group dev"},
		}
		manifest.Build = types.BuildConfig{
			OutputDir: "dist",
			Command:   "uv build",
		}
		manifest.Test = &types.TestConfig{
			Suites: []types.TestSuite{
				{Name: "unit", Command: "uv run pytest --cov --cov-report=xml"},
			},
			CoverageFile: "coverage.xml",
		}
		manifest.Coverage = &types.CoverageConfig{
			SummaryCommand: "uv run coverage report",
			HTMLCommand:    "uv run coverage html",
			HTMLDir:        "htmlcov",
		}
		manifest.Check = &types.CheckConfig{
			LockfilePath:     "uv.lock",
			LockfileCommand:  "uv lock --check",
			LintCommand:      "uv run pre-commit run --all-files",
			TypecheckCommand: "uv run mypy .",
		}

	case types.ProjectTypeNode:
		manifest.Toolchain = &types.ToolchainConfig{
			Installer: "npm",
			Runtime:   "node",
		}
		manifest.Dependencies = []types.DependencyGroup{
			{Name: "main", Command: "npm ci"},
		}
		manifest.Build = types.BuildConfig{
			OutputDir:    "dist",
			Command:      "npm run build && npm pack --pack-destination dist",
			ArtifactGlob: "*.tgz",
		}
		manifest.Test = &types.TestConfig{
			Suites: []types.TestSuite{
				{Name: "unit", Command: "npm test -- --coverage"},
			},
			CoverageFile: "coverage/lcov.info",
		}
		manifest.Check = &types.CheckConfig{
			LockfilePath:     "package-lock.json",
			LockfileCommand:  "npm install --package-lock-only --dry-run",
			LintCommand:      "npm run lint",
			TypecheckCommand: "npx tsc --noEmit",
		}

	case types.ProjectTypeRust:
		manifest.Toolchain = &types.ToolchainConfig{
			Installer: "cargo",
			Runtime:   "rustc",
		}
		manifest.Dependencies = []types.DependencyGroup{
			{Name: "main", Command: "cargo fetch"},
		}
		manifest.Build = types.BuildConfig{
			OutputDir:    "target/package",
			Command:      "cargo package --allow-dirty",
			ArtifactGlob: "*.crate",
		}
		manifest.Test = &types.TestConfig{
			Suites: []types.TestSuite{
				{Name: "unit", Command: "cargo test"},
			},
		}
		manifest.Check = &types.CheckConfig{
			LockfilePath:     "Cargo.lock",
			LockfileCommand:  "cargo verify-project",
			LintCommand:      "cargo clippy -- -D warnings",
			TypecheckCommand: "cargo check",
		}

	case types.ProjectTypeGo:
		manifest.Toolchain = &types.ToolchainConfig{
			Installer: "go",
			Runtime:   "go",
		}
		manifest.Dependencies = []types.DependencyGroup{
			{Name: "main", Command: "go mod download"},
		}
		manifest.Build = types.BuildConfig{
			OutputDir: "dist",
			Command:   fmt.Sprintf("go build -o dist/%s-$SLIPWAY_VERSION .", projectName),
		}
		manifest.Test = &types.TestConfig{
			Suites: []types.TestSuite{
				{Name: "unit", Command: "gotestsum --format testname -- -coverprofile=coverage.out ./..."},
			},
			CoverageFile: "coverage.out",
		}
		manifest.Coverage = &types.CoverageConfig{
			SummaryCommand: "go tool cover -func=coverage.out",
			HTMLCommand:    "go tool cover -html=coverage.out -o coverage.html",
		}
		manifest.Check = &types.CheckConfig{
			LockfilePath:     "go.sum",
			LockfileCommand:  "go mod verify",
			LintCommand:      "golangci-lint run && gosec -quiet ./...",
			TypecheckCommand: "go vet ./...",
		}

	default:
		manifest.Build = types.BuildConfig{
			OutputDir: "dist",
			Command:   "make build",
		}
	}

	return manifest
}

// Private methods

func (m *Manager) validateManifest(manifest *types.Manifest) (*types.Manifest, error) {
	if err := m.ValidateManifest(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func getDefaultExclusions() []string {
	return []string{
		"node_modules",
		".git",
		"build",
		"dist",
		"target",
		".next",
		".nuxt",
		".cache",
		"coverage",
		".vscode",
		".idea",
		"*.log",
		"tmp",
		"temp",
		"vendor",
		".terraform",
		"__pycache__",
		".pytest_cache",
		".mypy_cache",
		".tox",
		"*.egg-info",
		".slipway",
	}
}

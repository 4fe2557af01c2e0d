package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/slipway/slipway/pkg/config"
	"github.com/slipway/slipway/pkg/types"
)

func TestDetectProjectType(t *testing.T) {
	tests := []struct {
		name    string
		markers []string
		want    types.ProjectType
	}{
		{name: "pyproject", markers: []string{"pyproject.toml"}, want: types.ProjectTypePython},
		{name: "setup.py", markers: []string{"setup.py"}, want: types.ProjectTypePython},
		{name: "requirements", markers: []string{"requirements.txt"}, want: types.ProjectTypePython},
		{name: "package.json", markers: []string{"package.json"}, want: types.ProjectTypeNode},
		{name: "cargo", markers: []string{"Cargo.toml"}, want: types.ProjectTypeRust},
		{name: "go module", markers: []string{"go.mod"}, want: types.ProjectTypeGo},
		{name: "bare makefile", markers: []string{"Makefile"}, want: types.ProjectTypeMixed},
		{name: "python beats makefile", markers: []string{"Makefile", "pyproject.toml"}, want: types.ProjectTypePython},
		{name: "node beats makefile", markers: []string{"Makefile", "package.json"}, want: types.ProjectTypeNode},
		{name: "no markers", markers: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, marker := range tt.markers {
				if err := os.WriteFile(filepath.Join(root, marker), []byte{}, 0644); err != nil {
					t.Fatal(err)
				}
			}

			if got := detectProjectType(root); got != tt.want {
				t.Errorf("detectProjectType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	if err := os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	if err := runInit("", true, false); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	manifestPath := filepath.Join(root, "slipway.config.json")
	manager := config.NewManager()
	manifest, err := manager.LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("failed to load created manifest: %v", err)
	}
	if manifest.ProjectType != types.ProjectTypePython {
		t.Errorf("ProjectType = %s, want python", manifest.ProjectType)
	}
	if manifest.Project.Name != filepath.Base(root) {
		t.Errorf("Project.Name = %q, want %q", manifest.Project.Name, filepath.Base(root))
	}
	if err := manager.ValidateManifest(manifest); err != nil {
		t.Errorf("default manifest does not validate: %v", err)
	}

	// A second init must refuse to clobber the manifest
	err = runInit("", true, false)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected an already-exists error, got %v", err)
	}

	if err := runInit("", true, true); err != nil {
		t.Errorf("runInit(force) error = %v", err)
	}
}

func TestRunInitSeedsFromMetadata(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	pyproject := `[project]
name = "ledger-tool"
version = "2.5.0"
`
	if err := os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte(pyproject), 0644); err != nil {
		t.Fatal(err)
	}

	if err := runInit("", true, false); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	manifest, err := config.NewManager().LoadManifest(filepath.Join(root, "slipway.config.json"))
	if err != nil {
		t.Fatalf("failed to load created manifest: %v", err)
	}
	if manifest.Project.Name != "ledger-tool" {
		t.Errorf("Project.Name = %q, want ledger-tool", manifest.Project.Name)
	}
	if manifest.Project.Version != "2.5.0" {
		t.Errorf("Project.Version = %q, want 2.5.0", manifest.Project.Version)
	}
}

func TestRunInitIgnoresUnparsableMetadataVersion(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	pyproject := `[project]
name = "ledger-tool"
version = "2.5"
`
	if err := os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte(pyproject), 0644); err != nil {
		t.Fatal(err)
	}

	if err := runInit("", true, false); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	manifest, err := config.NewManager().LoadManifest(filepath.Join(root, "slipway.config.json"))
	if err != nil {
		t.Fatalf("failed to load created manifest: %v", err)
	}
	if manifest.Project.Name != "ledger-tool" {
		t.Errorf("Project.Name = %q, want ledger-tool", manifest.Project.Name)
	}
	if manifest.Project.Version != "0.1.0" {
		t.Errorf("Project.Version = %q, want the 0.1.0 default", manifest.Project.Version)
	}
}

func TestRunInitExplicitType(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	if err := runInit("rust", true, false); err != nil {
		t.Fatalf("runInit(rust) error = %v", err)
	}

	manifest, err := config.NewManager().LoadManifest(filepath.Join(root, "slipway.config.json"))
	if err != nil {
		t.Fatalf("failed to load created manifest: %v", err)
	}
	if manifest.ProjectType != types.ProjectTypeRust {
		t.Errorf("ProjectType = %s, want rust", manifest.ProjectType)
	}
}

func TestRunInitRejectsUnknownType(t *testing.T) {
	useProjectRoot(t, t.TempDir())

	err := runInit("haskell", true, false)
	if err == nil || !strings.Contains(err.Error(), "invalid project type") {
		t.Errorf("expected an invalid-type error, got %v", err)
	}
}

func TestRunInitFallsBackToMixed(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	if err := runInit("", true, false); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	manifest, err := config.NewManager().LoadManifest(filepath.Join(root, "slipway.config.json"))
	if err != nil {
		t.Fatalf("failed to load created manifest: %v", err)
	}
	if manifest.ProjectType != types.ProjectTypeMixed {
		t.Errorf("ProjectType = %s, want mixed", manifest.ProjectType)
	}
}

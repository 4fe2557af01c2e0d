package builders_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/slipway/slipway/pkg/builders"
	"github.com/slipway/slipway/pkg/types"
)

func testManifest(command string) *types.Manifest {
	return &types.Manifest{
		Version:     "1.0",
		ProjectType: types.ProjectTypePython,
		Project: types.ProjectConfig{
			Name:    "demo",
			Version: "0.1.7",
		},
		Build: types.BuildConfig{
			OutputDir: "dist",
			Command:   command,
		},
	}
}

func TestArtifactBuilder_Validate(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		manifest *types.Manifest
		root     string
		wantErr  bool
	}{
		{
			name:     "valid manifest",
			manifest: testManifest("true"),
			root:     tmpDir,
			wantErr:  false,
		},
		{
			name:     "missing build command",
			manifest: testManifest(""),
			root:     tmpDir,
			wantErr:  true,
		},
		{
			name:     "missing project root",
			manifest: testManifest("true"),
			root:     filepath.Join(tmpDir, "does-not-exist"),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := builders.NewArtifactBuilder(tt.manifest, tt.root, nil)
			err := builder.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestArtifactBuilder_Build(t *testing.T) {
	tmpDir := t.TempDir()

	manifest := testManifest("mkdir -p dist && touch dist/demo-$SLIPWAY_VERSION.tar.gz")
	builder := builders.NewArtifactBuilder(manifest, tmpDir, nil)

	artifacts, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}
	if artifacts[0].Name != "demo-0.1.7.tar.gz" {
		t.Errorf("unexpected artifact name %s", artifacts[0].Name)
	}
	if len(artifacts[0].SHA256) != 64 {
		t.Errorf("expected a sha256 digest, got %q", artifacts[0].SHA256)
	}

	// Check metrics
	if builder.GetLastBuildTime() == 0 {
		t.Error("expected non-zero build time")
	}
	if builder.GetSuccessRate() != 1.0 {
		t.Errorf("expected success rate 1.0, got %f", builder.GetSuccessRate())
	}
}

func TestArtifactBuilder_BuildCleansFirst(t *testing.T) {
	tmpDir := t.TempDir()

	// Plant a stale artifact from a previous run.
	distDir := filepath.Join(tmpDir, "dist")
	os.MkdirAll(distDir, 0755)
	os.WriteFile(filepath.Join(distDir, "demo-0.0.1.tar.gz"), []byte("stale"), 0644)

	manifest := testManifest("mkdir -p dist && touch dist/demo-$SLIPWAY_VERSION.tar.gz")
	builder := builders.NewArtifactBuilder(manifest, tmpDir, nil)

	artifacts, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	for _, artifact := range artifacts {
		if artifact.Name == "demo-0.0.1.tar.gz" {
			t.Error("stale artifact survived the clean")
		}
	}
}

func TestArtifactBuilder_BuildFailure(t *testing.T) {
	tmpDir := t.TempDir()

	manifest := testManifest("false")
	builder := builders.NewArtifactBuilder(manifest, tmpDir, nil)

	_, err := builder.Build(context.Background())
	if err == nil {
		t.Fatal("expected build to fail")
	}

	var buildErr *types.BuildError
	if !errors.As(err, &buildErr) {
		t.Errorf("expected BuildError, got %T", err)
	}

	if builder.GetSuccessRate() != 0.0 {
		t.Errorf("expected success rate 0.0, got %f", builder.GetSuccessRate())
	}
}

func TestArtifactBuilder_NoArtifacts(t *testing.T) {
	tmpDir := t.TempDir()

	manifest := testManifest("true")
	builder := builders.NewArtifactBuilder(manifest, tmpDir, nil)

	_, err := builder.Build(context.Background())
	if err == nil {
		t.Fatal("expected build to fail with no artifacts")
	}
	if !errors.Is(err, types.ErrNoArtifacts) {
		t.Errorf("expected ErrNoArtifacts, got %v", err)
	}
}

func TestArtifactBuilder_UnstampedArtifact(t *testing.T) {
	tmpDir := t.TempDir()

	manifest := testManifest("mkdir -p dist && touch dist/demo.tar.gz")
	builder := builders.NewArtifactBuilder(manifest, tmpDir, nil)

	_, err := builder.Build(context.Background())
	if err == nil {
		t.Fatal("expected build to reject an unstamped artifact")
	}

	var buildErr *types.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %T", err)
	}
}

func TestArtifactBuilder_Clean(t *testing.T) {
	tmpDir := t.TempDir()

	manifest := testManifest("true")
	builder := builders.NewArtifactBuilder(manifest, tmpDir, nil)

	// Clean with no output directory present.
	if err := builder.Clean(); err != nil {
		t.Errorf("clean of absent directory failed: %v", err)
	}

	// Clean with content present.
	distDir := filepath.Join(tmpDir, "dist")
	os.MkdirAll(distDir, 0755)
	os.WriteFile(filepath.Join(distDir, "demo-0.1.0.tar.gz"), []byte("x"), 0644)

	if err := builder.Clean(); err != nil {
		t.Errorf("clean failed: %v", err)
	}
	if _, err := os.Stat(distDir); !os.IsNotExist(err) {
		t.Error("expected output directory to be removed")
	}

	// Idempotent under repetition.
	if err := builder.Clean(); err != nil {
		t.Errorf("repeated clean failed: %v", err)
	}
}

func TestArtifactBuilder_BuildLog(t *testing.T) {
	tmpDir := t.TempDir()

	manifest := testManifest("mkdir -p dist && touch dist/demo-$SLIPWAY_VERSION.tar.gz")
	builder := builders.NewArtifactBuilder(manifest, tmpDir, nil)

	if _, err := builder.Build(context.Background()); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	logPath := filepath.Join(tmpDir, ".slipway", "logs", "build.log")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("expected a build log: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected build log content")
	}
}

func BenchmarkArtifactBuilderCreation(b *testing.B) {
	tmpDir := b.TempDir()
	manifest := testManifest("true")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = builders.NewArtifactBuilder(manifest, tmpDir, nil)
	}
}

// Package builders turns manifest build commands into versioned artifacts.
package builders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/runner"
	"github.com/slipway/slipway/pkg/types"
)

// ArtifactBuilder runs the manifest build command and collects its outputs.
type ArtifactBuilder struct {
	Manifest    *types.Manifest
	ProjectRoot string
	Logger      logger.Logger

	lastBuildTime time.Duration
	totalBuilds   int
	successBuilds int
	mu            sync.RWMutex
}

// NewArtifactBuilder creates a builder for the manifest's build section
func NewArtifactBuilder(manifest *types.Manifest, projectRoot string, log logger.Logger) *ArtifactBuilder {
	var operationLogger logger.Logger
	if log != nil {
		operationLogger = log.WithOperation(string(types.OperationBuild))
	}

	return &ArtifactBuilder{
		Manifest:    manifest,
		ProjectRoot: projectRoot,
		Logger:      operationLogger,
	}
}

// Validate validates the builder configuration
func (b *ArtifactBuilder) Validate() error {
	// Check if project root exists
	if _, err := os.Stat(b.ProjectRoot); os.IsNotExist(err) {
		return fmt.Errorf("project root does not exist: %s", b.ProjectRoot)
	}

	// Validate build command
	if b.Manifest.Build.Command == "" {
		return fmt.Errorf("no build command defined for project %s", b.Manifest.Project.Name)
	}

	return nil
}

// OutputDir returns the absolute artifact output directory.
func (b *ArtifactBuilder) OutputDir() string {
	return b.resolvePath(b.Manifest.OutputDir())
}

// Clean removes the artifact output directory. A directory that does not
// exist is already clean.
func (b *ArtifactBuilder) Clean() error {
	outputDir := b.OutputDir()
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", outputDir, err)
	}

	if b.Logger != nil {
		b.Logger.Debug(fmt.Sprintf("Cleaned %s", outputDir))
	}
	return nil
}

// Build cleans the output directory, runs the build command with the
// project version exported to it, and collects the produced artifacts.
func (b *ArtifactBuilder) Build(ctx context.Context) ([]types.Artifact, error) {
	startTime := time.Now()
	defer func() {
		b.mu.Lock()
		b.lastBuildTime = time.Since(startTime)
		b.totalBuilds++
		b.mu.Unlock()
	}()

	// A stale artifact must never survive into a publish
	if err := b.Clean(); err != nil {
		return nil, &types.BuildError{Detail: "failed to clean output directory", Err: err}
	}

	// Prepare log file
	logFile, err := b.prepareLogFile()
	if err != nil {
		if b.Logger != nil {
			b.Logger.Warn(fmt.Sprintf("Failed to create log file: %v", err))
		}
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	version := b.Manifest.Project.Version
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	b.logToFile(logFile, fmt.Sprintf("\n=== Build Started at %s (version %s) ===\n", timestamp, version))

	if b.Logger != nil {
		b.Logger.Info(fmt.Sprintf("Building %s %s", b.Manifest.Project.Name, version))
	}

	// The version is exported so the command can stamp its outputs
	env := map[string]string{"SLIPWAY_VERSION": version}
	for k, v := range b.Manifest.Build.Environment {
		env[k] = v
	}

	shell := runner.NewShellRunner(b.ProjectRoot, b.Logger)
	if logFile != nil {
		shell.Tee = logFile
	}

	b.logToFile(logFile, fmt.Sprintf("Executing: %s\n", b.Manifest.Build.Command))

	result := shell.Run(ctx, runner.Step{
		Name:    string(types.OperationBuild),
		Command: b.Manifest.Build.Command,
		Env:     env,
	})

	duration := time.Since(startTime)
	if result.Status == runner.StatusFailed {
		b.logToFile(logFile, fmt.Sprintf("\n=== Build FAILED after %s ===\n", duration))
		return nil, &types.BuildError{
			Detail: strings.TrimSpace(result.Output),
			Err:    result.Err,
		}
	}

	artifacts, err := b.collectArtifacts(version)
	if err != nil {
		b.logToFile(logFile, fmt.Sprintf("\n=== Build FAILED after %s ===\n", duration))
		return nil, err
	}

	b.mu.Lock()
	b.successBuilds++
	b.mu.Unlock()

	if b.Logger != nil {
		b.Logger.Success(fmt.Sprintf("Built %d artifact(s) in %s", len(artifacts), duration))
		for _, artifact := range artifacts {
			b.Logger.Debug("Artifact",
				logger.WithField("name", artifact.Name),
				logger.WithField("size", artifact.Size),
				logger.WithField("sha256", artifact.SHA256))
		}
	}

	b.logToFile(logFile, fmt.Sprintf("\n=== Build SUCCEEDED after %s (%d artifacts) ===\n", duration, len(artifacts)))

	return artifacts, nil
}

// collectArtifacts gathers output files matching the artifact glob and
// digests them. Every artifact name must carry the version string.
func (b *ArtifactBuilder) collectArtifacts(version string) ([]types.Artifact, error) {
	outputDir := b.OutputDir()
	pattern := filepath.Join(outputDir, b.Manifest.ArtifactGlob())

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, &types.BuildError{Detail: fmt.Sprintf("bad artifact glob %q", b.Manifest.ArtifactGlob()), Err: err}
	}

	var artifacts []types.Artifact
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}

		name := filepath.Base(match)
		if !strings.Contains(name, version) {
			return nil, &types.BuildError{
				Detail: fmt.Sprintf("artifact %s is not stamped with version %s", name, version),
			}
		}

		digest, err := digestFile(match)
		if err != nil {
			return nil, &types.BuildError{Detail: fmt.Sprintf("failed to digest %s", name), Err: err}
		}

		artifacts = append(artifacts, types.Artifact{
			Name:   name,
			Path:   match,
			Size:   info.Size(),
			SHA256: digest,
		})
	}

	if len(artifacts) == 0 {
		return nil, &types.BuildError{
			Detail: fmt.Sprintf("no artifacts matched %q in %s", b.Manifest.ArtifactGlob(), outputDir),
			Err:    types.ErrNoArtifacts,
		}
	}

	return artifacts, nil
}

// GetLastBuildTime returns the last build duration
func (b *ArtifactBuilder) GetLastBuildTime() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastBuildTime
}

// GetSuccessRate returns the build success rate
func (b *ArtifactBuilder) GetSuccessRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.totalBuilds == 0 {
		return 1.0
	}

	return float64(b.successBuilds) / float64(b.totalBuilds)
}

// resolvePath resolves a path relative to project root
func (b *ArtifactBuilder) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.ProjectRoot, path)
}

// prepareLogFile creates or opens the build log file
func (b *ArtifactBuilder) prepareLogFile() (*os.File, error) {
	logDir := filepath.Join(b.ProjectRoot, ".slipway", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "build.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return logFile, nil
}

// logToFile writes a message to the log file if available
func (b *ArtifactBuilder) logToFile(logFile *os.File, message string) {
	if logFile != nil {
		logFile.WriteString(message)
	}
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Package orchestrator runs the manifest-declared operations end to end
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slipway/slipway/internal/history"
	"github.com/slipway/slipway/pkg/analyzers"
	"github.com/slipway/slipway/pkg/builders"
	scontext "github.com/slipway/slipway/pkg/context"
	"github.com/slipway/slipway/pkg/interfaces"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/runner"
	"github.com/slipway/slipway/pkg/semver"
	"github.com/slipway/slipway/pkg/toolchain"
	"github.com/slipway/slipway/pkg/types"
)

// Orchestrator executes the local operations against one project
type Orchestrator struct {
	manifest     *types.Manifest
	manifestPath string
	projectRoot  string
	logger       logger.Logger

	stateManager  interfaces.StateManager
	configManager interfaces.ConfigManager
	notifier      interfaces.OperationNotifier
	ledger        interfaces.HistoryLedger

	shell runner.Runner
}

// New creates an orchestrator for the project rooted at projectRoot
func New(
	manifest *types.Manifest,
	manifestPath string,
	projectRoot string,
	log logger.Logger,
	deps interfaces.Dependencies,
) *Orchestrator {
	// Ensure project root is absolute
	absProjectRoot, err := filepath.Abs(projectRoot)
	if err == nil {
		projectRoot = absProjectRoot
	}

	// Validate required dependencies
	if deps.StateManager == nil {
		panic("StateManager dependency is required")
	}
	if deps.ConfigManager == nil {
		panic("ConfigManager dependency is required")
	}

	return &Orchestrator{
		manifest:      manifest,
		manifestPath:  manifestPath,
		projectRoot:   projectRoot,
		logger:        log,
		stateManager:  deps.StateManager,
		configManager: deps.ConfigManager,
		notifier:      deps.Notifier,
		ledger:        deps.History,
		shell:         runner.NewShellRunner(projectRoot, log),
	}
}

// Run executes one operation, recording state, history, and notifications.
// The returned error is the operation's typed failure, untouched.
func (o *Orchestrator) Run(ctx context.Context, operation types.Operation) error {
	runID := scontext.GenerateRunID()
	startTime := time.Now()
	ctx = scontext.WithRunID(ctx, runID)
	ctx = scontext.WithOperation(ctx, string(operation))
	ctx = scontext.WithStartTime(ctx, startTime)
	log := logger.WithContext(ctx, o.logger.WithOperation(string(operation)))

	if locked, err := o.stateManager.IsLocked(operation); err == nil && locked {
		return fmt.Errorf("%s is already running in another process", operation)
	}

	if _, err := o.stateManager.InitializeState(operation, runID); err != nil {
		log.Warn(fmt.Sprintf("Failed to initialize state: %v", err))
	}

	if o.notifier != nil {
		o.notifier.NotifyOperationStart(operation)
	}

	log.Info(fmt.Sprintf("Starting %s (run %s)", operation, runID))

	artifacts, err := o.dispatch(ctx, operation)
	duration := time.Since(startTime)

	status := types.RunStatusSucceeded
	if err != nil {
		status = types.RunStatusFailed
		if errors.Is(err, context.Canceled) {
			status = types.RunStatusCancelled
		}
		if updateErr := o.stateManager.UpdateState(operation, map[string]interface{}{
			"lastError": err.Error(),
		}); updateErr != nil {
			log.Warn(fmt.Sprintf("Failed to record error in state: %v", updateErr))
		}
	}

	if updateErr := o.stateManager.UpdateRunStatus(operation, status); updateErr != nil {
		log.Warn(fmt.Sprintf("Failed to update run status: %v", updateErr))
	}

	o.appendHistory(runID, operation, status, startTime, duration, err, artifacts)

	if err != nil {
		log.Error(fmt.Sprintf("%s failed after %s: %v", operation, duration.Round(time.Millisecond), err))
		if o.notifier != nil {
			o.notifier.NotifyOperationFailure(operation, err)
		}
		return err
	}

	log.Success(fmt.Sprintf("%s finished in %s", operation, duration.Round(time.Millisecond)))
	if o.notifier != nil {
		o.notifier.NotifyOperationSuccess(operation, duration)
	}
	return nil
}

// Manifest returns the manifest the orchestrator operates on
func (o *Orchestrator) Manifest() *types.Manifest {
	return o.manifest
}

// Private methods

func (o *Orchestrator) dispatch(ctx context.Context, operation types.Operation) ([]types.Artifact, error) {
	switch operation {
	case types.OperationInstall:
		return nil, o.runInstall(ctx)
	case types.OperationCleanBuild:
		return nil, o.runCleanBuild()
	case types.OperationBuild:
		return o.runBuild(ctx)
	case types.OperationTest:
		return nil, o.runTest(ctx)
	case types.OperationCoverage:
		return nil, o.runCoverage(ctx)
	case types.OperationBumpVersion:
		return nil, o.runBumpVersion()
	case types.OperationCheck:
		return nil, o.runCheck(ctx)
	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

// runInstall provisions the toolchain and dependency groups locally
func (o *Orchestrator) runInstall(ctx context.Context) error {
	return EnsureEnvironment(ctx, o.manifest, o.shell, o.logger)
}

// EnsureEnvironment verifies the declared runtime and installer tools,
// bootstrapping the installer if a bootstrap command is declared, then
// installs every dependency group in declaration order. The runner
// decides which directory commands execute in, so the release pipeline
// can point this at a fresh checkout.
func EnsureEnvironment(ctx context.Context, manifest *types.Manifest, shell runner.Runner, log logger.Logger) error {
	if manifest.Toolchain != nil && manifest.Toolchain.Runtime != "" {
		runtime := manifest.Toolchain.Runtime
		info, err := toolchain.Probe(ctx, runtime)
		if err != nil {
			return &types.EnvironmentSetupError{
				Tool:   runtime,
				Detail: "runtime not on PATH",
				Err:    err,
			}
		}

		if declared := manifest.Toolchain.RuntimeVersion; declared != "" {
			if info.Version == "" {
				log.Warn(fmt.Sprintf("Cannot verify %s against declared version %s", runtime, declared))
			} else if !toolchain.Satisfies(info.Version, declared) {
				return &types.EnvironmentSetupError{
					Tool:   runtime,
					Detail: fmt.Sprintf("version %s found, manifest declares %s", info.Version, declared),
				}
			}
		}
		log.Info(fmt.Sprintf("Runtime %s", info))
	}

	if manifest.Toolchain != nil && manifest.Toolchain.Installer != "" {
		tool := manifest.Toolchain.Installer

		info, err := toolchain.Probe(ctx, tool)
		if err != nil {
			bootstrap := manifest.Toolchain.Bootstrap
			if bootstrap == "" {
				return &types.EnvironmentSetupError{
					Tool:   tool,
					Detail: "not on PATH and no bootstrap command declared",
				}
			}

			log.Info(fmt.Sprintf("Installer %s not found, bootstrapping...", tool))
			result := shell.Run(ctx, runner.Step{Name: "bootstrap", Command: bootstrap})
			if result.Status == runner.StatusFailed {
				return &types.EnvironmentSetupError{
					Tool:   tool,
					Detail: strings.TrimSpace(result.Output),
					Err:    result.Err,
				}
			}

			info, err = toolchain.Probe(ctx, tool)
			if err != nil {
				return &types.EnvironmentSetupError{
					Tool:   tool,
					Detail: "still not on PATH after bootstrap",
					Err:    err,
				}
			}
		}
		log.Info(fmt.Sprintf("Installer %s", info))
	}

	for _, group := range manifest.Dependencies {
		log.Info(fmt.Sprintf("Installing %s dependencies...", group.Name))
		result := shell.Run(ctx, runner.Step{Name: group.Name, Command: group.Command})
		if result.Status == runner.StatusFailed {
			return &types.EnvironmentSetupError{
				Tool:   group.Name,
				Detail: strings.TrimSpace(result.Output),
				Err:    result.Err,
			}
		}
		log.Info(fmt.Sprintf("Installed %s in %s", group.Name, result.Duration.Round(time.Millisecond)))
	}

	return nil
}

// runCleanBuild removes the output directory. An absent directory is a
// success, not an error.
func (o *Orchestrator) runCleanBuild() error {
	return o.newBuilder().Clean()
}

func (o *Orchestrator) runBuild(ctx context.Context) ([]types.Artifact, error) {
	builder := o.newBuilder()

	if err := builder.Validate(); err != nil {
		return nil, &types.BuildError{Detail: "invalid packaging configuration", Err: err}
	}

	artifacts, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	if err := o.stateManager.RecordArtifacts(types.OperationBuild, artifacts); err != nil {
		o.logger.Warn(fmt.Sprintf("Failed to record artifacts in state: %v", err))
	}

	return artifacts, nil
}

// runTest executes every declared suite even after failures, then
// aggregates the outcome.
func (o *Orchestrator) runTest(ctx context.Context) error {
	if o.manifest.Test == nil || len(o.manifest.Test.Suites) == 0 {
		return types.ErrNoTestSuites
	}

	steps := make([]runner.Step, 0, len(o.manifest.Test.Suites))
	for _, suite := range o.manifest.Test.Suites {
		steps = append(steps, runner.Step{
			Name:    suite.Name,
			Command: suite.Command,
			Env:     o.manifest.Test.Environment,
		})
	}

	report := runner.RunToCompletion{}.Execute(ctx, o.shell, steps)

	for _, result := range report.Results {
		if result.Status == runner.StatusFailed {
			o.logger.Error(fmt.Sprintf("Suite %s failed (exit %d)", result.Step.Name, result.ExitCode))
		} else {
			o.logger.Info(fmt.Sprintf("Suite %s passed in %s", result.Step.Name, result.Duration.Round(time.Millisecond)))
		}
	}

	if !report.Succeeded() {
		return &types.TestFailure{
			Failed:       len(report.Failed()),
			Total:        len(report.Results),
			FailedSuites: report.FailedNames(),
		}
	}

	if file := o.manifest.Test.CoverageFile; file != "" {
		if _, err := os.Stat(o.resolvePath(file)); err != nil {
			o.logger.Warn(fmt.Sprintf("Coverage file %s was not produced by the test run", file))
		}
	}

	return nil
}

// runCoverage renders the coverage report from data the test operation
// produced earlier.
func (o *Orchestrator) runCoverage(ctx context.Context) error {
	file := ""
	if o.manifest.Test != nil {
		file = o.manifest.Test.CoverageFile
	}
	if file == "" {
		return fmt.Errorf("manifest declares no coverage file")
	}

	if _, err := os.Stat(o.resolvePath(file)); err != nil {
		return &types.MissingReportError{Path: file}
	}

	var steps []runner.Step
	if o.manifest.Coverage != nil {
		if cmd := o.manifest.Coverage.SummaryCommand; cmd != "" {
			steps = append(steps, runner.Step{Name: "summary", Command: cmd})
		}
		if cmd := o.manifest.Coverage.HTMLCommand; cmd != "" {
			steps = append(steps, runner.Step{Name: "html", Command: cmd})
		}
	}

	if len(steps) == 0 {
		o.logger.Info(fmt.Sprintf("Coverage data present at %s, no render commands declared", file))
		return nil
	}

	report := runner.FailFast{}.Execute(ctx, o.shell, steps)
	if !report.Succeeded() {
		first := report.Failed()[0]
		return fmt.Errorf("coverage rendering failed at %s: %s",
			first.Step.Name, strings.TrimSpace(first.Output))
	}

	if o.manifest.Coverage != nil && o.manifest.Coverage.HTMLDir != "" {
		o.logger.Success(fmt.Sprintf("HTML report rendered to %s", o.manifest.Coverage.HTMLDir))
	}

	return nil
}

// runBumpVersion increments the patch component and persists the manifest
func (o *Orchestrator) runBumpVersion() error {
	current, err := semver.Parse(o.manifest.Project.Version)
	if err != nil {
		return fmt.Errorf("cannot bump version: %w", err)
	}

	next := current.BumpPatch()
	o.manifest.Project.Version = next.String()

	if err := o.configManager.SaveManifest(o.manifestPath, o.manifest); err != nil {
		// Keep the in-memory manifest consistent with what is on disk
		o.manifest.Project.Version = current.String()
		return fmt.Errorf("failed to persist version bump: %w", err)
	}

	// The ecosystem's own metadata file stamps artifact names, so a
	// version that only lives in the manifest would produce mismatched
	// artifacts on the next build.
	analyzer := analyzers.NewMetadataAnalyzer(o.projectRoot)
	if meta, err := analyzer.Analyze(); err == nil && meta.Version != "" {
		if err := analyzer.SyncVersion(meta, next.String()); err != nil {
			o.logger.Warn(fmt.Sprintf("Could not sync %s: %v", meta.Source, err))
		} else {
			o.logger.Info(fmt.Sprintf("Synced %s to %s", meta.Source, next))
		}
	}

	o.logger.Success(fmt.Sprintf("Version bumped: %s -> %s", current, next))
	return nil
}

// runCheck walks the fixed category sequence and stops at the first
// failure, so its diagnostics are the only ones surfaced.
func (o *Orchestrator) runCheck(ctx context.Context) error {
	if o.manifest.Check == nil {
		o.logger.Info("No check commands declared")
		return nil
	}

	check := o.manifest.Check

	if check.LockfilePath != "" {
		if _, err := os.Stat(o.resolvePath(check.LockfilePath)); err != nil {
			return &types.CheckFailure{
				Category: "lockfile",
				Output:   fmt.Sprintf("lockfile %s not found", check.LockfilePath),
				Err:      err,
			}
		}
	}

	// Category order is fixed: lockfile, then lint, then types
	var steps []runner.Step
	if check.LockfileCommand != "" {
		steps = append(steps, runner.Step{Name: "lockfile", Command: check.LockfileCommand})
	}
	if check.LintCommand != "" {
		steps = append(steps, runner.Step{Name: "lint", Command: check.LintCommand})
	}
	if check.TypecheckCommand != "" {
		steps = append(steps, runner.Step{Name: "types", Command: check.TypecheckCommand})
	}

	if len(steps) == 0 {
		o.logger.Info("No check commands declared")
		return nil
	}

	report := runner.FailFast{}.Execute(ctx, o.shell, steps)
	if report.Succeeded() {
		return nil
	}

	first := report.Failed()[0]
	return &types.CheckFailure{
		Category: first.Step.Name,
		Output:   strings.TrimSpace(first.Output),
		Err:      first.Err,
	}
}

func (o *Orchestrator) appendHistory(
	runID string,
	operation types.Operation,
	status types.RunStatus,
	startedAt time.Time,
	duration time.Duration,
	runErr error,
	artifacts []types.Artifact,
) {
	if o.ledger == nil {
		return
	}

	rec := history.Record{
		RunID:      runID,
		Operation:  operation,
		Status:     status,
		Version:    o.manifest.Project.Version,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(duration),
		Duration:   duration,
		Artifacts:  artifacts,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if _, err := o.ledger.Append(rec); err != nil {
		o.logger.Warn(fmt.Sprintf("Failed to append history row: %v", err))
	}
}

func (o *Orchestrator) newBuilder() *builders.ArtifactBuilder {
	return builders.NewArtifactBuilder(o.manifest, o.projectRoot, o.logger)
}

func (o *Orchestrator) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(o.projectRoot, path)
}

// Package pipeline drives the tag-triggered release flow: checkout of
// the released commit, environment provisioning, artifact build, and
// upload to the package index, in that strict order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slipway/slipway/internal/history"
	"github.com/slipway/slipway/internal/index"
	"github.com/slipway/slipway/internal/orchestrator"
	"github.com/slipway/slipway/pkg/builders"
	"github.com/slipway/slipway/pkg/config"
	scontext "github.com/slipway/slipway/pkg/context"
	"github.com/slipway/slipway/pkg/interfaces"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/runner"
	"github.com/slipway/slipway/pkg/types"
)

// Pipeline runs one release end to end. Credentials are held only here
// and handed to the upload client; no other stage sees them.
type Pipeline struct {
	manifest    *types.Manifest
	projectRoot string
	event       types.ReleaseEvent
	credentials index.Credentials
	logger      logger.Logger

	stateManager  interfaces.StateManager
	configManager interfaces.ConfigManager
	notifier      interfaces.OperationNotifier
	ledger        interfaces.HistoryLedger

	// KeepWorkspace leaves the checkout behind for inspection
	KeepWorkspace bool

	runID         string
	stage         types.Stage
	workspace     string
	checkout      string
	buildManifest *types.Manifest
	artifacts     []types.Artifact
}

// New creates a release pipeline for the given event
func New(
	manifest *types.Manifest,
	projectRoot string,
	event types.ReleaseEvent,
	credentials index.Credentials,
	log logger.Logger,
	deps interfaces.Dependencies,
) *Pipeline {
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

	return &Pipeline{
		manifest:      manifest,
		projectRoot:   projectRoot,
		event:         event,
		credentials:   credentials,
		logger:        log,
		stateManager:  deps.StateManager,
		configManager: deps.ConfigManager,
		notifier:      deps.Notifier,
		ledger:        deps.History,
	}
}

// Run executes the release, recording the stage reached in state and
// history. The returned error is the failing stage's typed error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.runID = scontext.GenerateRunID()
	startTime := time.Now()
	ctx = scontext.WithRunID(ctx, p.runID)
	ctx = scontext.WithOperation(ctx, string(types.OperationRelease))
	ctx = scontext.WithStartTime(ctx, startTime)
	log := logger.WithContext(ctx, p.logger.WithOperation(string(types.OperationRelease)))

	if locked, err := p.stateManager.IsLocked(types.OperationRelease); err == nil && locked {
		return fmt.Errorf("release is already running in another process")
	}

	if _, err := p.stateManager.InitializeState(types.OperationRelease, p.runID); err != nil {
		log.Warn(fmt.Sprintf("Failed to initialize state: %v", err))
	}

	if p.notifier != nil {
		p.notifier.NotifyOperationStart(types.OperationRelease)
	}

	log.Info(fmt.Sprintf("Releasing %s (run %s)", p.event.Tag, p.runID))

	err := p.execute(ctx, log)
	duration := time.Since(startTime)

	status := types.RunStatusSucceeded
	if err != nil {
		status = types.RunStatusFailed
		if errors.Is(err, context.Canceled) {
			status = types.RunStatusCancelled
		}
		if updateErr := p.stateManager.UpdateState(types.OperationRelease, map[string]interface{}{
			"lastError": err.Error(),
		}); updateErr != nil {
			log.Warn(fmt.Sprintf("Failed to record error in state: %v", updateErr))
		}
	}

	if updateErr := p.stateManager.UpdateRunStatus(types.OperationRelease, status); updateErr != nil {
		log.Warn(fmt.Sprintf("Failed to update run status: %v", updateErr))
	}

	p.appendHistory(status, startTime, duration, err)

	if err != nil {
		log.Error(fmt.Sprintf("Release failed at stage %s after %s: %v",
			p.stage, duration.Round(time.Millisecond), err))
		if p.notifier != nil {
			p.notifier.NotifyOperationFailure(types.OperationRelease, err)
		}
		return err
	}

	log.Success(fmt.Sprintf("Released %s in %s (%d artifacts)",
		p.event.Tag, duration.Round(time.Millisecond), len(p.artifacts)))
	if p.notifier != nil {
		p.notifier.NotifyOperationSuccess(types.OperationRelease, duration)
	}
	return nil
}

// Stage returns the last stage the pipeline reached
func (p *Pipeline) Stage() types.Stage {
	return p.stage
}

// Artifacts returns the artifacts built during this run
func (p *Pipeline) Artifacts() []types.Artifact {
	return p.artifacts
}

// RunID returns the identifier assigned when Run started
func (p *Pipeline) RunID() string {
	return p.runID
}

// Workspace returns the isolated directory used for the checkout
func (p *Pipeline) Workspace() string {
	return p.workspace
}

// Private methods

func (p *Pipeline) execute(ctx context.Context, log logger.Logger) error {
	if err := p.validateTrigger(); err != nil {
		return err
	}
	if err := p.prepareWorkspace(); err != nil {
		return err
	}
	ctx, log = p.enterStage(ctx, types.StageTriggered)
	defer p.cleanupWorkspace(log)

	if err := p.checkoutSource(ctx, log); err != nil {
		return err
	}
	ctx, log = p.enterStage(ctx, types.StageCheckedOut)

	if err := p.prepareEnvironment(ctx, log); err != nil {
		return err
	}
	ctx, log = p.enterStage(ctx, types.StageEnvironmentReady)

	artifacts, err := p.buildArtifacts(ctx)
	if err != nil {
		return err
	}
	p.artifacts = artifacts
	if err := p.stateManager.RecordArtifacts(types.OperationRelease, artifacts); err != nil {
		log.Warn(fmt.Sprintf("Failed to record artifacts in state: %v", err))
	}
	ctx, log = p.enterStage(ctx, types.StageBuilt)

	if err := p.publish(ctx, log); err != nil {
		return err
	}
	p.enterStage(ctx, types.StagePublished)

	return nil
}

// validateTrigger checks the event and release configuration before any
// checkout or build work is spent.
func (p *Pipeline) validateTrigger() error {
	if p.event.Tag == "" {
		return fmt.Errorf("release event has no tag")
	}
	if p.manifest.Release == nil || p.manifest.Release.Repository == "" {
		return fmt.Errorf("manifest declares no release repository")
	}
	if p.manifest.Publish == nil || p.manifest.Publish.IndexURL == "" {
		return fmt.Errorf("manifest declares no publish index")
	}
	if p.credentials.Empty() {
		return fmt.Errorf("no credential token provided for publishing")
	}
	return nil
}

func (p *Pipeline) prepareWorkspace() error {
	if p.manifest.Release.Workspace != "" {
		base := p.manifest.Release.Workspace
		if !filepath.IsAbs(base) {
			base = filepath.Join(p.projectRoot, base)
		}
		dir := filepath.Join(base, p.runID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create release workspace: %w", err)
		}
		p.workspace = dir
	} else {
		dir, err := os.MkdirTemp("", "slipway-release-")
		if err != nil {
			return fmt.Errorf("failed to create release workspace: %w", err)
		}
		p.workspace = dir
	}

	p.checkout = filepath.Join(p.workspace, "src")
	return nil
}

// checkoutSource clones the release repository and checks out the
// released commit, falling back to the tag when no commit was given.
func (p *Pipeline) checkoutSource(ctx context.Context, log logger.Logger) error {
	repo := p.manifest.Release.Repository
	ref := p.event.Commit
	if ref == "" {
		ref = p.event.Tag
	}

	shell := runner.NewShellRunner(p.workspace, p.logger)
	steps := []runner.Step{
		{Name: "clone", Command: fmt.Sprintf("git clone --quiet %s %s", repo, p.checkout)},
		{Name: "checkout", Command: fmt.Sprintf("git -c advice.detachedHead=false checkout --quiet %s", ref), Dir: p.checkout},
	}

	report := runner.FailFast{}.Execute(ctx, shell, steps)
	if !report.Succeeded() {
		first := report.Failed()[0]
		return fmt.Errorf("source checkout failed at %s: %s",
			first.Step.Name, strings.TrimSpace(first.Output))
	}

	log.Info(fmt.Sprintf("Checked out %s at %s", repo, ref))
	return nil
}

// prepareEnvironment provisions the toolchain inside the checkout so
// the build runs against exactly what the release commit declares.
func (p *Pipeline) prepareEnvironment(ctx context.Context, log logger.Logger) error {
	manifest, err := p.loadCheckoutManifest(log)
	if err != nil {
		return err
	}
	p.buildManifest = manifest

	if want := p.event.Version(); want != "" && manifest.Project.Version != want {
		log.Warn(fmt.Sprintf("Checkout version %s does not match release tag %s",
			manifest.Project.Version, p.event.Tag))
	}

	shell := runner.NewShellRunner(p.checkout, p.logger)
	return orchestrator.EnsureEnvironment(ctx, manifest, shell, log)
}

func (p *Pipeline) loadCheckoutManifest(log logger.Logger) (*types.Manifest, error) {
	path, err := config.Discover(p.checkout)
	if err != nil {
		if errors.Is(err, types.ErrManifestNotFound) {
			log.Warn("Checkout carries no manifest, using the local one")
			return p.manifest, nil
		}
		return nil, err
	}

	manifest, err := p.configManager.LoadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout manifest: %w", err)
	}
	return manifest, nil
}

func (p *Pipeline) buildArtifacts(ctx context.Context) ([]types.Artifact, error) {
	builder := builders.NewArtifactBuilder(p.buildManifest, p.checkout, p.logger)

	if err := builder.Validate(); err != nil {
		return nil, &types.BuildError{Detail: "invalid packaging configuration", Err: err}
	}

	return builder.Build(ctx)
}

// publish uploads every artifact built in this run, in order, stopping
// at the first rejection.
func (p *Pipeline) publish(ctx context.Context, log logger.Logger) error {
	if len(p.artifacts) == 0 {
		return types.ErrNoArtifacts
	}

	client := index.NewClient(
		p.manifest.Publish.IndexURL,
		p.buildManifest.Project.Name,
		p.buildManifest.Project.Version,
		p.credentials,
		p.manifest.PublishTimeout(),
		p.logger,
	)

	log.Info(fmt.Sprintf("Publishing %d artifact(s) to %s as %s",
		len(p.artifacts), p.manifest.Publish.IndexURL, p.credentials.Username))
	return client.UploadAll(ctx, p.artifacts)
}

// enterStage records the stage in run state and rebinds the log so
// messages from later stages carry it.
func (p *Pipeline) enterStage(ctx context.Context, stage types.Stage) (context.Context, logger.Logger) {
	p.stage = stage
	if err := p.stateManager.UpdateStage(types.OperationRelease, stage); err != nil {
		p.logger.Warn(fmt.Sprintf("Failed to record stage %s: %v", stage, err))
	}

	ctx = scontext.WithStage(ctx, string(stage))
	log := logger.WithContext(ctx, p.logger.WithOperation(string(types.OperationRelease)))
	log.Info(fmt.Sprintf("Stage reached: %s", stage))
	return ctx, log
}

func (p *Pipeline) cleanupWorkspace(log logger.Logger) {
	if p.workspace == "" {
		return
	}
	if p.KeepWorkspace {
		log.Info(fmt.Sprintf("Workspace kept at %s", p.workspace))
		return
	}
	if err := os.RemoveAll(p.workspace); err != nil {
		log.Warn(fmt.Sprintf("Failed to remove workspace %s: %v", p.workspace, err))
	}
}

func (p *Pipeline) appendHistory(
	status types.RunStatus,
	startedAt time.Time,
	duration time.Duration,
	runErr error,
) {
	if p.ledger == nil {
		return
	}

	version := p.event.Version()
	if p.buildManifest != nil {
		version = p.buildManifest.Project.Version
	}

	rec := history.Record{
		RunID:      p.runID,
		Operation:  types.OperationRelease,
		Status:     status,
		Stage:      p.stage,
		Version:    version,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(duration),
		Duration:   duration,
		Artifacts:  p.artifacts,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if _, err := p.ledger.Append(rec); err != nil {
		p.logger.Warn(fmt.Sprintf("Failed to append history row: %v", err))
	}
}

package engine

import (
	"fmt"
	"time"

	"github.com/slipway/slipway/internal/history"
	"github.com/slipway/slipway/internal/state"
	"github.com/slipway/slipway/internal/watcher"
	"github.com/slipway/slipway/pkg/config"
	"github.com/slipway/slipway/pkg/interfaces"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/notifier"
	"github.com/slipway/slipway/pkg/process"
	"github.com/slipway/slipway/pkg/types"
)

// DependencyFactory creates the production dependencies for watch mode.
// Centralizing construction here keeps the engine free of concrete
// fallbacks and lets tests swap any piece through CreateWithOverrides.
type DependencyFactory struct {
	projectRoot string
	logger      logger.Logger
	manifest    *types.Manifest
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot string, log logger.Logger, manifest *types.Manifest) *DependencyFactory {
	return &DependencyFactory{
		projectRoot: projectRoot,
		logger:      log,
		manifest:    manifest,
	}
}

// CreateDefaults builds the full production dependency set. The caller
// owns the returned history ledger and closes it on shutdown.
func (f *DependencyFactory) CreateDefaults() (interfaces.Dependencies, error) {
	w, err := watcher.New(f.logger, f.settlingDelay(), f.excludeDirs())
	if err != nil {
		return interfaces.Dependencies{}, fmt.Errorf("failed to create file watcher: %w", err)
	}

	deps := interfaces.Dependencies{
		Watcher:        w,
		StateManager:   state.NewStateManager(f.projectRoot, f.logger),
		ConfigManager:  config.NewManager(),
		ProcessManager: process.NewManager(f.logger),
	}

	// The ledger is best effort; watch mode works without run history.
	if ledger, err := history.Open(f.projectRoot); err != nil {
		f.logger.Warn(fmt.Sprintf("Run history disabled: %v", err))
	} else {
		deps.History = ledger
	}

	if f.manifest.NotificationsEnabled() {
		deps.Notifier = notifier.FromManifest(f.manifest, f.logger)
	}

	return deps, nil
}

// CreateWithOverrides builds the defaults and replaces any dependency
// the overrides set. Useful for tests that need one real piece swapped.
func (f *DependencyFactory) CreateWithOverrides(overrides interfaces.Dependencies) (interfaces.Dependencies, error) {
	deps, err := f.CreateDefaults()
	if err != nil {
		return interfaces.Dependencies{}, err
	}

	if overrides.Watcher != nil {
		deps.Watcher = overrides.Watcher
	}
	if overrides.StateManager != nil {
		deps.StateManager = overrides.StateManager
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}
	if overrides.ConfigManager != nil {
		deps.ConfigManager = overrides.ConfigManager
	}
	if overrides.ProcessManager != nil {
		deps.ProcessManager = overrides.ProcessManager
	}
	if overrides.Queue != nil {
		deps.Queue = overrides.Queue
	}
	if overrides.History != nil {
		deps.History = overrides.History
	}

	return deps, nil
}

func (f *DependencyFactory) settlingDelay() time.Duration {
	return time.Duration(f.manifest.WatchSettlingDelay()) * time.Millisecond
}

func (f *DependencyFactory) excludeDirs() []string {
	if f.manifest.Watch == nil {
		return nil
	}
	return f.manifest.Watch.ExcludeDirs
}

// Package engine runs watch mode. It wires the file watcher, the
// serialized operation queue, and the orchestrator into a long-lived
// process that re-runs one manifest-declared operation whenever the
// watched files settle.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/slipway/slipway/internal/orchestrator"
	"github.com/slipway/slipway/pkg/config"
	"github.com/slipway/slipway/pkg/interfaces"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/queue"
	"github.com/slipway/slipway/pkg/types"
)

// Engine supervises watch mode for one project
type Engine struct {
	manifest     *types.Manifest
	manifestPath string
	projectRoot  string
	logger       logger.Logger
	deps         interfaces.Dependencies

	stateManager   interfaces.StateManager
	watcher        interfaces.FileWatcher
	queue          interfaces.OperationQueue
	processManager interfaces.ProcessManager
	reloader       *config.ReloadManager

	// SkipInitialRun waits for the first file change instead of running
	// the operation immediately on start.
	SkipInitialRun bool

	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// New creates a watch engine. StateManager, Watcher, and ConfigManager
// are required; when deps.Queue is nil a default serialized queue is
// created, bound to this engine's operation runner.
func New(
	manifest *types.Manifest,
	manifestPath string,
	projectRoot string,
	log logger.Logger,
	deps interfaces.Dependencies,
) *Engine {
	// Ensure project root is absolute
	absProjectRoot, err := filepath.Abs(projectRoot)
	if err == nil {
		projectRoot = absProjectRoot
	}

	// Validate required dependencies
	if deps.StateManager == nil {
		panic("StateManager dependency is required")
	}
	if deps.Watcher == nil {
		panic("Watcher dependency is required")
	}
	if deps.ConfigManager == nil {
		panic("ConfigManager dependency is required")
	}

	e := &Engine{
		manifest:       manifest,
		manifestPath:   manifestPath,
		projectRoot:    projectRoot,
		logger:         log,
		deps:           deps,
		stateManager:   deps.StateManager,
		watcher:        deps.Watcher,
		processManager: deps.ProcessManager,
	}

	if deps.Queue != nil {
		e.queue = deps.Queue
	} else {
		e.queue = queue.New(log, e.runOperation)
	}

	if manifestPath != "" {
		e.reloader = config.NewReloadManager(manifestPath, log)
	}

	return e
}

// StartWithContext connects the watcher and starts re-running the watch
// operation on changes. It returns once watching is established; the
// caller blocks on its own context or signal handling.
func (e *Engine) StartWithContext(ctx context.Context) error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("watch mode is already running")
	}
	e.isRunning = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if err := e.start(); err != nil {
		// Roll back so the caller can fix the problem and start again.
		e.cancel()
		e.mu.Lock()
		e.isRunning = false
		e.mu.Unlock()
		return err
	}
	return nil
}

// Start begins watch mode with a background context
func (e *Engine) Start() error {
	return e.StartWithContext(context.Background())
}

func (e *Engine) start() error {
	operation := e.watchOperation()
	e.logger.Info(fmt.Sprintf("Starting watch mode: %s re-runs on change", operation))

	e.stateManager.StartHeartbeat(e.ctx)
	e.queue.Start(e.ctx)

	if err := e.watcher.Connect(e.ctx); err != nil {
		return fmt.Errorf("failed to connect file watcher: %w", err)
	}

	if err := e.watcher.WatchProject(e.projectRoot); err != nil {
		return fmt.Errorf("failed to watch project: %w", err)
	}

	if err := e.subscribeToChanges(operation); err != nil {
		return fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	if e.reloader != nil {
		e.reloader.AddCallback(e.handleManifestReload)
		if err := e.reloader.StartWatching(); err != nil {
			e.logger.Warn(fmt.Sprintf("Manifest reload disabled: %v", err))
		}
	}

	if !e.SkipInitialRun {
		if err := e.performInitialRun(operation); err != nil {
			e.logger.Warn(fmt.Sprintf("Initial %s run failed: %v", operation, err))
		}
	}

	e.logger.Info("Watching for changes...")

	if e.processManager != nil {
		e.processManager.RegisterShutdownHandler(func() {
			e.Stop()
			e.Cleanup()
		})
		e.processManager.Start(e.ctx)
	}

	return nil
}

// StopWithContext shuts the engine down, waiting for the active run to
// finish until the context expires.
func (e *Engine) StopWithContext(ctx context.Context) {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = false
	e.mu.Unlock()

	e.logger.Info("Stopping watch mode...")

	e.cancel()

	done := make(chan struct{})

	go func() {
		e.queue.Stop()
		e.stateManager.StopHeartbeat()

		if e.reloader != nil {
			if err := e.reloader.StopWatching(); err != nil {
				e.logger.Warn(fmt.Sprintf("Failed to stop manifest watcher: %v", err))
			}
		}

		if e.watcher.IsConnected() {
			if err := e.watcher.Disconnect(); err != nil {
				e.logger.Warn(fmt.Sprintf("Failed to disconnect file watcher: %v", err))
			}
		}

		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Watch mode stopped")
	case <-ctx.Done():
		e.logger.Warn(fmt.Sprintf("Watch mode shutdown timed out: %v", ctx.Err()))
	}
}

// Stop shuts the engine down with a 30 second grace period
func (e *Engine) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	e.StopWithContext(ctx)
}

// Cleanup removes this process's state files
func (e *Engine) Cleanup() error {
	return e.stateManager.Cleanup()
}

func (e *Engine) subscribeToChanges(operation types.Operation) error {
	patterns := e.watchPaths()
	name := fmt.Sprintf("slipway_%s", operation)

	if err := e.watcher.Subscribe(name, patterns, e.handleFileChanges); err != nil {
		return err
	}

	if len(patterns) == 0 {
		e.logger.Info(fmt.Sprintf("Watching all files for %s", operation))
	} else {
		e.logger.Info(fmt.Sprintf("Watching %d pattern(s) for %s", len(patterns), operation))
	}
	return nil
}

// handleFileChanges queues one operation run per settled batch. Deleted
// files count as changes: removing a source file is as good a reason to
// re-run as editing one.
func (e *Engine) handleFileChanges(events []interfaces.FileEvent) {
	if len(events) == 0 {
		return
	}

	files := make([]string, 0, len(events))
	for _, event := range events {
		files = append(files, event.Path)
	}

	e.logger.Debug(fmt.Sprintf("Files changed: %v", files))
	e.queue.OnFileChanged(files, e.watchOperation())
}

// handleManifestReload swaps the in-memory manifest when the on-disk one
// changes. Watch paths and exclusions stay as subscribed; they apply on
// the next watch mode start.
func (e *Engine) handleManifestReload(manifest *types.Manifest, err error) {
	if err != nil {
		e.logger.Warn(fmt.Sprintf("Manifest reload failed, keeping the previous one: %v", err))
		return
	}

	e.mu.Lock()
	e.manifest = manifest
	e.mu.Unlock()

	e.logger.Info("Manifest reloaded; subsequent runs use the new settings")
}

// performInitialRun executes the watch operation once at startup so a
// broken tree is reported before the first edit. The run is supervised:
// a panicking operation must not take watch mode down.
func (e *Engine) performInitialRun(operation types.Operation) error {
	g, ctx := NewSafeGroup(e.ctx, e.logger)
	g.Go(func() error {
		request := &types.OperationRequest{
			Operation: operation,
			QueuedAt:  time.Now(),
		}
		return e.runOperation(ctx, request)
	})
	return g.Wait()
}

// runOperation executes one queued request through a fresh orchestrator
func (e *Engine) runOperation(ctx context.Context, request *types.OperationRequest) error {
	orch := orchestrator.New(e.snapshotManifest(), e.manifestPath, e.projectRoot, e.logger, e.deps)
	return orch.Run(ctx, request.Operation)
}

func (e *Engine) snapshotManifest() *types.Manifest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manifest
}

func (e *Engine) watchOperation() types.Operation {
	return e.snapshotManifest().WatchOperation()
}

func (e *Engine) watchPaths() []string {
	manifest := e.snapshotManifest()
	if manifest.Watch == nil {
		return nil
	}
	return manifest.Watch.Paths
}

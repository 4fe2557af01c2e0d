// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/slipway/slipway/internal/history"
	"github.com/slipway/slipway/internal/state"
	"github.com/slipway/slipway/pkg/types"
)

// FileWatcher abstracts file watching operations
type FileWatcher interface {
	Connect(ctx context.Context) error
	Disconnect() error
	WatchProject(projectPath string) error
	Subscribe(name string, patterns []string, callback FileEventCallback) error
	Unsubscribe(subscriptionName string) error
	IsConnected() bool
}

// FileEventCallback is called when a settled batch of changes arrives
type FileEventCallback func(events []FileEvent)

// FileEvent represents a changed file
type FileEvent struct {
	Path   string
	Exists bool
	IsDir  bool
}

// StateManager handles persistent state for operations
type StateManager interface {
	InitializeState(operation types.Operation, runID string) (*state.OperationState, error)
	ReadState(operation types.Operation) (*state.OperationState, error)
	UpdateState(operation types.Operation, updates map[string]interface{}) error
	UpdateRunStatus(operation types.Operation, status types.RunStatus) error
	UpdateStage(operation types.Operation, stage types.Stage) error
	RecordArtifacts(operation types.Operation, artifacts []types.Artifact) error
	RemoveState(operation types.Operation) error
	IsLocked(operation types.Operation) (bool, error)
	DiscoverStates() (map[types.Operation]*state.OperationState, error)
	StartHeartbeat(ctx context.Context)
	StopHeartbeat()
	Cleanup() error
}

// Builder produces versioned artifacts from the manifest build command
type Builder interface {
	Validate() error
	Build(ctx context.Context) ([]types.Artifact, error)
	Clean() error
	OutputDir() string
	GetLastBuildTime() time.Duration
	GetSuccessRate() float64
}

// OperationNotifier handles operation notifications
type OperationNotifier interface {
	NotifyOperationStart(operation types.Operation)
	NotifyOperationSuccess(operation types.Operation, duration time.Duration)
	NotifyOperationFailure(operation types.Operation, err error)
}

// OperationQueue serializes operation requests from watch mode
type OperationQueue interface {
	Enqueue(request *types.OperationRequest) error
	Dequeue() (*types.OperationRequest, error)
	Peek() (*types.OperationRequest, error)
	Size() int
	Clear()
	OnFileChanged(files []string, operation types.Operation)
	Start(ctx context.Context)
	Stop()
}

// ProcessManager handles process lifecycle
type ProcessManager interface {
	RegisterShutdownHandler(handler func())
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// ConfigManager handles manifest loading and validation
type ConfigManager interface {
	LoadManifest(path string) (*types.Manifest, error)
	SaveManifest(path string, manifest *types.Manifest) error
	ValidateManifest(manifest *types.Manifest) error
	GetDefaultManifest(projectType types.ProjectType, projectName string) *types.Manifest
}

// HistoryLedger records finished runs for later inspection
type HistoryLedger interface {
	Append(rec history.Record) (int64, error)
	List(limit int) ([]history.Record, error)
	ListByOperation(operation types.Operation, limit int) ([]history.Record, error)
	Get(runID string) (*history.Record, error)
	LastRun(operation types.Operation) (*history.Record, error)
	Prune(keep int) (int64, error)
	Close() error
}

// ArtifactUploader pushes a single artifact to the package index
type ArtifactUploader interface {
	Upload(ctx context.Context, artifact types.Artifact) error
}

// Dependencies contains all injectable dependencies
type Dependencies struct {
	Watcher        FileWatcher
	StateManager   StateManager
	Notifier       OperationNotifier
	ConfigManager  ConfigManager
	ProcessManager ProcessManager
	Queue          OperationQueue
	History        HistoryLedger
}

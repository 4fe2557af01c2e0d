// Package mocks provides hand-rolled test doubles for the dependency
// interfaces. Error injection goes through the SetXError setters.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slipway/slipway/internal/history"
	"github.com/slipway/slipway/internal/state"
	"github.com/slipway/slipway/pkg/interfaces"
	"github.com/slipway/slipway/pkg/types"
)

// MockStateManager is an in-memory StateManager
type MockStateManager struct {
	mu           sync.RWMutex
	states       map[types.Operation]*state.OperationState
	locked       map[types.Operation]bool
	initError    error
	updateError  error
	cleanupError error
	heartbeats   int
}

// NewMockStateManager creates a new mock state manager
func NewMockStateManager() *MockStateManager {
	return &MockStateManager{
		states: make(map[types.Operation]*state.OperationState),
		locked: make(map[types.Operation]bool),
	}
}

// InitializeState creates fresh in-memory state for an operation
func (m *MockStateManager) InitializeState(operation types.Operation, runID string) (*state.OperationState, error) {
	if m.initError != nil {
		return nil, m.initError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := &state.OperationState{
		Operation: operation,
		RunID:     runID,
		Status:    types.RunStatusRunning,
		StartedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
	m.states[operation] = st
	return st, nil
}

// ReadState returns the stored state for an operation
func (m *MockStateManager) ReadState(operation types.Operation) (*state.OperationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[operation]
	if !ok {
		return nil, fmt.Errorf("no state for %s", operation)
	}
	return st, nil
}

// UpdateState applies updates to the stored state
func (m *MockStateManager) UpdateState(operation types.Operation, updates map[string]interface{}) error {
	if m.updateError != nil {
		return m.updateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[operation]
	if !ok {
		return fmt.Errorf("no state for %s", operation)
	}

	if lastError, ok := updates["lastError"].(string); ok {
		st.LastError = lastError
	}
	for key, value := range updates {
		if st.Metadata == nil {
			st.Metadata = make(map[string]interface{})
		}
		st.Metadata[key] = value
	}
	return nil
}

// UpdateRunStatus sets the run status for an operation
func (m *MockStateManager) UpdateRunStatus(operation types.Operation, status types.RunStatus) error {
	if m.updateError != nil {
		return m.updateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[operation]; ok {
		st.Status = status
		st.FinishedAt = time.Now()
	}
	return nil
}

// UpdateStage sets the pipeline stage for an operation
func (m *MockStateManager) UpdateStage(operation types.Operation, stage types.Stage) error {
	if m.updateError != nil {
		return m.updateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[operation]; ok {
		st.Stage = stage
	}
	return nil
}

// RecordArtifacts stores the artifacts for an operation
func (m *MockStateManager) RecordArtifacts(operation types.Operation, artifacts []types.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[operation]; ok {
		st.Artifacts = artifacts
	}
	return nil
}

// RemoveState deletes the state for an operation
func (m *MockStateManager) RemoveState(operation types.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, operation)
	return nil
}

// IsLocked reports whether SetLocked marked the operation as held
func (m *MockStateManager) IsLocked(operation types.Operation) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked[operation], nil
}

// DiscoverStates returns all stored states
func (m *MockStateManager) DiscoverStates() (map[types.Operation]*state.OperationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[types.Operation]*state.OperationState, len(m.states))
	for operation, st := range m.states {
		states[operation] = st
	}
	return states, nil
}

// StartHeartbeat counts heartbeat starts
func (m *MockStateManager) StartHeartbeat(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
}

// StopHeartbeat is a no-op
func (m *MockStateManager) StopHeartbeat() {}

// Cleanup returns the configured cleanup error
func (m *MockStateManager) Cleanup() error {
	return m.cleanupError
}

// HeartbeatStarts returns how many times StartHeartbeat was called
func (m *MockStateManager) HeartbeatStarts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heartbeats
}

// SetLocked marks an operation as held by another process
func (m *MockStateManager) SetLocked(operation types.Operation, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[operation] = locked
}

// SetInitError sets the error returned from InitializeState
func (m *MockStateManager) SetInitError(err error) { m.initError = err }

// SetUpdateError sets the error returned from state updates
func (m *MockStateManager) SetUpdateError(err error) { m.updateError = err }

// SetCleanupError sets the error returned from Cleanup
func (m *MockStateManager) SetCleanupError(err error) { m.cleanupError = err }

// MockFileWatcher is an in-memory FileWatcher. Tests drive it with
// TriggerChanges to simulate settled batches.
type MockFileWatcher struct {
	mu             sync.RWMutex
	connected      bool
	connectError   error
	watchError     error
	subscribeError error
	watchedRoots   []string
	subscriptions  map[string]interfaces.FileEventCallback
}

// NewMockFileWatcher creates a new mock file watcher
func NewMockFileWatcher() *MockFileWatcher {
	return &MockFileWatcher{
		subscriptions: make(map[string]interfaces.FileEventCallback),
	}
}

// Connect marks the watcher as connected
func (m *MockFileWatcher) Connect(ctx context.Context) error {
	if m.connectError != nil {
		return m.connectError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Disconnect marks the watcher as disconnected
func (m *MockFileWatcher) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected reports the connect state
func (m *MockFileWatcher) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// WatchProject records the watched root
func (m *MockFileWatcher) WatchProject(projectPath string) error {
	if m.watchError != nil {
		return m.watchError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchedRoots = append(m.watchedRoots, projectPath)
	return nil
}

// Subscribe records the subscription callback
func (m *MockFileWatcher) Subscribe(name string, patterns []string, callback interfaces.FileEventCallback) error {
	if m.subscribeError != nil {
		return m.subscribeError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[name] = callback
	return nil
}

// Unsubscribe removes the subscription
func (m *MockFileWatcher) Unsubscribe(subscriptionName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionName)
	return nil
}

// TriggerChanges delivers a batch to a named subscription
func (m *MockFileWatcher) TriggerChanges(subscriptionName string, events []interfaces.FileEvent) {
	m.mu.RLock()
	callback, ok := m.subscriptions[subscriptionName]
	m.mu.RUnlock()

	if ok && callback != nil {
		callback(events)
	}
}

// WatchedRoots returns every root passed to WatchProject
func (m *MockFileWatcher) WatchedRoots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.watchedRoots...)
}

// HasSubscription reports whether the named subscription exists
func (m *MockFileWatcher) HasSubscription(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.subscriptions[name]
	return ok
}

// SetConnectError sets the error returned from Connect
func (m *MockFileWatcher) SetConnectError(err error) { m.connectError = err }

// SetWatchError sets the error returned from WatchProject
func (m *MockFileWatcher) SetWatchError(err error) { m.watchError = err }

// SetSubscribeError sets the error returned from Subscribe
func (m *MockFileWatcher) SetSubscribeError(err error) { m.subscribeError = err }

// ChangeCall records one OnFileChanged invocation
type ChangeCall struct {
	Files     []string
	Operation types.Operation
}

// MockOperationQueue records queue interactions without executing runs
type MockOperationQueue struct {
	mu      sync.RWMutex
	queue   []*types.OperationRequest
	changes []ChangeCall
	started bool
	stopped bool
}

// NewMockOperationQueue creates a new mock operation queue
func NewMockOperationQueue() *MockOperationQueue {
	return &MockOperationQueue{}
}

// Enqueue appends a request
func (m *MockOperationQueue) Enqueue(request *types.OperationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, request)
	return nil
}

// Dequeue removes and returns the oldest request
func (m *MockOperationQueue) Dequeue() (*types.OperationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil, nil
	}
	request := m.queue[0]
	m.queue = m.queue[1:]
	return request, nil
}

// Peek returns the oldest request without removing it
func (m *MockOperationQueue) Peek() (*types.OperationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.queue) == 0 {
		return nil, nil
	}
	return m.queue[0], nil
}

// Size returns the number of queued requests
func (m *MockOperationQueue) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

// Clear drops all queued requests
func (m *MockOperationQueue) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
}

// OnFileChanged records the settled batch
func (m *MockOperationQueue) OnFileChanged(files []string, operation types.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, ChangeCall{Files: files, Operation: operation})
}

// Start marks the queue as started
func (m *MockOperationQueue) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
}

// Stop marks the queue as stopped
func (m *MockOperationQueue) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Started reports whether Start was called
func (m *MockOperationQueue) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Stopped reports whether Stop was called
func (m *MockOperationQueue) Stopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// Changes returns every recorded OnFileChanged call
func (m *MockOperationQueue) Changes() []ChangeCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ChangeCall(nil), m.changes...)
}

// MockNotifier records operation notifications
type MockNotifier struct {
	mu        sync.RWMutex
	starts    []types.Operation
	successes []types.Operation
	failures  []types.Operation
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyOperationStart records a start notification
func (m *MockNotifier) NotifyOperationStart(operation types.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, operation)
}

// NotifyOperationSuccess records a success notification
func (m *MockNotifier) NotifyOperationSuccess(operation types.Operation, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, operation)
}

// NotifyOperationFailure records a failure notification
func (m *MockNotifier) NotifyOperationFailure(operation types.Operation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, operation)
}

// Starts returns the recorded start notifications
func (m *MockNotifier) Starts() []types.Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Operation(nil), m.starts...)
}

// Successes returns the recorded success notifications
func (m *MockNotifier) Successes() []types.Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Operation(nil), m.successes...)
}

// Failures returns the recorded failure notifications
func (m *MockNotifier) Failures() []types.Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Operation(nil), m.failures...)
}

// MockProcessManager records lifecycle calls and lets tests fire the
// registered shutdown handlers directly.
type MockProcessManager struct {
	mu       sync.Mutex
	handlers []func()
	running  bool
}

// NewMockProcessManager creates a new mock process manager
func NewMockProcessManager() *MockProcessManager {
	return &MockProcessManager{}
}

// RegisterShutdownHandler stores the handler
func (m *MockProcessManager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Start marks the manager as running
func (m *MockProcessManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
}

// Stop marks the manager as stopped
func (m *MockProcessManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// IsRunning reports the running flag
func (m *MockProcessManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TriggerShutdown invokes every registered shutdown handler
func (m *MockProcessManager) TriggerShutdown() {
	m.mu.Lock()
	handlers := append([]func()(nil), m.handlers...)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}

// MockConfigManager serves a fixed manifest
type MockConfigManager struct {
	mu            sync.RWMutex
	manifest      *types.Manifest
	loadError     error
	validateError error
	saved         map[string]*types.Manifest
}

// NewMockConfigManager creates a mock config manager serving manifest
func NewMockConfigManager(manifest *types.Manifest) *MockConfigManager {
	return &MockConfigManager{
		manifest: manifest,
		saved:    make(map[string]*types.Manifest),
	}
}

// LoadManifest returns the fixed manifest
func (m *MockConfigManager) LoadManifest(path string) (*types.Manifest, error) {
	if m.loadError != nil {
		return nil, m.loadError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manifest, nil
}

// SaveManifest records the manifest by path
func (m *MockConfigManager) SaveManifest(path string, manifest *types.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[path] = manifest
	return nil
}

// ValidateManifest returns the configured validation error
func (m *MockConfigManager) ValidateManifest(manifest *types.Manifest) error {
	return m.validateError
}

// GetDefaultManifest returns a minimal manifest for the project type
func (m *MockConfigManager) GetDefaultManifest(projectType types.ProjectType, projectName string) *types.Manifest {
	return &types.Manifest{
		Version:     "1.0",
		ProjectType: projectType,
		Project:     types.ProjectConfig{Name: projectName, Version: "0.1.0"},
	}
}

// Saved returns the manifest recorded for a path, if any
func (m *MockConfigManager) Saved(path string) *types.Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saved[path]
}

// SetLoadError sets the error returned from LoadManifest
func (m *MockConfigManager) SetLoadError(err error) { m.loadError = err }

// SetValidateError sets the error returned from ValidateManifest
func (m *MockConfigManager) SetValidateError(err error) { m.validateError = err }

// MockHistoryLedger keeps run records in memory
type MockHistoryLedger struct {
	mu      sync.RWMutex
	records []history.Record
	nextID  int64
	closed  bool
}

// NewMockHistoryLedger creates a new mock history ledger
func NewMockHistoryLedger() *MockHistoryLedger {
	return &MockHistoryLedger{}
}

// Append stores a record and returns its row id
func (m *MockHistoryLedger) Append(rec history.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.records = append(m.records, rec)
	return m.nextID, nil
}

// List returns the newest records first
func (m *MockHistoryLedger) List(limit int) ([]history.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]history.Record, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		records = append(records, m.records[i])
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

// ListByOperation returns the newest records for one operation
func (m *MockHistoryLedger) ListByOperation(operation types.Operation, limit int) ([]history.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]history.Record, 0)
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Operation != operation {
			continue
		}
		records = append(records, m.records[i])
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

// Get returns the record with the given run id
func (m *MockHistoryLedger) Get(runID string) (*history.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.records {
		if m.records[i].RunID == runID {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("no run %s", runID)
}

// LastRun returns the newest record for one operation
func (m *MockHistoryLedger) LastRun(operation types.Operation) (*history.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Operation == operation {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("no runs for %s", operation)
}

// Prune drops all but the newest keep records
func (m *MockHistoryLedger) Prune(keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keep < 0 || keep >= len(m.records) {
		return 0, nil
	}
	pruned := int64(len(m.records) - keep)
	m.records = append([]history.Record(nil), m.records[len(m.records)-keep:]...)
	return pruned, nil
}

// Close marks the ledger closed
func (m *MockHistoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockHistoryLedger) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

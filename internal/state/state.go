// Package state persists per-operation run snapshots for Slipway
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

// OperationState represents the persistent state of one operation
type OperationState struct {
	Operation    types.Operation        `json:"operation"`
	RunID        string                 `json:"runId,omitempty"`
	Status       types.RunStatus        `json:"status"`
	Stage        types.Stage            `json:"stage,omitempty"`
	StartedAt    time.Time              `json:"startedAt"`
	FinishedAt   time.Time              `json:"finishedAt"`
	Duration     time.Duration          `json:"duration,omitempty"`
	SuccessCount int                    `json:"successCount"`
	FailureCount int                    `json:"failureCount"`
	ProcessID    int                    `json:"processId"`
	Heartbeat    time.Time              `json:"heartbeat"`
	LastError    string                 `json:"lastError,omitempty"`
	Artifacts    []types.Artifact       `json:"artifacts,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// StateManager handles persistent state files
type StateManager struct {
	stateDir       string
	logger         logger.Logger
	mu             sync.RWMutex
	states         map[types.Operation]*OperationState
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewStateManager creates a new state manager
func NewStateManager(projectRoot string, log logger.Logger) *StateManager {
	stateDir := filepath.Join(projectRoot, ".slipway", "state")

	// Ensure state directory exists
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		if log != nil {
			log.Error("Failed to create state directory", logger.WithField("error", err))
		}
	}

	return &StateManager{
		stateDir: stateDir,
		logger:   log,
		states:   make(map[types.Operation]*OperationState),
	}
}

// InitializeState creates or updates state for an operation
func (sm *StateManager) InitializeState(operation types.Operation, runID string) (*OperationState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state := &OperationState{
		Operation: operation,
		RunID:     runID,
		Status:    types.RunStatusRunning,
		StartedAt: time.Now(),
		ProcessID: os.Getpid(),
		Heartbeat: time.Now(),
		Metadata:  make(map[string]interface{}),
	}

	// Preserve run statistics across invocations
	existingState, err := sm.loadStateFile(operation)
	if err == nil && existingState != nil {
		state.SuccessCount = existingState.SuccessCount
		state.FailureCount = existingState.FailureCount
	}

	if err := sm.saveStateFile(state); err != nil {
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}

	sm.states[operation] = state
	return state, nil
}

// ReadState reads the state for an operation
func (sm *StateManager) ReadState(operation types.Operation) (*OperationState, error) {
	sm.mu.RLock()

	// Check memory cache first
	if state, ok := sm.states[operation]; ok {
		sm.mu.RUnlock()
		return state, nil
	}
	sm.mu.RUnlock()

	// Load from file
	return sm.loadStateFile(operation)
}

// UpdateState updates the state for an operation
func (sm *StateManager) UpdateState(operation types.Operation, updates map[string]interface{}) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[operation]
	if !ok {
		// Load from file if not in memory
		var err error
		state, err = sm.loadStateFile(operation)
		if err != nil {
			return fmt.Errorf("operation state not found: %s", operation)
		}
		sm.states[operation] = state
	}

	// Apply updates
	for key, value := range updates {
		switch key {
		case "status":
			if status, ok := value.(types.RunStatus); ok {
				state.Status = status
			}
		case "stage":
			if stage, ok := value.(types.Stage); ok {
				state.Stage = stage
			}
		case "runId":
			if id, ok := value.(string); ok {
				state.RunID = id
			}
		case "finishedAt":
			if t, ok := value.(time.Time); ok {
				state.FinishedAt = t
			}
		case "duration":
			if duration, ok := value.(time.Duration); ok {
				state.Duration = duration
			}
		case "successCount":
			if count, ok := value.(int); ok {
				state.SuccessCount = count
			}
		case "failureCount":
			if count, ok := value.(int); ok {
				state.FailureCount = count
			}
		case "lastError":
			if err, ok := value.(string); ok {
				state.LastError = err
			}
		case "artifacts":
			if artifacts, ok := value.([]types.Artifact); ok {
				state.Artifacts = artifacts
			}
		default:
			// Store in metadata
			if state.Metadata == nil {
				state.Metadata = make(map[string]interface{})
			}
			state.Metadata[key] = value
		}
	}

	state.Heartbeat = time.Now()

	// Save to file
	return sm.saveStateFile(state)
}

// UpdateRunStatus updates the run status for an operation
func (sm *StateManager) UpdateRunStatus(operation types.Operation, status types.RunStatus) error {
	updates := map[string]interface{}{
		"status": status,
	}

	if status == types.RunStatusSucceeded || status == types.RunStatusFailed {
		updates["finishedAt"] = time.Now()

		// Update counters
		sm.mu.RLock()
		state, ok := sm.states[operation]
		sm.mu.RUnlock()

		if ok {
			updates["duration"] = time.Since(state.StartedAt)
			if status == types.RunStatusSucceeded {
				updates["successCount"] = state.SuccessCount + 1
			} else {
				updates["failureCount"] = state.FailureCount + 1
			}
		}
	}

	return sm.UpdateState(operation, updates)
}

// UpdateStage records a release pipeline stage transition
func (sm *StateManager) UpdateStage(operation types.Operation, stage types.Stage) error {
	return sm.UpdateState(operation, map[string]interface{}{
		"stage": stage,
	})
}

// RecordArtifacts stores the artifacts produced by a run
func (sm *StateManager) RecordArtifacts(operation types.Operation, artifacts []types.Artifact) error {
	return sm.UpdateState(operation, map[string]interface{}{
		"artifacts": artifacts,
	})
}

// RemoveState removes the state for an operation
func (sm *StateManager) RemoveState(operation types.Operation) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, operation)

	stateFile := sm.getStateFilePath(operation)
	if err := os.Remove(stateFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}

	return nil
}

// IsLocked checks if an operation is held by another live process
func (sm *StateManager) IsLocked(operation types.Operation) (bool, error) {
	state, err := sm.loadStateFile(operation)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	// Check if process is still alive
	if state.ProcessID == os.Getpid() {
		return false, nil // Our own process
	}

	// Check heartbeat (consider dead if older than 30 seconds)
	if time.Since(state.Heartbeat) > 30*time.Second {
		return false, nil
	}

	// Check if process exists
	process, err := os.FindProcess(state.ProcessID)
	if err != nil {
		return false, nil
	}

	// Try to signal the process (0 signal doesn't kill, just checks)
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, nil // Process doesn't exist
	}

	return true, nil
}

// DiscoverStates finds all existing state files
func (sm *StateManager) DiscoverStates() (map[types.Operation]*OperationState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	states := make(map[types.Operation]*OperationState)

	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		operation := types.Operation(file.Name()[:len(file.Name())-5]) // Remove .json
		state, err := sm.loadStateFile(operation)
		if err != nil {
			if sm.logger != nil {
				sm.logger.Warn("Failed to load state file",
					logger.WithField("operation", operation),
					logger.WithField("error", err))
			}
			continue
		}

		states[operation] = state
	}

	return states, nil
}

// StartHeartbeat starts the heartbeat updater
func (sm *StateManager) StartHeartbeat(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		return // Already running
	}

	sm.heartbeatStop = make(chan struct{})
	sm.heartbeatTimer = time.NewTicker(10 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sm.heartbeatStop:
				return
			case <-sm.heartbeatTimer.C:
				sm.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (sm *StateManager) StopHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		sm.heartbeatTimer.Stop()
		sm.heartbeatTimer = nil
	}

	if sm.heartbeatStop != nil {
		close(sm.heartbeatStop)
		sm.heartbeatStop = nil
	}
}

// Cleanup marks in-memory states idle and releases the process claim
func (sm *StateManager) Cleanup() error {
	sm.StopHeartbeat()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, state := range sm.states {
		if state.Status == types.RunStatusRunning || state.Status == types.RunStatusQueued {
			state.Status = types.RunStatusIdle
		}
		state.ProcessID = 0
		if err := sm.saveStateFile(state); err != nil {
			if sm.logger != nil {
				sm.logger.Warn("Failed to save final state",
					logger.WithField("operation", state.Operation),
					logger.WithField("error", err))
			}
		}
	}

	return nil
}

// Private methods

func (sm *StateManager) getStateFilePath(operation types.Operation) string {
	return filepath.Join(sm.stateDir, string(operation)+".json")
}

func (sm *StateManager) loadStateFile(operation types.Operation) (*OperationState, error) {
	stateFile := sm.getStateFilePath(operation)

	data, err := os.ReadFile(stateFile)
	if err != nil {
		return nil, err
	}

	var state OperationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return &state, nil
}

func (sm *StateManager) saveStateFile(state *OperationState) error {
	stateFile := sm.getStateFilePath(state.Operation)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write atomically
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile) // Clean up
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

func (sm *StateManager) updateHeartbeats() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for _, state := range sm.states {
		state.Heartbeat = now
		if err := sm.saveStateFile(state); err != nil {
			if sm.logger != nil {
				sm.logger.Debug("Failed to update heartbeat",
					logger.WithField("operation", state.Operation),
					logger.WithField("error", err))
			}
		}
	}
}

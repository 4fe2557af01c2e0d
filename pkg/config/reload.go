// Package config provides manifest management including hot-reload functionality
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

// ReloadManager handles manifest hot-reload functionality
type ReloadManager struct {
	manifestPath   string
	logger         logger.Logger
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	lastModTime    time.Time
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isWatching     bool
}

// ReloadCallback is called when the manifest changes
type ReloadCallback func(*types.Manifest, error)

// ReloadEvent represents a manifest reload event
type ReloadEvent struct {
	Path      string          `json:"path"`
	Timestamp time.Time       `json:"timestamp"`
	Manifest  *types.Manifest `json:"manifest,omitempty"`
	Error     error           `json:"error,omitempty"`
	EventType ReloadEventType `json:"eventType"`
}

// ReloadEventType represents the type of reload event
type ReloadEventType string

const (
	ReloadEventTypeModified ReloadEventType = "modified"
	ReloadEventTypeCreated  ReloadEventType = "created"
	ReloadEventTypeRemoved  ReloadEventType = "removed"
	ReloadEventTypeError    ReloadEventType = "error"
)

// NewReloadManager creates a new manifest reload manager
func NewReloadManager(manifestPath string, log logger.Logger) *ReloadManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &ReloadManager{
		manifestPath:   manifestPath,
		logger:         log,
		debouncePeriod: 500 * time.Millisecond,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// AddCallback adds a reload callback
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// RemoveAllCallbacks removes all reload callbacks
func (rm *ReloadManager) RemoveAllCallbacks() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = nil
}

// StartWatching begins watching the manifest file for changes
func (rm *ReloadManager) StartWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isWatching {
		return fmt.Errorf("already watching manifest file")
	}

	// Create file watcher
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	rm.watcher = watcher

	// Watch the containing directory; editors often replace the file
	manifestDir := filepath.Dir(rm.manifestPath)
	if err := rm.watcher.Add(manifestDir); err != nil {
		rm.watcher.Close()
		return fmt.Errorf("failed to watch manifest directory: %w", err)
	}

	// Get initial modification time
	if stat, err := os.Stat(rm.manifestPath); err == nil {
		rm.lastModTime = stat.ModTime()
	}

	rm.isWatching = true

	// Start watching in background
	go rm.watchLoop()

	rm.logger.Debug("Started watching manifest file",
		logger.WithField("path", rm.manifestPath))

	return nil
}

// StopWatching stops watching the manifest file
func (rm *ReloadManager) StopWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.isWatching {
		return nil
	}

	rm.cancel()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
		rm.debounceTimer = nil
	}

	if rm.watcher != nil {
		if err := rm.watcher.Close(); err != nil {
			rm.logger.Warn("Error closing file watcher", logger.WithField("error", err))
		}
		rm.watcher = nil
	}

	rm.isWatching = false

	rm.logger.Debug("Stopped watching manifest file")
	return nil
}

// IsWatching returns whether the manager is currently watching
func (rm *ReloadManager) IsWatching() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.isWatching
}

// TriggerReload manually triggers a manifest reload
func (rm *ReloadManager) TriggerReload() {
	rm.logger.Debug("Manually triggering manifest reload")
	rm.handleManifestChange(ReloadEventTypeModified)
}

func (rm *ReloadManager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("Manifest watcher panic recovered",
				logger.WithField("panic", r))
		}
	}()

	for {
		select {
		case <-rm.ctx.Done():
			return

		case event, ok := <-rm.watcher.Events:
			if !ok {
				return
			}

			// Only process events for our manifest file
			if !rm.isManifestFileEvent(event.Name) {
				continue
			}

			rm.logger.Debug("Manifest file event received",
				logger.WithField("event", event.String()))

			eventType := rm.mapFsnotifyEvent(event.Op)
			rm.debounceReload(eventType)

		case err, ok := <-rm.watcher.Errors:
			if !ok {
				return
			}

			rm.logger.Error("Manifest file watcher error",
				logger.WithField("error", err))

			// Notify callbacks about the error
			rm.notifyCallbacks(nil, err, ReloadEventTypeError)
		}
	}
}

func (rm *ReloadManager) isManifestFileEvent(eventPath string) bool {
	manifestFileName := filepath.Base(rm.manifestPath)
	eventFileName := filepath.Base(eventPath)

	// Direct match
	if eventFileName == manifestFileName {
		return true
	}

	// Check for temporary files that editors create
	return strings.HasPrefix(eventFileName, manifestFileName) ||
		(strings.HasSuffix(eventFileName, ".tmp") &&
			strings.Contains(eventFileName, manifestFileName))
}

func (rm *ReloadManager) mapFsnotifyEvent(op fsnotify.Op) ReloadEventType {
	switch {
	case op&fsnotify.Write == fsnotify.Write:
		return ReloadEventTypeModified
	case op&fsnotify.Create == fsnotify.Create:
		return ReloadEventTypeCreated
	case op&fsnotify.Remove == fsnotify.Remove:
		return ReloadEventTypeRemoved
	default:
		return ReloadEventTypeModified
	}
}

func (rm *ReloadManager) debounceReload(eventType ReloadEventType) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	// Cancel existing timer
	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
	}

	// Create new timer
	rm.debounceTimer = time.AfterFunc(rm.debouncePeriod, func() {
		rm.handleManifestChange(eventType)
	})
}

func (rm *ReloadManager) handleManifestChange(eventType ReloadEventType) {
	rm.logger.Debug("Processing manifest change",
		logger.WithField("eventType", eventType))

	// Check if file was removed
	if eventType == ReloadEventTypeRemoved {
		err := fmt.Errorf("manifest file was removed: %s", rm.manifestPath)
		rm.notifyCallbacks(nil, err, eventType)
		return
	}

	// Check file modification time to avoid duplicate reloads
	stat, err := os.Stat(rm.manifestPath)
	if err != nil {
		rm.logger.Error("Failed to stat manifest file",
			logger.WithField("error", err))
		rm.notifyCallbacks(nil, err, ReloadEventTypeError)
		return
	}

	rm.mu.Lock()
	if !stat.ModTime().After(rm.lastModTime) {
		rm.mu.Unlock()
		rm.logger.Debug("Manifest file not modified, skipping reload")
		return
	}
	rm.lastModTime = stat.ModTime()
	rm.mu.Unlock()

	// Load new manifest
	manager := NewManager()
	manifest, err := manager.LoadManifest(rm.manifestPath)
	if err != nil {
		rm.logger.Error("Failed to reload manifest",
			logger.WithField("error", err))
		rm.notifyCallbacks(nil, err, ReloadEventTypeError)
		return
	}

	rm.logger.Info("Manifest reloaded successfully",
		logger.WithField("project", manifest.Project.Name),
		logger.WithField("version", manifest.Project.Version))

	// Notify callbacks
	rm.notifyCallbacks(manifest, nil, eventType)
}

func (rm *ReloadManager) notifyCallbacks(manifest *types.Manifest, err error, eventType ReloadEventType) {
	rm.mu.RLock()
	callbacks := make([]ReloadCallback, len(rm.callbacks))
	copy(callbacks, rm.callbacks)
	rm.mu.RUnlock()

	rm.logger.Debug("Notifying reload callbacks",
		logger.WithField("callbackCount", len(callbacks)),
		logger.WithField("eventType", eventType))

	// Notify all callbacks
	for _, callback := range callbacks {
		go func(cb ReloadCallback) {
			defer func() {
				if r := recover(); r != nil {
					rm.logger.Error("Reload callback panic recovered",
						logger.WithField("panic", r))
				}
			}()
			cb(manifest, err)
		}(callback)
	}
}

// SetDebouncePeriod sets the debounce period for file change events
func (rm *ReloadManager) SetDebouncePeriod(period time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.debouncePeriod = period
}

// GetLastReloadTime returns the timestamp of the last manifest reload
func (rm *ReloadManager) GetLastReloadTime() time.Time {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.lastModTime
}

// GetManifestPath returns the path of the watched manifest file
func (rm *ReloadManager) GetManifestPath() string {
	return rm.manifestPath
}

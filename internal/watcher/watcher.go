// Package watcher delivers settled batches of file changes over fsnotify.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slipway/slipway/pkg/interfaces"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/utils"
)

// DefaultSettling is how long the tree must stay quiet before a batch
// is delivered.
const DefaultSettling = 100 * time.Millisecond

type subscription struct {
	name     string
	matcher  *utils.PatternMatcher
	matchAll bool
	callback interfaces.FileEventCallback
}

// FSWatcher watches project trees with fsnotify and hands each
// subscription the changes that settled together. Events under excluded
// paths are dropped before they reach any subscriber, so the state
// directory and build outputs can never re-trigger an operation.
type FSWatcher struct {
	logger     logger.Logger
	settling   time.Duration
	exclusions *utils.ExclusionMatcher

	mu            sync.Mutex
	fs            *fsnotify.Watcher
	subscriptions map[string]*subscription
	roots         []string
	pending       map[string]interfaces.FileEvent
	flush         *time.Timer
	connected     bool
	cancel        context.CancelFunc
	done          chan struct{}
}

var _ interfaces.FileWatcher = (*FSWatcher)(nil)

// New creates a watcher. Manifest exclusions are layered on top of the
// defaults, which always cover the state directory and build outputs.
func New(log logger.Logger, settling time.Duration, exclude []string) (*FSWatcher, error) {
	if settling <= 0 {
		settling = DefaultSettling
	}

	exclusions, err := utils.NewExclusionMatcher(append(utils.DefaultExclusions(), exclude...))
	if err != nil {
		return nil, fmt.Errorf("invalid exclusion pattern: %w", err)
	}

	return &FSWatcher{
		logger:        log,
		settling:      settling,
		exclusions:    exclusions,
		subscriptions: make(map[string]*subscription),
		pending:       make(map[string]interfaces.FileEvent),
	}, nil
}

// Connect starts the event loop. Batches are delivered until the context
// is cancelled or Disconnect is called.
func (w *FSWatcher) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected {
		return nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.fs = fs
	w.cancel = cancel
	w.done = done
	w.connected = true

	go w.processEvents(ctx, fs, done)
	return nil
}

// Disconnect stops the event loop and drops any unsettled changes.
func (w *FSWatcher) Disconnect() error {
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return nil
	}

	w.connected = false
	w.cancel()
	if w.flush != nil {
		w.flush.Stop()
		w.flush = nil
	}
	w.pending = make(map[string]interfaces.FileEvent)
	w.roots = nil
	fs := w.fs
	w.fs = nil
	done := w.done
	w.mu.Unlock()

	err := fs.Close()
	<-done
	return err
}

// IsConnected reports whether the event loop is running.
func (w *FSWatcher) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// WatchProject registers the whole tree rooted at projectPath. Excluded
// directories are pruned from the walk and never generate events.
func (w *FSWatcher) WatchProject(projectPath string) error {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", projectPath, err)
	}

	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return fmt.Errorf("watcher is not connected")
	}
	fs := w.fs
	w.roots = append(w.roots, abs)
	w.mu.Unlock()

	count, err := w.addTree(fs, abs)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", abs, err)
	}

	w.logger.Info(fmt.Sprintf("Watching %s (%d directories)", abs, count))
	return nil
}

// Subscribe routes settled changes matching patterns to callback. Empty
// patterns match every change under the watched roots.
func (w *FSWatcher) Subscribe(name string, patterns []string, callback interfaces.FileEventCallback) error {
	if callback == nil {
		return fmt.Errorf("subscription %s has no callback", name)
	}

	sub := &subscription{name: name, callback: callback, matchAll: len(patterns) == 0}
	if !sub.matchAll {
		matcher, err := utils.NewPatternMatcher(patterns)
		if err != nil {
			return fmt.Errorf("invalid watch pattern in subscription %s: %w", name, err)
		}
		sub.matcher = matcher
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.subscriptions[name]; exists {
		return fmt.Errorf("subscription %s already exists", name)
	}
	w.subscriptions[name] = sub
	return nil
}

// Unsubscribe removes a subscription. Unknown names are ignored.
func (w *FSWatcher) Unsubscribe(subscriptionName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subscriptions, subscriptionName)
	return nil
}

// addTree adds dir and every non-excluded subdirectory to the fsnotify
// watch list, returning how many directories were added.
func (w *FSWatcher) addTree(fs *fsnotify.Watcher, dir string) (int, error) {
	if w.exclusions.IsExcluded(dir) {
		return 0, nil
	}

	if err := fs.Add(dir); err != nil {
		return 0, err
	}
	count := 1

	entries, err := os.ReadDir(dir)
	if err != nil {
		return count, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdir := filepath.Join(dir, entry.Name())
		added, err := w.addTree(fs, subdir)
		count += added
		if err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch %s: %v", subdir, err))
		}
	}

	return count, nil
}

func (w *FSWatcher) processEvents(ctx context.Context, fs *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fs.Events:
			if !ok {
				return
			}
			w.handleEvent(fs, event)

		case err, ok := <-fs.Errors:
			if !ok {
				return
			}
			w.logger.Error(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

func (w *FSWatcher) handleEvent(fs *fsnotify.Watcher, event fsnotify.Event) {
	if w.exclusions.IsExcluded(event.Name) {
		return
	}
	// Chmod-only events fire on metadata touches; nothing changed.
	if event.Op == fsnotify.Chmod {
		return
	}

	fileEvent := interfaces.FileEvent{Path: event.Name}
	if info, err := os.Stat(event.Name); err == nil {
		fileEvent.Exists = true
		fileEvent.IsDir = info.IsDir()
	}

	// A freshly created directory has to join the watch list before
	// anything written inside it can be seen.
	if event.Op&fsnotify.Create != 0 && fileEvent.IsDir {
		if _, err := w.addTree(fs, event.Name); err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch new directory %s: %v", event.Name, err))
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return
	}

	w.pending[event.Name] = fileEvent
	if w.flush != nil {
		w.flush.Stop()
	}
	w.flush = time.AfterFunc(w.settling, w.deliver)
}

// deliver hands the settled batch to every subscription whose patterns
// match at least one change.
func (w *FSWatcher) deliver() {
	w.mu.Lock()

	if !w.connected || len(w.pending) == 0 {
		w.pending = make(map[string]interfaces.FileEvent)
		w.mu.Unlock()
		return
	}

	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	batch := make([]interfaces.FileEvent, 0, len(paths))
	for _, path := range paths {
		batch = append(batch, w.pending[path])
	}
	w.pending = make(map[string]interfaces.FileEvent)

	roots := append([]string(nil), w.roots...)
	subs := make([]*subscription, 0, len(w.subscriptions))
	for _, sub := range w.subscriptions {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].name < subs[j].name })
	w.mu.Unlock()

	w.logger.Debug(fmt.Sprintf("Settled %d change(s)", len(batch)))

	for _, sub := range subs {
		matched := batch
		if !sub.matchAll {
			matched = nil
			for _, event := range batch {
				if sub.matcher.Match(relativeTo(roots, event.Path)) {
					matched = append(matched, event)
				}
			}
		}
		if len(matched) > 0 {
			sub.callback(matched)
		}
	}
}

// relativeTo rewrites path against its longest matching root so manifest
// patterns like "src/**/*.py" line up with absolute event paths.
func relativeTo(roots []string, path string) string {
	best := ""
	for _, root := range roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return path
	}

	rel, err := filepath.Rel(best, path)
	if err != nil {
		return path
	}
	return rel
}

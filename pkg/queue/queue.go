// Package queue provides the serialized operation queue for watch mode
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

// Executor runs one queued operation to completion
type Executor func(ctx context.Context, request *types.OperationRequest) error

// OperationQueue serializes operation runs triggered by file changes.
// At most one operation executes at a time, and at most one follow-up
// request per operation waits in the queue.
type OperationQueue struct {
	logger   logger.Logger
	executor Executor

	queue  []*types.OperationRequest
	active map[types.Operation]*types.OperationRequest

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new operation queue
func New(log logger.Logger, executor Executor) *OperationQueue {
	ctx, cancel := context.WithCancel(context.Background())

	return &OperationQueue{
		logger:   log,
		executor: executor,
		active:   make(map[types.Operation]*types.OperationRequest),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnFileChanged handles a settled batch of file change events
func (q *OperationQueue) OnFileChanged(files []string, operation types.Operation) {
	if q.logger != nil {
		q.logger.Debug(fmt.Sprintf("OnFileChanged called with %d file(s) for %s", len(files), operation))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// A pending request absorbs further changes instead of stacking runs.
	// A change arriving while the operation is active still queues exactly
	// one follow-up run, so the last change is never lost.
	if pending := q.findPending(operation); pending != nil {
		pending.TriggeringFiles = mergeFiles(pending.TriggeringFiles, files)
		if q.logger != nil {
			q.logger.Debug(fmt.Sprintf("Operation %s already pending, merged %d file(s)", operation, len(files)))
		}
		return
	}

	request := &types.OperationRequest{
		ID:              uuid.New().String(),
		Operation:       operation,
		TriggeringFiles: files,
		QueuedAt:        time.Now(),
	}

	q.queue = append(q.queue, request)
	if q.logger != nil {
		q.logger.Debug(fmt.Sprintf("Queued %s run (queue size: %d)", operation, len(q.queue)))
	}
}

// Start starts the queue processor
func (q *OperationQueue) Start(ctx context.Context) {
	if q.logger != nil {
		q.logger.Debug("Starting operation queue processor")
	}
	q.wg.Add(1)
	go q.processQueue()
}

// Stop stops the queue and waits for the active run to finish
func (q *OperationQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue adds an operation request to the queue
func (q *OperationQueue) Enqueue(request *types.OperationRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = append(q.queue, request)

	return nil
}

// Dequeue removes and returns the oldest request
func (q *OperationQueue) Dequeue() (*types.OperationRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return nil, nil
	}

	request := q.queue[0]
	q.queue = q.queue[1:]

	return request, nil
}

// Peek returns the oldest request without removing it
func (q *OperationQueue) Peek() (*types.OperationRequest, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.queue) == 0 {
		return nil, nil
	}

	return q.queue[0], nil
}

// Size returns the queue size
func (q *OperationQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queue)
}

// Clear clears the queue
func (q *OperationQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = nil
}

// Private methods

func (q *OperationQueue) processQueue() {
	defer q.wg.Done()

	if q.logger != nil {
		q.logger.Debug("Operation queue processor started")
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			if q.logger != nil {
				q.logger.Debug("Operation queue processor stopping")
			}
			return
		case <-ticker.C:
			q.processNext()
		}
	}
}

func (q *OperationQueue) processNext() {
	q.mu.Lock()

	// One run at a time keeps command output and state writes ordered
	if len(q.active) > 0 {
		q.mu.Unlock()
		return
	}

	if len(q.queue) == 0 {
		q.mu.Unlock()
		return
	}

	request := q.queue[0]
	q.queue = q.queue[1:]
	q.active[request.Operation] = request

	if q.logger != nil {
		q.logger.Debug(fmt.Sprintf("Starting %s run %s (queue size: %d)",
			request.Operation, request.ID, len(q.queue)))
	}

	// Add before unlocking so Stop always waits for this run
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		q.execute(request)
	}()
}

func (q *OperationQueue) execute(request *types.OperationRequest) {
	startTime := time.Now()

	err := q.executor(q.ctx, request)
	duration := time.Since(startTime)

	if q.logger != nil {
		if err != nil {
			q.logger.Error(fmt.Sprintf("%s run %s failed after %s: %v",
				request.Operation, request.ID, duration.Round(time.Millisecond), err))
		} else {
			q.logger.Debug(fmt.Sprintf("%s run %s finished in %s",
				request.Operation, request.ID, duration.Round(time.Millisecond)))
		}
	}

	q.mu.Lock()
	delete(q.active, request.Operation)
	q.mu.Unlock()
}

func (q *OperationQueue) findPending(operation types.Operation) *types.OperationRequest {
	for _, req := range q.queue {
		if req.Operation == operation {
			return req
		}
	}
	return nil
}

func mergeFiles(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range incoming {
		if !seen[f] {
			existing = append(existing, f)
			seen[f] = true
		}
	}
	return existing
}

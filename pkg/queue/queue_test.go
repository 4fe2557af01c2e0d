package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/slipway/slipway/pkg/queue"
	"github.com/slipway/slipway/pkg/types"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newRequest(operation types.Operation, files ...string) *types.OperationRequest {
	return &types.OperationRequest{
		ID:              uuid.New().String(),
		Operation:       operation,
		TriggeringFiles: files,
		QueuedAt:        time.Now(),
	}
}

func TestOperationQueue_Enqueue(t *testing.T) {
	q := queue.New(nil, func(ctx context.Context, req *types.OperationRequest) error {
		return nil
	})

	err := q.Enqueue(newRequest(types.OperationTest, "main.py"))
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	if q.Size() != 1 {
		t.Errorf("expected queue size 1, got %d", q.Size())
	}
}

func TestOperationQueue_DequeueOrder(t *testing.T) {
	q := queue.New(nil, nil)

	if err := q.Enqueue(newRequest(types.OperationTest)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.Enqueue(newRequest(types.OperationBuild)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	first, err := q.Dequeue()
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if first == nil || first.Operation != types.OperationTest {
		t.Errorf("expected oldest request first, got %+v", first)
	}

	second, err := q.Dequeue()
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if second == nil || second.Operation != types.OperationBuild {
		t.Errorf("expected build request second, got %+v", second)
	}

	empty, err := q.Dequeue()
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if empty != nil {
		t.Errorf("expected nil from empty queue, got %+v", empty)
	}
}

func TestOperationQueue_Peek(t *testing.T) {
	q := queue.New(nil, nil)

	if err := q.Enqueue(newRequest(types.OperationCheck)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	peeked, err := q.Peek()
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if peeked == nil || peeked.Operation != types.OperationCheck {
		t.Errorf("unexpected peek result: %+v", peeked)
	}

	if q.Size() != 1 {
		t.Errorf("peek must not remove the request, size is %d", q.Size())
	}
}

func TestOperationQueue_Clear(t *testing.T) {
	q := queue.New(nil, nil)

	_ = q.Enqueue(newRequest(types.OperationTest))
	_ = q.Enqueue(newRequest(types.OperationBuild))

	q.Clear()

	if q.Size() != 0 {
		t.Errorf("expected empty queue after clear, got size %d", q.Size())
	}
}

func TestOperationQueue_OnFileChanged(t *testing.T) {
	q := queue.New(nil, nil)

	q.OnFileChanged([]string{"src/app.py"}, types.OperationTest)

	if q.Size() != 1 {
		t.Fatalf("expected queue size 1, got %d", q.Size())
	}

	req, _ := q.Peek()
	if req.Operation != types.OperationTest {
		t.Errorf("expected test operation, got %s", req.Operation)
	}
	if len(req.TriggeringFiles) != 1 || req.TriggeringFiles[0] != "src/app.py" {
		t.Errorf("unexpected triggering files: %v", req.TriggeringFiles)
	}
	if req.ID == "" {
		t.Error("expected request to carry an ID")
	}
}

func TestOperationQueue_MergesPendingRequests(t *testing.T) {
	q := queue.New(nil, nil)

	q.OnFileChanged([]string{"a.py"}, types.OperationTest)
	q.OnFileChanged([]string{"b.py", "a.py"}, types.OperationTest)

	if q.Size() != 1 {
		t.Fatalf("expected merged request, got queue size %d", q.Size())
	}

	req, _ := q.Peek()
	if len(req.TriggeringFiles) != 2 {
		t.Errorf("expected deduplicated files [a.py b.py], got %v", req.TriggeringFiles)
	}
}

func TestOperationQueue_DistinctOperationsQueueSeparately(t *testing.T) {
	q := queue.New(nil, nil)

	q.OnFileChanged([]string{"a.py"}, types.OperationTest)
	q.OnFileChanged([]string{"a.py"}, types.OperationCheck)

	if q.Size() != 2 {
		t.Errorf("expected one request per operation, got size %d", q.Size())
	}
}

func TestOperationQueue_ProcessesSerially(t *testing.T) {
	var mu sync.Mutex
	var current, maxConcurrent, executed int

	executor := func(ctx context.Context, req *types.OperationRequest) error {
		mu.Lock()
		current++
		if current > maxConcurrent {
			maxConcurrent = current
		}
		mu.Unlock()

		time.Sleep(150 * time.Millisecond)

		mu.Lock()
		current--
		executed++
		mu.Unlock()
		return nil
	}

	q := queue.New(nil, executor)

	q.OnFileChanged([]string{"a.py"}, types.OperationTest)
	q.OnFileChanged([]string{"b.py"}, types.OperationBuild)

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return executed == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent != 1 {
		t.Errorf("expected serialized execution, saw %d concurrent runs", maxConcurrent)
	}
}

func TestOperationQueue_FollowUpWhileActive(t *testing.T) {
	release := make(chan struct{})

	var mu sync.Mutex
	var runs []*types.OperationRequest

	executor := func(ctx context.Context, req *types.OperationRequest) error {
		mu.Lock()
		runs = append(runs, req)
		n := len(runs)
		mu.Unlock()

		if n == 1 {
			<-release
		}
		return nil
	}

	q := queue.New(nil, executor)

	q.OnFileChanged([]string{"a.py"}, types.OperationTest)
	q.Start(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 1
	})

	// Changes arriving mid-run collapse into a single follow-up request
	q.OnFileChanged([]string{"b.py"}, types.OperationTest)
	q.OnFileChanged([]string{"c.py"}, types.OperationTest)

	if q.Size() != 1 {
		t.Errorf("expected exactly one follow-up request, got %d", q.Size())
	}

	close(release)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 2
	})

	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	followUp := runs[1]
	if len(followUp.TriggeringFiles) != 2 {
		t.Errorf("expected follow-up to carry both changed files, got %v", followUp.TriggeringFiles)
	}
}

func TestOperationQueue_StopWaitsForActiveRun(t *testing.T) {
	var mu sync.Mutex
	var finished bool

	executor := func(ctx context.Context, req *types.OperationRequest) error {
		time.Sleep(200 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	}

	q := queue.New(nil, executor)

	q.OnFileChanged([]string{"a.py"}, types.OperationTest)
	q.Start(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		return q.Size() == 0
	})

	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("Stop returned before the active run finished")
	}
}

func BenchmarkOperationQueue_OnFileChanged(b *testing.B) {
	q := queue.New(nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.OnFileChanged([]string{"main.py"}, types.OperationTest)
	}
}

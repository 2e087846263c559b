package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu         sync.Mutex
	tasks      []*queue.Task
	processing map[string]bool
	results    map[string]*queue.TaskResult
	dequeueErr error
}

func newFakeQueue(tasks ...*queue.Task) *fakeQueue {
	return &fakeQueue{
		tasks:      tasks,
		processing: make(map[string]bool),
		results:    make(map[string]*queue.TaskResult),
	}
}

func (q *fakeQueue) Enqueue(_ context.Context, p queue.Payload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := p.DocumentID
	q.tasks = append(q.tasks, &queue.Task{ID: id, Payload: p})
	return id, nil
}

func (q *fakeQueue) Dequeue(_ context.Context, timeout time.Duration) (*queue.Task, error) {
	q.mu.Lock()
	if q.dequeueErr != nil {
		err := q.dequeueErr
		q.mu.Unlock()
		return nil, err
	}
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.processing[t.ID] = true
	q.mu.Unlock()
	return t, nil
}

func (q *fakeQueue) CompleteTask(_ context.Context, id string, result map[string]interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, id)
	q.results[id] = &queue.TaskResult{TaskID: id, Status: queue.StatusCompleted, Result: result}
	return nil
}

func (q *fakeQueue) FailTask(_ context.Context, id string, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, id)
	q.results[id] = &queue.TaskResult{TaskID: id, Status: queue.StatusFailed, Error: msg}
	return nil
}

func (q *fakeQueue) GetResult(_ context.Context, id string) (*queue.TaskResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.results[id], nil
}

func (q *fakeQueue) QueueLength(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.tasks)), nil
}

func (q *fakeQueue) ProcessingCount(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.processing)), nil
}

func (q *fakeQueue) IsProcessing(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing[id], nil
}

func (q *fakeQueue) resultCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

func task(id string) *queue.Task {
	return &queue.Task{ID: id, Payload: queue.Payload{DocumentID: "doc-" + id, ObjectKey: "k/" + id}}
}

func TestPoolRecordsOutcomes(t *testing.T) {
	q := newFakeQueue(task("ok"), task("bad"), task("panic"))
	handler := func(_ context.Context, tk *queue.Task) (map[string]interface{}, error) {
		switch tk.ID {
		case "bad":
			return nil, errors.New("boom")
		case "panic":
			panic("unexpected")
		}
		return map[string]interface{}{"chunks_count": 2}, nil
	}

	pool, err := NewPool(Config{Workers: 2, DequeueTimeout: 50 * time.Millisecond}, q, handler, logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.Eventually(t, func() bool { return q.resultCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, pool.Stop())

	res, _ := q.GetResult(context.Background(), "ok")
	assert.Equal(t, queue.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Result["chunks_count"])

	res, _ = q.GetResult(context.Background(), "bad")
	assert.Equal(t, queue.StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Error)

	res, _ = q.GetResult(context.Background(), "panic")
	assert.Equal(t, queue.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "panic")

	n, _ := q.ProcessingCount(context.Background())
	assert.Zero(t, n)
}

func TestPoolStopWaitsForInFlightTask(t *testing.T) {
	q := newFakeQueue(task("slow"))
	started := make(chan struct{})
	handler := func(ctx context.Context, _ *queue.Task) (map[string]interface{}, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil, ctx.Err()
	}

	pool, err := NewPool(Config{Workers: 1}, q, handler, logger.NewTestLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))

	<-started
	cancel()
	require.NoError(t, pool.Stop())

	res, _ := q.GetResult(context.Background(), "slow")
	require.NotNil(t, res)
	assert.Equal(t, queue.StatusCompleted, res.Status)
}

func TestPoolBacksOffOnDequeueError(t *testing.T) {
	q := newFakeQueue()
	q.dequeueErr = errors.New("connection refused")
	log := logger.NewTestLogger()

	pool, err := NewPool(Config{Workers: 1, ErrorBackoff: 200 * time.Millisecond}, q, func(context.Context, *queue.Task) (map[string]interface{}, error) {
		return nil, nil
	}, log)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, pool.Stop())

	errs := log.CountLevel("ERROR")
	assert.GreaterOrEqual(t, errs, 1)
	assert.LessOrEqual(t, errs, 2)
}

func TestPoolStats(t *testing.T) {
	q := newFakeQueue(task("a"), task("b"))
	pool, err := NewPool(Config{Workers: 3}, q, func(context.Context, *queue.Task) (map[string]interface{}, error) {
		return nil, nil
	}, logger.NewNop())
	require.NoError(t, err)

	stats, err := pool.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Workers)
	assert.False(t, stats.Running)
	assert.EqualValues(t, 2, stats.QueueLength)
}

func TestDocumentWorkerRejectsIncompleteTask(t *testing.T) {
	q := newFakeQueue(&queue.Task{ID: "t1", Payload: queue.Payload{DocumentID: "doc"}})
	called := false
	proc := processorFunc(func(context.Context, *queue.Task) (map[string]interface{}, error) {
		called = true
		return nil, nil
	})

	w, err := NewDocumentWorker(Config{Workers: 1}, q, proc, logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return q.resultCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())

	assert.False(t, called)
	res, _ := q.GetResult(context.Background(), "t1")
	assert.Equal(t, queue.StatusFailed, res.Status)
}

type processorFunc func(context.Context, *queue.Task) (map[string]interface{}, error)

func (f processorFunc) Handle(ctx context.Context, t *queue.Task) (map[string]interface{}, error) {
	return f(ctx, t)
}

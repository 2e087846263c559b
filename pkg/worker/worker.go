package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
	"github.com/panjf2000/ants/v2"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

// Handler processes one task. The returned map is stored as the task result.
type Handler func(ctx context.Context, task *queue.Task) (map[string]interface{}, error)

type Config struct {
	Workers        int
	DequeueTimeout time.Duration
	ErrorBackoff   time.Duration
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = 2 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
}

// Stats is a snapshot of pool and queue occupancy.
type Stats struct {
	Workers     int   `json:"workers"`
	Running     bool  `json:"running"`
	QueueLength int64 `json:"queue_length"`
	Processing  int64 `json:"processing"`
}

// Pool runs a fixed number of consumer loops on an ants pool. Each loop
// dequeues one task at a time and records its outcome on the queue.
type Pool struct {
	cfg     Config
	queue   queue.Queue
	handler Handler
	logger  logger.Logger

	mu       sync.Mutex
	pool     *ants.Pool
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func NewPool(cfg Config, q queue.Queue, handler Handler, log logger.Logger) (*Pool, error) {
	if q == nil || handler == nil {
		return nil, errors.New("worker pool requires a queue and a handler")
	}
	cfg.setDefaults()
	return &Pool{
		cfg:     cfg,
		queue:   q,
		handler: handler,
		logger:  log.Named("worker"),
	}, nil
}

// Start launches the consumer loops. Cancelling ctx stops the pool.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}

	pool, err := ants.NewPool(p.cfg.Workers)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.pool = pool
	stop := make(chan struct{})
	p.stopChan = stop
	p.running = true

	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		p.wg.Add(1)
		if err := pool.Submit(func() {
			defer p.wg.Done()
			p.loop(ctx, id, stop)
		}); err != nil {
			p.wg.Done()
			return fmt.Errorf("failed to start worker %d: %w", id, err)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop()
		case <-stop:
		}
	}()

	p.logger.Info("Worker pool started", logger.Int("workers", p.cfg.Workers))
	return nil
}

// Stop signals every loop, waits for in-flight tasks, then releases the pool.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	pool := p.pool
	p.mu.Unlock()

	p.wg.Wait()
	pool.Release()
	p.logger.Info("Worker pool stopped")
	return nil
}

func (p *Pool) stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.running
}

func (p *Pool) loop(ctx context.Context, id int, stop <-chan struct{}) {
	log := p.logger.With(logger.Int("worker_id", id))
	// a popped task must always be finished, so neither the blocking pop nor
	// the handler observe shutdown
	taskCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-stop:
			return
		default:
		}

		task, err := p.queue.Dequeue(taskCtx, p.cfg.DequeueTimeout)
		if err != nil {
			log.Error("Failed to dequeue task", logger.Error(err))
			if task != nil {
				p.run(taskCtx, log, task)
				continue
			}
			select {
			case <-stop:
				return
			case <-time.After(p.cfg.ErrorBackoff):
			}
			continue
		}
		if task == nil {
			continue
		}

		p.run(taskCtx, log, task)
	}
}

func (p *Pool) run(ctx context.Context, log logger.Logger, task *queue.Task) {
	ctx = logger.WithTaskID(ctx, task.ID)
	log = log.With(logger.String("task_id", task.ID), logger.String("doc_id", task.Payload.DocumentID))
	start := time.Now()

	result, err := p.invoke(ctx, task)
	if err != nil {
		log.Error("Task failed", logger.Error(err), logger.Duration("elapsed", time.Since(start)))
		if ferr := p.queue.FailTask(ctx, task.ID, err.Error()); ferr != nil {
			log.Error("Failed to record task failure", logger.Error(ferr))
		}
		return
	}

	log.Info("Task completed", logger.Duration("elapsed", time.Since(start)))
	if cerr := p.queue.CompleteTask(ctx, task.ID, result); cerr != nil {
		log.Error("Failed to record task result", logger.Error(cerr))
	}
}

func (p *Pool) invoke(ctx context.Context, task *queue.Task) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task handler panicked",
				logger.String("task_id", task.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, task)
}

// Stats reports the worker count alongside queue depth and in-flight tasks.
func (p *Pool) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Workers: p.cfg.Workers, Running: !p.stopped()}

	n, err := p.queue.QueueLength(ctx)
	if err != nil {
		return stats, err
	}
	stats.QueueLength = n

	n, err = p.queue.ProcessingCount(ctx)
	if err != nil {
		return stats, err
	}
	stats.Processing = n
	return stats, nil
}

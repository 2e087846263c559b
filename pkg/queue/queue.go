// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// QueueName is the Redis list tasks are pushed to and popped from.
	QueueName = "document_processing_queue"
	// ProcessingSet holds the ids of tasks currently held by a worker.
	ProcessingSet = "document_processing_active"
	// ResultPrefix prefixes the per-task result key.
	ResultPrefix = "task_result:"

	DefaultResultTTL = time.Hour
)

// 任务状态
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	// StatusUnknown covers pending tasks and expired results alike.
	StatusUnknown = "unknown"
)

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, payload Payload) (string, error)
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID string, result map[string]interface{}) error
	FailTask(ctx context.Context, taskID string, errMsg string) error
	GetResult(ctx context.Context, taskID string) (*TaskResult, error)
	QueueLength(ctx context.Context) (int64, error)
	ProcessingCount(ctx context.Context) (int64, error)
	IsProcessing(ctx context.Context, taskID string) (bool, error)
}

// Payload 是文档处理任务的内容
type Payload struct {
	DocumentID string                 `json:"doc_id"`
	ObjectKey  string                 `json:"object_key"`
	Filename   string                 `json:"filename"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	// Web is set for crawled documents, which have no stored object.
	Web *WebSource `json:"web,omitempty"`
}

// WebSource 描述一次网页抓取
type WebSource struct {
	URL         string `json:"url"`
	FollowLinks bool   `json:"follow_links"`
	MaxDepth    int    `json:"max_depth"`
}

// Task 定义任务结构
type Task struct {
	ID        string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Payload   Payload   `json:"payload"`
}

// TaskResult is the terminal record stored under task_result:<id>.
type TaskResult struct {
	TaskID      string                 `json:"task_id"`
	Status      string                 `json:"status"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CompletedAt time.Time              `json:"completed_at"`
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	Name      string
	ResultTTL time.Duration
}

// RedisQueue implements Queue on a Redis list, a set of in-flight ids and
// expiring result keys.
type RedisQueue struct {
	redis     redis.UniversalClient
	name      string
	resultTTL time.Duration
	now       func() time.Time
}

// NewRedisQueue 创建新的队列实例
func NewRedisQueue(client redis.UniversalClient, cfg QueueConfig) *RedisQueue {
	if cfg.Name == "" {
		cfg.Name = QueueName
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	return &RedisQueue{
		redis:     client,
		name:      cfg.Name,
		resultTTL: cfg.ResultTTL,
		now:       time.Now,
	}
}

// Enqueue 将任务加入队列
func (q *RedisQueue) Enqueue(ctx context.Context, payload Payload) (string, error) {
	task := Task{
		ID:        uuid.NewString(),
		CreatedAt: q.now().UTC(),
		Status:    StatusPending,
		Payload:   payload,
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.redis.RPush(ctx, q.name, data).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task.ID, nil
}

// Dequeue blocks up to timeout for the next task. It returns nil, nil when
// the timeout elapses with the queue empty.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.redis.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	// BLPOP returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply length %d", len(res))
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	task.Status = StatusProcessing

	if err := q.redis.SAdd(ctx, ProcessingSet, task.ID).Err(); err != nil {
		return &task, fmt.Errorf("failed to mark task processing: %w", err)
	}
	return &task, nil
}

// CompleteTask stores a completed result and clears the in-flight marker.
func (q *RedisQueue) CompleteTask(ctx context.Context, taskID string, result map[string]interface{}) error {
	return q.finish(ctx, &TaskResult{
		TaskID:      taskID,
		Status:      StatusCompleted,
		Result:      result,
		CompletedAt: q.now().UTC(),
	})
}

// FailTask stores a failed result and clears the in-flight marker.
func (q *RedisQueue) FailTask(ctx context.Context, taskID string, errMsg string) error {
	return q.finish(ctx, &TaskResult{
		TaskID:      taskID,
		Status:      StatusFailed,
		Error:       errMsg,
		CompletedAt: q.now().UTC(),
	})
}

func (q *RedisQueue) finish(ctx context.Context, result *TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := q.redis.TxPipeline()
	pipe.SRem(ctx, ProcessingSet, result.TaskID)
	pipe.Set(ctx, ResultPrefix+result.TaskID, data, q.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// GetResult returns the stored result, or nil when it is absent or expired.
func (q *RedisQueue) GetResult(ctx context.Context, taskID string) (*TaskResult, error) {
	data, err := q.redis.Get(ctx, ResultPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

func (q *RedisQueue) QueueLength(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) ProcessingCount(ctx context.Context) (int64, error) {
	n, err := q.redis.SCard(ctx, ProcessingSet).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing count: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) IsProcessing(ctx context.Context, taskID string) (bool, error) {
	ok, err := q.redis.SIsMember(ctx, ProcessingSet, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processing set: %w", err)
	}
	return ok, nil
}

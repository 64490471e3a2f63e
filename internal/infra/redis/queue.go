package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"omr-scan-service/internal/domain"
)

// Queue list names shared with the vision worker.
const (
	DefaultJobQueue    = "scan_jobs"
	DefaultResultQueue = "scan_results"
)

// JobQueue pushes vision jobs onto the outbound Redis list the worker
// block-pops from.
type JobQueue struct {
	client *redis.Client
	key    string
}

func NewJobQueue(client *redis.Client, key string) *JobQueue {
	if key == "" {
		key = DefaultJobQueue
	}
	return &JobQueue{client: client, key: key}
}

func (q *JobQueue) Enqueue(ctx context.Context, job domain.ScanJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, payload).Err()
}

// ResultQueue block-pops detection results the worker pushes back.
type ResultQueue struct {
	client *redis.Client
	key    string
}

func NewResultQueue(client *redis.Client, key string) *ResultQueue {
	if key == "" {
		key = DefaultResultQueue
	}
	return &ResultQueue{client: client, key: key}
}

// Pop blocks for up to timeout; (nil, nil) means the timeout elapsed with no
// message. The worker LPUSHes results, so the oldest message sits at the tail.
func (q *ResultQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	vals, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(vals) < 2 {
		return nil, nil
	}
	return []byte(vals[1]), nil
}

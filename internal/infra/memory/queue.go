package memory

import (
	"context"
	"encoding/json"
	"time"

	"omr-scan-service/internal/domain"
)

// Queue is a channel-backed message list standing in for a Redis list in
// tests and demo mode. One instance plays either the job or the result role.
type Queue struct {
	ch chan []byte
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 64
	}
	return &Queue{ch: make(chan []byte, size)}
}

// Enqueue pushes an outbound vision job.
func (q *Queue) Enqueue(ctx context.Context, job domain.ScanJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.Push(ctx, payload)
}

// Push appends a raw payload. Tests use it to simulate the vision worker
// publishing a detection result.
func (q *Queue) Push(ctx context.Context, payload []byte) error {
	select {
	case q.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks for up to timeout and returns (nil, nil) when no message arrived,
// mirroring the Redis blocking-pop contract the consumer is written against.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-q.ch:
		return payload, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of buffered messages (test helper).
func (q *Queue) Len() int {
	return len(q.ch)
}

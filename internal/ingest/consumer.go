// Package ingest bridges asynchronous detection results from the vision
// worker's result queue into scan records.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"omr-scan-service/internal/app"
	"omr-scan-service/internal/domain"
)

// ResultQueue is a blocking-pop message source. Pop returns (nil, nil) when
// the timeout elapses with no message.
type ResultQueue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Consumer is the single background worker applying detection results to scan
// records. One message at a time; updates are applied in the order messages
// are received.
//
// Unmatched or malformed messages are logged and dropped without retry: the
// record may have been deleted by a collaborator, and upstream delivery is
// at-least-once, so dropping here is the accepted at-most-once-effective
// policy. There is no dead-letter path.
type Consumer struct {
	queue      ResultQueue
	scans      *app.ScanService
	popTimeout time.Duration
	backoff    time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewConsumer builds a consumer. popTimeout bounds each blocking pop so the
// stop signal is observed between iterations; backoff is the pause after a
// transient queue or store error.
func NewConsumer(queue ResultQueue, scans *app.ScanService, popTimeout, backoff time.Duration) *Consumer {
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Consumer{
		queue:      queue,
		scans:      scans,
		popTimeout: popTimeout,
		backoff:    backoff,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the worker loop.
func (c *Consumer) Start() {
	go c.run()
}

// Stop signals the loop to exit after the current iteration and waits for it.
func (c *Consumer) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Consumer) run() {
	defer close(c.done)
	log.Printf("ingest consumer started (pop timeout %s)", c.popTimeout)

	ctx := context.Background()
	for {
		select {
		case <-c.stop:
			log.Printf("ingest consumer stopped")
			return
		default:
		}

		payload, err := c.queue.Pop(ctx, c.popTimeout)
		if err != nil {
			log.Printf("ingest: queue pop failed: %v", err)
			c.pause()
			continue
		}
		if payload == nil {
			continue
		}
		c.handle(ctx, payload)
	}
}

// handle applies one message. Parse and lookup failures drop the message only.
func (c *Consumer) handle(ctx context.Context, payload []byte) {
	var res domain.DetectionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		log.Printf("ingest: dropping malformed result message: %v (payload %s)", err, truncate(payload, 200))
		return
	}
	if res.ScanID == "" {
		log.Printf("ingest: dropping result message without scan_id (payload %s)", truncate(payload, 200))
		return
	}

	if err := c.scans.ApplyDetectionResult(ctx, res); err != nil {
		if errors.Is(err, domain.ErrScanNotFound) {
			log.Printf("ingest: no scan record for %s, dropping result", res.ScanID)
			return
		}
		log.Printf("ingest: applying result for %s failed: %v", res.ScanID, err)
		c.pause()
	}
}

// pause sleeps for the backoff interval unless a stop arrives first.
func (c *Consumer) pause() {
	select {
	case <-time.After(c.backoff):
	case <-c.stop:
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package queue is the Redis task broker between the HTTP control
// plane and the worker pool. Delivery is at-least-once: a dequeue
// atomically moves the payload onto a processing list, and the worker
// acknowledges only after the job reached a terminal status. Payloads
// left on the processing list by a crashed worker are recovered on
// startup.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
)

const (
	// TaskVersion guards the wire payload against rolling upgrades.
	TaskVersion = 1

	defaultQueueKey      = "loadgauge:tasks"
	defaultProcessingKey = "loadgauge:tasks:processing"
)

var (
	ErrVersionMismatch = errors.New("task payload version mismatch")
	ErrMalformedTask   = errors.New("malformed task payload")
)

// Task is the wire payload for one unit of work.
type Task struct {
	Version    int       `json:"version"`
	ID         uuid.UUID `json:"id"`
	Kind       jobs.Kind `json:"kind"`
	JobID      uuid.UUID `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask builds a task for a job.
func NewTask(kind jobs.Kind, jobID uuid.UUID) Task {
	return Task{
		Version:    TaskVersion,
		ID:         uuid.New(),
		Kind:       kind,
		JobID:      jobID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Delivery is one dequeued task plus the raw payload needed to
// acknowledge it.
type Delivery struct {
	Task Task

	raw string
}

// Broker enqueues and dequeues tasks over Redis lists.
type Broker struct {
	client        *redis.Client
	queueKey      string
	processingKey string
}

// NewBroker connects to Redis at the given URL.
func NewBroker(url string) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return NewBrokerWithClient(redis.NewClient(opts)), nil
}

// NewBrokerWithClient wraps an existing client. Used by tests with
// miniredis.
func NewBrokerWithClient(client *redis.Client) *Broker {
	return &Broker{
		client:        client,
		queueKey:      defaultQueueKey,
		processingKey: defaultProcessingKey,
	}
}

// Ping verifies the broker is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	return nil
}

// Close releases the client.
func (b *Broker) Close() error {
	if closeErr := b.client.Close(); closeErr != nil {
		return fmt.Errorf("close redis: %w", closeErr)
	}

	return nil
}

// Enqueue pushes a task onto the queue.
func (b *Broker) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if err := b.client.LPush(ctx, b.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	return nil
}

// Dequeue blocks up to timeout for a task and moves it onto the
// processing list in the same Redis operation. Returns nil when the
// timeout elapses with nothing to do.
func (b *Broker) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := b.client.BRPopLPush(ctx, b.queueKey, b.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}

	var task Task
	if unmarshalErr := json.Unmarshal([]byte(raw), &task); unmarshalErr != nil {
		// Drop the payload so it cannot poison the queue forever.
		_ = b.client.LRem(ctx, b.processingKey, 1, raw).Err()

		return nil, fmt.Errorf("%w: %s", ErrMalformedTask, unmarshalErr)
	}

	if task.Version != TaskVersion {
		_ = b.client.LRem(ctx, b.processingKey, 1, raw).Err()

		return nil, fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, task.Version, TaskVersion)
	}

	return &Delivery{Task: task, raw: raw}, nil
}

// Ack removes an in-flight payload from the processing list. Call only
// after the job row holds a terminal status.
func (b *Broker) Ack(ctx context.Context, delivery *Delivery) error {
	if err := b.client.LRem(ctx, b.processingKey, 1, delivery.raw).Err(); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}

	return nil
}

// Recover moves any payloads stranded on the processing list back onto
// the queue. Run once at worker startup, before consuming. Returns the
// number of recovered payloads.
func (b *Broker) Recover(ctx context.Context) (int, error) {
	recovered := 0

	for {
		_, err := b.client.RPopLPush(ctx, b.processingKey, b.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}

		if err != nil {
			return recovered, fmt.Errorf("recover stranded tasks: %w", err)
		}

		recovered++
	}
}

// Heartbeat marks a worker alive for ttl. Health checks treat a worker
// whose key expired as gone.
func (b *Broker) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	key := "loadgauge:workers:" + workerID

	if err := b.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("worker heartbeat: %w", err)
	}

	return nil
}

// LiveWorkers returns the ids of workers with an unexpired heartbeat.
func (b *Broker) LiveWorkers(ctx context.Context) ([]string, error) {
	keys, err := b.client.Keys(ctx, "loadgauge:workers:*").Result()
	if err != nil {
		return nil, fmt.Errorf("list worker heartbeats: %w", err)
	}

	workers := make([]string, 0, len(keys))
	for _, key := range keys {
		workers = append(workers, strings.TrimPrefix(key, "loadgauge:workers:"))
	}

	return workers, nil
}

// Depth returns the number of queued (not in-flight) tasks.
func (b *Broker) Depth(ctx context.Context) (int64, error) {
	depth, err := b.client.LLen(ctx, b.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}

	return depth, nil
}

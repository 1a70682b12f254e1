// Package worker runs the background task pool. Workers consume tasks
// from the broker with at-least-once delivery, drive job rows through
// the state machine, and acknowledge a task only after its job reached
// a terminal status, so a crash before the ack redelivers the task.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
	"github.com/Sumatoshi-tech/loadgauge/pkg/observability"
)

const (
	dequeueTimeout    = 5 * time.Second
	heartbeatInterval = 15 * time.Second
	heartbeatTTL      = 45 * time.Second
)

var (
	ErrNoHandler         = errors.New("no handler for task kind")
	ErrHardLimitExceeded = errors.New("task exceeded time limit")
)

// Handler executes one task kind. The context carries the soft time
// limit as its deadline; handlers must return promptly once it expires.
type Handler interface {
	Run(ctx context.Context, task queue.Task) (json.RawMessage, error)
}

// Options configures a pool.
type Options struct {
	Count         int
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
}

// Pool consumes tasks with a fixed number of workers.
type Pool struct {
	id       string
	broker   *queue.Broker
	db       *store.DB
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options
	handlers map[jobs.Kind]Handler
}

// NewPool builds a pool. Metrics may be nil.
func NewPool(broker *queue.Broker, db *store.DB, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pool {
	return &Pool{
		id:       uuid.NewString(),
		broker:   broker,
		db:       db,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		handlers: make(map[jobs.Kind]Handler),
	}
}

// Register installs the handler for a task kind.
func (p *Pool) Register(kind jobs.Kind, handler Handler) {
	p.handlers[kind] = handler
}

// Run recovers stranded tasks, then consumes until the context is
// cancelled. In-flight tasks finish before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	recovered, err := p.broker.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	if recovered > 0 {
		p.logger.InfoContext(ctx, "requeued stranded tasks", slog.Int("count", recovered))
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		p.heartbeatLoop(ctx)
	}()

	for i := 0; i < p.opts.Count; i++ {
		wg.Add(1)

		go func(workerNum int) {
			defer wg.Done()
			p.consumeLoop(ctx, workerNum)
		}(i)
	}

	wg.Wait()

	return nil
}

func (p *Pool) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		if err := p.broker.Heartbeat(ctx, p.id, heartbeatTTL); err != nil && ctx.Err() == nil {
			p.logger.WarnContext(ctx, "heartbeat failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) consumeLoop(ctx context.Context, workerNum int) {
	logger := p.logger.With(slog.Int("worker", workerNum))

	for ctx.Err() == nil {
		delivery, err := p.broker.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() == nil {
				logger.WarnContext(ctx, "dequeue failed", slog.String("error", err.Error()))
			}

			continue
		}

		if delivery == nil {
			continue
		}

		p.process(ctx, logger, delivery)
	}
}

// process drives one delivery through the job state machine. Every step
// runs against a fresh handle from the pool's connection set.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, delivery *queue.Delivery) {
	task := delivery.Task
	logger = logger.With(slog.String("task_id", task.ID.String()), slog.String("kind", string(task.Kind)))

	job, err := p.db.Jobs().Get(ctx, task.JobID)
	if err != nil {
		logger.ErrorContext(ctx, "load job failed", slog.String("error", err.Error()))

		if errors.Is(err, store.ErrNotFound) {
			// Nothing to run against; drop the task.
			p.ack(ctx, logger, delivery)
		}

		return
	}

	// Redelivery of an already-finished task is a no-op.
	if job.Status.Terminal() {
		logger.InfoContext(ctx, "job already terminal", slog.String("status", string(job.Status)))
		p.ack(ctx, logger, delivery)

		return
	}

	// An in_progress job here means a worker crashed mid-flight and the
	// task was redelivered; keep the original started_at and re-run.
	if job.Status == jobs.StatusPending {
		if startErr := p.transition(ctx, job, func(now time.Time) error { return job.Start(now) }); startErr != nil {
			logger.ErrorContext(ctx, "start job failed", slog.String("error", startErr.Error()))

			return
		}
	}

	started := time.Now()
	result, runErr := p.execute(ctx, task)

	var terminalErr error

	if runErr != nil {
		logger.WarnContext(ctx, "task failed",
			slog.String("error", runErr.Error()),
			slog.Duration("duration", time.Since(started)),
		)

		terminalErr = p.transition(ctx, job, func(now time.Time) error { return job.Fail(now, runErr.Error()) })
	} else {
		logger.InfoContext(ctx, "task completed", slog.Duration("duration", time.Since(started)))

		terminalErr = p.transition(ctx, job, func(now time.Time) error { return job.Complete(now, result) })
	}

	if terminalErr != nil {
		// Leave the task unacked so it is redelivered.
		logger.ErrorContext(ctx, "write terminal status failed", slog.String("error", terminalErr.Error()))

		return
	}

	if p.metrics != nil {
		p.metrics.RecordTask(ctx, string(task.Kind), string(job.Status), time.Since(started))
	}

	p.ack(ctx, logger, delivery)
}

// execute runs the handler under the soft limit, enforcing the hard
// limit from outside. A handler that overruns the soft limit sees its
// context expire; one that ignores it is abandoned at the hard limit.
func (p *Pool) execute(ctx context.Context, task queue.Task) (json.RawMessage, error) {
	handler, ok := p.handlers[task.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, task.Kind)
	}

	softCtx, cancel := context.WithTimeout(ctx, p.opts.SoftTimeLimit)
	defer cancel()

	type outcome struct {
		result json.RawMessage
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		result, err := handler.Run(softCtx, task)
		done <- outcome{result: result, err: err}
	}()

	hardTimer := time.NewTimer(p.opts.HardTimeLimit)
	defer hardTimer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-hardTimer.C:
		cancel()

		return nil, ErrHardLimitExceeded
	}
}

func (p *Pool) transition(ctx context.Context, job *jobs.Job, apply func(time.Time) error) error {
	prev := job.Status

	if err := apply(time.Now().UTC()); err != nil {
		return err
	}

	if err := p.db.Jobs().UpdateStatus(ctx, job, prev); err != nil {
		return err
	}

	return nil
}

func (p *Pool) ack(ctx context.Context, logger *slog.Logger, delivery *queue.Delivery) {
	if err := p.broker.Ack(ctx, delivery); err != nil {
		logger.WarnContext(ctx, "ack failed", slog.String("error", err.Error()))
	}
}

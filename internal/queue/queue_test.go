package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
)

const dequeueTimeout = 50 * time.Millisecond

func newBroker(t *testing.T) (*queue.Broker, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return queue.NewBrokerWithClient(client), server
}

func TestBroker_EnqueueDequeueAck(t *testing.T) {
	t.Parallel()

	broker, _ := newBroker(t)
	ctx := context.Background()

	task := queue.NewTask(jobs.KindIngestion, uuid.New())
	require.NoError(t, broker.Enqueue(ctx, task))

	depth, err := broker.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	delivery, err := broker.Dequeue(ctx, dequeueTimeout)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, task.ID, delivery.Task.ID)
	assert.Equal(t, jobs.KindIngestion, delivery.Task.Kind)
	assert.Equal(t, task.JobID, delivery.Task.JobID)

	depth, err = broker.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "dequeued payload left the queue")

	require.NoError(t, broker.Ack(ctx, delivery))

	recovered, err := broker.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered, "acked payload is gone from processing")
}

func TestBroker_DequeueTimeout(t *testing.T) {
	t.Parallel()

	broker, _ := newBroker(t)

	delivery, err := broker.Dequeue(context.Background(), dequeueTimeout)
	require.NoError(t, err)
	assert.Nil(t, delivery)
}

func TestBroker_RecoverRequeuesUnacked(t *testing.T) {
	t.Parallel()

	broker, _ := newBroker(t)
	ctx := context.Background()

	task := queue.NewTask(jobs.KindAnalysis, uuid.New())
	require.NoError(t, broker.Enqueue(ctx, task))

	delivery, err := broker.Dequeue(ctx, dequeueTimeout)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	// Simulate a worker crash: no ack.
	recovered, err := broker.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	redelivery, err := broker.Dequeue(ctx, dequeueTimeout)
	require.NoError(t, err)
	require.NotNil(t, redelivery)
	assert.Equal(t, task.ID, redelivery.Task.ID, "unacked task comes back")
}

func TestBroker_MalformedPayloadDropped(t *testing.T) {
	t.Parallel()

	broker, server := newBroker(t)
	ctx := context.Background()

	_, err := server.Lpush("loadgauge:tasks", "{not json")
	require.NoError(t, err)

	_, err = broker.Dequeue(ctx, dequeueTimeout)
	require.ErrorIs(t, err, queue.ErrMalformedTask)

	recovered, err := broker.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered, "poison payload must not be requeued")
}

func TestBroker_VersionMismatchDropped(t *testing.T) {
	t.Parallel()

	broker, server := newBroker(t)
	ctx := context.Background()

	_, err := server.Lpush("loadgauge:tasks", `{"version":99,"id":"`+uuid.NewString()+`","kind":"ingestion","job_id":"`+uuid.NewString()+`"}`)
	require.NoError(t, err)

	_, err = broker.Dequeue(ctx, dequeueTimeout)
	require.ErrorIs(t, err, queue.ErrVersionMismatch)
}

func TestBroker_FIFOOrder(t *testing.T) {
	t.Parallel()

	broker, _ := newBroker(t)
	ctx := context.Background()

	first := queue.NewTask(jobs.KindIngestion, uuid.New())
	second := queue.NewTask(jobs.KindQA, uuid.New())

	require.NoError(t, broker.Enqueue(ctx, first))
	require.NoError(t, broker.Enqueue(ctx, second))

	delivery, err := broker.Dequeue(ctx, dequeueTimeout)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, first.ID, delivery.Task.ID)

	delivery, err = broker.Dequeue(ctx, dequeueTimeout)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, second.ID, delivery.Task.ID)
}

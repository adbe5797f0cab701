package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T, visibility time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := NewRedisQueue(context.Background(), client, "extraction", "worker-1", visibility)
	require.NoError(t, err)
	q.block = 50 * time.Millisecond
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisQueueEnqueueDequeueAck(t *testing.T) {
	q := newTestRedisQueue(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: "doc-1", OwnerID: "owner-1"}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, d.Attempt)

	job, err := DecodeJob(d.Body)
	require.NoError(t, err)
	require.Equal(t, "doc-1", job.DocumentID)

	require.NoError(t, q.Ack(ctx, d))

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestRedisQueueNackRequeuesWithAttempt(t *testing.T) {
	q := newTestRedisQueue(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: "doc-1"}))
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, first))

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, 2, second.Attempt)
	require.Equal(t, first.Body, second.Body)
}

func TestRedisQueueReclaimsExpiredDelivery(t *testing.T) {
	q := newTestRedisQueue(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: "doc-1"}))
	lost, err := q.Dequeue(ctx)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, lost.ID, again.ID)
	require.Equal(t, 2, again.Attempt)
}

func TestRedisQueueDequeueHonorsContext(t *testing.T) {
	q := newTestRedisQueue(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}

func TestRedisQueueRepeatedReclaimRaisesAttempt(t *testing.T) {
	q := newTestRedisQueue(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: "doc-1"}))
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Attempt)

	time.Sleep(50 * time.Millisecond)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, second.Attempt)

	time.Sleep(50 * time.Millisecond)
	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, third.ID)
	require.Equal(t, 3, third.Attempt)

	require.NoError(t, q.Ack(ctx, third))
	left, err := q.client.HLen(ctx, q.reclaimKey()).Result()
	require.NoError(t, err)
	require.Zero(t, left)
}

func TestRedisQueueSettleAfterReclaimByOtherConsumer(t *testing.T) {
	q := newTestRedisQueue(t, 10*time.Millisecond)
	ctx := context.Background()
	other, err := NewRedisQueue(ctx, q.client, q.stream, "worker-2", 10*time.Millisecond)
	require.NoError(t, err)
	other.block = 50 * time.Millisecond

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: "doc-1"}))
	lost, err := q.Dequeue(ctx)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	taken, err := other.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, lost.ID, taken.ID)

	require.ErrorIs(t, q.Nack(ctx, lost), ErrDeliveryExpired)
	require.ErrorIs(t, q.Ack(ctx, lost), ErrDeliveryExpired)

	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), length)

	require.NoError(t, other.Ack(ctx, taken))
	require.ErrorIs(t, other.Ack(ctx, taken), ErrDeliveryExpired)
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisBodyField    = "body"
	redisAttemptField = "attempt"
	redisBlock        = time.Second
)

// RedisQueue is a Queue on a Redis stream with one consumer group. Entries
// left pending longer than the visibility timeout are reclaimed with XAUTOCLAIM.
type RedisQueue struct {
	client     redis.UniversalClient
	stream     string
	group      string
	consumer   string
	visibility time.Duration
	block      time.Duration
}

type redisToken struct {
	attempt int
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisQueue ensures the consumer group exists and returns the queue.
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, stream, consumer string, visibility time.Duration) (*RedisQueue, error) {
	if strings.TrimSpace(stream) == "" {
		return nil, fmt.Errorf("redis stream name is required")
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	group := stream + ":workers"

	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis create group %s: %w", group, err)
	}

	return &RedisQueue{
		client:     client,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		visibility: visibility,
		block:      redisBlock,
	}, nil
}

// Enqueue appends the job to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := encodeForSend(job)
	if err != nil {
		return err
	}
	return q.add(ctx, q.client, payload, 0)
}

// Dequeue first reclaims an expired pending entry, then reads new ones.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.visibility,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, q.wrap(ctx, "xautoclaim", err)
		}
		if len(claimed) > 0 {
			reclaims, err := q.client.HIncrBy(ctx, q.reclaimKey(), claimed[0].ID, 1).Result()
			if err != nil {
				return nil, q.wrap(ctx, "hincrby", err)
			}
			return q.delivery(claimed[0], int(reclaims)), nil
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, q.wrap(ctx, "xreadgroup", err)
		}
		for _, s := range streams {
			if len(s.Messages) > 0 {
				return q.delivery(s.Messages[0], 0), nil
			}
		}
	}
}

// Ack acknowledges and deletes the entry. It returns ErrDeliveryExpired when
// the entry was reclaimed by another consumer or already settled.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.checkOwned(ctx, d); err != nil {
		return err
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, d.ID)
		pipe.XDel(ctx, q.stream, d.ID)
		pipe.HDel(ctx, q.reclaimKey(), d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ack id=%s: %w", d.ID, err)
	}
	return nil
}

// Nack re-adds the payload and acks the old entry in one transaction so the
// job is readable again right away.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery) error {
	if err := q.checkOwned(ctx, d); err != nil {
		return err
	}
	tok, _ := d.token.(redisToken)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.add(ctx, pipe, d.Body, tok.attempt); err != nil {
			return err
		}
		pipe.XAck(ctx, q.stream, q.group, d.ID)
		pipe.XDel(ctx, q.stream, d.ID)
		pipe.HDel(ctx, q.reclaimKey(), d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis nack id=%s: %w", d.ID, err)
	}
	return nil
}

// checkOwned verifies the entry is still pending on this consumer.
func (q *RedisQueue) checkOwned(ctx context.Context, d *Delivery) error {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  d.ID,
		End:    d.ID,
		Count:  1,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis xpending id=%s: %w", d.ID, err)
	}
	if len(pending) == 0 || pending[0].Consumer != q.consumer {
		return ErrDeliveryExpired
	}
	return nil
}

func (q *RedisQueue) reclaimKey() string {
	return q.stream + ":reclaims"
}

// Close releases the client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) add(ctx context.Context, cmd redis.Cmdable, payload []byte, priorAttempts int) error {
	err := cmd.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			redisBodyField:    string(payload),
			redisAttemptField: strconv.Itoa(priorAttempts),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

func (q *RedisQueue) delivery(msg redis.XMessage, extra int) *Delivery {
	prior := 0
	if raw, ok := msg.Values[redisAttemptField].(string); ok {
		prior, _ = strconv.Atoi(raw)
	}
	attempt := prior + 1 + extra
	body, _ := msg.Values[redisBodyField].(string)
	return &Delivery{
		ID:      msg.ID,
		Body:    []byte(body),
		Attempt: attempt,
		token:   redisToken{attempt: attempt},
	}
}

func (q *RedisQueue) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

var _ Queue = (*RedisQueue)(nil)

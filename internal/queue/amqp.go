package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpPublisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// AMQPQueue is a Queue on a durable RabbitMQ queue with manual acks. The
// broker redelivers unacked messages when a consumer channel drops.
type AMQPQueue struct {
	conn       *amqp.Connection
	pubCh      *amqp.Channel
	consumeCh  *amqp.Channel
	publisher  amqpPublisher
	deliveries <-chan amqp.Delivery
	queue      string

	mu     sync.Mutex
	closed bool
}

// NewAMQPQueue dials url, declares a durable queue, and starts a consumer
// with the given prefetch.
func NewAMQPQueue(url, queueName string, prefetch int) (*AMQPQueue, error) {
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		return nil, fmt.Errorf("amqp queue name is required")
	}
	if prefetch < 1 {
		prefetch = 1
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	q := &AMQPQueue{conn: conn, queue: queueName}
	if err := q.setup(prefetch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *AMQPQueue) setup(prefetch int) error {
	pubCh, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if _, err := pubCh.QueueDeclare(
		q.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := pubCh.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}

	consumeCh, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := consumeCh.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := consumeCh.Consume(
		q.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.pubCh = pubCh
	q.consumeCh = consumeCh
	q.publisher = pubCh
	q.deliveries = deliveries
	return nil
}

// Enqueue publishes a persistent message and waits for the broker confirm.
func (q *AMQPQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := encodeForSend(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	confirm, err := q.publisher.PublishWithDeferredConfirmWithContext(ctx, "", q.queue, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.DocumentID,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("amqp publish nacked by broker")
	}
	return nil
}

// Dequeue waits for the next broker delivery.
func (q *AMQPQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		return &Delivery{
			ID:      d.MessageId,
			Body:    d.Body,
			Attempt: amqpAttempt(d),
			token:   d,
		}, nil
	}
}

// Ack acknowledges a single delivery.
func (q *AMQPQueue) Ack(ctx context.Context, d *Delivery) error {
	raw, ok := d.token.(amqp.Delivery)
	if !ok {
		return ErrDeliveryExpired
	}
	if err := raw.Ack(false); err != nil {
		return fmt.Errorf("amqp ack tag=%d: %w", raw.DeliveryTag, err)
	}
	return nil
}

// Nack returns the delivery to the queue for redelivery.
func (q *AMQPQueue) Nack(ctx context.Context, d *Delivery) error {
	raw, ok := d.token.(amqp.Delivery)
	if !ok {
		return ErrDeliveryExpired
	}
	if err := raw.Nack(false, true); err != nil {
		return fmt.Errorf("amqp nack tag=%d: %w", raw.DeliveryTag, err)
	}
	return nil
}

// Close shuts both channels and the connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.consumeCh != nil {
		_ = q.consumeCh.Close()
	}
	if q.pubCh != nil {
		_ = q.pubCh.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// amqpAttempt prefers the quorum-queue delivery count and falls back to the
// redelivered flag on classic queues.
func amqpAttempt(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

var _ Queue = (*AMQPQueue)(nil)

package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	sqsDefaultRegion = "us-east-1"
	sqsWaitSeconds   = 20
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue is a Queue backed by an SQS standard queue. Visibility timeout
// and redelivery are handled by SQS itself.
type SQSQueue struct {
	client     SQSAPI
	queueURL   string
	visibility int32
	waitTime   int32
}

// NewSQSQueue loads AWS config and builds an SQS-backed queue for queueURL.
func NewSQSQueue(ctx context.Context, region, queueURL string, visibility time.Duration) (*SQSQueue, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	if strings.TrimSpace(region) == "" {
		region = sqsDefaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSQSQueueWithClient(sqs.NewFromConfig(cfg), queueURL, visibility), nil
}

// NewSQSQueueWithClient wraps an existing client.
func NewSQSQueueWithClient(client SQSAPI, queueURL string, visibility time.Duration) *SQSQueue {
	return &SQSQueue{
		client:     client,
		queueURL:   queueURL,
		visibility: int32(visibility / time.Second),
		waitTime:   sqsWaitSeconds,
	}
}

// Enqueue sends one job message.
func (q *SQSQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := encodeForSend(job)
	if err != nil {
		return err
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Dequeue long-polls until one message arrives or ctx ends.
func (q *SQSQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		input := &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(q.queueURL),
			MaxNumberOfMessages:         1,
			WaitTimeSeconds:             q.waitTime,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		}
		if q.visibility > 0 {
			input.VisibilityTimeout = q.visibility
		}

		out, err := q.client.ReceiveMessage(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("sqs receive message: %w", err)
		}
		if len(out.Messages) == 0 {
			continue
		}

		msg := out.Messages[0]
		return &Delivery{
			ID:      aws.ToString(msg.MessageId),
			Body:    []byte(aws.ToString(msg.Body)),
			Attempt: receiveCount(msg.Attributes),
			token:   aws.ToString(msg.ReceiptHandle),
		}, nil
	}
}

// Ack deletes the message.
func (q *SQSQueue) Ack(ctx context.Context, d *Delivery) error {
	handle, _ := d.token.(string)
	if handle == "" {
		return ErrDeliveryExpired
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message id=%s: %w", d.ID, err)
	}
	return nil
}

// Nack resets the message visibility so it is redelivered immediately.
func (q *SQSQueue) Nack(ctx context.Context, d *Delivery) error {
	handle, _ := d.token.(string)
	if handle == "" {
		return ErrDeliveryExpired
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility id=%s: %w", d.ID, err)
	}
	return nil
}

// Close is a no-op; the SQS client holds no connection state.
func (q *SQSQueue) Close() error { return nil }

func receiveCount(attrs map[string]string) int {
	raw := attrs[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

var _ Queue = (*SQSQueue)(nil)

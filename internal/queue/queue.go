package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobVersion is stamped on every job so consumers can reject payloads they do not understand.
const JobVersion = 1

var (
	// ErrClosed is returned by Dequeue once the queue has been closed.
	ErrClosed = errors.New("queue closed")
	// ErrDeliveryExpired is returned when acking or nacking a delivery whose lease already lapsed.
	ErrDeliveryExpired = errors.New("delivery expired")
)

// Job is the extraction message carried from the gateway to the worker pool.
type Job struct {
	DocumentID string `json:"documentId"`
	OwnerID    string `json:"ownerId"`
	RawFileRef string `json:"rawFileRef"`
	EnqueuedAt string `json:"enqueuedAt"`
	RequestID  string `json:"requestId,omitempty"`
	Version    int    `json:"version"`
}

// NewJob builds a job for a freshly stored document.
func NewJob(documentID, ownerID, rawFileRef, requestID string, now time.Time) Job {
	return Job{
		DocumentID: documentID,
		OwnerID:    ownerID,
		RawFileRef: rawFileRef,
		EnqueuedAt: now.UTC().Format(time.RFC3339Nano),
		RequestID:  requestID,
		Version:    JobVersion,
	}
}

// EncodeJob returns the JSON representation of a job.
func EncodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a JSON payload into a Job.
func DecodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Delivery is one received message. Body is left undecoded so the consumer
// can classify malformed payloads itself.
type Delivery struct {
	ID      string
	Body    []byte
	Attempt int

	token any
}

// Queue is an at-least-once job channel. A delivery that is neither acked
// nor nacked becomes visible again once its lease lapses.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery) error
	Close() error
}

// Enqueuer is the producer half of Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

func encodeForSend(job Job) ([]byte, error) {
	if job.Version == 0 {
		job.Version = JobVersion
	}
	payload, err := EncodeJob(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return payload, nil
}

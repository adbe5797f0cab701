package workerproc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"docextract-backend/internal/queue"
)

// MessageMeta captures details useful for logging undecodable payloads.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body []byte) MessageMeta {
	if len(body) == 0 {
		return MessageMeta{}
	}
	sum := sha256.Sum256(body)
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a payload that is not a job this worker understands.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingDocumentID indicates a job without a usable document id.
type ErrMissingDocumentID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingDocumentID) Error() string { return "missing or invalid document id" }

// ErrProcess indicates processing failed after the job was parsed. The
// delivery should be retried.
type ErrProcess struct {
	DocumentID string
	RequestID  string
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process document"
	}
	return "process document: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// IsUnrecoverable reports whether err came from a message that can never be
// processed, so redelivering it is pointless.
func IsUnrecoverable(err error) bool {
	var empty ErrEmptyBody
	var decode ErrDecode
	var missing ErrMissingDocumentID
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing)
}

// ParseMessage validates and decodes a queue payload.
func ParseMessage(body []byte) (queue.Job, MessageMeta, error) {
	meta := ComputeMeta(body)
	if len(bytes.TrimSpace(body)) == 0 {
		return queue.Job{}, meta, ErrEmptyBody{Meta: meta}
	}

	job, err := queue.DecodeJob(body)
	if err != nil {
		return queue.Job{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if job.Version > queue.JobVersion {
		return job, meta, ErrDecode{Meta: meta, Err: fmt.Errorf("unsupported job version %d", job.Version)}
	}
	if strings.TrimSpace(job.DocumentID) == "" {
		return job, meta, ErrMissingDocumentID{Meta: meta, RequestID: job.RequestID}
	}
	if _, err := uuid.Parse(job.DocumentID); err != nil {
		return job, meta, ErrMissingDocumentID{Meta: meta, RequestID: job.RequestID}
	}
	return job, meta, nil
}

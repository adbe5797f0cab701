package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docextract-backend/internal/queue"
	"docextract-backend/internal/workerproc"
)

type fakeProcessor struct {
	err  error
	seen []string
}

func (f *fakeProcessor) Process(ctx context.Context, job queue.Job) (workerproc.Outcome, error) {
	_ = ctx
	f.seen = append(f.seen, job.DocumentID)
	if f.err != nil {
		return "", f.err
	}
	return workerproc.OutcomeCompleted, nil
}

func record(t *testing.T, id, body string) events.SQSMessage {
	t.Helper()
	return events.SQSMessage{
		MessageId:  id,
		Body:       body,
		Attributes: map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func jobBody(t *testing.T) string {
	t.Helper()
	payload, err := queue.EncodeJob(queue.NewJob(uuid.NewString(), "owner-1", "raw/key", "req-1", time.Now()))
	require.NoError(t, err)
	return string(payload)
}

func TestHandleBatchSucceeds(t *testing.T) {
	proc := &fakeProcessor{}
	resp := handleBatch(context.Background(), proc, events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m1", jobBody(t)),
		record(t, "m2", jobBody(t)),
	}})

	assert.Empty(t, resp.BatchItemFailures)
	assert.Len(t, proc.seen, 2)
}

func TestHandleBatchReportsRetryableFailures(t *testing.T) {
	proc := &fakeProcessor{err: workerproc.ErrProcess{Err: errors.New("db down")}}
	resp := handleBatch(context.Background(), proc, events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m1", jobBody(t)),
	}})

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestHandleBatchDropsUnusableMessages(t *testing.T) {
	proc := &fakeProcessor{}
	resp := handleBatch(context.Background(), proc, events.SQSEvent{Records: []events.SQSMessage{
		record(t, "bad-json", "{bad-json"),
		record(t, "empty", ""),
		record(t, "no-id", `{"version":1}`),
	}})

	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, proc.seen)
}

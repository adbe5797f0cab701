package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"docextract-backend/internal/bootstrap"
	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/config"
	"docextract-backend/internal/shared/metrics"
	"docextract-backend/internal/shared/telemetry"
	"docextract-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg, err := config.LoadE()
	if err != nil {
		initErr = err
		return
	}
	telemetry.Configure(cfg.LogLevel)
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

// jobProcessor is the part of workerproc.Processor the handler needs.
type jobProcessor interface {
	Process(ctx context.Context, job queue.Job) (workerproc.Outcome, error)
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.worker.bootstrap_failed", map[string]any{"error": initErr})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return handleBatch(ctx, app.Processor, event), nil
}

// handleBatch reports only retryable records as failures; unusable
// messages are dropped so they do not cycle through the queue.
func handleBatch(ctx context.Context, proc jobProcessor, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncJobsReceived()
		fields := map[string]any{
			"sqs_message_id": record.MessageId,
			"receive_count":  record.Attributes["ApproximateReceiveCount"],
		}

		job, meta, err := workerproc.ParseMessage([]byte(record.Body))
		if err != nil {
			fields["error"] = err
			fields["body_len"] = meta.BodyLen
			telemetry.Error("lambda.worker.unrecoverable", fields)
			metrics.IncJobsProcessed(metrics.OutcomeUnrecoverable)
			continue
		}
		fields["document_id"] = job.DocumentID
		fields["request_id"] = job.RequestID

		outcome, err := proc.Process(ctx, job)
		if err != nil {
			var procErr workerproc.ErrProcess
			if errors.As(err, &procErr) {
				fields["error"] = procErr.Err
			} else {
				fields["error"] = err
			}
			telemetry.Error("lambda.worker.retry", fields)
			metrics.IncJobsProcessed(metrics.OutcomeRetried)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		metrics.IncJobsProcessed(string(outcome))
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}

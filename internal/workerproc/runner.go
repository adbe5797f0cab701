package workerproc

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/metrics"
	"docextract-backend/internal/shared/telemetry"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	dequeueErrorBackoff    = time.Second
)

// ErrShutdownTimeout is returned by Run when in-flight jobs did not finish
// within the shutdown timeout.
var ErrShutdownTimeout = errors.New("worker shutdown timed out")

// Runner pulls deliveries from a queue and hands them to a Processor with a
// fixed number of concurrent handlers.
type Runner struct {
	Queue           queue.Queue
	Processor       *Processor
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Run consumes until ctx is cancelled or the queue is closed, then waits
// up to ShutdownTimeout for in-flight jobs. Handlers run on a context that
// outlives ctx so a shutdown does not abort a half-written job.
func (r *Runner) Run(ctx context.Context) error {
	n := r.Concurrency
	if n < 1 {
		n = 1
	}
	timeout := r.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	g, pollCtx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return r.loop(pollCtx, workCtx)
		})
	}

	telemetry.Info("worker.started", map[string]any{"concurrency": n})

	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	select {
	case err := <-drained:
		return err
	case <-ctx.Done():
	}

	telemetry.Info("worker.shutdown.draining", map[string]any{"timeout": timeout.String()})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-drained:
		telemetry.Info("worker.shutdown.complete", nil)
		return err
	case <-timer.C:
		cancelWork()
		telemetry.Warn("worker.shutdown.timeout", map[string]any{"timeout": timeout.String()})
		return ErrShutdownTimeout
	}
}

func (r *Runner) loop(pollCtx, workCtx context.Context) error {
	for {
		d, err := r.Queue.Dequeue(pollCtx)
		if err != nil {
			if pollCtx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			telemetry.Error("worker.dequeue_failed", map[string]any{"error": err})
			select {
			case <-pollCtx.Done():
				return nil
			case <-time.After(dequeueErrorBackoff):
			}
			continue
		}
		r.Handle(workCtx, d)
	}
}

// Handle processes one delivery and settles it: ack once the outcome is
// recorded or the message is unusable, nack when the job should be retried.
func (r *Runner) Handle(ctx context.Context, d *queue.Delivery) {
	metrics.IncJobsReceived()
	metrics.JobStarted()
	defer metrics.JobFinished()

	fields := map[string]any{
		"delivery_id": d.ID,
		"attempt":     d.Attempt,
	}

	job, meta, err := ParseMessage(d.Body)
	if err != nil {
		fields["error"] = err
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		telemetry.Error("worker.job.unrecoverable", fields)
		r.settle(ctx, d, true, fields)
		metrics.IncJobsProcessed(metrics.OutcomeUnrecoverable)
		return
	}
	fields["document_id"] = job.DocumentID
	fields["request_id"] = job.RequestID
	telemetry.Info("worker.job.received", fields)

	outcome, err := r.Processor.Process(ctx, job)
	if err != nil {
		fields["error"] = err
		telemetry.Error("worker.job.retry", fields)
		r.settle(ctx, d, false, fields)
		metrics.IncJobsProcessed(metrics.OutcomeRetried)
		return
	}

	r.settle(ctx, d, true, fields)
	metrics.IncJobsProcessed(string(outcome))
}

func (r *Runner) settle(ctx context.Context, d *queue.Delivery, ack bool, fields map[string]any) {
	var err error
	if ack {
		err = r.Queue.Ack(ctx, d)
	} else {
		err = r.Queue.Nack(ctx, d)
	}
	if err == nil {
		return
	}
	fields["settle_error"] = err
	fields["ack"] = ack
	if errors.Is(err, queue.ErrDeliveryExpired) {
		telemetry.Warn("worker.job.lease_expired", fields)
		return
	}
	telemetry.Error("worker.job.settle_failed", fields)
}

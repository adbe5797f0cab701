package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"docextract-backend/internal/documents"
	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/metrics"
	"docextract-backend/internal/shared/telemetry"
)

const (
	defaultInterval   = time.Minute
	defaultStaleAfter = 10 * time.Minute
	defaultBatchSize  = 100
)

// Sweeper re-enqueues documents left pending or processing for longer than
// StaleAfter: uploads whose enqueue failed and jobs whose worker vanished.
type Sweeper struct {
	Repo       documents.Repo
	Queue      queue.Enqueuer
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Now        func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run sweeps on a jittered interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				telemetry.Error("reconcile.sweep_failed", map[string]any{"error": err})
			}
		}
	}
}

// SweepOnce requeues one batch of stale documents and returns how many were
// enqueued. Each document is touched before it is enqueued so concurrent
// sweepers skip it; a failed enqueue therefore waits one more StaleAfter.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	now := s.now()
	stale, err := s.Repo.ListStale(ctx, now.Add(-staleAfter), batch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, doc := range stale {
		fields := map[string]any{
			"document_id": doc.ID,
			"owner_id":    doc.OwnerID,
			"status":      string(doc.Status),
			"updated_at":  doc.UpdatedAt,
		}
		if err := s.Repo.Touch(ctx, doc.ID, doc.Status, now); err != nil {
			if errors.Is(err, documents.ErrInvalidTransition) || errors.Is(err, documents.ErrNotFound) {
				continue
			}
			return requeued, err
		}
		job := queue.NewJob(doc.ID, doc.OwnerID, doc.StoragePath, "", now)
		if err := s.Queue.Enqueue(ctx, job); err != nil {
			fields["error"] = err
			telemetry.Error("reconcile.enqueue_failed", fields)
			metrics.IncEnqueueFailures()
			continue
		}
		metrics.IncReconciled(string(doc.Status))
		telemetry.Info("reconcile.requeued", fields)
		requeued++
	}
	return requeued, nil
}

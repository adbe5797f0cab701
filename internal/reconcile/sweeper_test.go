package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docextract-backend/internal/documents"
	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/storage/object/local"
)

// switchableQueue fails Enqueue until healed.
type switchableQueue struct {
	mu     sync.Mutex
	broken bool
	inner  *queue.MemoryQueue
}

func (q *switchableQueue) Enqueue(ctx context.Context, job queue.Job) error {
	q.mu.Lock()
	broken := q.broken
	q.mu.Unlock()
	if broken {
		return errors.New("broker unavailable")
	}
	return q.inner.Enqueue(ctx, job)
}

func (q *switchableQueue) heal() {
	q.mu.Lock()
	q.broken = false
	q.mu.Unlock()
}

func TestSweepRequeuesDocumentAfterEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	repo := documents.NewMemoryRepo()
	mem := queue.NewMemoryQueue(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })
	q := &switchableQueue{broken: true, inner: mem}

	svc := &documents.Service{Store: local.New(t.TempDir()), Repo: repo, Queue: q, Now: now}
	doc, err := svc.Submit(ctx, documents.Upload{
		OwnerID:  "owner-1",
		FileName: "a.txt",
		MimeType: "text/plain",
		Body:     strings.NewReader("hello"),
	})
	require.NoError(t, err)

	ready, _ := mem.Depth()
	require.Equal(t, 0, ready)

	sweeper := &Sweeper{Repo: repo, Queue: q, StaleAfter: 5 * time.Minute, Now: now}

	// Not stale yet.
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	q.heal()
	clock = clock.Add(6 * time.Minute)
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := mem.Dequeue(ctx)
	require.NoError(t, err)
	job, err := queue.DecodeJob(d.Body)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, job.DocumentID)
	assert.Equal(t, doc.StoragePath, job.RawFileRef)

	// Touched, so an immediate second sweep skips it.
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepIgnoresTerminalDocuments(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo := documents.NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, documents.Document{
		ID: "done", OwnerID: "o", Status: documents.StatusPending, CreatedAt: t0,
	}))
	_, err := repo.MarkProcessing(ctx, "done", t0)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, "done", "", t0))

	mem := queue.NewMemoryQueue(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })
	sweeper := &Sweeper{Repo: repo, Queue: mem, StaleAfter: time.Minute, Now: func() time.Time { return t0.Add(time.Hour) }}

	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := documents.NewMemoryRepo()
	mem := queue.NewMemoryQueue(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })
	sweeper := &Sweeper{Repo: repo, Queue: mem, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/storage/object"
	"docextract-backend/internal/shared/storage/object/local"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, job queue.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, string, io.Reader) (string, int64, string, error) {
	return "", 0, "", errors.New("disk full")
}

func (failingStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, object.ErrNotFound
}

func newTestService(t *testing.T, enq queue.Enqueuer) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	fixed := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	return &Service{
		Store: local.New(t.TempDir()),
		Repo:  repo,
		Queue: enq,
		Now:   func() time.Time { return fixed },
	}, repo
}

func TestSubmitStoresInsertsAndEnqueues(t *testing.T) {
	enq := &recordingEnqueuer{}
	svc, repo := newTestService(t, enq)
	ctx := context.Background()

	doc, err := svc.Submit(ctx, Upload{
		OwnerID:   "owner-1",
		FileName:  "data.csv",
		MimeType:  "Text/CSV; charset=utf-8",
		RequestID: "req-1",
		Body:      strings.NewReader("a,b\n1,2\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, doc.Status)
	assert.Equal(t, "text/csv", doc.MimeType)
	assert.Equal(t, int64(8), doc.SizeBytes)
	assert.NotEmpty(t, doc.ID)

	stored, err := repo.GetForOwner(ctx, "owner-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.StoragePath, stored.StoragePath)

	raw, err := object.ReadAll(ctx, svc.Store, doc.StoragePath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("a,b\n1,2\n"), raw))

	require.Len(t, enq.jobs, 1)
	job := enq.jobs[0]
	assert.Equal(t, doc.ID, job.DocumentID)
	assert.Equal(t, "owner-1", job.OwnerID)
	assert.Equal(t, doc.StoragePath, job.RawFileRef)
	assert.Equal(t, "req-1", job.RequestID)
	assert.Equal(t, queue.JobVersion, job.Version)
}

func TestSubmitRejectsInvalidInputWithoutSideEffects(t *testing.T) {
	cases := []struct {
		name string
		up   Upload
	}{
		{"empty owner", Upload{FileName: "a.txt", MimeType: "text/plain", Body: strings.NewReader("x")}},
		{"empty name", Upload{OwnerID: "o", MimeType: "text/plain", Body: strings.NewReader("x")}},
		{"bad mime", Upload{OwnerID: "o", FileName: "a.txt", MimeType: "text", Body: strings.NewReader("x")}},
		{"wildcard mime", Upload{OwnerID: "o", FileName: "a.txt", MimeType: "image/*", Body: strings.NewReader("x")}},
		{"empty body", Upload{OwnerID: "o", FileName: "a.txt", MimeType: "text/plain", Body: strings.NewReader("")}},
		{"nil body", Upload{OwnerID: "o", FileName: "a.txt", MimeType: "text/plain"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enq := &recordingEnqueuer{}
			svc, repo := newTestService(t, enq)
			_, err := svc.Submit(context.Background(), tc.up)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, enq.jobs)
			docs, err := repo.ListByOwner(context.Background(), "o", ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, docs)
		})
	}
}

func TestSubmitStorageFailureCreatesNothing(t *testing.T) {
	enq := &recordingEnqueuer{}
	svc, repo := newTestService(t, enq)
	svc.Store = failingStore{}

	_, err := svc.Submit(context.Background(), Upload{
		OwnerID: "owner-1", FileName: "a.txt", MimeType: "text/plain", Body: strings.NewReader("x"),
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, enq.jobs)
	docs, err := repo.ListByOwner(context.Background(), "owner-1", ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSubmitEnqueueFailureLeavesPendingDocument(t *testing.T) {
	enq := &recordingEnqueuer{err: errors.New("broker down")}
	svc, repo := newTestService(t, enq)

	doc, err := svc.Submit(context.Background(), Upload{
		OwnerID: "owner-1", FileName: "a.txt", MimeType: "text/plain", Body: strings.NewReader("x"),
	})
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestSubmitBatchReportsPerFile(t *testing.T) {
	enq := &recordingEnqueuer{}
	svc, _ := newTestService(t, enq)

	results := svc.SubmitBatch(context.Background(), []Upload{
		{OwnerID: "owner-1", FileName: "ok.txt", MimeType: "text/plain", Body: strings.NewReader("x")},
		{OwnerID: "owner-1", FileName: "empty.txt", MimeType: "text/plain", Body: strings.NewReader("")},
		{OwnerID: "owner-1", FileName: "ok2.txt", MimeType: "text/plain", Body: strings.NewReader("y")},
	})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrInvalidInput)
	assert.NoError(t, results[2].Err)
	assert.Len(t, enq.jobs, 2)
}

func TestGetAndDeleteAreOwnerScoped(t *testing.T) {
	enq := &recordingEnqueuer{}
	svc, _ := newTestService(t, enq)
	ctx := context.Background()

	doc, err := svc.Submit(ctx, Upload{
		OwnerID: "owner-1", FileName: "a.txt", MimeType: "text/plain", Body: strings.NewReader("x"),
	})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "owner-2", doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, "owner-1", "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(ctx, "owner-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	assert.ErrorIs(t, svc.Delete(ctx, "owner-2", doc.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "owner-1", doc.ID))
	_, err = svc.Get(ctx, "owner-1", doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

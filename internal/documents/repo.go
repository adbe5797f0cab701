package documents

import (
	"context"
	"time"
)

// Repo persists documents. Status writes are guarded by the expected prior
// status so concurrent redeliveries cannot interleave their results.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	GetForOwner(ctx context.Context, ownerID, id string) (Document, error)
	// MarkProcessing claims the document for an attempt, clearing earlier
	// results and bumping Attempts. It returns the updated row.
	MarkProcessing(ctx context.Context, id string, at time.Time) (Document, error)
	Complete(ctx context.Context, id, content string, at time.Time) error
	Fail(ctx context.Context, id, detail string, at time.Time) error
	ListByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]Document, error)
	Delete(ctx context.Context, ownerID, id string) error
	// ListStale returns pending or processing documents not updated since olderThan, oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Document, error)
	// Touch bumps UpdatedAt if the document is still in expected.
	Touch(ctx context.Context, id string, expected Status, at time.Time) error
}

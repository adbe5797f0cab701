package documents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo for dev mode and tests. One mutex
// serializes every write.
type MemoryRepo struct {
	mu      sync.RWMutex
	docs    map[string]Document
	deleted map[string]bool
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		docs:    make(map[string]Document),
		deleted: make(map[string]bool),
	}
}

// Create stores a new document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" || doc.Status != StatusPending {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.ID]; exists {
		return fmt.Errorf("document %s already exists: %w", doc.ID, ErrInvalidInput)
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	r.docs[doc.ID] = doc
	return nil
}

// GetByID returns a live document.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveLocked(id)
}

// GetForOwner returns a live document only if ownerID owns it.
func (r *MemoryRepo) GetForOwner(ctx context.Context, ownerID, id string) (Document, error) {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.OwnerID != ownerID {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// MarkProcessing claims the document for a new attempt.
func (r *MemoryRepo) MarkProcessing(ctx context.Context, id string, at time.Time) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.transitionLocked(id, StatusProcessing)
	if err != nil {
		return Document{}, err
	}
	started := at
	doc.Status = StatusProcessing
	doc.ExtractedContent = nil
	doc.ErrorDetail = nil
	doc.Attempts++
	doc.StartedAt = &started
	doc.CompletedAt = nil
	doc.UpdatedAt = at
	r.docs[id] = doc
	return doc, nil
}

// Complete stores extracted content for a processing document.
func (r *MemoryRepo) Complete(ctx context.Context, id, content string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.transitionLocked(id, StatusCompleted)
	if err != nil {
		return err
	}
	completed := at
	doc.Status = StatusCompleted
	doc.ExtractedContent = &content
	doc.ErrorDetail = nil
	doc.CompletedAt = &completed
	doc.UpdatedAt = at
	r.docs[id] = doc
	return nil
}

// Fail records an extraction error for a processing document.
func (r *MemoryRepo) Fail(ctx context.Context, id, detail string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.transitionLocked(id, StatusFailed)
	if err != nil {
		return err
	}
	completed := at
	doc.Status = StatusFailed
	doc.ExtractedContent = nil
	doc.ErrorDetail = &detail
	doc.CompletedAt = &completed
	doc.UpdatedAt = at
	r.docs[id] = doc
	return nil
}

// ListByOwner returns the owner's live documents newest first.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.normalized()
	nameNeedle := strings.ToLower(strings.TrimSpace(filter.FileName))
	mimeNeedle := strings.ToLower(strings.TrimSpace(filter.MimeType))

	r.mu.RLock()
	matched := make([]Document, 0)
	for id, doc := range r.docs {
		if r.deleted[id] || doc.OwnerID != ownerID {
			continue
		}
		if nameNeedle != "" && !strings.Contains(strings.ToLower(doc.FileName), nameNeedle) {
			continue
		}
		if mimeNeedle != "" && strings.ToLower(doc.MimeType) != mimeNeedle {
			continue
		}
		matched = append(matched, doc)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []Document{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

// Delete soft-deletes a document owned by ownerID.
func (r *MemoryRepo) Delete(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.liveLocked(id)
	if err != nil {
		return err
	}
	if doc.OwnerID != ownerID {
		return ErrNotFound
	}
	r.deleted[id] = true
	return nil
}

// ListStale returns stuck pending/processing documents, oldest first.
func (r *MemoryRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	stale := make([]Document, 0)
	for id, doc := range r.docs {
		if r.deleted[id] || doc.Status.Terminal() {
			continue
		}
		if doc.UpdatedAt.Before(olderThan) {
			stale = append(stale, doc)
		}
	}
	r.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Touch bumps UpdatedAt when the document is still in expected.
func (r *MemoryRepo) Touch(ctx context.Context, id string, expected Status, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.liveLocked(id)
	if err != nil {
		return err
	}
	if doc.Status != expected {
		return ErrInvalidTransition
	}
	doc.UpdatedAt = at
	r.docs[id] = doc
	return nil
}

func (r *MemoryRepo) liveLocked(id string) (Document, error) {
	doc, ok := r.docs[id]
	if !ok || r.deleted[id] {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (r *MemoryRepo) transitionLocked(id string, to Status) (Document, error) {
	doc, err := r.liveLocked(id)
	if err != nil {
		return Document{}, err
	}
	if !CanTransition(doc.Status, to) {
		return Document{}, fmt.Errorf("%s -> %s: %w", doc.Status, to, ErrInvalidTransition)
	}
	return doc, nil
}

var _ Repo = (*MemoryRepo)(nil)

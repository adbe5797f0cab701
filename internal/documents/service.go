package documents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/metrics"
	"docextract-backend/internal/shared/storage/object"
	"docextract-backend/internal/shared/telemetry"
)

// Upload is one file handed to the gateway by the HTTP boundary.
type Upload struct {
	OwnerID   string
	FileName  string
	MimeType  string
	RequestID string
	Body      io.Reader
}

// SubmitResult is the per-file outcome of SubmitBatch.
type SubmitResult struct {
	FileName string
	Document Document
	Err      error
}

// Service is the ingestion gateway plus the owner-scoped read operations.
type Service struct {
	Store object.ObjectStore
	Repo  Repo
	Queue queue.Enqueuer

	Now   func() time.Time
	NewID func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Submit stores the raw bytes, inserts a pending document, and enqueues one
// extraction job, in that order. An enqueue failure is logged and counted but
// does not fail the call; the reconciliation sweep picks the document up.
func (s *Service) Submit(ctx context.Context, up Upload) (Document, error) {
	ownerID := strings.TrimSpace(up.OwnerID)
	fileName := strings.TrimSpace(up.FileName)
	if ownerID == "" {
		return Document{}, fmt.Errorf("owner id required: %w", ErrInvalidInput)
	}
	if fileName == "" {
		return Document{}, fmt.Errorf("file name required: %w", ErrInvalidInput)
	}
	mimeType, err := normalizeMediaType(up.MimeType)
	if err != nil {
		return Document{}, err
	}
	if up.Body == nil {
		return Document{}, fmt.Errorf("empty upload: %w", ErrInvalidInput)
	}
	body := bufio.NewReader(up.Body)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, fmt.Errorf("empty upload: %w", ErrInvalidInput)
		}
		return Document{}, fmt.Errorf("read upload: %w", err)
	}

	storagePath, size, _, err := s.Store.Save(ctx, ownerID, fileName, body)
	if err != nil {
		return Document{}, fmt.Errorf("store upload %q: %w", fileName, err)
	}

	now := s.now()
	doc := Document{
		ID:          s.newID(),
		OwnerID:     ownerID,
		FileName:    fileName,
		MimeType:    mimeType,
		StoragePath: storagePath,
		SizeBytes:   size,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, fmt.Errorf("record document: %w", err)
	}
	metrics.IncDocumentsSubmitted()

	job := queue.NewJob(doc.ID, doc.OwnerID, doc.StoragePath, up.RequestID, now)
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		metrics.IncEnqueueFailures()
		telemetry.Error("gateway.enqueue_failed", map[string]any{
			"document_id": doc.ID,
			"owner_id":    doc.OwnerID,
			"request_id":  up.RequestID,
			"error":       err,
		})
		return doc, nil
	}

	telemetry.Info("gateway.document_submitted", map[string]any{
		"document_id": doc.ID,
		"owner_id":    doc.OwnerID,
		"mime_type":   doc.MimeType,
		"size_bytes":  doc.SizeBytes,
		"request_id":  up.RequestID,
	})
	return doc, nil
}

// SubmitBatch submits each upload independently. One failure does not stop
// the rest; each result carries its own error.
func (s *Service) SubmitBatch(ctx context.Context, uploads []Upload) []SubmitResult {
	results := make([]SubmitResult, 0, len(uploads))
	for _, up := range uploads {
		doc, err := s.Submit(ctx, up)
		results = append(results, SubmitResult{FileName: up.FileName, Document: doc, Err: err})
	}
	return results
}

// Get returns one of the owner's documents.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Document{}, ErrInvalidInput
	}
	if _, err := uuid.Parse(id); err != nil {
		return Document{}, ErrNotFound
	}
	return s.Repo.GetForOwner(ctx, ownerID, id)
}

// List returns the owner's documents newest first.
func (s *Service) List(ctx context.Context, ownerID string, filter ListFilter) ([]Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByOwner(ctx, ownerID, filter)
}

// Delete soft-deletes one of the owner's documents. The raw file stays in
// the object store.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrInvalidInput
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if err := s.Repo.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	telemetry.Info("documents.deleted", map[string]any{"document_id": id, "owner_id": ownerID})
	return nil
}

// normalizeMediaType accepts only type/subtype media types and returns them
// lowercased without parameters.
func normalizeMediaType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("mime type %q: %w", raw, ErrInvalidInput)
	}
	major, minor, ok := strings.Cut(mediaType, "/")
	if !ok || major == "" || minor == "" || major == "*" || minor == "*" {
		return "", fmt.Errorf("mime type %q: %w", raw, ErrInvalidInput)
	}
	return mediaType, nil
}

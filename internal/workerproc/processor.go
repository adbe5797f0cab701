package workerproc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"docextract-backend/internal/documents"
	"docextract-backend/internal/extract"
	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/metrics"
	"docextract-backend/internal/shared/storage/object"
	"docextract-backend/internal/shared/telemetry"
)

const (
	maxErrorDetailLen  = 500
	defaultMaxAttempts = 5
)

// Outcome says what became of one job.
type Outcome string

const (
	// OutcomeCompleted and OutcomeFailed mean this attempt wrote the terminal status.
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDropped means there was nothing to do: the document is gone
	// or a concurrent delivery already settled it.
	OutcomeDropped Outcome = "dropped"
)

// Processor runs one extraction job against a document. Once a document has
// been claimed MaxAttempts times, errors that would otherwise be retried mark
// it failed instead.
type Processor struct {
	Repo        documents.Repo
	Store       object.ObjectStore
	Registry    *extract.Registry
	MaxAttempts int
	Now         func() time.Time
}

func (p *Processor) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return defaultMaxAttempts
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Process claims the document, extracts its content, and records the
// outcome. A returned error means the job should be retried; extraction
// failures are recorded on the document and are not errors here.
func (p *Processor) Process(ctx context.Context, job queue.Job) (Outcome, error) {
	fields := map[string]any{
		"document_id": job.DocumentID,
		"owner_id":    job.OwnerID,
		"request_id":  job.RequestID,
	}

	doc, err := p.Repo.MarkProcessing(ctx, job.DocumentID, p.now())
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			telemetry.Warn("worker.job.document_missing", fields)
			return OutcomeDropped, nil
		}
		return "", ErrProcess{DocumentID: job.DocumentID, RequestID: job.RequestID, Err: fmt.Errorf("mark processing: %w", err)}
	}
	fields["attempt"] = doc.Attempts

	if doc.Attempts > p.maxAttempts() {
		return p.giveUp(ctx, doc, fmt.Errorf("gave up after %d attempts", doc.Attempts-1), fields)
	}

	storageKey := doc.StoragePath
	if job.RawFileRef != "" && job.RawFileRef != storageKey {
		fields["raw_file_ref"] = job.RawFileRef
		telemetry.Warn("worker.job.raw_ref_mismatch", fields)
	}

	data, err := object.ReadAll(ctx, p.Store, storageKey)
	if err != nil {
		if !errors.Is(err, object.ErrNotFound) && !errors.Is(err, object.ErrInvalidKey) {
			return p.retryOrGiveUp(ctx, doc, job.RequestID, fmt.Errorf("read raw file: %w", err), fields)
		}
		outcome, err := p.finish(ctx, doc, "", fmt.Errorf("raw file missing: %w", err), fields)
		if err != nil {
			return p.retryOrGiveUp(ctx, doc, job.RequestID, err, fields)
		}
		return outcome, nil
	}

	mimeType := extract.NormalizeMimeType(doc.MimeType, doc.FileName, data)
	strategy := p.Registry.Resolve(mimeType)
	fields["mime_type"] = mimeType
	fields["strategy"] = strategy.Name()

	start := time.Now()
	content, extractErr := extract.Run(ctx, strategy, data, mimeType)
	elapsed := time.Since(start)
	metrics.ObserveExtraction(strategy.Name(), elapsed)
	fields["extract_ms"] = elapsed.Milliseconds()

	if extractErr != nil && ctx.Err() != nil {
		// Cut short by shutdown; leave the document for redelivery.
		return "", ErrProcess{DocumentID: doc.ID, RequestID: job.RequestID, Err: fmt.Errorf("extraction interrupted: %w", extractErr)}
	}

	outcome, err := p.finish(ctx, doc, stripNUL(content), extractErr, fields)
	if err != nil {
		return p.retryOrGiveUp(ctx, doc, job.RequestID, err, fields)
	}
	return outcome, nil
}

// retryOrGiveUp returns err as retryable until the attempt budget is spent,
// then records the document as failed.
func (p *Processor) retryOrGiveUp(ctx context.Context, doc documents.Document, requestID string, err error, fields map[string]any) (Outcome, error) {
	if doc.Attempts < p.maxAttempts() {
		var procErr ErrProcess
		if errors.As(err, &procErr) {
			procErr.RequestID = requestID
			return "", procErr
		}
		return "", ErrProcess{DocumentID: doc.ID, RequestID: requestID, Err: err}
	}
	return p.giveUp(ctx, doc, err, fields)
}

func (p *Processor) giveUp(ctx context.Context, doc documents.Document, cause error, fields map[string]any) (Outcome, error) {
	fields["max_attempts"] = p.maxAttempts()
	telemetry.Error("worker.job.attempts_exhausted", fields)
	return p.finish(ctx, doc, "", cause, fields)
}

func (p *Processor) finish(ctx context.Context, doc documents.Document, content string, extractErr error, fields map[string]any) (Outcome, error) {
	outcome := OutcomeCompleted
	var err error
	if extractErr != nil {
		outcome = OutcomeFailed
		detail := sanitizeDetail(extractErr.Error())
		fields["error"] = detail
		err = p.Repo.Fail(ctx, doc.ID, detail, p.now())
	} else {
		fields["content_len"] = len(content)
		err = p.Repo.Complete(ctx, doc.ID, content, p.now())
	}

	if err != nil {
		if errors.Is(err, documents.ErrInvalidTransition) || errors.Is(err, documents.ErrNotFound) {
			fields["write_error"] = err
			telemetry.Warn("worker.job.superseded", fields)
			return OutcomeDropped, nil
		}
		return "", ErrProcess{DocumentID: doc.ID, Err: fmt.Errorf("record %s: %w", outcome, err)}
	}

	if outcome == OutcomeFailed {
		telemetry.Warn("worker.job.extraction_failed", fields)
	} else {
		telemetry.Info("worker.job.completed", fields)
	}
	return outcome, nil
}

// stripNUL drops U+0000, which Postgres TEXT columns reject.
func stripNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// sanitizeDetail makes an error message safe to show to the owner. Only the
// first line is kept, so panic stacks never reach the document.
func sanitizeDetail(msg string) string {
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.ToValidUTF8(msg, "")
	msg = strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, msg)
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		msg = "extraction failed"
	}
	if len(msg) <= maxErrorDetailLen {
		return msg
	}
	cut := maxErrorDetailLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

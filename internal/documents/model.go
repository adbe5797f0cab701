package documents

import "time"

// Status is the extraction lifecycle state of a document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a processing attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a document in from may move to to.
// Nothing moves back into pending. Any status may be claimed for processing
// because a redelivered job reprocesses the document.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusProcessing:
		return from.Valid()
	case StatusCompleted, StatusFailed:
		return from == StatusProcessing
	default:
		return false
	}
}

// allowedFrom lists the statuses that may move to to.
func allowedFrom(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Document is one uploaded file and its extraction outcome.
// ExtractedContent is set only when completed; ErrorDetail only when failed.
type Document struct {
	ID               string
	OwnerID          string
	FileName         string
	MimeType         string
	StoragePath      string
	SizeBytes        int64
	Status           Status
	ExtractedContent *string
	ErrorDetail      *string
	Attempts         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// ListFilter narrows ListByOwner. Empty strings match everything.
type ListFilter struct {
	FileName string
	MimeType string
	Limit    int
	Offset   int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID       string     `json:"documentId"`
	FileName         string     `json:"fileName"`
	MimeType         string     `json:"mimeType"`
	SizeBytes        int64      `json:"sizeBytes"`
	Status           Status     `json:"status"`
	ExtractedContent *string    `json:"extractedContent"`
	ErrorDetail      *string    `json:"errorDetail"`
	Attempts         int        `json:"attempts"`
	UploadedAt       time.Time  `json:"uploadedAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// DocumentSummary is the list view; it leaves out extracted content.
type DocumentSummary struct {
	DocumentID string    `json:"documentId"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	Status     Status    `json:"status"`
	UploadedAt time.Time `json:"uploadedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// UploadResult is one entry of the upload response.
type UploadResult struct {
	FileName   string       `json:"fileName"`
	DocumentID string       `json:"documentId,omitempty"`
	Status     Status       `json:"status,omitempty"`
	Error      *UploadError `json:"error,omitempty"`
}

// UploadError explains why a single file was not accepted.
type UploadError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID:       doc.ID,
		FileName:         doc.FileName,
		MimeType:         doc.MimeType,
		SizeBytes:        doc.SizeBytes,
		Status:           doc.Status,
		ExtractedContent: doc.ExtractedContent,
		ErrorDetail:      doc.ErrorDetail,
		Attempts:         doc.Attempts,
		UploadedAt:       doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		StartedAt:        doc.StartedAt,
		CompletedAt:      doc.CompletedAt,
	}
}

func toSummary(doc Document) DocumentSummary {
	return DocumentSummary{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		MimeType:   doc.MimeType,
		SizeBytes:  doc.SizeBytes,
		Status:     doc.Status,
		UploadedAt: doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

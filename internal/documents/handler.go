package documents

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docextract-backend/internal/shared/server/middleware"
	"docextract-backend/internal/shared/server/respond"
)

const (
	defaultMaxUploadBytes = 10 << 20 // 10MB
	defaultMaxUploadFiles = 10

	multipartMemory = 32 << 20
)

// Limits bounds a single upload request.
type Limits struct {
	MaxFileBytes int64
	MaxFiles     int
	AllowedMIME  []string
}

func (l Limits) normalized() Limits {
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = defaultMaxUploadBytes
	}
	if l.MaxFiles <= 0 {
		l.MaxFiles = defaultMaxUploadFiles
	}
	return l
}

func (l Limits) allows(mimeType string) bool {
	if len(l.AllowedMIME) == 0 {
		return true
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	mimeType = strings.TrimSpace(mimeType)
	for _, allowed := range l.AllowedMIME {
		if strings.EqualFold(strings.TrimSpace(allowed), mimeType) {
			return true
		}
	}
	return false
}

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc    *Service
	Limits Limits
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, limits Limits) *Handler {
	return &Handler{Svc: svc, Limits: limits.normalized()}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
	rg.DELETE("/documents/:id", h.delete)
}

func (h *Handler) upload(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)
	if ownerID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing owner identity", nil)
		return
	}

	maxBody := h.Limits.MaxFileBytes*int64(h.Limits.MaxFiles) + multipartMemory
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds size limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart form required", nil)
		return
	}
	defer c.Request.MultipartForm.RemoveAll()

	files := append([]*multipart.FileHeader{}, c.Request.MultipartForm.File["files"]...)
	files = append(files, c.Request.MultipartForm.File["file"]...)
	if len(files) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "at least one file is required", nil)
		return
	}
	if len(files) > h.Limits.MaxFiles {
		respond.Error(c, http.StatusBadRequest, "validation_error",
			fmt.Sprintf("at most %d files per request", h.Limits.MaxFiles), nil)
		return
	}

	requestID := middleware.RequestIDFromContext(c)
	results := make([]UploadResult, len(files))
	uploads := make([]Upload, 0, len(files))
	positions := make([]int, 0, len(files))
	for i, fh := range files {
		results[i] = UploadResult{FileName: fh.Filename}
		if fh.Size > h.Limits.MaxFileBytes {
			results[i].Error = &UploadError{Code: "file_too_large", Message: fmt.Sprintf("file exceeds %d bytes", h.Limits.MaxFileBytes)}
			continue
		}
		mimeType := partMimeType(fh)
		if !h.Limits.allows(mimeType) {
			results[i].Error = &UploadError{Code: "unsupported_media_type", Message: fmt.Sprintf("%s is not accepted", mimeType)}
			continue
		}
		f, err := fh.Open()
		if err != nil {
			results[i].Error = &UploadError{Code: "validation_error", Message: "unable to read file"}
			continue
		}
		defer f.Close()
		uploads = append(uploads, Upload{
			OwnerID:   ownerID,
			FileName:  fh.Filename,
			MimeType:  mimeType,
			RequestID: requestID,
			Body:      f,
		})
		positions = append(positions, i)
	}

	accepted := 0
	serverErrors := 0
	firstID := ""
	for j, res := range h.Svc.SubmitBatch(c.Request.Context(), uploads) {
		i := positions[j]
		if res.Err != nil {
			if errors.Is(res.Err, ErrInvalidInput) {
				results[i].Error = &UploadError{Code: "validation_error", Message: res.Err.Error()}
			} else {
				serverErrors++
				results[i].Error = &UploadError{Code: "internal_error", Message: "failed to store document"}
			}
			continue
		}
		accepted++
		if firstID == "" {
			firstID = res.Document.ID
		}
		results[i].DocumentID = res.Document.ID
		results[i].Status = res.Document.Status
	}
	if firstID != "" {
		c.Set("documentId", firstID)
	}

	switch {
	case accepted > 0:
		respond.JSON(c, http.StatusAccepted, gin.H{"documents": results})
	case serverErrors > 0:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "no documents were accepted", results)
	default:
		respond.Error(c, http.StatusBadRequest, "validation_error", "no documents were accepted", results)
	}
}

func (h *Handler) get(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)
	id := c.Param("id")
	c.Set("documentId", id)

	doc, err := h.Svc.Get(c.Request.Context(), ownerID, id)
	if err != nil {
		h.writeError(c, err, "failed to fetch document")
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)

	filter := ListFilter{
		FileName: strings.TrimSpace(c.Query("fileName")),
		MimeType: strings.TrimSpace(c.Query("mimeType")),
	}
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer", nil)
			return
		}
		filter.Limit = parsed
	}
	if v := c.Query("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "offset must be a non-negative integer", nil)
			return
		}
		filter.Offset = parsed
	}
	filter = filter.normalized()

	docs, err := h.Svc.List(c.Request.Context(), ownerID, filter)
	if err != nil {
		h.writeError(c, err, "failed to list documents")
		return
	}

	items := make([]DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toSummary(doc))
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"documents": items,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

func (h *Handler) delete(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)
	id := c.Param("id")
	c.Set("documentId", id)

	if err := h.Svc.Delete(c.Request.Context(), ownerID, id); err != nil {
		h.writeError(c, err, "failed to delete document")
		return
	}
	respond.NoContent(c)
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

// partMimeType prefers the part's declared Content-Type and falls back to
// the file extension.
func partMimeType(fh *multipart.FileHeader) string {
	if ct := strings.TrimSpace(fh.Header.Get("Content-Type")); ct != "" {
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

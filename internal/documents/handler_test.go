package documents_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"docextract-backend/internal/documents"
	"docextract-backend/internal/queue"
	"docextract-backend/internal/shared/config"
	"docextract-backend/internal/shared/server"
	"docextract-backend/internal/shared/storage/object/local"
	"docextract-backend/internal/shared/telemetry"
)

type testFile struct {
	field    string
	name     string
	mimeType string
	body     []byte
}

type uploadResponse struct {
	Documents []documents.UploadResult `json:"documents"`
}

func newTestRouter(t *testing.T, limits documents.Limits) (*gin.Engine, *documents.MemoryRepo, *queue.MemoryQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := documents.NewMemoryRepo()
	q := queue.NewMemoryQueue(time.Minute)
	t.Cleanup(func() { _ = q.Close() })
	svc := &documents.Service{
		Store: local.New(t.TempDir()),
		Repo:  repo,
		Queue: q,
	}
	router := server.NewRouter(server.Deps{
		Config:    config.Config{Env: "dev", CORSAllowOrigin: []string{"http://localhost:5173"}},
		Documents: documents.NewHandler(svc, limits),
	})
	return router, repo, q
}

func multipartBody(t *testing.T, files ...testFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		if f.mimeType != "" {
			header.Set("Content-Type", f.mimeType)
		}
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doRequest(router *gin.Engine, method, path, owner string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner != "" {
		req.Header.Set("X-Owner-Id", owner)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestUploadGetListDelete(t *testing.T) {
	router, repo, q := newTestRouter(t, documents.Limits{})

	body, ct := multipartBody(t, testFile{field: "file", name: "hello.txt", mimeType: "text/plain", body: []byte("hello world")})
	resp := doRequest(router, http.MethodPost, "/api/v1/documents", "owner-1", body, ct)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	var created uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created.Documents, 1)
	docID := created.Documents[0].DocumentID
	require.NotEmpty(t, docID)
	assert.Equal(t, documents.StatusPending, created.Documents[0].Status)

	ready, _ := q.Depth()
	assert.Equal(t, 1, ready)

	// Simulate the worker finishing the job.
	ctx := context.Background()
	_, err := repo.MarkProcessing(ctx, docID, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, docID, "hello world", time.Now()))

	resp = doRequest(router, http.MethodGet, "/api/v1/documents/"+docID, "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var got documents.DocumentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, documents.StatusCompleted, got.Status)
	require.NotNil(t, got.ExtractedContent)
	assert.Equal(t, "hello world", *got.ExtractedContent)
	assert.Nil(t, got.ErrorDetail)
	assert.Equal(t, 1, got.Attempts)

	resp = doRequest(router, http.MethodGet, "/api/v1/documents/"+docID, "owner-2", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = doRequest(router, http.MethodGet, "/api/v1/documents?limit=5", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var listed struct {
		Documents []documents.DocumentSummary `json:"documents"`
		Limit     int                         `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed.Documents, 1)
	assert.Equal(t, docID, listed.Documents[0].DocumentID)
	assert.Equal(t, 5, listed.Limit)

	resp = doRequest(router, http.MethodDelete, "/api/v1/documents/"+docID, "owner-1", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = doRequest(router, http.MethodGet, "/api/v1/documents/"+docID, "owner-1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestUploadMultipleFilesReportsPerFile(t *testing.T) {
	router, _, q := newTestRouter(t, documents.Limits{})

	body, ct := multipartBody(t,
		testFile{field: "files", name: "a.csv", mimeType: "text/csv", body: []byte("a,b\n1,2\n")},
		testFile{field: "files", name: "empty.txt", mimeType: "text/plain", body: nil},
		testFile{field: "files", name: "notes.txt", body: []byte("plain")},
	)
	resp := doRequest(router, http.MethodPost, "/api/v1/documents", "owner-1", body, ct)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	var created uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created.Documents, 3)
	assert.NotEmpty(t, created.Documents[0].DocumentID)
	assert.Nil(t, created.Documents[0].Error)
	require.NotNil(t, created.Documents[1].Error)
	assert.Equal(t, "validation_error", created.Documents[1].Error.Code)
	assert.NotEmpty(t, created.Documents[2].DocumentID)

	ready, _ := q.Depth()
	assert.Equal(t, 2, ready)
}

func TestUploadLogsFirstAcceptedDocument(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	telemetry.SetLogger(zap.New(core))
	t.Cleanup(func() { telemetry.Configure("info") })
	router, _, _ := newTestRouter(t, documents.Limits{})

	body, ct := multipartBody(t,
		testFile{field: "files", name: "empty.txt", mimeType: "text/plain", body: nil},
		testFile{field: "files", name: "ok.txt", mimeType: "text/plain", body: []byte("fine")},
	)
	resp := doRequest(router, http.MethodPost, "/api/v1/documents", "owner-1", body, ct)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	var payload uploadResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Len(t, payload.Documents, 2)
	require.NotNil(t, payload.Documents[0].Error)
	assert.Empty(t, payload.Documents[0].DocumentID)
	require.NotEmpty(t, payload.Documents[1].DocumentID)

	entries := logs.FilterMessage("request.complete").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, payload.Documents[1].DocumentID, entries[0].ContextMap()["document_id"])
}

func TestUploadRejectsTooManyFiles(t *testing.T) {
	router, _, _ := newTestRouter(t, documents.Limits{MaxFiles: 2})

	body, ct := multipartBody(t,
		testFile{field: "files", name: "1.txt", mimeType: "text/plain", body: []byte("1")},
		testFile{field: "files", name: "2.txt", mimeType: "text/plain", body: []byte("2")},
		testFile{field: "files", name: "3.txt", mimeType: "text/plain", body: []byte("3")},
	)
	resp := doRequest(router, http.MethodPost, "/api/v1/documents", "owner-1", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	router, _, q := newTestRouter(t, documents.Limits{MaxFileBytes: 4})

	body, ct := multipartBody(t, testFile{field: "file", name: "big.txt", mimeType: "text/plain", body: []byte("0123456789")})
	resp := doRequest(router, http.MethodPost, "/api/v1/documents", "owner-1", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	ready, _ := q.Depth()
	assert.Equal(t, 0, ready)
}

func TestUploadRequiresIdentity(t *testing.T) {
	router, _, _ := newTestRouter(t, documents.Limits{})

	body, ct := multipartBody(t, testFile{field: "file", name: "a.txt", mimeType: "text/plain", body: []byte("x")})
	resp := doRequest(router, http.MethodPost, "/api/v1/documents", "", body, ct)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestListRejectsBadPagination(t *testing.T) {
	router, _, _ := newTestRouter(t, documents.Limits{})
	resp := doRequest(router, http.MethodGet, "/api/v1/documents?limit=abc", "owner-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealthIsPublic(t *testing.T) {
	router, _, _ := newTestRouter(t, documents.Limits{})
	resp := doRequest(router, http.MethodGet, "/api/v1/health", "", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Contains(t, payload, "uptimeSeconds")
	assert.Contains(t, payload, "timestamp")
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenocloud/internal/app"
	"zenocloud/internal/logger"
	"zenocloud/internal/model"
	"zenocloud/internal/pkg/jwtutil"
	"zenocloud/internal/rag"
	"zenocloud/internal/transport/http/handler"
	"zenocloud/internal/transport/http/response"
)

const testSecret = "test-secret"

type stubDocuments struct {
	uploaded    app.UploadInput
	body        string
	uploadErr   error
	listed      app.Caller
	deleteErr   error
	downloadErr error
}

func (s *stubDocuments) Upload(_ context.Context, in app.UploadInput) (*model.Document, error) {
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	data, _ := io.ReadAll(in.Body)
	s.uploaded = in
	s.body = string(data)
	return &model.Document{ID: 9, TenantID: in.Caller.TenantID, Name: in.Name, Version: 1, Status: model.StatusPending}, nil
}

func (s *stubDocuments) List(_ context.Context, caller app.Caller) ([]model.Document, error) {
	s.listed = caller
	return nil, nil
}

func (s *stubDocuments) Delete(context.Context, app.Caller, uint) error {
	return s.deleteErr
}

func (s *stubDocuments) Download(_ context.Context, _ app.Caller, id uint) (*model.Document, io.ReadCloser, error) {
	if s.downloadErr != nil {
		return nil, nil, s.downloadErr
	}
	body := "%PDF-1.4 stored"
	doc := &model.Document{ID: id, Name: "report final.pdf", MimeType: model.MimePDF, Size: int64(len(body))}
	return doc, io.NopCloser(strings.NewReader(body)), nil
}

type stubQueries struct {
	err         error
	searchQuery string
}

func (s *stubQueries) Query(_ context.Context, _ app.Caller, q string) (*rag.Answer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &rag.Answer{Answer: "echo: " + q, Sources: []rag.Source{{DocumentID: 1, Name: "a.pdf", Version: 1, Score: 0.9}}}, nil
}

func (s *stubQueries) Summarize(_ context.Context, _ app.Caller, in app.SummarizeInput) (*rag.Summary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &rag.Summary{Summary: "short", File: rag.FileRef{ID: in.FileID, Name: in.FileName, Version: 1}}, nil
}

func (s *stubQueries) Search(_ context.Context, _ app.Caller, q string) ([]app.SearchHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.searchQuery = q
	return []app.SearchHit{{Score: 0.8, File: model.Document{ID: 2, Name: "b.pdf"}}}, nil
}

func newTestEngine(docs *stubDocuments, queries *stubQueries) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewEngine(RouterDeps{
		ServiceName: "zenocloud-test",
		JWTSecret:   testSecret,
		Log:         logger.Nop(),
		Health: handler.NewHealthHandler("zenocloud-test", "test", time.Now(), map[string]handler.Pinger{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("down") },
		}),
		Documents: handler.NewDocumentHandler(docs),
		Queries:   handler.NewQueryHandler(queries),
	})
}

func bearer(t *testing.T, userID, tenantID uint, role string) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, userID, tenantID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (response.APIResponse, map[string]interface{}) {
	t.Helper()
	var raw struct {
		response.APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	var data map[string]interface{}
	if len(raw.Data) > 0 && raw.Data[0] == '{' {
		require.NoError(t, json.Unmarshal(raw.Data, &data))
	}
	return raw.APIResponse, data
}

func TestRoutesRequireToken(t *testing.T) {
	router := newTestEngine(&stubDocuments{}, &stubQueries{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadPassesCallerAndFile(t *testing.T) {
	docs := &stubDocuments{}
	router := newTestEngine(docs, &stubQueries{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 body"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, 7, 7, jwtutil.RoleRoot))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, app.Caller{UserID: 7, TenantID: 7, Root: true}, docs.uploaded.Caller)
	assert.Equal(t, "report.pdf", docs.uploaded.Name)
	assert.Equal(t, "%PDF-1.4 body", docs.body)

	body, data := decode(t, rec)
	assert.Equal(t, response.CodeOK, body.Code)
	assert.Equal(t, "report.pdf", data["name"])
	assert.Equal(t, "pending", data["status"])
}

func TestUploadErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{app.ErrFileTooLarge, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge},
		{app.ErrInvalidInput, http.StatusBadRequest, response.CodeBadRequest},
		{app.ErrStorageFailed, http.StatusInternalServerError, response.CodeInternalServer},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			router := newTestEngine(&stubDocuments{uploadErr: tc.err}, &stubQueries{})

			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", "a.txt")
			require.NoError(t, err)
			_, _ = part.Write([]byte("x"))
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			body, _ := decode(t, rec)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestUploadWithoutFilePart(t *testing.T) {
	router := newTestEngine(&stubDocuments{}, &stubQueries{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReturnsEmptyArray(t *testing.T) {
	docs := &stubDocuments{}
	router := newTestEngine(docs, &stubQueries{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", bearer(t, 4, 2, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":0,"message":"ok","data":[]}`, rec.Body.String())
	assert.Equal(t, app.Caller{UserID: 4, TenantID: 2}, docs.listed)
}

func TestDeleteMapsNotFound(t *testing.T) {
	router := newTestEngine(&stubDocuments{deleteErr: app.ErrFileNotFound}, &stubQueries{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/files/5", nil)
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/files/abc", nil)
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryReturnsAnswerAndSources(t *testing.T) {
	router := newTestEngine(&stubDocuments{}, &stubQueries{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(`{"query":"what is x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decode(t, rec)
	assert.Equal(t, "echo: what is x", data["answer"])
	sources, ok := data["sources"].([]interface{})
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, "a.pdf", sources[0].(map[string]interface{})["name"])
}

func TestQueryErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"invalid", app.ErrInvalidInput, http.StatusBadRequest, response.CodeBadRequest},
		{"not found", app.ErrFileNotFound, http.StatusNotFound, response.CodeFileNotFound},
		{"no embeddings", app.ErrNoEmbeddings, http.StatusNotFound, response.CodeNoEmbeddings},
		{"synthesis", &rag.SynthesisError{Err: errors.New("llm down")}, http.StatusInternalServerError, response.CodeQueryFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestEngine(&stubDocuments{}, &stubQueries{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/query/summarize", bytes.NewBufferString(`{"fileName":"a.pdf"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			body, _ := decode(t, rec)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestQueryRequiresBody(t *testing.T) {
	router := newTestEngine(&stubDocuments{}, &stubQueries{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	router := newTestEngine(&stubDocuments{}, &stubQueries{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Dependencies map[string]struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		} `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Dependencies["database"].OK)
	assert.False(t, body.Dependencies["redis"].OK)
	assert.Equal(t, "down", body.Dependencies["redis"].Message)
}

func TestDownloadStreamsAttachment(t *testing.T) {
	router := newTestEngine(&stubDocuments{}, &stubQueries{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/4/download", nil)
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4 stored", rec.Body.String())
	assert.Equal(t, model.MimePDF, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report final.pdf"`, rec.Header().Get("Content-Disposition"))
}

func TestDownloadMissingFile(t *testing.T) {
	router := newTestEngine(&stubDocuments{downloadErr: app.ErrFileNotFound}, &stubQueries{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/4/download", nil)
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body, _ := decode(t, rec)
	assert.Equal(t, response.CodeFileNotFound, body.Code)
}

func TestSearchReturnsFiles(t *testing.T) {
	queries := &stubQueries{}
	router := newTestEngine(&stubDocuments{}, queries)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=quarterly+revenue", nil)
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "quarterly revenue", queries.searchQuery)
	var body struct {
		Data []struct {
			Score float64 `json:"score"`
			File  struct {
				Name string `json:"name"`
			} `json:"file"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "b.pdf", body.Data[0].File.Name)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Authorization", bearer(t, 1, 1, jwtutil.RoleUser))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

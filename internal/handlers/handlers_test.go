package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPreviewer struct {
	convert  models.ConvertResponse
	preview  models.PreviewResponse
	pdf      []byte
	serveErr error

	gotEntity string
	gotName   string
	gotKey    string
}

func (s *stubPreviewer) ConvertDriveFile(ctx context.Context, entityID string) models.ConvertResponse {
	s.gotEntity = entityID
	return s.convert
}

func (s *stubPreviewer) GetDocumentPreview(ctx context.Context, fileName string) models.PreviewResponse {
	s.gotName = fileName
	return s.preview
}

func (s *stubPreviewer) ServePreview(ctx context.Context, key string) ([]byte, string, error) {
	s.gotKey = key
	if s.serveErr != nil {
		return nil, "", s.serveErr
	}
	return s.pdf, "application/pdf", nil
}

type stubSweeper struct {
	got time.Duration
	res *models.SweepResult
	err error
}

func (s *stubSweeper) Sweep(ctx context.Context, retention time.Duration) (*models.SweepResult, error) {
	s.got = retention
	return s.res, s.err
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	var env struct {
		Message json.RawMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Message, into))
}

func TestConvert(t *testing.T) {
	p := &stubPreviewer{convert: models.ConvertResponse{Success: true, PDFURL: "/serve?key=0123456789abcdef"}}
	h := New(p, nil, time.Hour)

	rec := httptest.NewRecorder()
	h.Convert(rec, httptest.NewRequest(http.MethodGet, "/convert?entity_name=private%2Ffiles%2Fa.docx", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "private/files/a.docx", p.gotEntity)
	assert.JSONEq(t, `{"message":{"success":true,"pdf_url":"/serve?key=0123456789abcdef"}}`, rec.Body.String())
}

func TestConvert_FailureIsStillOK(t *testing.T) {
	p := &stubPreviewer{convert: models.ConvertResponse{Success: false, Error: "Document conversion timed out"}}
	h := New(p, nil, time.Hour)

	rec := httptest.NewRecorder()
	h.Convert(rec, httptest.NewRequest(http.MethodGet, "/convert?entity_name=a.docx", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got models.ConvertResponse
	decodeMessage(t, rec, &got)
	assert.Equal(t, p.convert, got)
}

func TestConvert_BadRequests(t *testing.T) {
	h := New(&stubPreviewer{}, nil, time.Hour)

	rec := httptest.NewRecorder()
	h.Convert(rec, httptest.NewRequest(http.MethodGet, "/convert", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Convert(rec, httptest.NewRequest(http.MethodPost, "/convert?entity_name=a.docx", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))
}

func TestPreview(t *testing.T) {
	p := &stubPreviewer{preview: models.PreviewResponse{Supported: false, Message: "File format not supported for preview"}}
	h := New(p, nil, time.Hour)

	rec := httptest.NewRecorder()
	h.Preview(rec, httptest.NewRequest(http.MethodGet, "/preview?file_name=photo.png", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "photo.png", p.gotName)
	assert.JSONEq(t, `{"message":{"supported":false,"message":"File format not supported for preview"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Preview(rec, httptest.NewRequest(http.MethodGet, "/preview", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe(t *testing.T) {
	pdf := []byte("%PDF-1.7 body")
	p := &stubPreviewer{pdf: pdf}
	h := New(p, nil, time.Hour)

	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/serve?key=0123456789abcdef", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789abcdef", p.gotKey)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="preview.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, pdf, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodHead, "/serve?key=0123456789abcdef", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestServe_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid key", models.ErrInvalidKey, http.StatusBadRequest},
		{"absent", models.ErrNotFound, http.StatusNotFound},
		{"storage failure", errors.New("gcs unavailable"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&stubPreviewer{serveErr: tt.err}, nil, time.Hour)
			rec := httptest.NewRecorder()
			h.Serve(rec, httptest.NewRequest(http.MethodGet, "/serve?key=x", nil))
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "gcs")
		})
	}

	h := New(&stubPreviewer{}, nil, time.Hour)
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodDelete, "/serve?key=0123456789abcdef", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSweep(t *testing.T) {
	s := &stubSweeper{res: &models.SweepResult{Scanned: 3, Deleted: 2}}
	h := New(&stubPreviewer{}, s, 7*24*time.Hour)

	rec := httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7*24*time.Hour, s.got)
	assert.JSONEq(t, `{"scanned":3,"deleted":2,"skipped":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/sweep?retention=36h", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 36*time.Hour, s.got)

	rec = httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/sweep?retention=-1h", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodGet, "/sweep", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSweep_Failures(t *testing.T) {
	rec := httptest.NewRecorder()
	New(&stubPreviewer{}, nil, time.Hour).Sweep(rec, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s := &stubSweeper{err: errors.New("listing failed")}
	New(&stubPreviewer{}, s, time.Hour).Sweep(rec, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// multipartJobBody builds a multipart/form-data body carrying one "buffers"
// file part per entry in buffers, plus an optional JSON "options" field.
func multipartJobBody(t *testing.T, buffers [][]byte, options string) (io.Reader, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for i, buf := range buffers {
		part, err := w.CreateFormFile("buffers", "buf")
		require.NoError(t, err)
		_, err = part.Write(buf)
		require.NoError(t, err)
		_ = i
	}
	if options != "" {
		require.NoError(t, w.WriteField("options", options))
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestHandleJob_BadRequestBodyReturns400(t *testing.T) {
	h := &handler{logger: silentLogger()}
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString("not multipart"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=missing")
	rec := httptest.NewRecorder()

	h.handleJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleJob_NoBuffersFailsWithBadRequest(t *testing.T) {
	h := &handler{logger: silentLogger()}
	body, contentType := multipartJobBody(t, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.handleJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleJob_InvalidBuffersFailsWithUnprocessableEntity(t *testing.T) {
	h := &handler{logger: silentLogger()}
	body, contentType := multipartJobBody(t, [][]byte{{0, 1, 2, 3}}, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.handleJob(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleJob_BadOptionsFieldFailsWithBadRequest(t *testing.T) {
	h := &handler{logger: silentLogger()}
	body, contentType := multipartJobBody(t, [][]byte{{0, 1, 2, 3}}, "not json")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.handleJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatch_RunsEachJobIndependently(t *testing.T) {
	h := &handler{logger: silentLogger()}
	body, err := json.Marshal(batchRequest{Jobs: []jobRequest{
		{Buffers: nil},
		{Buffers: nil},
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/batch", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	h.handleBatch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Nil(t, r.Output)
		assert.NotEmpty(t, r.Error)
	}
}

func TestHandleBatch_BadRequestBodyReturns400(t *testing.T) {
	h := &handler{logger: silentLogger()}
	req := httptest.NewRequest(http.MethodPost, "/v1/batch", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	h.handleBatch(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

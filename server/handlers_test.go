package server

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TuneSweep/model"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) model.AppError {
	t.Helper()
	var body struct {
		Error model.AppError `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestWriteErrorNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("run nope: %w", model.ErrNotFound))

	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeErrorBody(t, rec)
	assert.Equal(t, model.CodeNotFound, body.Code)
	assert.False(t, body.Retryable)
	assert.False(t, body.PartialOK)
}

func TestWriteErrorCatalogUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("catalog lookup: %w", model.ErrCatalogUnavailable))

	assert.Equal(t, 503, rec.Code)

	body := decodeErrorBody(t, rec)
	assert.Equal(t, model.CodeCatalogUnavailable, body.Code)
	assert.True(t, body.Retryable, "callers should retry once the catalog is back")
	assert.True(t, body.PartialOK)
}

func TestWriteErrorValidation(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("bad sort key: %w", model.ErrValidation))

	assert.Equal(t, 400, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, model.CodeValidation, body.Code)
	assert.False(t, body.Retryable)
}

package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithJSON(rec, req, http.StatusAccepted, map[string]int{"task_id": 7})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"task_id":7}`, rec.Body.String())
}

func TestRespondWithError_CarriesTraceID(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(SetTraceID(req.Context()))

	RespondWithError(rec, req, http.StatusNotFound, "task not found")

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "task not found", body.Error)
	assert.Len(t, body.TraceID, 32)
}

func TestRespondWithErrorAndLog_SanitizesBody(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	err := errors.New("dial postgres://app:hunter2@db:5432/pipeline failed")
	RespondWithErrorAndLog(rec, req, http.StatusInternalServerError, "internal error", err)

	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestTraceID_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := SetTraceID(context.Background())
	assert.Len(t, GetTraceID(ctx), 32)
	assert.Empty(t, GetTraceID(context.Background()))
}

package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteError(rec, req, ErrFreeQuotaExceeded().WithResult(map[string]int{"questions_served": 5}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeFreeQuotaExceeded, body["error"])
	assert.Equal(t, float64(5), body["result"].(map[string]interface{})["questions_served"])
}

func TestWriteErrorNil(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
		code   string
	}{
		{ErrUnauthorized(), 401, CodeUnauthorized},
		{ErrForbidden(), 403, CodeForbidden},
		{ErrPaywall(), 403, CodePaywall},
		{ErrFreeQuotaExceeded(), 403, CodeFreeQuotaExceeded},
		{ErrConflict(), 409, CodeConflict},
		{ErrInvalidJson(), 400, CodeBadRequest},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, c.err.StatusCode, c.code)
		assert.Equal(t, c.code, c.err.Code)
	}
	assert.Contains(t, ErrPaywall().Error(), "PAYWALL")
}

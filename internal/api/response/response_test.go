package response_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"github.com/stretchr/testify/assert"
)

func TestSuccessEnvelopes(t *testing.T) {
	job := map[string]any{"id": "j1", "status": "processing"}

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		body   string
	}{
		{"json", func(w http.ResponseWriter) { response.JSON(w, job) }, http.StatusOK,
			`{"data":{"id":"j1","status":"processing"}}`},
		{"created", func(w http.ResponseWriter) { response.Created(w, job) }, http.StatusCreated,
			`{"data":{"id":"j1","status":"processing"}}`},
		{"accepted", func(w http.ResponseWriter) { response.Accepted(w, job) }, http.StatusAccepted,
			`{"data":{"id":"j1","status":"processing"}}`},
		{"list", func(w http.ResponseWriter) { response.List(w, []string{"a", "b"}) }, http.StatusOK,
			`{"data":["a","b"],"meta":{"count":2}}`},
		{"nil list", func(w http.ResponseWriter) { response.List[string](w, nil) }, http.StatusOK,
			`{"data":[],"meta":{"count":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	response.NoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "unsupported file type",
		map[string][]string{"content_type": {"image/png is not a video type"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":{
		"code":"VALIDATION_ERROR",
		"message":"unsupported file type",
		"details":{"content_type":["image/png is not a video type"]}
	}}`, w.Body.String())
}

func TestError_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusConflict, "CONFLICT", "job is processing", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":{"code":"CONFLICT","message":"job is processing"}}`, w.Body.String())
}

package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vendorgrid/pkg/domain-errors"
)

func TestStatusFor(t *testing.T) {
	tests := map[dErrors.Code]int{
		dErrors.CodeBadRequest:         http.StatusBadRequest,
		dErrors.CodeInvalidInput:       http.StatusBadRequest,
		dErrors.CodeValidation:         http.StatusBadRequest,
		dErrors.CodeUnauthorized:       http.StatusUnauthorized,
		dErrors.CodeForbidden:          http.StatusForbidden,
		dErrors.CodeNotFound:           http.StatusNotFound,
		dErrors.CodeConflict:           http.StatusConflict,
		dErrors.CodeTimeout:            http.StatusGatewayTimeout,
		dErrors.CodeUnavailable:        http.StatusServiceUnavailable,
		dErrors.CodeInvariantViolation: http.StatusInternalServerError,
		dErrors.CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), string(code))
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteError(t *testing.T) {
	t.Run("client errors carry their message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeNotFound, "vendor not found"))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, ErrorResponse{Error: "not_found", ErrorDescription: "vendor not found"}, decode(t, w))
	})

	t.Run("wrapped coded errors keep their code", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := fmt.Errorf("trigger: %w", dErrors.New(dErrors.CodeConflict, "cycle already running"))
		WriteError(w, err)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "cycle already running", decode(t, w).ErrorDescription)
	})

	t.Run("server errors hide their message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeUnavailable, "dial tcp 10.0.0.4:5432: refused"))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, ErrorResponse{Error: "unavailable"}, decode(t, w))
	})

	t.Run("uncoded errors are internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("raw"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, ErrorResponse{Error: "internal_error"}, decode(t, w))
	})
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]int{"seen": 3})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"seen":3}`, w.Body.String())
}

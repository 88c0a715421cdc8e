package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/AdamBeresnev/cuptrack/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Status(t *testing.T) {
	sizeErr := &payload.Error{Stage: payload.StageSize, Reason: "too big"}
	_, decodeErr := payload.Decode("!!", payload.Options{})

	tests := []struct {
		name   string
		err    error
		status int
		field  string
	}{
		{"validation", &service.ValidationError{Field: "name", Reason: "must not be empty"}, http.StatusBadRequest, "name"},
		{"wrapped validation", fmt.Errorf("create: %w", &service.ValidationError{Field: "chartIds", Reason: "x"}), http.StatusBadRequest, "chartIds"},
		{"payload decode", decodeErr, http.StatusBadRequest, ""},
		{"payload size", sizeErr, http.StatusRequestEntityTooLarge, ""},
		{"not found", service.ErrTournamentNotFound, http.StatusNotFound, ""},
		{"not initialized", service.ErrNotInitialized, http.StatusServiceUnavailable, ""},
		{"engine stopped", fmt.Errorf("query: %w", engine.ErrEngineStopped), http.StatusServiceUnavailable, ""},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, "failed", tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.field, body.Field)
			assert.NotContains(t, body.Error, "disk on fire", "Internal errors are not leaked")
		})
	}
}

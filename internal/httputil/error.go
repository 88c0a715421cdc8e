package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/filestore"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/AdamBeresnev/cuptrack/internal/service"
	"github.com/AdamBeresnev/cuptrack/internal/store"
)

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	JSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error"})
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("bad request", "message", msg, "error", err)
	} else {
		slog.Warn("bad request", "message", msg)
	}
	JSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func NotFound(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("not found", "message", msg, "error", err)
	} else {
		slog.Warn("not found", "message", msg)
	}
	JSON(w, http.StatusNotFound, errorBody{Error: msg})
}

func ServiceUnavailable(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	JSON(w, http.StatusServiceUnavailable, errorBody{Error: msg})
}

// Error picks the response for a domain error.
func Error(w http.ResponseWriter, msg string, err error) {
	var (
		ve   *service.ValidationError
		pe   *payload.Error
		path *filestore.InvalidPathError
	)
	switch {
	case errors.As(err, &ve):
		slog.Warn("bad request", "message", msg, "field", ve.Field, "reason", ve.Reason)
		JSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field, Reason: ve.Reason})
	case errors.As(err, &pe):
		slog.Warn("bad payload", "message", msg, "stage", pe.Stage, "error", err)
		status := http.StatusBadRequest
		if pe.Stage == payload.StageSize {
			status = http.StatusRequestEntityTooLarge
		}
		JSON(w, status, errorBody{Error: pe.Error(), Field: pe.Field, Stage: string(pe.Stage), Reason: pe.Reason})
	case errors.As(err, &path):
		BadRequest(w, path.Error(), err)
	case errors.Is(err, service.ErrTournamentNotFound), errors.Is(err, store.ErrNotFound):
		NotFound(w, msg, err)
	case errors.Is(err, service.ErrNotInitialized), errors.Is(err, engine.ErrEngineStopped):
		ServiceUnavailable(w, "Storage is not available", err)
	default:
		InternalServerError(w, msg, err)
	}
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// DecodeJSON reads a JSON request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

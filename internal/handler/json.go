package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/onimate/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads the request body into v. An empty body leaves v at its
// zero value.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		return apperr.Validation("invalid JSON body: %v", err)
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"code", appErr.Code,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if appErr.Status >= http.StatusInternalServerError {
		slog.Error("request failed", append(attrs, "error", err)...)
	} else {
		slog.Debug("request rejected", append(attrs, "message", appErr.Message)...)
	}

	writeJSON(w, appErr.Status, map[string]any{
		"error": map[string]string{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

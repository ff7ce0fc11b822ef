package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *pipeline.ValidationError
	switch {
	case errors.As(err, &ve):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", ve.Message)
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "not found")
	case errors.Is(err, store.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "conflict_error", "request is already finished")
	default:
		zap.L().Error("api: internal error", zap.String("path", r.URL.Path), zap.Error(err))
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func noStore(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// decodeJSON reads a size-limited JSON body into dst, writing the error
// response itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

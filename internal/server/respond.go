package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	vstepro "github.com/eugener/vstepro/internal"
)

// maxBody is the maximum allowed request body size (1 MB).
const maxBody = 1 << 20

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	return typedError(msg, "invalid_request_error")
}

func typedError(msg, typ string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, vstepro.ErrUnauthorized), errors.Is(err, vstepro.ErrKeyExpired):
		return http.StatusUnauthorized
	case errors.Is(err, vstepro.ErrForbidden), errors.Is(err, vstepro.ErrKeyBlocked):
		return http.StatusForbidden
	case errors.Is(err, vstepro.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vstepro.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, vstepro.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusConflict:
		return "conflict_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

// writeError maps err to a status and writes a sanitized JSON error. Internal
// errors are logged server-side and never echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", vstepro.RequestIDFromContext(r.Context())),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, typedError(msg, errorType(status)))
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

package edge

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrOriginRejected is returned when a state-changing browser request fails the origin check.
	ErrOriginRejected = errors.New("origin not allowed")
	// ErrRequestRejected is returned when the sanitizer blocks a request.
	ErrRequestRejected = errors.New("request rejected")
	// ErrUnauthorized is the single public message for any credential failure.
	ErrUnauthorized = errors.New("authentication required")
)

// Public error codes.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeOriginRejected   = "ORIGIN_REJECTED"
	CodeRequestRejected  = "REQUEST_REJECTED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeRateLimited      = "RATE_LIMITED"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error body {"code","message"} with status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}

// WriteUnauthorized writes the uniform 401 body.
func WriteUnauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, ErrUnauthorized.Error())
}

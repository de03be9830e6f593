package http

import (
	"encoding/json"
	"net/http"
)

type successEnvelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, successEnvelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, successEnvelope{Status: "success", Message: message})
}

// writeAlreadyLinked answers a repeated link request. The identity is already
// where the caller wants it, so this is a success.
func writeAlreadyLinked(w http.ResponseWriter) {
	writeSuccess(w, http.StatusOK, map[string]bool{"linked": true, "already_linked": true})
}

// writeError echoes the request id set by requestIDMiddleware so clients can
// quote it when reporting a failure.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorEnvelope{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: w.Header().Get("X-Request-Id"),
	})
}

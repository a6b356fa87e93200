package chi

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes returned in the JSON error body.
const (
	codeBadRequest        = "bad_request"
	codeValidationFailed  = "validation_failed"
	codeNotFound          = "not_found"
	codeDecodeFailed      = "decode_failed"
	codeDuplicateImage    = "duplicate_image"
	codeNoSignals         = "no_signals"
	codeEmbeddingProvider = "embedding_provider_error"
	codeInternal          = "internal_error"
	codeUnauthorized      = "unauthorized"
)

// errorResponse is the JSON error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

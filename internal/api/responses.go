package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// ProcessError is the error body of POST /process, which the upload page
// reads as {"success": false, "error": ...}.
type ProcessError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteProcessError writes a ProcessError response.
func WriteProcessError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ProcessError{Success: false, Error: msg})
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
)

// TenantMiddleware wraps a handler with a tenant-scoped database connection.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ApiResponse is the envelope for successful API responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// maxBodyBytes bounds request bodies. Document uploads carry segment text.
const maxBodyBytes = 16 << 20

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData wraps data in ApiResponse and logs encoding failures.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError writes an error response and logs encoding failures.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// decodeBody reads a JSON request body into dst. It writes the 400 itself
// and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large", logger)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", logger)
		return false
	}
	return true
}

// statusForError maps service errors onto HTTP statuses and error codes.
func statusForError(err error) (int, string) {
	code := apperrors.Code(err)
	switch code {
	case "":
		return http.StatusInternalServerError, "internal_error"
	case "not_found", "conflict_not_found":
		return http.StatusNotFound, code
	case "validation_error", "malformed_rule", "invalid_action":
		return http.StatusBadRequest, code
	}
	return http.StatusConflict, code
}

// writeServiceError maps err to a response. Server faults are logged with
// op and hidden from the caller; client faults echo the error text.
func writeServiceError(w http.ResponseWriter, err error, op string, logger *zap.Logger, fields ...zap.Field) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Failed to "+op, append(fields, zap.Error(err))...)
		writeError(w, status, code, "Failed to "+op, logger)
		return
	}
	logger.Debug("Rejected request to "+op, append(fields, zap.Error(err))...)
	writeError(w, status, code, err.Error(), logger)
}

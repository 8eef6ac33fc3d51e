package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseProjectID extracts and validates the project ID from the request path.
// Writes a 400 and returns false on error. Expects path parameter: pid
func ParseProjectID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "pid", "invalid_project_id", "Invalid project ID format", logger)
}

// ParseSOPID extracts the SOP ID. Expects path parameter: sid
func ParseSOPID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "sid", "invalid_sop_id", "Invalid SOP ID format", logger)
}

// ParseTagID extracts the tag ID. Expects path parameter: tid
func ParseTagID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "tid", "invalid_tag_id", "Invalid tag ID format", logger)
}

// ParseDocumentID extracts the document ID. Expects path parameter: did
func ParseDocumentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "did", "invalid_document_id", "Invalid document ID format", logger)
}

// ParseRuleID extracts a rule ID such as CARD-MOD-0001. Rule IDs are not
// UUIDs; only emptiness is checked. Expects path parameter: rid
func ParseRuleID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	return parseString(w, r, "rid", "invalid_rule_id", "Rule ID is required", logger)
}

// ParseConflictID extracts a conflict ID. Expects path parameter: cid
func ParseConflictID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	return parseString(w, r, "cid", "invalid_conflict_id", "Conflict ID is required", logger)
}

// parseLimit reads the optional ?limit= query value, clamped to [1, max].
func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorCode, errorMessage, logger)
		return uuid.Nil, false
	}
	return id, true
}

func parseString(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (string, bool) {
	v := strings.TrimSpace(r.PathValue(pathParam))
	if v == "" {
		writeError(w, http.StatusBadRequest, errorCode, errorMessage, logger)
		return "", false
	}
	return v, true
}

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseIDs(t *testing.T) {
	projectID := uuid.New()
	sopID := uuid.New()
	pattern := "GET /api/projects/{pid}/sops/{sid}/rules/{rid}"

	var gotProject, gotSOP uuid.UUID
	var gotRule string
	handler := func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		if gotProject, ok = ParseProjectID(w, r, zap.NewNop()); !ok {
			return
		}
		if gotSOP, ok = ParseSOPID(w, r, zap.NewNop()); !ok {
			return
		}
		if gotRule, ok = ParseRuleID(w, r, zap.NewNop()); !ok {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}

	rec := call(t, pattern, handler, http.MethodGet,
		"/api/projects/"+projectID.String()+"/sops/"+sopID.String()+"/rules/CARD-MOD-0001", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, projectID, gotProject)
	assert.Equal(t, sopID, gotSOP)
	assert.Equal(t, "CARD-MOD-0001", gotRule)

	rec = call(t, pattern, handler, http.MethodGet,
		"/api/projects/"+projectID.String()+"/sops/nope/rules/CARD-MOD-0001", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_sop_id", errorCode(t, rec))
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=-3", 50},
		{"limit=abc", 50},
		{"limit=10000", 500},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/docs?"+tt.query, nil)
		assert.Equal(t, tt.want, parseLimit(req, 50, 500), tt.query)
	}
}

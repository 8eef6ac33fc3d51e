package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// testRule builds a pending rule with the fields conflict detection looks at.
func testRule(id, code, action, payer string) *models.Rule {
	return &models.Rule{
		RuleID:      id,
		Code:        code,
		Action:      action,
		PayerGroup:  payer,
		Description: "For " + payer + " payers " + action + " when documented.",
		Status:      models.RuleStatusPending,
		Source:      models.RuleSourceManual,
		Version:     1,
	}
}

func newTestCollection(t *testing.T, rules ...*models.Rule) *RuleCollection {
	t.Helper()
	coll, err := NewRuleCollection(rules)
	require.NoError(t, err)
	return coll
}

func conflictsOfType(conflicts []models.Conflict, typ models.ConflictType) []models.Conflict {
	var out []models.Conflict
	for _, c := range conflicts {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

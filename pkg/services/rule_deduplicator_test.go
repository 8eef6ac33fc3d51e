package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

func TestRuleDeduplicator_FieldEquality(t *testing.T) {
	existing := testRule("ACME-MOD-0001", "99213", "@ADD(@25)", "@MEDICARE|@MEDICAID")
	existing.ProviderGroup = "@MD|@DO"
	existing.ChartSection = "ASSESSMENT_PLAN"
	existing.DocumentationTrigger = "separate; significant"

	d := NewRuleDeduplicator([]*models.Rule{existing})

	same := existing.Clone()
	same.RuleID = "ACME-MOD-0002"
	same.PayerGroup = "@MEDICAID, @MEDICARE"
	same.ProviderGroup = "@DO|@MD"

	id, dup := d.DuplicateOf(same)
	assert.True(t, dup, "groups compare in canonical form")
	assert.Equal(t, "ACME-MOD-0001", id)

	mutations := map[string]func(r *models.Rule){
		"code":          func(r *models.Rule) { r.Code = "99214" },
		"action":        func(r *models.Rule) { r.Action = "@ADD(@59)" },
		"payer":         func(r *models.Rule) { r.PayerGroup = "@MEDICARE" },
		"provider":      func(r *models.Rule) { r.ProviderGroup = "@MD" },
		"description":   func(r *models.Rule) { r.Description = "different" },
		"chart section": func(r *models.Rule) { r.ChartSection = "HPI" },
		"trigger":       func(r *models.Rule) { r.DocumentationTrigger = "separate" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := same.Clone()
			mutate(c)
			_, dup := d.DuplicateOf(c)
			assert.False(t, dup)
		})
	}
}

func TestRuleDeduplicator_RemembersWithinRun(t *testing.T) {
	rejected := testRule("ACME-MOD-0001", "99213", "@ADD(@25)", "@MEDICARE")
	rejected.Status = models.RuleStatusRejected
	d := NewRuleDeduplicator([]*models.Rule{rejected})

	again := rejected.Clone()
	again.RuleID = "ACME-MOD-0002"
	again.Status = models.RuleStatusPending
	id, dup := d.DuplicateOf(again)
	assert.True(t, dup, "rejected rules still count")
	assert.Equal(t, "ACME-MOD-0001", id)

	fresh := testRule("ACME-MOD-0003", "99214", "@ADD(@25)", "@MEDICARE")
	_, dup = d.DuplicateOf(fresh)
	assert.False(t, dup)
	d.Remember(fresh)

	freshCopy := fresh.Clone()
	freshCopy.RuleID = "ACME-MOD-0004"
	id, dup = d.DuplicateOf(freshCopy)
	assert.True(t, dup)
	assert.Equal(t, "ACME-MOD-0003", id)

	// The first rule remembered for a key keeps it.
	d.Remember(freshCopy)
	id, _ = d.DuplicateOf(fresh)
	assert.Equal(t, "ACME-MOD-0003", id)
}

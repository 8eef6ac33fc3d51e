package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryForAction(t *testing.T) {
	tests := []struct {
		action   string
		expected string
	}{
		{"Add modifier 25 to the E&M code", RuleCategoryModifier},
		{"Append Modifiers -59", RuleCategoryModifier},
		{"Bill the E&M visit separately", RuleCategoryEM},
		{"Bundle the procedure into the global period", RuleCategoryProcedure},
		{"Drop secondary diagnoses", RuleCategoryDiagnosis},
		{"Use POS 10 for telehealth visits", RuleCategoryTelehealth},
		{"Hold the claim", RuleCategoryGeneric},
		{"", RuleCategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategoryForAction(tt.action))
		})
	}
}

func TestRuleIDAllocator_Sequences(t *testing.T) {
	a := NewRuleIDAllocator("ACME", nil)

	assert.Equal(t, "ACME-MOD-0001", a.Next(RuleCategoryModifier))
	assert.Equal(t, "ACME-MOD-0002", a.Next(RuleCategoryModifier))
	assert.Equal(t, "ACME-DX-0001", a.Next(RuleCategoryDiagnosis))
}

func TestRuleIDAllocator_ContinuesAfterExisting(t *testing.T) {
	a := NewRuleIDAllocator("ACME", []string{
		"ACME-MOD-0007",
		"ACME-MOD-0003",
		"ACME-EM-0002",
		"OTHER-MOD-0050",
		"ACME-RULE-abc",
		"manual-id",
	})

	assert.Equal(t, "ACME-MOD-0008", a.Next(RuleCategoryModifier))
	assert.Equal(t, "ACME-EM-0003", a.Next(RuleCategoryEM))
	assert.Equal(t, "ACME-RULE-0001", a.Next(RuleCategoryGeneric))

	a.Observe("ACME-MOD-0020")
	assert.Equal(t, "ACME-MOD-0021", a.Next(RuleCategoryModifier))
}

func TestRuleIDAllocator_RaiseNeverLowers(t *testing.T) {
	a := NewRuleIDAllocator("ACME", []string{"ACME-MOD-0001"})

	// MOD-0002 was issued and later cleaned up.
	a.Raise(RuleCategoryModifier, 2)
	a.Raise(RuleCategoryModifier, 1)

	assert.True(t, a.Issued("ACME-MOD-0002"))
	assert.False(t, a.Issued("ACME-MOD-0003"))
	assert.False(t, a.Issued("OTHER-MOD-0001"))
	assert.Equal(t, map[string]int{RuleCategoryModifier: 2}, a.Sequences())

	assert.Equal(t, "ACME-MOD-0003", a.Next(RuleCategoryModifier))
	assert.Equal(t, "ACME-DX-0001", a.Next(RuleCategoryDiagnosis))
	assert.Equal(t, map[string]int{RuleCategoryModifier: 3, RuleCategoryDiagnosis: 1}, a.Sequences())
}

func TestFormatRuleID_PadsToFourDigits(t *testing.T) {
	assert.Equal(t, "X-PROC-0042", FormatRuleID("X", RuleCategoryProcedure, 42))
	assert.Equal(t, "X-PROC-12345", FormatRuleID("X", RuleCategoryProcedure, 12345))
}

package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestNormalizer() *CandidateNormalizer {
	n := NewCandidateNormalizer(zap.NewNop())
	n.now = func() time.Time { return testNow }
	return n
}

func testCandidateContext() models.CandidateContext {
	return models.CandidateContext{
		ProjectID:    uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		SOPID:        uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		ClientPrefix: "ACME",
		UploadDate:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		FileName:     "payer-policy.pdf",
		CreatedBy:    "user-1",
	}
}

func strPtr(s string) *string { return &s }

func TestCandidateNormalizer_DefaultsAndIdentity(t *testing.T) {
	n := newTestNormalizer()
	ids := NewRuleIDAllocator("ACME", []string{"ACME-MOD-0004"})

	result, err := n.Normalize(&models.RawCandidate{
		Codes:                strPtr("99213, 99214"),
		Payers:               strPtr("@MEDICARE"),
		ActionDescription:    strPtr("Add modifier @ADD(@25) to the visit"),
		Conditions:           strPtr("a procedure is billed the same day"),
		DocumentationTrigger: strPtr("separate; significant"),
	}, testCandidateContext(), ids, nil)
	require.NoError(t, err)

	rule := result.Rule
	assert.Equal(t, "ACME-MOD-0005", rule.RuleID)
	assert.Equal(t, "99213, 99214", rule.Code)
	assert.Empty(t, rule.CodeGroup)
	assert.Equal(t, "@ADD(@25)", rule.Action)
	assert.Equal(t, "@MEDICARE", rule.PayerGroup)
	assert.Equal(t, "Add modifier @ADD(@25) to the visit when a procedure is billed the same day", rule.Description)
	assert.Equal(t, "2026-02-01", rule.EffectiveDate)
	assert.Equal(t, "payer-policy.pdf", rule.Reference)
	assert.Equal(t, models.RuleStatusPending, rule.Status)
	assert.Equal(t, 85, rule.Confidence)
	assert.Equal(t, models.RuleSourceAI, rule.Source)
	assert.Equal(t, 1, rule.Version)
	assert.Equal(t, "user-1", rule.CreatedBy)
	assert.Equal(t, testNow, rule.CreatedAt)
	assert.Equal(t, testNow, rule.UpdatedAt)
}

func TestCandidateNormalizer_KeepsSuppliedDateAndReference(t *testing.T) {
	n := newTestNormalizer()
	result, err := n.Normalize(&models.RawCandidate{
		Codes:             strPtr("@E_M_CODES"),
		ActionDescription: strPtr("Hold the claim"),
		EffectiveDate:     strPtr("2025-01-01"),
		Reference:         strPtr("LCD L12345"),
	}, testCandidateContext(), NewRuleIDAllocator("ACME", nil), nil)
	require.NoError(t, err)

	assert.Equal(t, "ACME-RULE-0001", result.Rule.RuleID)
	assert.Equal(t, "2025-01-01", result.Rule.EffectiveDate)
	assert.Equal(t, "LCD L12345", result.Rule.Reference)
	assert.Equal(t, "@E_M_CODES", result.Rule.CodeGroup, "a single tag in codes is the code group")
}

func TestCandidateNormalizer_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `rule: add modifier`},
		{"array", `[1, 2]`},
		{"null", `null`},
		{"no codes", `{"action_description": "Add modifier 25"}`},
		{"no action", `{"codes": "99213"}`},
		{"markup", `{"codes": "99213", "action_description": "<script>alert(1)</script>"}`},
		{"sql in codes", `{"codes": "1' OR '1'='1", "action_description": "Add modifier 25"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := NewRuleIDAllocator("ACME", nil)
			_, err := newTestNormalizer().NormalizeJSON([]byte(tt.data), testCandidateContext(), ids, nil)
			assert.ErrorIs(t, err, apperrors.ErrMalformedCandidate)
			assert.Equal(t, "ACME-MOD-0001", ids.Next(RuleCategoryModifier), "failed candidates must not consume ids")
		})
	}
}

func TestCandidateNormalizer_LenientFieldTypes(t *testing.T) {
	data := `{"codes": ["99213", 99214], "payers": "@AETNA", "action_description": "Append modifier 59", "unknown": true}`

	result, err := newTestNormalizer().NormalizeJSON([]byte(data), testCandidateContext(), NewRuleIDAllocator("ACME", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "99213, 99214", result.Rule.Code)
}

func TestCandidateNormalizer_DiscoversUnknownTags(t *testing.T) {
	vocab := taggrammar.NewStaticVocabulary().
		Add(models.TagTypePayerGroup, "@MEDICARE").
		Add(models.TagTypeAction, "@ADD")

	desc := `For @MEDICARE|@MEDICAID payers @ADD(@99214) when documented; the ASSESSMENT_PLAN must include "medical necessity".`
	result, err := newTestNormalizer().Normalize(&models.RawCandidate{
		Codes:       strPtr("99214"),
		Payers:      strPtr("@MEDICARE|@MEDICAID"),
		Providers:   strPtr("@NP_PA"),
		Description: strPtr(desc),
		Action:      strPtr("@ADD(@99214)"),
	}, testCandidateContext(), NewRuleIDAllocator("ACME", nil), vocab)
	require.NoError(t, err)

	got := make(map[string]models.TagType)
	for _, d := range result.Discoveries {
		got[d.Tag] = d.Type
		assert.Equal(t, result.Rule.RuleID, d.OriginRuleID)
		assert.Equal(t, testCandidateContext().SOPID, d.OriginSOPID)
		assert.Equal(t, models.TagStatusPendingReview, d.Status)
	}
	assert.Equal(t, map[string]models.TagType{
		"@MEDICAID": models.TagTypePayerGroup,
		"@99214":    models.TagTypeCodeGroup,
		"@NP_PA":    models.TagTypeProviderGroup,
	}, got)
	assert.ElementsMatch(t, []string{"@MEDICAID", "@99214", "@NP_PA"}, result.Rule.NewTags)
	assert.Empty(t, result.Warnings)
}

func TestCandidateNormalizer_UncategorizedTagIsWarning(t *testing.T) {
	result, err := newTestNormalizer().Normalize(&models.RawCandidate{
		Codes:             strPtr("99213"),
		ActionDescription: strPtr("Hold the claim"),
		Conditions:        strPtr("the note cites @MYSTERY"),
	}, testCandidateContext(), NewRuleIDAllocator("ACME", nil), taggrammar.NewStaticVocabulary())
	require.NoError(t, err)

	assert.Empty(t, result.Discoveries)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "@MYSTERY")
}

func TestScreenCandidate_CleanCandidate(t *testing.T) {
	c := &models.RawCandidate{
		Codes:             strPtr("99213, 99214"),
		Payers:            strPtr("@MEDICARE|@MEDICAID"),
		ActionDescription: strPtr(`For @MEDICARE payers @ADD(@25) when documented; the HPI must include "separate service".`),
	}
	assert.Nil(t, ScreenCandidate(c))
}

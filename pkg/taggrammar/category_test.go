package taggrammar

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

func testVocabulary() *StaticVocabulary {
	return NewStaticVocabulary().
		Add(models.TagTypePayerGroup, "@MEDICARE", "@MEDICAID", "@AMBIGUOUS").
		Add(models.TagTypeAction, "@ADD", "@REMOVE", "@AMBIGUOUS").
		Add(models.TagTypeCodeGroup, "@EM_CODES", "@99214", "@SHARED").
		Add(models.TagTypeProviderGroup, "@CARDIOLOGY_PROVIDERS", "@SHARED").
		Add(models.TagTypeChartSection, "@ASSESSMENT_PLAN", "@HPI")
}

func TestCategorize(t *testing.T) {
	v := testVocabulary()

	tests := []struct {
		name     string
		tag      string
		expected models.TagType
	}{
		{"payer exact", "@MEDICARE", models.TagTypePayerGroup},
		{"payer wins over action", "@AMBIGUOUS", models.TagTypePayerGroup},
		{"action prefix with parameter", "@ADD(@25)", models.TagTypeAction},
		{"action exact", "@REMOVE", models.TagTypeAction},
		{"code group exact", "@EM_CODES", models.TagTypeCodeGroup},
		{"code group wins over provider", "@SHARED", models.TagTypeCodeGroup},
		{"provider substring", "@CARDIOLOGY", models.TagTypeProviderGroup},
		{"chart section exact", "@HPI", models.TagTypeChartSection},
		{"unknown", "@NOPE", models.TagTypeOther},
		{"empty", "", models.TagTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(v, tt.tag))
		})
	}
}

func TestCategorize_NilVocabulary(t *testing.T) {
	assert.Equal(t, models.TagTypeOther, Categorize(nil, "@MEDICARE"))
}

func TestCategorizeGroup(t *testing.T) {
	v := testVocabulary()
	tokens := Tokenize("@MEDICARE|@EM_CODES → @HPI")
	group, ok := tokens[0].(TagGroup)
	if !ok {
		t.Fatalf("expected TagGroup, got %T", tokens[0])
	}

	got := CategorizeGroup(v, group)
	assert.Equal(t, map[string]models.TagType{
		"@MEDICARE": models.TagTypePayerGroup,
		"@EM_CODES": models.TagTypeCodeGroup,
		"@HPI":      models.TagTypeChartSection,
	}, got)
}

func TestStaticVocabulary_TagsLongestFirst(t *testing.T) {
	v := NewStaticVocabulary().Add(models.TagTypeAction, "@ADD", "@ADD_MOD", "@X")
	assert.Equal(t, []string{"@ADD_MOD", "@ADD", "@X"}, v.Tags(models.TagTypeAction))
	assert.Equal(t, 3, v.Len())
	assert.Empty(t, v.Tags(models.TagTypePayerGroup))
}

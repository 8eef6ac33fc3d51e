package taggrammar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

func TestParse_ExampleSentence(t *testing.T) {
	s, err := Parse(exampleDescription)
	require.NoError(t, err)

	assert.Equal(t, []string{"@MEDICARE", "@MEDICAID"}, s.Payers)
	assert.Equal(t, []string{"@ADD"}, s.Actions)
	assert.Equal(t, []string{"@99214"}, s.Codes)
	assert.Equal(t, "documented", s.Trigger)
	assert.Equal(t, "ASSESSMENT_PLAN", s.ChartSection)
	assert.Equal(t, "medical necessity", s.Phrase)
	assert.Empty(t, s.Remap)

	assert.Equal(t, exampleDescription, Format(s))
}

func TestFormat_RoundTrip(t *testing.T) {
	sentences := []*Sentence{
		{
			Payers:       []string{"@COMMERCIAL"},
			Actions:      []string{"@ADD", "@APPEND"},
			Codes:        []string{"@25", "@59"},
			Trigger:      "separate procedure documented",
			ChartSection: "@PROCEDURE_NOTE",
			Phrase:       "distinct procedural service",
		},
		{
			Payers:       []string{"@MEDICARE"},
			Actions:      []string{"@SWAP"},
			Codes:        []string{"99213", "99214"},
			Remap:        "@99215",
			Trigger:      "time exceeds 40 minutes",
			ChartSection: "HPI",
			Phrase:       "total time",
		},
	}

	for _, want := range sentences {
		got, err := Parse(Format(want))
		require.NoError(t, err, Format(want))
		assert.Equal(t, want, got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing For", `@MEDICARE payers @ADD(@25) when x; the HPI must include "y".`},
		{"missing period", `For @MEDICARE payers @ADD(@25) when x; the HPI must include "y"`},
		{"missing payers", `For @MEDICARE @ADD(@25) when x; the HPI must include "y".`},
		{"payers not a tag", `For Medicare payers @ADD(@25) when x; the HPI must include "y".`},
		{"action without codes", `For @MEDICARE payers @ADD when x; the HPI must include "y".`},
		{"missing when", `For @MEDICARE payers @ADD(@25) if x; the HPI must include "y".`},
		{"missing section", `For @MEDICARE payers @ADD(@25) when x must include "y".`},
		{"section not a name", `For @MEDICARE payers @ADD(@25) when x; the chart must include "y".`},
		{"unquoted phrase", `For @MEDICARE payers @ADD(@25) when x; the HPI must include y.`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string // issue codes
	}{
		{"well formed", exampleDescription, nil},
		{
			name:     "upper case trigger",
			input:    `For @MEDICARE payers @ADD(@25) when Documented; the HPI must include "y".`,
			expected: []string{IssueTriggerCase},
		},
		{
			name:     "quoted and tagged trigger text may be upper case",
			input:    `For @MEDICARE payers @ADD(@25) when "ROS" noted with @HPI; the HPI must include "y".`,
			expected: nil,
		},
		{
			name:     "if then",
			input:    `For @MEDICARE payers @ADD(@25) when if seen then billed; the HPI must include "y".`,
			expected: []string{IssueIfThen},
		},
		{
			name:     "two sentences",
			input:    `For @MEDICARE payers @ADD(@25) when seen. also billed; the HPI must include "y".`,
			expected: []string{IssueMultiSentence},
		},
		{
			name:     "empty phrase",
			input:    `For @MEDICARE payers @ADD(@25) when seen; the HPI must include "".`,
			expected: []string{IssueEmptyPhrase},
		},
		{
			name:     "broken structure",
			input:    "Add modifier 25.",
			expected: []string{IssueStructure},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var codes []string
			for _, issue := range Validate(tt.input) {
				codes = append(codes, issue.Code)
			}
			assert.Equal(t, tt.expected, codes)
		})
	}
}

func TestSentence_Roles(t *testing.T) {
	s, err := Parse(`For @MEDICARE payers @ADD(@EM_CODES|99213) when seen; the @HPI must include "y".`)
	require.NoError(t, err)

	assert.Equal(t, map[string]models.TagType{
		"@MEDICARE": models.TagTypePayerGroup,
		"@ADD":      models.TagTypeAction,
		"@EM_CODES": models.TagTypeCodeGroup,
		"@HPI":      models.TagTypeChartSection,
	}, s.Roles())
}

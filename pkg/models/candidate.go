package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/sop-rules-engine/pkg/jsonutil"
)

// RawCandidate is an extraction result before normalization.
// Every field is optional; nil means the collaborator did not supply it.
// The first nine fields are the collaborator contract, the rest are optional
// hints some prompts return and the normalizer prefers when present.
type RawCandidate struct {
	Codes                *string `json:"codes"`
	Payers               *string `json:"payers"`
	Providers            *string `json:"providers"`
	ActionDescription    *string `json:"action_description"`
	Conditions           *string `json:"conditions"`
	EffectiveDate        *string `json:"effective_date"`
	EndDate              *string `json:"end_date"`
	Reference            *string `json:"reference"`
	DocumentationTrigger *string `json:"documentation_trigger"`

	Action        *string `json:"action,omitempty"`
	CodeGroup     *string `json:"code_group,omitempty"`
	CodesSelected *string `json:"codes_selected,omitempty"`
	Description   *string `json:"description,omitempty"`
	ChartSection  *string `json:"chart_section,omitempty"`
}

// fields maps JSON keys to their destination. Values are decoded
// leniently because generated output sometimes uses numbers or arrays.
func (c *RawCandidate) fields() map[string]**string {
	return map[string]**string{
		"codes":                 &c.Codes,
		"payers":                &c.Payers,
		"providers":             &c.Providers,
		"action_description":    &c.ActionDescription,
		"conditions":            &c.Conditions,
		"effective_date":        &c.EffectiveDate,
		"end_date":              &c.EndDate,
		"reference":             &c.Reference,
		"documentation_trigger": &c.DocumentationTrigger,
		"action":                &c.Action,
		"code_group":            &c.CodeGroup,
		"codes_selected":        &c.CodesSelected,
		"description":           &c.Description,
		"chart_section":         &c.ChartSection,
	}
}

// CandidateFieldNames lists the JSON keys of RawCandidate in contract order.
var CandidateFieldNames = []string{
	"codes", "payers", "providers", "action_description", "conditions",
	"effective_date", "end_date", "reference", "documentation_trigger",
	"action", "code_group", "codes_selected", "description", "chart_section",
}

// Field returns the value of a field by JSON key, or nil.
func (c *RawCandidate) Field(name string) *string {
	if p, ok := c.fields()[name]; ok {
		return *p
	}
	return nil
}

// DecodeRawCandidate parses one candidate object. Unknown keys are ignored.
// Returns an error only when the payload is not a JSON object.
func DecodeRawCandidate(data []byte) (*RawCandidate, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("candidate is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("candidate is null")
	}

	c := &RawCandidate{}
	for key, dst := range c.fields() {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		value := strings.TrimSpace(jsonutil.FlexibleJoinedValue(raw, ", "))
		if value == "" {
			continue
		}
		*dst = &value
	}
	return c, nil
}

// Value returns the dereferenced field or "".
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// CandidateContext is the positional context a candidate was extracted in.
type CandidateContext struct {
	ProjectID    uuid.UUID
	SOPID        uuid.UUID
	ClientPrefix string
	SegmentIndex int
	SectionIndex int
	UploadDate   time.Time
	FileName     string
	CreatedBy    string
}

// NormalizeResult is the output of normalizing one candidate.
type NormalizeResult struct {
	Rule        *Rule
	Discoveries []TagDiscovery
	// Warnings are non-fatal problems, such as tags with no resolvable category.
	Warnings []string
}

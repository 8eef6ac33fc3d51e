// Package models contains domain types for the SOP rules engine.
package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rule status values. Rejected rules stay in the collection until cleanup.
const (
	RuleStatusPending  = "pending"
	RuleStatusActive   = "active"
	RuleStatusRejected = "rejected"
)

// Rule source values.
const (
	RuleSourceAI       = "ai"
	RuleSourceManual   = "manual"
	RuleSourceTemplate = "template"
	RuleSourceCSV      = "csv"
)

// Defaults stamped on freshly normalized rules.
const (
	DefaultRuleConfidence = 85
	DefaultRuleVersion    = 1
)

// Rule is a billing instruction belonging to one SOP.
// RuleID is unique within the SOP and never changes once assigned.
type Rule struct {
	RuleID               string     `json:"rule_id"`
	ProjectID            uuid.UUID  `json:"project_id"`
	SOPID                uuid.UUID  `json:"sop_id"`
	Code                 string     `json:"code"`
	CodeGroup            string     `json:"code_group,omitempty"`
	CodesSelected        []string   `json:"codes_selected,omitempty"`
	Action               string     `json:"action"`
	PayerGroup           string     `json:"payer_group"`
	ProviderGroup        string     `json:"provider_group,omitempty"`
	Description          string     `json:"description"`
	DocumentationTrigger string     `json:"documentation_trigger,omitempty"`
	ChartSection         string     `json:"chart_section,omitempty"`
	EffectiveDate        string     `json:"effective_date,omitempty"`
	EndDate              string     `json:"end_date,omitempty"`
	Reference            string     `json:"reference,omitempty"`
	Status               string     `json:"status"`
	Conflicts            []Conflict `json:"conflicts,omitempty"` // derived on every scan
	NewTags              []string   `json:"new_tags,omitempty"`
	Source               string     `json:"source"`
	Confidence           int        `json:"confidence"`
	Version              int        `json:"version"`
	CreatedBy            string     `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsScannable reports whether the rule takes part in conflict detection.
func (r *Rule) IsScannable() bool {
	return r.Status == RuleStatusActive || r.Status == RuleStatusPending
}

// CodeSet returns the rule's codes parsed as a comma-separated set.
// Falls back to the code group when no raw code is present.
func (r *Rule) CodeSet() map[string]struct{} {
	raw := r.Code
	if strings.TrimSpace(raw) == "" {
		raw = r.CodeGroup
	}
	set := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}

// CanonicalGroup returns the canonical serialized form of a tag group field.
// A single tag and a pipe- or comma-separated set are both normalized to a
// sorted, de-duplicated, pipe-joined list so that "@A|@B" equals "@B, @A".
func CanonicalGroup(value string) string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == '|' || r == ','
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return strings.Join(out, "|")
}

// StripConflict removes every attached conflict with the given id.
// Returns true if anything was removed.
func (r *Rule) StripConflict(conflictID string) bool {
	if len(r.Conflicts) == 0 {
		return false
	}
	kept := r.Conflicts[:0]
	removed := false
	for _, c := range r.Conflicts {
		if c.ID == conflictID {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	r.Conflicts = kept
	return removed
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	c := *r
	if r.CodesSelected != nil {
		c.CodesSelected = append([]string(nil), r.CodesSelected...)
	}
	if r.Conflicts != nil {
		c.Conflicts = append([]Conflict(nil), r.Conflicts...)
	}
	if r.NewTags != nil {
		c.NewTags = append([]string(nil), r.NewTags...)
	}
	return &c
}

package services

import (
	"strings"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// dedupKey is the field set two rules must share to be duplicates.
type dedupKey struct {
	code                 string
	action               string
	payerGroup           string
	providerGroup        string
	description          string
	chartSection         string
	documentationTrigger string
}

func dedupKeyOf(r *models.Rule) dedupKey {
	return dedupKey{
		code:                 strings.TrimSpace(r.Code),
		action:               strings.TrimSpace(r.Action),
		payerGroup:           models.CanonicalGroup(r.PayerGroup),
		providerGroup:        models.CanonicalGroup(r.ProviderGroup),
		description:          strings.TrimSpace(r.Description),
		chartSection:         strings.TrimSpace(r.ChartSection),
		documentationTrigger: strings.TrimSpace(r.DocumentationTrigger),
	}
}

// RuleDeduplicator filters candidates of an update run against the rules
// already in the SOP. Rejected rules count as existing so that re-ingesting
// a document does not bring back rules an operator already turned down.
type RuleDeduplicator struct {
	seen map[dedupKey]string
}

// NewRuleDeduplicator indexes the existing rules.
func NewRuleDeduplicator(existing []*models.Rule) *RuleDeduplicator {
	d := &RuleDeduplicator{seen: make(map[dedupKey]string, len(existing))}
	for _, r := range existing {
		d.seen[dedupKeyOf(r)] = r.RuleID
	}
	return d
}

// DuplicateOf returns the id of the rule the candidate duplicates, if any.
func (d *RuleDeduplicator) DuplicateOf(candidate *models.Rule) (string, bool) {
	id, ok := d.seen[dedupKeyOf(candidate)]
	return id, ok
}

// Remember indexes a rule added during the run, so a later candidate of the
// same run with identical fields is reported as its duplicate.
func (d *RuleDeduplicator) Remember(rule *models.Rule) {
	key := dedupKeyOf(rule)
	if _, ok := d.seen[key]; !ok {
		d.seen[key] = rule.RuleID
	}
}

package services

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

// Action keyword classes used for contradiction detection. Matching is on
// whole underscore-separated words of the action's base name.
var (
	addActionWords    = []string{"ADD", "APPEND", "INSERT", "INCLUDE"}
	removeActionWords = []string{"REMOVE", "DELETE", "DROP", "STRIP", "EXCLUDE"}
)

type actionClass int

const (
	actionClassNone actionClass = iota
	actionClassAdd
	actionClassRemove
)

func classifyAction(action string) actionClass {
	base := strings.TrimPrefix(taggrammar.BaseName(strings.TrimSpace(action)), "@")
	words := strings.FieldsFunc(strings.ToUpper(base), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	})
	for _, w := range words {
		for _, kw := range addActionWords {
			if w == kw {
				return actionClassAdd
			}
		}
		for _, kw := range removeActionWords {
			if w == kw {
				return actionClassRemove
			}
		}
	}
	return actionClassNone
}

// ConflictDetector finds pairwise inconsistencies in a rule collection.
// It holds no state between scans; the resolved-id set is passed in.
type ConflictDetector struct {
	canonicalIDs bool
	logger       *zap.Logger
}

// NewConflictDetector creates a detector. With canonicalIDs the two rule ids
// are sorted before the conflict id is derived, so the id of a pair does not
// depend on collection order.
func NewConflictDetector(canonicalIDs bool, logger *zap.Logger) *ConflictDetector {
	return &ConflictDetector{
		canonicalIDs: canonicalIDs,
		logger:       logger.Named("conflict-detector"),
	}
}

// ConflictID derives the id of the conflict between two rules given in
// scan order.
func (d *ConflictDetector) ConflictID(first, second string) string {
	if d.canonicalIDs && second < first {
		first, second = second, first
	}
	return conflictID(first, second)
}

func conflictID(first, second string) string {
	return "conflict-" + first + "-" + second
}

// isResolved checks the pair under both orderings so records written in
// either id mode keep suppressing the pair.
func isResolved(resolved *models.ResolvedConflictSet, first, second string) bool {
	return resolved.Contains(conflictID(first, second)) || resolved.Contains(conflictID(second, first))
}

// Detect returns the conflicts among the active and pending rules, in scan
// order, skipping pairs whose conflict id is in resolved.
func (d *ConflictDetector) Detect(rules []*models.Rule, resolved *models.ResolvedConflictSet) []models.Conflict {
	scannable := make([]*models.Rule, 0, len(rules))
	codes := make([]map[string]struct{}, 0, len(rules))
	for _, r := range rules {
		if r.IsScannable() {
			scannable = append(scannable, r)
			codes = append(codes, r.CodeSet())
		}
	}

	var conflicts []models.Conflict
	for i := 0; i < len(scannable); i++ {
		for j := i + 1; j < len(scannable); j++ {
			a, b := scannable[i], scannable[j]
			if isResolved(resolved, a.RuleID, b.RuleID) {
				continue
			}
			conflicts = append(conflicts, d.comparePair(a, b, codes[i], codes[j])...)
		}
	}
	return conflicts
}

func (d *ConflictDetector) comparePair(a, b *models.Rule, codesA, codesB map[string]struct{}) []models.Conflict {
	id := d.ConflictID(a.RuleID, b.RuleID)
	pair := [2]string{a.RuleID, b.RuleID}

	samePayer := models.CanonicalGroup(a.PayerGroup) == models.CanonicalGroup(b.PayerGroup)
	actionA, actionB := strings.TrimSpace(a.Action), strings.TrimSpace(b.Action)
	overlap := intersect(codesA, codesB)

	var out []models.Conflict

	if samePayer && len(overlap) > 0 && actionA != actionB {
		out = append(out, models.Conflict{
			ID:              id,
			Type:            models.ConflictTypeOverlapping,
			Severity:        models.SeverityHigh,
			AffectedRuleIDs: pair,
			Description: fmt.Sprintf("Rules %s and %s apply different actions (%s, %s) to code(s) %s for the same payers",
				a.RuleID, b.RuleID, actionA, actionB, strings.Join(overlap, ", ")),
			Suggestion: "Keep the rule that reflects current policy, or merge them into one rule with explicit conditions",
		})
	}

	if strings.TrimSpace(a.Code) == strings.TrimSpace(b.Code) &&
		actionA == actionB &&
		samePayer &&
		strings.TrimSpace(a.Description) == strings.TrimSpace(b.Description) {
		out = append(out, models.Conflict{
			ID:              id,
			Type:            models.ConflictTypeDuplicate,
			Severity:        models.SeverityMedium,
			AffectedRuleIDs: pair,
			Description:     fmt.Sprintf("Rules %s and %s are identical", a.RuleID, b.RuleID),
			Suggestion:      "Keep one of the two rules",
		})
	}

	if samePayer && len(overlap) > 0 {
		ca, cb := classifyAction(actionA), classifyAction(actionB)
		if (ca == actionClassAdd && cb == actionClassRemove) || (ca == actionClassRemove && cb == actionClassAdd) {
			out = append(out, models.Conflict{
				ID:              id,
				Type:            models.ConflictTypeContradictory,
				Severity:        models.SeverityHigh,
				AffectedRuleIDs: pair,
				Description: fmt.Sprintf("Rule %s (%s) contradicts rule %s (%s) on code(s) %s",
					a.RuleID, actionA, b.RuleID, actionB, strings.Join(overlap, ", ")),
				Suggestion: "One rule adds what the other removes; keep only one of them",
			})
		}
	}

	return out
}

func intersect(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Scan detects conflicts in the collection and attaches each one to both
// affected rules, replacing whatever was attached before. Rejected rules end
// up with no conflicts.
func (d *ConflictDetector) Scan(coll *RuleCollection, resolved *models.ResolvedConflictSet) []models.Conflict {
	conflicts := d.Detect(coll.Rules(), resolved)

	byRule := make(map[string][]models.Conflict)
	for _, c := range conflicts {
		byRule[c.AffectedRuleIDs[0]] = append(byRule[c.AffectedRuleIDs[0]], c)
		byRule[c.AffectedRuleIDs[1]] = append(byRule[c.AffectedRuleIDs[1]], c)
	}
	coll.replaceConflicts(byRule)

	d.logger.Debug("Scan complete",
		zap.Int("rules", coll.Len()),
		zap.Int("conflicts", len(conflicts)),
		zap.Int("resolved", resolved.Len()))
	return conflicts
}

package services

import (
	"fmt"
	"slices"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// RuleCollection is the in-memory working copy of one SOP's rules.
// It keeps insertion order, rejects duplicate rule ids, and records which
// rules were added or modified so the caller can persist only the delta.
//
// A RuleCollection is not safe for concurrent use; writers hold the
// SOP's CollectionLock while working on it.
type RuleCollection struct {
	rules   []*models.Rule
	index   map[string]int
	added   map[string]struct{}
	updated map[string]struct{}
	removed []string
}

// CollectionChanges is the delta produced by a batch of mutations.
type CollectionChanges struct {
	Added   []*models.Rule
	Updated []*models.Rule
	Removed []string
}

// IsEmpty reports whether nothing needs persisting.
func (c CollectionChanges) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// NewRuleCollection wraps rules loaded from the store, in stored order.
func NewRuleCollection(rules []*models.Rule) (*RuleCollection, error) {
	c := &RuleCollection{
		rules:   make([]*models.Rule, 0, len(rules)),
		index:   make(map[string]int, len(rules)),
		added:   make(map[string]struct{}),
		updated: make(map[string]struct{}),
	}
	for _, r := range rules {
		if _, ok := c.index[r.RuleID]; ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicateRuleID, r.RuleID)
		}
		c.index[r.RuleID] = len(c.rules)
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// Rules returns the rules in collection order. The slice must not be modified.
func (c *RuleCollection) Rules() []*models.Rule {
	return c.rules
}

// Len returns the number of rules, rejected ones included.
func (c *RuleCollection) Len() int {
	return len(c.rules)
}

// Get returns the rule with the given id.
func (c *RuleCollection) Get(ruleID string) (*models.Rule, bool) {
	i, ok := c.index[ruleID]
	if !ok {
		return nil, false
	}
	return c.rules[i], true
}

// IDs returns every rule id in collection order.
func (c *RuleCollection) IDs() []string {
	ids := make([]string, len(c.rules))
	for i, r := range c.rules {
		ids[i] = r.RuleID
	}
	return ids
}

// Append adds a new rule at the end. Fails with ErrDuplicateRuleID rather
// than replacing an existing rule.
func (c *RuleCollection) Append(rule *models.Rule) error {
	if rule.RuleID == "" {
		return fmt.Errorf("rule id is required")
	}
	if _, ok := c.index[rule.RuleID]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateRuleID, rule.RuleID)
	}
	c.index[rule.RuleID] = len(c.rules)
	c.rules = append(c.rules, rule)
	c.added[rule.RuleID] = struct{}{}
	return nil
}

// SetStatus moves a rule to a new status and marks it modified.
// Returns false if the rule already had that status.
func (c *RuleCollection) SetStatus(ruleID, status string) (bool, error) {
	r, ok := c.Get(ruleID)
	if !ok {
		return false, fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
	}
	if r.Status == status {
		return false, nil
	}
	r.Status = status
	c.MarkUpdated(ruleID)
	return true, nil
}

// MarkUpdated flags a rule as modified in place.
func (c *RuleCollection) MarkUpdated(ruleID string) {
	if _, ok := c.index[ruleID]; !ok {
		return
	}
	if _, isNew := c.added[ruleID]; isNew {
		return
	}
	c.updated[ruleID] = struct{}{}
}

// Scannable returns the active and pending rules in collection order.
func (c *RuleCollection) Scannable() []*models.Rule {
	out := make([]*models.Rule, 0, len(c.rules))
	for _, r := range c.rules {
		if r.IsScannable() {
			out = append(out, r)
		}
	}
	return out
}

// RemoveRejected drops every rejected rule and returns their ids.
func (c *RuleCollection) RemoveRejected() []string {
	var removed []string
	kept := c.rules[:0]
	for _, r := range c.rules {
		if r.Status == models.RuleStatusRejected {
			removed = append(removed, r.RuleID)
			delete(c.added, r.RuleID)
			delete(c.updated, r.RuleID)
			continue
		}
		kept = append(kept, r)
	}
	c.rules = kept
	c.index = make(map[string]int, len(kept))
	for i, r := range kept {
		c.index[r.RuleID] = i
	}
	c.removed = append(c.removed, removed...)
	return removed
}

// StripConflict removes the conflict from every rule it is attached to.
func (c *RuleCollection) StripConflict(conflictID string) int {
	n := 0
	for _, r := range c.rules {
		if r.StripConflict(conflictID) {
			c.MarkUpdated(r.RuleID)
			n++
		}
	}
	return n
}

// AttachedConflicts returns the distinct conflicts currently attached to
// rules, in the order they are first seen.
func (c *RuleCollection) AttachedConflicts() []models.Conflict {
	var out []models.Conflict
	seen := make(map[string]struct{})
	for _, r := range c.rules {
		for _, cf := range r.Conflicts {
			key := cf.ID + "/" + string(cf.Type)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, cf)
		}
	}
	return out
}

// FindConflict looks a conflict id up across every rule's attached list.
func (c *RuleCollection) FindConflict(conflictID string) (models.Conflict, bool) {
	for _, r := range c.rules {
		for _, cf := range r.Conflicts {
			if cf.ID == conflictID {
				return cf, true
			}
		}
	}
	return models.Conflict{}, false
}

// replaceConflicts installs freshly scanned conflict lists and marks every
// rule whose list changed.
func (c *RuleCollection) replaceConflicts(byRule map[string][]models.Conflict) {
	for _, r := range c.rules {
		next := byRule[r.RuleID]
		if !slices.Equal(r.Conflicts, next) {
			r.Conflicts = next
			c.MarkUpdated(r.RuleID)
		}
	}
}

// Changes returns the pending delta in collection order.
func (c *RuleCollection) Changes() CollectionChanges {
	var ch CollectionChanges
	for _, r := range c.rules {
		if _, ok := c.added[r.RuleID]; ok {
			ch.Added = append(ch.Added, r)
		} else if _, ok := c.updated[r.RuleID]; ok {
			ch.Updated = append(ch.Updated, r)
		}
	}
	ch.Removed = append(ch.Removed, c.removed...)
	return ch
}

// ResetChanges forgets the recorded delta, typically after it was persisted.
func (c *RuleCollection) ResetChanges() {
	c.added = make(map[string]struct{})
	c.updated = make(map[string]struct{})
	c.removed = nil
}

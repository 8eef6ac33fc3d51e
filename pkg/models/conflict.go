package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictType is the fixed conflict taxonomy.
type ConflictType string

const (
	ConflictTypeOverlapping   ConflictType = "overlapping"
	ConflictTypeDuplicate     ConflictType = "duplicate"
	ConflictTypeContradictory ConflictType = "contradictory"
)

// ConflictSeverity ranks a conflict.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// Conflict is a detected inconsistency between exactly two rules.
// Conflicts are derived state and are recomputed by every scan.
type Conflict struct {
	ID              string           `json:"id"`
	Type            ConflictType     `json:"type"`
	Severity        ConflictSeverity `json:"severity"`
	AffectedRuleIDs [2]string        `json:"affected_rule_ids"`
	Description     string           `json:"description"`
	Suggestion      string           `json:"suggestion"`
}

// Involves reports whether the conflict references the given rule.
func (c *Conflict) Involves(ruleID string) bool {
	return c.AffectedRuleIDs[0] == ruleID || c.AffectedRuleIDs[1] == ruleID
}

// ResolutionAction is the closed set of operator decisions.
type ResolutionAction string

const (
	ResolutionKeepFirst  ResolutionAction = "keep_first"
	ResolutionKeepSecond ResolutionAction = "keep_second"
	ResolutionKeepBoth   ResolutionAction = "keep_both"
	ResolutionMerge      ResolutionAction = "merge"
	ResolutionDeleteBoth ResolutionAction = "delete_both"
)

// Valid reports whether the action is one of the five known values.
func (a ResolutionAction) Valid() bool {
	switch a {
	case ResolutionKeepFirst, ResolutionKeepSecond, ResolutionKeepBoth, ResolutionMerge, ResolutionDeleteBoth:
		return true
	}
	return false
}

// ConflictResolution is an operator decision on one conflict.
type ConflictResolution struct {
	ConflictID string           `json:"conflict_id"`
	Action     ResolutionAction `json:"action"`
	MergedRule *Rule            `json:"merged_rule,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	ResolvedBy string           `json:"resolved_by,omitempty"`
}

// ResolvedConflict is the persisted record of a resolved conflict id.
type ResolvedConflict struct {
	ProjectID  uuid.UUID        `json:"project_id"`
	SOPID      uuid.UUID        `json:"sop_id"`
	ConflictID string           `json:"conflict_id"`
	Action     ResolutionAction `json:"action"`
	ResolvedBy string           `json:"resolved_by,omitempty"`
	ResolvedAt time.Time        `json:"resolved_at"`
}

// ResolvedConflictSet holds the conflict ids an operator has already decided.
// It is loaded from and written through to the store alongside the rules.
type ResolvedConflictSet struct {
	ids map[string]struct{}
}

// NewResolvedConflictSet builds a set from the given ids.
func NewResolvedConflictSet(ids ...string) *ResolvedConflictSet {
	s := &ResolvedConflictSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains reports whether the id has been resolved.
func (s *ResolvedConflictSet) Contains(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

// Add records an id. Returns false if it was already present.
func (s *ResolvedConflictSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of resolved ids.
func (s *ResolvedConflictSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// ConflictSummary counts conflicts for an SOP by type and severity.
type ConflictSummary struct {
	Total      int                      `json:"total"`
	ByType     map[ConflictType]int     `json:"by_type"`
	BySeverity map[ConflictSeverity]int `json:"by_severity"`
	Resolved   int                      `json:"resolved"`
}

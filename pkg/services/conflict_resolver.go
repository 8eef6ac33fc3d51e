package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// ResolutionOutcome reports what applying a resolution did.
type ResolutionOutcome struct {
	ConflictID      string                  `json:"conflict_id"`
	Action          models.ResolutionAction `json:"action"`
	NewlyResolved   int                     `json:"newly_resolved"`
	RejectedRuleIDs []string                `json:"rejected_rule_ids,omitempty"`
	AddedRuleID     string                  `json:"added_rule_id,omitempty"`
	Remaining       []models.Conflict       `json:"remaining"`
}

// ConflictResolver applies operator decisions to a rule collection.
type ConflictResolver struct {
	detector *ConflictDetector
	logger   *zap.Logger
	now      func() time.Time
}

// NewConflictResolver creates a resolver that rescans with detector.
func NewConflictResolver(detector *ConflictDetector, logger *zap.Logger) *ConflictResolver {
	return &ConflictResolver{
		detector: detector,
		logger:   logger.Named("conflict-resolver"),
		now:      time.Now,
	}
}

// Apply executes res against coll and records the conflict id in resolved.
//
// Every check runs before the first mutation, so a failed resolution leaves
// both the collection and the resolved set untouched. Applying a resolution
// whose id is already resolved changes nothing and reports NewlyResolved=0.
func (r *ConflictResolver) Apply(
	coll *RuleCollection,
	resolved *models.ResolvedConflictSet,
	res models.ConflictResolution,
) (*ResolutionOutcome, error) {
	if !res.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidAction, res.Action)
	}

	outcome := &ResolutionOutcome{ConflictID: res.ConflictID, Action: res.Action}

	if resolved.Contains(res.ConflictID) {
		outcome.Remaining = coll.AttachedConflicts()
		return outcome, nil
	}

	conflict, ok := coll.FindConflict(res.ConflictID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConflictNotFound, res.ConflictID)
	}
	first, second := conflict.AffectedRuleIDs[0], conflict.AffectedRuleIDs[1]

	var merged *models.Rule
	if res.Action == models.ResolutionMerge {
		if res.MergedRule == nil {
			return nil, fmt.Errorf("%w: merge requires a merged rule", apperrors.ErrInvalidAction)
		}
		if res.MergedRule.RuleID == "" {
			return nil, fmt.Errorf("%w: merged rule has no rule id", apperrors.ErrInvalidAction)
		}
		if _, exists := coll.Get(res.MergedRule.RuleID); exists {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicateRuleID, res.MergedRule.RuleID)
		}
		merged = r.prepareMerged(res.MergedRule, coll, first)
	}

	var reject []string
	switch res.Action {
	case models.ResolutionKeepFirst:
		reject = []string{second}
	case models.ResolutionKeepSecond:
		reject = []string{first}
	case models.ResolutionMerge, models.ResolutionDeleteBoth:
		reject = []string{first, second}
	case models.ResolutionKeepBoth:
	}
	for _, id := range reject {
		if _, ok := coll.Get(id); !ok {
			return nil, fmt.Errorf("rule %s referenced by %s: %w", id, res.ConflictID, apperrors.ErrNotFound)
		}
	}

	// Validation is complete; from here on nothing fails.
	resolved.Add(res.ConflictID)
	now := r.now().UTC()
	for _, id := range reject {
		changed, _ := coll.SetStatus(id, models.RuleStatusRejected)
		if changed {
			rule, _ := coll.Get(id)
			rule.UpdatedAt = now
			outcome.RejectedRuleIDs = append(outcome.RejectedRuleIDs, id)
		}
	}
	if merged != nil {
		if err := coll.Append(merged); err != nil {
			return nil, err
		}
		outcome.AddedRuleID = merged.RuleID
	}

	coll.StripConflict(res.ConflictID)
	outcome.Remaining = r.detector.Scan(coll, resolved)
	outcome.NewlyResolved = 1

	r.logger.Info("Conflict resolved",
		zap.String("conflict_id", res.ConflictID),
		zap.String("action", string(res.Action)),
		zap.Strings("rejected", outcome.RejectedRuleIDs),
		zap.Int("remaining", len(outcome.Remaining)))

	return outcome, nil
}

// prepareMerged copies the caller's rule and fills lifecycle fields the
// caller left empty, taking ownership fields from the first affected rule.
func (r *ConflictResolver) prepareMerged(in *models.Rule, coll *RuleCollection, firstID string) *models.Rule {
	m := in.Clone()
	m.Conflicts = nil
	now := r.now().UTC()
	if base, ok := coll.Get(firstID); ok {
		m.ProjectID = base.ProjectID
		m.SOPID = base.SOPID
	}
	if m.Status == "" || m.Status == models.RuleStatusRejected {
		m.Status = models.RuleStatusPending
	}
	if m.Source == "" {
		m.Source = models.RuleSourceManual
	}
	if m.Version == 0 {
		m.Version = models.DefaultRuleVersion
	}
	if m.Confidence == 0 {
		m.Confidence = 100
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return m
}

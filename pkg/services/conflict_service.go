package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/metrics"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
)

// ConflictService detects and resolves conflicts between an SOP's rules.
// All methods expect a tenant-scoped context.
type ConflictService interface {
	// Scan runs a full detection pass and stores the attached conflicts.
	Scan(ctx context.Context, sopID uuid.UUID) ([]models.Conflict, error)

	// List returns the conflicts attached by the last scan.
	List(ctx context.Context, sopID uuid.UUID) ([]models.Conflict, error)

	Summary(ctx context.Context, sopID uuid.UUID) (*models.ConflictSummary, error)

	// Resolve applies an operator decision. The decision, the rule changes
	// it causes and the rescan are persisted together or not at all.
	Resolve(ctx context.Context, sopID uuid.UUID, res models.ConflictResolution) (*ResolutionOutcome, error)

	// ListResolved returns the resolution history of the SOP.
	ListResolved(ctx context.Context, sopID uuid.UUID) ([]*models.ResolvedConflict, error)
}

type conflictService struct {
	store        *collectionStore
	resolver     *ConflictResolver
	resolvedRepo repositories.ResolvedConflictRepository
	logger       *zap.Logger
	now          func() time.Time
}

// NewConflictService creates a ConflictService.
func NewConflictService(
	sopRepo repositories.SOPRepository,
	ruleRepo repositories.RuleRepository,
	resolvedRepo repositories.ResolvedConflictRepository,
	lock CollectionLock,
	detector *ConflictDetector,
	logger *zap.Logger,
) ConflictService {
	named := logger.Named("conflict-service")
	return &conflictService{
		store:        newCollectionStore(sopRepo, ruleRepo, resolvedRepo, lock, detector, named),
		resolver:     NewConflictResolver(detector, logger),
		resolvedRepo: resolvedRepo,
		logger:       named,
		now:          time.Now,
	}
}

var _ ConflictService = (*conflictService)(nil)

func (s *conflictService) Scan(ctx context.Context, sopID uuid.UUID) ([]models.Conflict, error) {
	ws, err := s.store.Mutate(ctx, sopID, func(*WorkingSet) error { return nil })
	if err != nil {
		return nil, err
	}
	return ws.Conflicts(), nil
}

func (s *conflictService) List(ctx context.Context, sopID uuid.UUID) ([]models.Conflict, error) {
	ws, err := s.store.Load(ctx, sopID)
	if err != nil {
		return nil, err
	}
	return ws.Rules.AttachedConflicts(), nil
}

func (s *conflictService) Summary(ctx context.Context, sopID uuid.UUID) (*models.ConflictSummary, error) {
	ws, err := s.store.Load(ctx, sopID)
	if err != nil {
		return nil, err
	}
	summary := &models.ConflictSummary{
		ByType:     make(map[models.ConflictType]int),
		BySeverity: make(map[models.ConflictSeverity]int),
		Resolved:   ws.Resolved.Len(),
	}
	for _, c := range ws.Rules.AttachedConflicts() {
		summary.Total++
		summary.ByType[c.Type]++
		summary.BySeverity[c.Severity]++
	}
	return summary, nil
}

func (s *conflictService) Resolve(ctx context.Context, sopID uuid.UUID, res models.ConflictResolution) (*ResolutionOutcome, error) {
	if !res.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidAction, res.Action)
	}
	if res.ConflictID == "" {
		return nil, fmt.Errorf("%w: conflict id is required", apperrors.ErrConflictNotFound)
	}

	var outcome *ResolutionOutcome
	ws, err := s.store.Mutate(ctx, sopID, func(ws *WorkingSet) error {
		if res.Action == models.ResolutionMerge && res.MergedRule != nil {
			ids := ws.IDAllocator()
			if res.MergedRule.RuleID == "" {
				merged := res.MergedRule.Clone()
				merged.RuleID = ids.Next(CategoryForAction(merged.Action + " " + merged.Description))
				res.MergedRule = merged
			} else if ids.Issued(res.MergedRule.RuleID) {
				return fmt.Errorf("rule %s was issued before: %w", res.MergedRule.RuleID, apperrors.ErrDuplicateRuleID)
			}
		}

		out, err := s.resolver.Apply(ws.Rules, ws.Resolved, res)
		if err != nil {
			return err
		}
		outcome = out
		if out.NewlyResolved == 0 {
			return nil
		}

		resolvedAt := res.Timestamp
		if resolvedAt.IsZero() {
			resolvedAt = s.now().UTC()
		}
		ws.RecordResolution(&models.ResolvedConflict{
			ProjectID:  ws.SOP.ProjectID,
			SOPID:      ws.SOP.ID,
			ConflictID: res.ConflictID,
			Action:     res.Action,
			ResolvedBy: res.ResolvedBy,
			ResolvedAt: resolvedAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome.Remaining = ws.Conflicts()
	if outcome.NewlyResolved > 0 {
		metrics.RecordResolution(string(res.Action))
	}
	return outcome, nil
}

func (s *conflictService) ListResolved(ctx context.Context, sopID uuid.UUID) ([]*models.ResolvedConflict, error) {
	return s.resolvedRepo.List(ctx, sopID)
}

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
)

// RuleUpdate is a partial edit of a rule. Nil fields are left unchanged.
type RuleUpdate struct {
	Code                 *string   `json:"code,omitempty"`
	CodeGroup            *string   `json:"code_group,omitempty"`
	CodesSelected        *[]string `json:"codes_selected,omitempty"`
	Action               *string   `json:"action,omitempty"`
	PayerGroup           *string   `json:"payer_group,omitempty"`
	ProviderGroup        *string   `json:"provider_group,omitempty"`
	Description          *string   `json:"description,omitempty"`
	DocumentationTrigger *string   `json:"documentation_trigger,omitempty"`
	ChartSection         *string   `json:"chart_section,omitempty"`
	EffectiveDate        *string   `json:"effective_date,omitempty"`
	EndDate              *string   `json:"end_date,omitempty"`
	Reference            *string   `json:"reference,omitempty"`
	Confidence           *int      `json:"confidence,omitempty"`
}

// RuleMutationResult is a rule after a change together with the conflicts
// of the rescan that followed it.
type RuleMutationResult struct {
	Rule      *models.Rule      `json:"rule,omitempty"`
	Conflicts []models.Conflict `json:"conflicts"`
}

// RuleService manages the rules of an SOP. Every mutation is followed by a
// full conflict rescan. All methods expect a tenant-scoped context.
type RuleService interface {
	// List returns the SOP's rules in collection order, optionally filtered by status.
	List(ctx context.Context, sopID uuid.UUID, status string) ([]*models.Rule, error)
	Get(ctx context.Context, sopID uuid.UUID, ruleID string) (*models.Rule, error)

	// Create adds a manual rule. A missing rule id is allocated from the SOP
	// prefix; a rule id that already exists fails with ErrDuplicateRuleID.
	Create(ctx context.Context, sopID uuid.UUID, rule *models.Rule) (*RuleMutationResult, error)

	// Update edits a rule in place and bumps its version.
	Update(ctx context.Context, sopID uuid.UUID, ruleID string, update *RuleUpdate) (*RuleMutationResult, error)

	Approve(ctx context.Context, sopID uuid.UUID, ruleID string) (*RuleMutationResult, error)
	Reject(ctx context.Context, sopID uuid.UUID, ruleID string) (*RuleMutationResult, error)
	// Restore moves a rejected rule back to pending.
	Restore(ctx context.Context, sopID uuid.UUID, ruleID string) (*RuleMutationResult, error)

	// Cleanup deletes every rejected rule and returns their ids.
	Cleanup(ctx context.Context, sopID uuid.UUID) ([]string, error)
}

type ruleService struct {
	store      *collectionStore
	registry   TagRegistry
	normalizer *CandidateNormalizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewRuleService creates a RuleService.
func NewRuleService(
	sopRepo repositories.SOPRepository,
	ruleRepo repositories.RuleRepository,
	resolvedRepo repositories.ResolvedConflictRepository,
	registry TagRegistry,
	lock CollectionLock,
	detector *ConflictDetector,
	logger *zap.Logger,
) RuleService {
	named := logger.Named("rule-service")
	return &ruleService{
		store:      newCollectionStore(sopRepo, ruleRepo, resolvedRepo, lock, detector, named),
		registry:   registry,
		normalizer: NewCandidateNormalizer(logger),
		logger:     named,
		now:        time.Now,
	}
}

var _ RuleService = (*ruleService)(nil)

func (s *ruleService) List(ctx context.Context, sopID uuid.UUID, status string) ([]*models.Rule, error) {
	ws, err := s.store.Load(ctx, sopID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return ws.Rules.Rules(), nil
	}
	var out []*models.Rule
	for _, r := range ws.Rules.Rules() {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ruleService) Get(ctx context.Context, sopID uuid.UUID, ruleID string) (*models.Rule, error) {
	ws, err := s.store.Load(ctx, sopID)
	if err != nil {
		return nil, err
	}
	rule, ok := ws.Rules.Get(ruleID)
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
	}
	return rule, nil
}

var ruleSources = map[string]bool{
	models.RuleSourceAI:       true,
	models.RuleSourceManual:   true,
	models.RuleSourceTemplate: true,
	models.RuleSourceCSV:      true,
}

var ruleStatuses = map[string]bool{
	models.RuleStatusPending:  true,
	models.RuleStatusActive:   true,
	models.RuleStatusRejected: true,
}

// validateRuleFields checks the fields the rules table constrains. Empty
// source and status are allowed; Create fills them in.
func validateRuleFields(rule *models.Rule) error {
	if strings.TrimSpace(rule.Code) == "" && strings.TrimSpace(rule.CodeGroup) == "" {
		return fmt.Errorf("%w: code or code_group is required", apperrors.ErrInvalidInput)
	}
	if rule.Source != "" && !ruleSources[rule.Source] {
		return fmt.Errorf("%w: unknown source %q", apperrors.ErrInvalidInput, rule.Source)
	}
	if rule.Status != "" && !ruleStatuses[rule.Status] {
		return fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidInput, rule.Status)
	}
	if rule.Confidence < 0 || rule.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d is outside 0-100", apperrors.ErrInvalidInput, rule.Confidence)
	}
	return nil
}

func (s *ruleService) Create(ctx context.Context, sopID uuid.UUID, in *models.Rule) (*RuleMutationResult, error) {
	if err := validateRuleFields(in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", apperrors.ErrMalformedCandidate)
	}

	ws, err := s.store.Load(ctx, sopID)
	if err != nil {
		return nil, err
	}
	vocab, err := s.registry.Vocabulary(ctx, ws.SOP.ProjectID)
	if err != nil {
		return nil, err
	}

	var created *models.Rule
	var discoveries []models.TagDiscovery
	ws, err = s.store.Mutate(ctx, sopID, func(ws *WorkingSet) error {
		rule := in.Clone()
		now := s.now().UTC()
		rule.ProjectID = ws.SOP.ProjectID
		rule.SOPID = ws.SOP.ID
		rule.Conflicts = nil
		ids := ws.IDAllocator()
		switch {
		case rule.RuleID == "":
			rule.RuleID = ids.Next(CategoryForAction(rule.Action + " " + rule.Description))
		case ids.Issued(rule.RuleID):
			return fmt.Errorf("rule %s was issued before: %w", rule.RuleID, apperrors.ErrDuplicateRuleID)
		}
		if rule.Status == "" {
			rule.Status = models.RuleStatusPending
		}
		if rule.Source == "" {
			rule.Source = models.RuleSourceManual
		}
		if rule.Confidence == 0 {
			rule.Confidence = 100
		}
		rule.Version = models.DefaultRuleVersion
		rule.CreatedAt = now
		rule.UpdatedAt = now

		result := &models.NormalizeResult{Rule: rule}
		s.normalizer.discoverTags(result, models.CandidateContext{SOPID: ws.SOP.ID}, vocab)
		discoveries = result.Discoveries

		if err := ws.Rules.Append(rule); err != nil {
			return err
		}
		created = rule
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ingestTags(ctx, ws.SOP.ProjectID, discoveries)
	s.logger.Info("Rule created",
		zap.String("sop_id", sopID.String()),
		zap.String("rule_id", created.RuleID))
	return &RuleMutationResult{Rule: created, Conflicts: ws.Conflicts()}, nil
}

func (s *ruleService) Update(ctx context.Context, sopID uuid.UUID, ruleID string, update *RuleUpdate) (*RuleMutationResult, error) {
	var updated *models.Rule
	ws, err := s.store.Mutate(ctx, sopID, func(ws *WorkingSet) error {
		rule, ok := ws.Rules.Get(ruleID)
		if !ok {
			return fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
		}
		applyRuleUpdate(rule, update)
		if err := validateRuleFields(rule); err != nil {
			return err
		}
		if strings.TrimSpace(rule.Description) == "" {
			return fmt.Errorf("%w: description is required", apperrors.ErrMalformedCandidate)
		}
		rule.Version++
		rule.UpdatedAt = s.now().UTC()
		ws.Rules.MarkUpdated(ruleID)
		updated = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RuleMutationResult{Rule: updated, Conflicts: ws.Conflicts()}, nil
}

func applyRuleUpdate(rule *models.Rule, u *RuleUpdate) {
	if u == nil {
		return
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&rule.Code, u.Code)
	set(&rule.CodeGroup, u.CodeGroup)
	set(&rule.Action, u.Action)
	set(&rule.PayerGroup, u.PayerGroup)
	set(&rule.ProviderGroup, u.ProviderGroup)
	set(&rule.Description, u.Description)
	set(&rule.DocumentationTrigger, u.DocumentationTrigger)
	set(&rule.ChartSection, u.ChartSection)
	set(&rule.EffectiveDate, u.EffectiveDate)
	set(&rule.EndDate, u.EndDate)
	set(&rule.Reference, u.Reference)
	if u.CodesSelected != nil {
		rule.CodesSelected = append([]string(nil), (*u.CodesSelected)...)
	}
	if u.Confidence != nil {
		rule.Confidence = *u.Confidence
	}
}

// ruleTransitions lists the status moves operators may make.
var ruleTransitions = map[string][]string{
	models.RuleStatusPending:  {models.RuleStatusActive, models.RuleStatusRejected},
	models.RuleStatusActive:   {models.RuleStatusRejected},
	models.RuleStatusRejected: {models.RuleStatusPending},
}

func (s *ruleService) Approve(ctx context.Context, sopID uuid.UUID, ruleID string) (*RuleMutationResult, error) {
	return s.setStatus(ctx, sopID, ruleID, models.RuleStatusActive)
}

func (s *ruleService) Reject(ctx context.Context, sopID uuid.UUID, ruleID string) (*RuleMutationResult, error) {
	return s.setStatus(ctx, sopID, ruleID, models.RuleStatusRejected)
}

func (s *ruleService) Restore(ctx context.Context, sopID uuid.UUID, ruleID string) (*RuleMutationResult, error) {
	return s.setStatus(ctx, sopID, ruleID, models.RuleStatusPending)
}

func (s *ruleService) setStatus(ctx context.Context, sopID uuid.UUID, ruleID, to string) (*RuleMutationResult, error) {
	var rule *models.Rule
	ws, err := s.store.Mutate(ctx, sopID, func(ws *WorkingSet) error {
		r, ok := ws.Rules.Get(ruleID)
		if !ok {
			return fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
		}
		rule = r
		if r.Status == to {
			return nil
		}
		allowed := false
		for _, next := range ruleTransitions[r.Status] {
			if next == to {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: rule %s is %s, cannot move to %s",
				apperrors.ErrInvalidTransition, ruleID, r.Status, to)
		}
		if _, err := ws.Rules.SetStatus(ruleID, to); err != nil {
			return err
		}
		r.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Rule status changed",
		zap.String("sop_id", sopID.String()),
		zap.String("rule_id", ruleID),
		zap.String("status", to))
	return &RuleMutationResult{Rule: rule, Conflicts: ws.Conflicts()}, nil
}

func (s *ruleService) Cleanup(ctx context.Context, sopID uuid.UUID) ([]string, error) {
	var removed []string
	_, err := s.store.Mutate(ctx, sopID, func(ws *WorkingSet) error {
		removed = ws.Rules.RemoveRejected()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.logger.Info("Removed rejected rules",
			zap.String("sop_id", sopID.String()),
			zap.Int("count", len(removed)))
	}
	return removed, nil
}

// ingestTags registers discoveries from operator-authored rules for review.
// Failures are logged; the rule itself is already stored.
func (s *ruleService) ingestTags(ctx context.Context, projectID uuid.UUID, discoveries []models.TagDiscovery) {
	for _, d := range discoveries {
		if _, _, err := s.registry.Ingest(ctx, projectID, d, models.TagPolicyReview); err != nil {
			s.logger.Warn("Failed to register discovered tag",
				zap.String("tag", d.Tag),
				zap.Error(err))
		}
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/metrics"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

// TagRegistry governs the project's tag vocabulary.
// All methods expect a tenant-scoped context.
type TagRegistry interface {
	// Exists reports whether (tag, type) is authoritative: ACTIVE or APPROVED.
	Exists(ctx context.Context, projectID uuid.UUID, tag string, tagType models.TagType) (bool, error)

	// CategoryOf resolves a bare tag against the authoritative vocabulary.
	CategoryOf(ctx context.Context, projectID uuid.UUID, tag string) (models.TagType, error)

	// Vocabulary returns the authoritative tags used for normalization.
	Vocabulary(ctx context.Context, projectID uuid.UUID) (*taggrammar.StaticVocabulary, error)

	// Ingest records a discovered tag. A new (tag, type) pair is created
	// PENDING_REVIEW under the review policy and APPROVED under auto_approve.
	// A known pair only has its usage count incremented.
	// created is true only when this call inserted the pair.
	Ingest(ctx context.Context, projectID uuid.UUID, d models.TagDiscovery, policy models.TagIngestPolicy) (tag *models.Tag, created bool, err error)

	Approve(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error)
	Reject(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error)
	Deprecate(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error)

	// MarkNeedsDefinition parks a pending tag until someone describes it.
	MarkNeedsDefinition(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error)

	// Define sets a tag's name and description. A tag that needed a
	// definition goes back to PENDING_REVIEW.
	Define(ctx context.Context, tagID uuid.UUID, name, description, reviewer string) (*models.Tag, error)

	ListPending(ctx context.Context, projectID uuid.UUID) ([]*models.Tag, error)
	List(ctx context.Context, projectID uuid.UUID, filter repositories.TagFilter) ([]*models.Tag, error)

	// Seed inserts the vocabulary entries the project does not have yet.
	Seed(ctx context.Context, projectID uuid.UUID, seed *VocabularySeed) (int, error)
}

type tagRegistry struct {
	tagRepo repositories.TagRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewTagRegistry creates a TagRegistry backed by the tag repository.
func NewTagRegistry(tagRepo repositories.TagRepository, logger *zap.Logger) TagRegistry {
	return &tagRegistry{
		tagRepo: tagRepo,
		logger:  logger.Named("tag-registry"),
		now:     time.Now,
	}
}

var _ TagRegistry = (*tagRegistry)(nil)

// tagTransitions lists the governance moves other than review decisions.
// Moving to the current status is handled separately as a no-op.
var tagTransitions = map[models.TagStatus][]models.TagStatus{
	models.TagStatusPendingReview:   {models.TagStatusNeedsDefinition},
	models.TagStatusNeedsDefinition: {models.TagStatusPendingReview},
	models.TagStatusActive:          {models.TagStatusDeprecated},
	models.TagStatusApproved:        {models.TagStatusDeprecated},
}

func canTransition(from, to models.TagStatus) bool {
	if to == models.TagStatusApproved || to == models.TagStatusRejected {
		return from.IsReviewable()
	}
	for _, s := range tagTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s *tagRegistry) Exists(ctx context.Context, projectID uuid.UUID, tag string, tagType models.TagType) (bool, error) {
	t, err := s.tagRepo.GetByKey(ctx, projectID, tag, tagType)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Status.IsAuthoritative(), nil
}

func (s *tagRegistry) CategoryOf(ctx context.Context, projectID uuid.UUID, tag string) (models.TagType, error) {
	vocab, err := s.Vocabulary(ctx, projectID)
	if err != nil {
		return models.TagTypeOther, err
	}
	return taggrammar.Categorize(vocab, tag), nil
}

func (s *tagRegistry) Vocabulary(ctx context.Context, projectID uuid.UUID) (*taggrammar.StaticVocabulary, error) {
	tags, err := s.tagRepo.List(ctx, projectID, repositories.TagFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}
	vocab := taggrammar.NewStaticVocabulary()
	for _, t := range tags {
		if t.Status.IsAuthoritative() {
			vocab.Add(t.Type, t.Tag)
		}
	}
	return vocab, nil
}

func (s *tagRegistry) Ingest(
	ctx context.Context,
	projectID uuid.UUID,
	d models.TagDiscovery,
	policy models.TagIngestPolicy,
) (*models.Tag, bool, error) {
	if !taggrammar.IsTag(d.Tag) {
		return nil, false, fmt.Errorf("%w: %q is not a tag", apperrors.ErrInvalidInput, d.Tag)
	}
	if !d.Type.Valid() {
		return nil, false, fmt.Errorf("%w: tag %s has unstorable type %q", apperrors.ErrInvalidInput, d.Tag, d.Type)
	}

	tag := &models.Tag{
		ProjectID:    projectID,
		Tag:          d.Tag,
		Type:         d.Type,
		Description:  d.Description,
		Status:       models.TagStatusPendingReview,
		CreatedBy:    "ingestion",
		OriginRuleID: d.OriginRuleID,
	}
	if d.OriginSOPID != uuid.Nil {
		sopID := d.OriginSOPID
		tag.OriginSOPID = &sopID
	}
	switch policy {
	case models.TagPolicyAutoApprove:
		now := s.now().UTC()
		reviewer := "auto_approve"
		tag.Status = models.TagStatusApproved
		tag.ReviewedBy = &reviewer
		tag.ReviewedAt = &now
	case models.TagPolicyReview, "":
	default:
		return nil, false, fmt.Errorf("%w: unknown tag ingest policy %q", apperrors.ErrInvalidInput, policy)
	}

	created, err := s.tagRepo.Upsert(ctx, tag)
	if err != nil {
		return nil, false, err
	}
	metrics.RecordTagIngest(string(tag.Type), created)

	if created {
		s.logger.Info("Registered new tag",
			zap.String("tag", tag.Tag),
			zap.String("type", string(tag.Type)),
			zap.String("status", string(tag.Status)),
			zap.String("origin_rule_id", d.OriginRuleID))
	} else {
		s.logger.Debug("Tag seen again",
			zap.String("tag", tag.Tag),
			zap.String("type", string(tag.Type)),
			zap.Int("usage_count", tag.UsageCount))
	}
	return tag, created, nil
}

func (s *tagRegistry) Approve(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return s.transition(ctx, tagID, models.TagStatusApproved, reviewer)
}

func (s *tagRegistry) Reject(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return s.transition(ctx, tagID, models.TagStatusRejected, reviewer)
}

func (s *tagRegistry) Deprecate(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return s.transition(ctx, tagID, models.TagStatusDeprecated, reviewer)
}

func (s *tagRegistry) MarkNeedsDefinition(ctx context.Context, tagID uuid.UUID, reviewer string) (*models.Tag, error) {
	return s.transition(ctx, tagID, models.TagStatusNeedsDefinition, reviewer)
}

func (s *tagRegistry) Define(ctx context.Context, tagID uuid.UUID, name, description, reviewer string) (*models.Tag, error) {
	tag, err := s.tagRepo.GetByID(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if description == "" {
		return nil, fmt.Errorf("%w: tag %s: description is required", apperrors.ErrInvalidInput, tag.Tag)
	}
	tag.Name = name
	tag.Description = description
	if tag.Status == models.TagStatusNeedsDefinition {
		tag.Status = models.TagStatusPendingReview
		metrics.RecordTagTransition(string(tag.Status))
	}
	s.stampReview(tag, reviewer)
	if err := s.tagRepo.Update(ctx, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

// transition moves a tag to status. Moving to the status it already has
// changes nothing; any move not in tagTransitions fails.
func (s *tagRegistry) transition(ctx context.Context, tagID uuid.UUID, to models.TagStatus, reviewer string) (*models.Tag, error) {
	tag, err := s.tagRepo.GetByID(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if tag.Status == to {
		return tag, nil
	}
	if !canTransition(tag.Status, to) {
		return nil, fmt.Errorf("%w: tag %s is %s, cannot move to %s",
			apperrors.ErrInvalidTransition, tag.Tag, tag.Status, to)
	}

	from := tag.Status
	tag.Status = to
	s.stampReview(tag, reviewer)
	if err := s.tagRepo.Update(ctx, tag); err != nil {
		return nil, err
	}
	metrics.RecordTagTransition(string(to))

	s.logger.Info("Tag status changed",
		zap.String("tag", tag.Tag),
		zap.String("type", string(tag.Type)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reviewer", reviewer))
	return tag, nil
}

func (s *tagRegistry) stampReview(tag *models.Tag, reviewer string) {
	now := s.now().UTC()
	tag.ReviewedAt = &now
	if reviewer != "" {
		tag.ReviewedBy = &reviewer
	}
}

// ListPending returns tags still awaiting a decision, including those
// parked for a definition.
func (s *tagRegistry) ListPending(ctx context.Context, projectID uuid.UUID) ([]*models.Tag, error) {
	pending, err := s.tagRepo.List(ctx, projectID, repositories.TagFilter{Status: models.TagStatusPendingReview})
	if err != nil {
		return nil, err
	}
	parked, err := s.tagRepo.List(ctx, projectID, repositories.TagFilter{Status: models.TagStatusNeedsDefinition})
	if err != nil {
		return nil, err
	}
	return append(pending, parked...), nil
}

func (s *tagRegistry) List(ctx context.Context, projectID uuid.UUID, filter repositories.TagFilter) ([]*models.Tag, error) {
	return s.tagRepo.List(ctx, projectID, filter)
}

func (s *tagRegistry) Seed(ctx context.Context, projectID uuid.UUID, seed *VocabularySeed) (int, error) {
	if seed == nil {
		return 0, nil
	}
	n, err := s.tagRepo.Seed(ctx, seed.Tags(projectID))
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Info("Seeded vocabulary",
			zap.String("project_id", projectID.String()),
			zap.Int("created", n))
	}
	return n, nil
}

package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
)

var clientPrefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SOPService manages SOPs. All methods expect a tenant-scoped context.
type SOPService interface {
	// Create stores a new SOP and adds any seed vocabulary entries the
	// project is missing.
	Create(ctx context.Context, sop *models.SOP) error
	Get(ctx context.Context, sopID uuid.UUID) (*models.SOP, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.SOP, error)
	Update(ctx context.Context, sop *models.SOP) error
	Delete(ctx context.Context, sopID uuid.UUID) error
}

type sopService struct {
	sopRepo  repositories.SOPRepository
	registry TagRegistry
	seed     *VocabularySeed
	logger   *zap.Logger
}

// NewSOPService creates an SOPService. seed may be nil to skip seeding.
func NewSOPService(
	sopRepo repositories.SOPRepository,
	registry TagRegistry,
	seed *VocabularySeed,
	logger *zap.Logger,
) SOPService {
	return &sopService{
		sopRepo:  sopRepo,
		registry: registry,
		seed:     seed,
		logger:   logger.Named("sop-service"),
	}
}

var _ SOPService = (*sopService)(nil)

func (s *sopService) Create(ctx context.Context, sop *models.SOP) error {
	sop.Name = strings.TrimSpace(sop.Name)
	sop.ClientPrefix = strings.ToUpper(strings.TrimSpace(sop.ClientPrefix))
	if sop.Name == "" {
		return fmt.Errorf("%w: sop name is required", apperrors.ErrInvalidInput)
	}
	if !clientPrefixPattern.MatchString(sop.ClientPrefix) {
		return fmt.Errorf("%w: client prefix %q must be letters, digits or underscores", apperrors.ErrInvalidInput, sop.ClientPrefix)
	}

	if err := s.sopRepo.Create(ctx, sop); err != nil {
		return err
	}

	if _, err := s.registry.Seed(ctx, sop.ProjectID, s.seed); err != nil {
		// The SOP is usable without a seeded vocabulary; unknown tags go to review.
		s.logger.Warn("Failed to seed vocabulary",
			zap.String("project_id", sop.ProjectID.String()),
			zap.Error(err))
	}

	s.logger.Info("SOP created",
		zap.String("sop_id", sop.ID.String()),
		zap.String("name", sop.Name),
		zap.String("client_prefix", sop.ClientPrefix))
	return nil
}

func (s *sopService) Get(ctx context.Context, sopID uuid.UUID) (*models.SOP, error) {
	return s.sopRepo.Get(ctx, sopID)
}

func (s *sopService) List(ctx context.Context, projectID uuid.UUID) ([]*models.SOP, error) {
	return s.sopRepo.List(ctx, projectID)
}

func (s *sopService) Update(ctx context.Context, sop *models.SOP) error {
	sop.Name = strings.TrimSpace(sop.Name)
	if sop.Name == "" {
		return fmt.Errorf("%w: sop name is required", apperrors.ErrInvalidInput)
	}
	return s.sopRepo.Update(ctx, sop)
}

func (s *sopService) Delete(ctx context.Context, sopID uuid.UUID) error {
	if err := s.sopRepo.Delete(ctx, sopID); err != nil {
		return err
	}
	s.logger.Info("SOP deleted", zap.String("sop_id", sopID.String()))
	return nil
}

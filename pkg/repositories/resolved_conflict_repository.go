package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// ResolvedConflictRepository reads the resolved-conflict records of an SOP.
// Records are written by RuleRepository.ApplyChanges in the same transaction
// as the rule mutations they caused.
type ResolvedConflictRepository interface {
	ListIDs(ctx context.Context, sopID uuid.UUID) ([]string, error)
	List(ctx context.Context, sopID uuid.UUID) ([]*models.ResolvedConflict, error)
}

type resolvedConflictRepository struct{}

// NewResolvedConflictRepository creates a new ResolvedConflictRepository.
func NewResolvedConflictRepository() ResolvedConflictRepository {
	return &resolvedConflictRepository{}
}

var _ ResolvedConflictRepository = (*resolvedConflictRepository)(nil)

func (r *resolvedConflictRepository) ListIDs(ctx context.Context, sopID uuid.UUID) ([]string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT conflict_id FROM engine_resolved_conflicts WHERE sop_id = $1 ORDER BY resolved_at`, sopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved conflicts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan resolved conflict: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolved conflicts: %w", err)
	}
	return ids, nil
}

func (r *resolvedConflictRepository) List(ctx context.Context, sopID uuid.UUID) ([]*models.ResolvedConflict, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT project_id, sop_id, conflict_id, action, resolved_by, resolved_at
		FROM engine_resolved_conflicts
		WHERE sop_id = $1
		ORDER BY resolved_at`, sopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved conflicts: %w", err)
	}
	defer rows.Close()

	var records []*models.ResolvedConflict
	for rows.Next() {
		var rc models.ResolvedConflict
		var resolvedBy *string
		if err := rows.Scan(&rc.ProjectID, &rc.SOPID, &rc.ConflictID, &rc.Action, &resolvedBy, &rc.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resolved conflict: %w", err)
		}
		rc.ResolvedBy = deref(resolvedBy)
		records = append(records, &rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolved conflicts: %w", err)
	}
	return records, nil
}

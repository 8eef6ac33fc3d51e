package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// SOPRepository provides data access for SOPs.
type SOPRepository interface {
	Create(ctx context.Context, sop *models.SOP) error
	Get(ctx context.Context, sopID uuid.UUID) (*models.SOP, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.SOP, error)
	Update(ctx context.Context, sop *models.SOP) error
	Delete(ctx context.Context, sopID uuid.UUID) error
}

type sopRepository struct{}

// NewSOPRepository creates a new SOPRepository.
func NewSOPRepository() SOPRepository {
	return &sopRepository{}
}

var _ SOPRepository = (*sopRepository)(nil)

const sopColumns = `id, project_id, name, client_prefix, description, created_by, created_at, updated_at`

// Create inserts the SOP, registering its project on first use.
func (r *sopRepository) Create(ctx context.Context, sop *models.SOP) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO engine_projects (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, sop.ProjectID); err != nil {
		return fmt.Errorf("failed to register project: %w", err)
	}

	if sop.ID == uuid.Nil {
		sop.ID = uuid.New()
	}
	now := time.Now()

	err = tx.QueryRow(ctx, `
		INSERT INTO engine_sops (
			id, project_id, name, client_prefix, description, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		sop.ID,
		sop.ProjectID,
		sop.Name,
		sop.ClientPrefix,
		nullString(sop.Description),
		nullString(sop.CreatedBy),
		now,
		now,
	).Scan(&sop.CreatedAt, &sop.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create sop: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *sopRepository) Get(ctx context.Context, sopID uuid.UUID) (*models.SOP, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+sopColumns+` FROM engine_sops WHERE id = $1`, sopID)
	sop, err := scanSOP(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sop: %w", err)
	}
	return sop, nil
}

func (r *sopRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.SOP, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT `+sopColumns+` FROM engine_sops WHERE project_id = $1 ORDER BY created_at, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sops: %w", err)
	}
	defer rows.Close()

	var sops []*models.SOP
	for rows.Next() {
		sop, err := scanSOP(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sop: %w", err)
		}
		sops = append(sops, sop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sops: %w", err)
	}
	return sops, nil
}

// Update changes the name and description. The client prefix is fixed once
// rule ids have been minted from it.
func (r *sopRepository) Update(ctx context.Context, sop *models.SOP) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		UPDATE engine_sops
		SET name = $2, description = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		sop.ID, sop.Name, nullString(sop.Description),
	).Scan(&sop.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update sop: %w", err)
	}
	return nil
}

func (r *sopRepository) Delete(ctx context.Context, sopID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM engine_sops WHERE id = $1`, sopID)
	if err != nil {
		return fmt.Errorf("failed to delete sop: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanSOP(row pgx.Row) (*models.SOP, error) {
	var sop models.SOP
	var description, createdBy *string
	err := row.Scan(
		&sop.ID,
		&sop.ProjectID,
		&sop.Name,
		&sop.ClientPrefix,
		&description,
		&createdBy,
		&sop.CreatedAt,
		&sop.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sop.Description = deref(description)
	sop.CreatedBy = deref(createdBy)
	return &sop, nil
}

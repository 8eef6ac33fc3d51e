package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// TagFilter narrows a tag listing. Zero values match everything.
type TagFilter struct {
	Status models.TagStatus
	Type   models.TagType
}

// TagRepository provides data access for the tag registry.
type TagRepository interface {
	// Upsert creates the tag or, when (project, tag, type) already exists,
	// bumps its usage count and leaves status and description alone. The
	// stored row is scanned back into tag. Returns true if a row was created.
	Upsert(ctx context.Context, tag *models.Tag) (bool, error)
	// Seed inserts tags that are missing and ignores the rest.
	Seed(ctx context.Context, tags []*models.Tag) (int, error)
	GetByID(ctx context.Context, tagID uuid.UUID) (*models.Tag, error)
	GetByKey(ctx context.Context, projectID uuid.UUID, tag string, tagType models.TagType) (*models.Tag, error)
	List(ctx context.Context, projectID uuid.UUID, filter TagFilter) ([]*models.Tag, error)
	Update(ctx context.Context, tag *models.Tag) error
}

type tagRepository struct{}

// NewTagRepository creates a new TagRepository.
func NewTagRepository() TagRepository {
	return &tagRepository{}
}

var _ TagRepository = (*tagRepository)(nil)

const tagColumns = `
	id, project_id, tag, type, name, description, status, usage_count, created_by,
	origin_rule_id, origin_sop_id, reviewed_by, reviewed_at, created_at, updated_at`

func (r *tagRepository) Upsert(ctx context.Context, tag *models.Tag) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	query := `
		INSERT INTO engine_tags (
			project_id, tag, type, name, description, status, usage_count,
			created_by, origin_rule_id, origin_sop_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9, $10, $10)
		ON CONFLICT (project_id, tag, type) DO UPDATE
		SET usage_count = engine_tags.usage_count + 1, updated_at = EXCLUDED.updated_at
		RETURNING ` + tagColumns + `, (xmax = 0) AS inserted`

	var inserted bool
	stored, err := scanTag(scope.Conn.QueryRow(ctx, query,
		tag.ProjectID,
		tag.Tag,
		tag.Type,
		nullString(tag.Name),
		nullString(tag.Description),
		tag.Status,
		nullString(tag.CreatedBy),
		nullString(tag.OriginRuleID),
		tag.OriginSOPID,
		now,
	), &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert tag: %w", err)
	}
	*tag = *stored
	return inserted, nil
}

func (r *tagRepository) Seed(ctx context.Context, tags []*models.Tag) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, t := range tags {
		batch.Queue(`
			INSERT INTO engine_tags (
				project_id, tag, type, name, description, status, usage_count,
				created_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
			ON CONFLICT (project_id, tag, type) DO NOTHING`,
			t.ProjectID,
			t.Tag,
			t.Type,
			nullString(t.Name),
			nullString(t.Description),
			t.Status,
			nullString(t.CreatedBy),
			now,
		)
	}

	results := scope.Conn.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for i := range tags {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("failed to seed tag %s: %w", tags[i].Tag, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (r *tagRepository) GetByID(ctx context.Context, tagID uuid.UUID) (*models.Tag, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tag, err := scanTag(scope.Conn.QueryRow(ctx, `SELECT `+tagColumns+` FROM engine_tags WHERE id = $1`, tagID), nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return tag, nil
}

func (r *tagRepository) GetByKey(ctx context.Context, projectID uuid.UUID, name string, tagType models.TagType) (*models.Tag, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tag, err := scanTag(scope.Conn.QueryRow(ctx,
		`SELECT `+tagColumns+` FROM engine_tags WHERE project_id = $1 AND tag = $2 AND type = $3`,
		projectID, name, tagType), nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return tag, nil
}

func (r *tagRepository) List(ctx context.Context, projectID uuid.UUID, filter TagFilter) ([]*models.Tag, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	conditions := []string{"project_id = $1"}
	args := []any{projectID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}

	query := `SELECT ` + tagColumns + ` FROM engine_tags WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY type, tag`

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return tags, nil
}

// Update writes the governance fields of a tag.
func (r *tagRepository) Update(ctx context.Context, tag *models.Tag) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		UPDATE engine_tags
		SET name = $2, description = $3, status = $4, reviewed_by = $5,
		    reviewed_at = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		tag.ID,
		nullString(tag.Name),
		nullString(tag.Description),
		tag.Status,
		tag.ReviewedBy,
		tag.ReviewedAt,
	).Scan(&tag.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update tag: %w", err)
	}
	return nil
}

// scanTag reads a tag row. When inserted is non-nil the row carries a
// trailing inserted flag.
func scanTag(row pgx.Row, inserted *bool) (*models.Tag, error) {
	var t models.Tag
	var name, description, createdBy, originRuleID *string

	dest := []any{
		&t.ID,
		&t.ProjectID,
		&t.Tag,
		&t.Type,
		&name,
		&description,
		&t.Status,
		&t.UsageCount,
		&createdBy,
		&originRuleID,
		&t.OriginSOPID,
		&t.ReviewedBy,
		&t.ReviewedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	t.Name = deref(name)
	t.Description = deref(description)
	t.CreatedBy = deref(createdBy)
	t.OriginRuleID = deref(originRuleID)
	return &t, nil
}

package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// DocumentRepository provides data access for ingested documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, docID uuid.UUID) (*models.Document, error)
	ListBySOP(ctx context.Context, sopID uuid.UUID, limit int) ([]*models.Document, error)
	// UpdateStatus records the outcome fields of an ingestion run.
	UpdateStatus(ctx context.Context, doc *models.Document) error
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

const documentColumns = `
	id, project_id, sop_id, file_name, upload_date, mode, trusted, segments,
	status, extracted, added, warnings, error, created_by, created_at, completed_at`

func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusQueued
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_documents (
			id, project_id, sop_id, file_name, upload_date, mode, trusted,
			segments, status, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		doc.ID,
		doc.ProjectID,
		doc.SOPID,
		doc.FileName,
		doc.UploadDate,
		doc.Mode,
		doc.Trusted,
		jsonbValue(doc.Segments),
		doc.Status,
		nullString(doc.CreatedBy),
		time.Now(),
	).Scan(&doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, docID uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	doc, err := scanDocument(scope.Conn.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM engine_documents WHERE id = $1`, docID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) ListBySOP(ctx context.Context, sopID uuid.UUID, limit int) ([]*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT `+documentColumns+` FROM engine_documents WHERE sop_id = $1 ORDER BY created_at DESC LIMIT $2`,
		sopID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, doc *models.Document) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE engine_documents
		SET status = $2, extracted = $3, added = $4, warnings = $5, error = $6, completed_at = $7
		WHERE id = $1`,
		doc.ID,
		doc.Status,
		doc.Extracted,
		doc.Added,
		jsonbValue(doc.Warnings),
		nullString(doc.Error),
		doc.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var segmentsJSON, warningsJSON []byte
	var errText, createdBy *string

	err := row.Scan(
		&doc.ID,
		&doc.ProjectID,
		&doc.SOPID,
		&doc.FileName,
		&doc.UploadDate,
		&doc.Mode,
		&doc.Trusted,
		&segmentsJSON,
		&doc.Status,
		&doc.Extracted,
		&doc.Added,
		&warningsJSON,
		&errText,
		&createdBy,
		&doc.CreatedAt,
		&doc.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Error = deref(errText)
	doc.CreatedBy = deref(createdBy)
	if len(segmentsJSON) > 0 {
		if err := json.Unmarshal(segmentsJSON, &doc.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &doc.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return &doc, nil
}

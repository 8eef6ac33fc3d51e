package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
)

// TenantContextFunc acquires a tenant-scoped database connection for
// background work that outlives the request.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type TenantContextFunc func(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc backed by scoper.
func NewTenantContextFunc(scoper database.Scoper) TenantContextFunc {
	return scoper.ScopedContext
}

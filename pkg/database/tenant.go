package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// TenantScopeKey is the context key for the tenant-scoped connection.
const TenantScopeKey contextKey = "tenantScope"

// TenantScope is a pooled connection with app.current_project_id set, so
// row level security limits every statement to one project.
type TenantScope struct {
	Conn      *pgxpool.Conn
	ProjectID uuid.UUID
}

// Close resets the tenant setting and returns the connection to the pool.
// It MUST be called or the next borrower inherits the project.
func (s *TenantScope) Close() {
	if s == nil || s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_project_id")
	s.Conn.Release()
	s.Conn = nil
}

// GetTenantScope returns the scope stored by SetTenantScope.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(TenantScopeKey).(*TenantScope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetTenantScope stores scope in ctx for the repositories.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// Scoper hands out tenant-scoped contexts. *DB implements it; handlers and
// the MCP server depend on the interface so tests can run without Postgres.
type Scoper interface {
	ScopedContext(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error)
}

var _ Scoper = (*DB)(nil)

// WithTenant acquires a connection and sets the project for RLS.
func (db *DB) WithTenant(ctx context.Context, projectID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_project_id', $1, false)", projectID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn, ProjectID: projectID}, nil
}

// WithoutTenant acquires a connection with no project set. Only the
// migration owner and test setup use it; RLS hides every row otherwise.
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &TenantScope{Conn: conn}, nil
}

// ScopedContext returns ctx carrying a scope for projectID and the cleanup
// that releases it.
func (db *DB) ScopedContext(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
	scope, err := db.WithTenant(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}

//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/sop-rules-engine/pkg/testhelpers"
)

func Test_Migrations_CreateSchema(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()

	for _, table := range []string{
		"engine_projects",
		"engine_sops",
		"engine_sop_rules",
		"engine_tags",
		"engine_resolved_conflicts",
		"engine_documents",
		"engine_rule_id_sequences",
	} {
		var exists bool
		err := engineDB.DB.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func Test_TenantScope_IsolatesProjects(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()

	projectA := uuid.New()
	projectB := uuid.New()

	admin, err := engineDB.DB.WithoutTenant(ctx)
	require.NoError(t, err)
	for i, pid := range []uuid.UUID{projectA, projectB} {
		_, err = admin.Conn.Exec(ctx, `INSERT INTO engine_projects (id, name) VALUES ($1, $2)`, pid, "rls test")
		require.NoError(t, err)
		_, err = admin.Conn.Exec(ctx,
			`INSERT INTO engine_sops (project_id, name, client_prefix) VALUES ($1, $2, 'RLS')`,
			pid, "sop-"+string(rune('a'+i)))
		require.NoError(t, err)
	}
	// The container user is a superuser, which bypasses RLS; query as a plain role.
	_, _ = admin.Conn.Exec(ctx, `CREATE ROLE rls_tester NOLOGIN`)
	_, err = admin.Conn.Exec(ctx, `GRANT SELECT ON engine_sops TO rls_tester`)
	require.NoError(t, err)
	admin.Close()

	scope, err := engineDB.DB.WithTenant(ctx, projectA)
	require.NoError(t, err)
	defer scope.Close()

	_, err = scope.Conn.Exec(ctx, `SET ROLE rls_tester`)
	require.NoError(t, err)
	defer scope.Conn.Exec(ctx, `RESET ROLE`) //nolint:errcheck

	var visible int
	err = scope.Conn.QueryRow(ctx,
		`SELECT count(*) FROM engine_sops WHERE project_id IN ($1, $2)`, projectA, projectB,
	).Scan(&visible)
	require.NoError(t, err)
	assert.Equal(t, 1, visible, "only the scoped project's SOP is visible")
}

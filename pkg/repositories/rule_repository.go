package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// RuleChangeSet is one atomic write against an SOP's rules: the delta of a
// rule collection plus the conflict ids resolved while producing it.
// Sequences holds rule id high-water marks by category; stored marks only
// ever grow.
type RuleChangeSet struct {
	Added     []*models.Rule
	Updated   []*models.Rule
	Removed   []string
	Resolved  []*models.ResolvedConflict
	Sequences map[string]int
}

// IsEmpty reports whether the change set writes nothing.
func (c *RuleChangeSet) IsEmpty() bool {
	return c == nil || (len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0 &&
		len(c.Resolved) == 0 && len(c.Sequences) == 0)
}

// RuleRepository provides data access for the rules of an SOP.
type RuleRepository interface {
	// ListBySOP returns every rule of the SOP in collection order.
	ListBySOP(ctx context.Context, sopID uuid.UUID) ([]*models.Rule, error)
	Get(ctx context.Context, sopID uuid.UUID, ruleID string) (*models.Rule, error)
	// ApplyChanges writes a change set in a single transaction. Added rules
	// are appended after the current last position.
	ApplyChanges(ctx context.Context, sopID uuid.UUID, changes *RuleChangeSet) error
	// IDSequences returns the highest rule id index issued per category.
	IDSequences(ctx context.Context, sopID uuid.UUID) (map[string]int, error)
}

type ruleRepository struct{}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository() RuleRepository {
	return &ruleRepository{}
}

var _ RuleRepository = (*ruleRepository)(nil)

const ruleColumns = `
	rule_id, project_id, sop_id, code, code_group, codes_selected, action,
	payer_group, provider_group, description, documentation_trigger,
	chart_section, effective_date, end_date, reference, status, conflicts,
	new_tags, source, confidence, version, created_by, created_at, updated_at`

func (r *ruleRepository) ListBySOP(ctx context.Context, sopID uuid.UUID) ([]*models.Rule, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT `+ruleColumns+` FROM engine_sop_rules WHERE sop_id = $1 ORDER BY position`, sopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func (r *ruleRepository) Get(ctx context.Context, sopID uuid.UUID, ruleID string) (*models.Rule, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM engine_sop_rules WHERE sop_id = $1 AND rule_id = $2`, sopID, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (r *ruleRepository) IDSequences(ctx context.Context, sopID uuid.UUID) (map[string]int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT category, last_index FROM engine_rule_id_sequences WHERE sop_id = $1`, sopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule id sequences: %w", err)
	}
	defer rows.Close()

	seqs := make(map[string]int)
	for rows.Next() {
		var category string
		var last int
		if err := rows.Scan(&category, &last); err != nil {
			return nil, fmt.Errorf("failed to scan rule id sequence: %w", err)
		}
		seqs[category] = last
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule id sequences: %w", err)
	}
	return seqs, nil
}

func (r *ruleRepository) ApplyChanges(ctx context.Context, sopID uuid.UUID, changes *RuleChangeSet) error {
	if changes.IsEmpty() {
		return nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var position int
	if len(changes.Added) > 0 {
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position), 0) FROM engine_sop_rules WHERE sop_id = $1`, sopID,
		).Scan(&position)
		if err != nil {
			return fmt.Errorf("failed to read last rule position: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, id := range changes.Removed {
		batch.Queue(`DELETE FROM engine_sop_rules WHERE sop_id = $1 AND rule_id = $2`, sopID, id)
	}
	for _, rule := range changes.Updated {
		batch.Queue(`
			UPDATE engine_sop_rules
			SET code = $3, code_group = $4, codes_selected = $5, action = $6,
			    payer_group = $7, provider_group = $8, description = $9,
			    documentation_trigger = $10, chart_section = $11, effective_date = $12,
			    end_date = $13, reference = $14, status = $15, conflicts = $16,
			    new_tags = $17, confidence = $18, version = $19, updated_at = $20
			WHERE sop_id = $1 AND rule_id = $2`,
			sopID,
			rule.RuleID,
			rule.Code,
			nullString(rule.CodeGroup),
			jsonbValue(rule.CodesSelected),
			rule.Action,
			rule.PayerGroup,
			nullString(rule.ProviderGroup),
			rule.Description,
			nullString(rule.DocumentationTrigger),
			nullString(rule.ChartSection),
			nullString(rule.EffectiveDate),
			nullString(rule.EndDate),
			nullString(rule.Reference),
			rule.Status,
			jsonbValue(rule.Conflicts),
			jsonbValue(rule.NewTags),
			rule.Confidence,
			rule.Version,
			rule.UpdatedAt,
		)
	}
	for _, rule := range changes.Added {
		position++
		batch.Queue(`
			INSERT INTO engine_sop_rules (
				project_id, sop_id, rule_id, position, code, code_group, codes_selected,
				action, payer_group, provider_group, description, documentation_trigger,
				chart_section, effective_date, end_date, reference, status, conflicts,
				new_tags, source, confidence, version, created_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			          $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
			rule.ProjectID,
			sopID,
			rule.RuleID,
			position,
			rule.Code,
			nullString(rule.CodeGroup),
			jsonbValue(rule.CodesSelected),
			rule.Action,
			rule.PayerGroup,
			nullString(rule.ProviderGroup),
			rule.Description,
			nullString(rule.DocumentationTrigger),
			nullString(rule.ChartSection),
			nullString(rule.EffectiveDate),
			nullString(rule.EndDate),
			nullString(rule.Reference),
			rule.Status,
			jsonbValue(rule.Conflicts),
			jsonbValue(rule.NewTags),
			rule.Source,
			rule.Confidence,
			rule.Version,
			nullString(rule.CreatedBy),
			rule.CreatedAt,
			rule.UpdatedAt,
		)
	}
	for _, rc := range changes.Resolved {
		batch.Queue(`
			INSERT INTO engine_resolved_conflicts (
				project_id, sop_id, conflict_id, action, resolved_by, resolved_at
			) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sop_id, conflict_id) DO NOTHING`,
			rc.ProjectID,
			sopID,
			rc.ConflictID,
			rc.Action,
			nullString(rc.ResolvedBy),
			rc.ResolvedAt,
		)
	}

	for category, last := range changes.Sequences {
		batch.Queue(`
			INSERT INTO engine_rule_id_sequences (project_id, sop_id, category, last_index)
			SELECT project_id, id, $2, $3 FROM engine_sops WHERE id = $1
			ON CONFLICT (sop_id, category)
			DO UPDATE SET last_index = GREATEST(engine_rule_id_sequences.last_index, EXCLUDED.last_index)`,
			sopID, category, last,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s", apperrors.ErrDuplicateRuleID, pgErr.Detail)
			}
			return fmt.Errorf("failed to apply rule change %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to apply rule changes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanRule(row pgx.Row) (*models.Rule, error) {
	var rule models.Rule
	var codeGroup, providerGroup, docTrigger, chartSection, effectiveDate, endDate, reference, createdBy *string
	var codesSelectedJSON, conflictsJSON, newTagsJSON []byte

	err := row.Scan(
		&rule.RuleID,
		&rule.ProjectID,
		&rule.SOPID,
		&rule.Code,
		&codeGroup,
		&codesSelectedJSON,
		&rule.Action,
		&rule.PayerGroup,
		&providerGroup,
		&rule.Description,
		&docTrigger,
		&chartSection,
		&effectiveDate,
		&endDate,
		&reference,
		&rule.Status,
		&conflictsJSON,
		&newTagsJSON,
		&rule.Source,
		&rule.Confidence,
		&rule.Version,
		&createdBy,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.CodeGroup = deref(codeGroup)
	rule.ProviderGroup = deref(providerGroup)
	rule.DocumentationTrigger = deref(docTrigger)
	rule.ChartSection = deref(chartSection)
	rule.EffectiveDate = deref(effectiveDate)
	rule.EndDate = deref(endDate)
	rule.Reference = deref(reference)
	rule.CreatedBy = deref(createdBy)

	if len(codesSelectedJSON) > 0 {
		if err := json.Unmarshal(codesSelectedJSON, &rule.CodesSelected); err != nil {
			return nil, fmt.Errorf("failed to unmarshal codes_selected: %w", err)
		}
	}
	if len(conflictsJSON) > 0 {
		if err := json.Unmarshal(conflictsJSON, &rule.Conflicts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflicts: %w", err)
		}
	}
	if len(newTagsJSON) > 0 {
		if err := json.Unmarshal(newTagsJSON, &rule.NewTags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new_tags: %w", err)
		}
	}
	return &rule, nil
}

// nullString converts empty strings to nil for nullable columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// jsonbValue converts a value to JSONB format for database insertion.
// Returns nil for nil/empty slices to store NULL in the database.
func jsonbValue(v any) any {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil
		}
		return val
	case []models.Conflict:
		if len(val) == 0 {
			return nil
		}
		return val
	default:
		return v
	}
}

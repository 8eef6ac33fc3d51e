package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// RegisterConflictTools registers list_conflicts, scan_conflicts and
// resolve_conflict.
func RegisterConflictTools(s *server.MCPServer, deps *Deps) {
	registerListConflictsTool(s, deps)
	registerScanConflictsTool(s, deps)
	registerResolveConflictTool(s, deps)
}

type conflictsResult struct {
	Conflicts []models.Conflict       `json:"conflicts"`
	Summary   *models.ConflictSummary `json:"summary,omitempty"`
	Count     int                     `json:"count"`
}

func registerListConflictsTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"list_conflicts",
		mcp.WithDescription(
			"List the unresolved conflicts between an SOP's rules, with counts by type and severity. "+
				"Does not rescan; use scan_conflicts after editing rules.",
		),
		mcp.WithString("sop_id", mcp.Required(), mcp.Description("SOP UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sopID, bad := requireUUID(req, "sop_id")
		if bad != nil {
			return bad, nil
		}

		_, tenantCtx, cleanup, err := acquireToolAccess(ctx, deps)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		conflicts, err := deps.Conflicts.List(tenantCtx, sopID)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to list conflicts: %w", err)
		}
		summary, err := deps.Conflicts.Summary(tenantCtx, sopID)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize conflicts: %w", err)
		}
		if conflicts == nil {
			conflicts = []models.Conflict{}
		}
		return jsonResult(conflictsResult{Conflicts: conflicts, Summary: summary, Count: len(conflicts)})
	})
}

func registerScanConflictsTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"scan_conflicts",
		mcp.WithDescription(
			"Rescan an SOP's active and pending rules for duplicate, overlapping and contradictory pairs. "+
				"Conflicts already resolved stay hidden.",
		),
		mcp.WithString("sop_id", mcp.Required(), mcp.Description("SOP UUID")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sopID, bad := requireUUID(req, "sop_id")
		if bad != nil {
			return bad, nil
		}

		_, tenantCtx, cleanup, err := acquireToolAccess(ctx, deps, auth.RoleReviewer)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		conflicts, err := deps.Conflicts.Scan(tenantCtx, sopID)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to scan conflicts: %w", err)
		}
		if conflicts == nil {
			conflicts = []models.Conflict{}
		}
		return jsonResult(conflictsResult{Conflicts: conflicts, Count: len(conflicts)})
	})
}

// mergedRuleArg is the merged_rule argument of resolve_conflict.
type mergedRuleArg struct {
	Code                 string   `json:"code"`
	CodeGroup            string   `json:"code_group"`
	CodesSelected        []string `json:"codes_selected"`
	Action               string   `json:"action"`
	PayerGroup           string   `json:"payer_group"`
	ProviderGroup        string   `json:"provider_group"`
	Description          string   `json:"description"`
	DocumentationTrigger string   `json:"documentation_trigger"`
	ChartSection         string   `json:"chart_section"`
	EffectiveDate        string   `json:"effective_date"`
	EndDate              string   `json:"end_date"`
	Reference            string   `json:"reference"`
}

func (m *mergedRuleArg) toRule(actor string) *models.Rule {
	return &models.Rule{
		Code:                 m.Code,
		CodeGroup:            m.CodeGroup,
		CodesSelected:        m.CodesSelected,
		Action:               m.Action,
		PayerGroup:           m.PayerGroup,
		ProviderGroup:        m.ProviderGroup,
		Description:          m.Description,
		DocumentationTrigger: m.DocumentationTrigger,
		ChartSection:         m.ChartSection,
		EffectiveDate:        m.EffectiveDate,
		EndDate:              m.EndDate,
		Reference:            m.Reference,
		Source:               models.RuleSourceManual,
		CreatedBy:            actor,
	}
}

func registerResolveConflictTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"resolve_conflict",
		mcp.WithDescription(
			"Resolve a conflict between two rules. "+
				"keep_first / keep_second reject the other rule, delete_both rejects both, "+
				"keep_both only marks the conflict resolved, and merge rejects both and adds merged_rule. "+
				"Returns the conflicts that remain after rescanning.",
		),
		mcp.WithString("sop_id", mcp.Required(), mcp.Description("SOP UUID")),
		mcp.WithString("conflict_id", mcp.Required(), mcp.Description("Conflict ID from list_conflicts")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum(
				string(models.ResolutionKeepFirst),
				string(models.ResolutionKeepSecond),
				string(models.ResolutionKeepBoth),
				string(models.ResolutionMerge),
				string(models.ResolutionDeleteBoth),
			)),
		mcp.WithObject("merged_rule", mcp.Description("Replacement rule, required for merge")),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sopID, bad := requireUUID(req, "sop_id")
		if bad != nil {
			return bad, nil
		}
		conflictID, bad := requireString(req, "conflict_id")
		if bad != nil {
			return bad, nil
		}
		action, bad := requireString(req, "action")
		if bad != nil {
			return bad, nil
		}

		var merged *mergedRuleArg
		args, _ := req.Params.Arguments.(map[string]any)
		if raw, ok := args["merged_rule"]; ok && raw != nil {
			b, err := json.Marshal(raw)
			if err == nil {
				merged = &mergedRuleArg{}
				err = json.Unmarshal(b, merged)
			}
			if err != nil {
				return NewErrorResult("invalid_parameters", "merged_rule must be a rule object"), nil
			}
		}

		_, tenantCtx, cleanup, err := acquireToolAccess(ctx, deps, auth.RoleReviewer)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		actor := auth.ActorFromContext(ctx)
		res := models.ConflictResolution{
			ConflictID: conflictID,
			Action:     models.ResolutionAction(action),
			ResolvedBy: actor,
		}
		if merged != nil {
			res.MergedRule = merged.toRule(actor)
		}

		outcome, err := deps.Conflicts.Resolve(tenantCtx, sopID, res)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			deps.Logger.Error("resolve_conflict failed",
				zap.String("sop_id", sopID.String()),
				zap.String("conflict_id", conflictID),
				zap.Error(err))
			return nil, fmt.Errorf("failed to resolve conflict: %w", err)
		}
		return jsonResult(outcome)
	})
}

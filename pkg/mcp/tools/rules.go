package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
)

// RegisterRuleTools registers list_rules, get_rule and review_rule.
func RegisterRuleTools(s *server.MCPServer, deps *Deps) {
	registerListRulesTool(s, deps)
	registerGetRuleTool(s, deps)
	registerReviewRuleTool(s, deps)
}

type listRulesResult struct {
	Rules []*models.Rule `json:"rules"`
	Count int            `json:"count"`
}

func registerListRulesTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"list_rules",
		mcp.WithDescription(
			"List the billing rules of an SOP. "+
				"Optionally filter by status (pending, active, rejected). "+
				"Each rule carries its tag-grammar fields (code, action, payer_group, ...).",
		),
		mcp.WithString("sop_id", mcp.Required(), mcp.Description("SOP UUID")),
		mcp.WithString("status", mcp.Description("Only rules with this status"),
			mcp.Enum(models.RuleStatusPending, models.RuleStatusActive, models.RuleStatusRejected)),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
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

		rules, err := deps.Rules.List(tenantCtx, sopID, req.GetString("status", ""))
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to list rules: %w", err)
		}
		if rules == nil {
			rules = []*models.Rule{}
		}
		return jsonResult(listRulesResult{Rules: rules, Count: len(rules)})
	})
}

func registerGetRuleTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"get_rule",
		mcp.WithDescription("Get one rule of an SOP by its rule ID (for example CARD-RULE-0001)."),
		mcp.WithString("sop_id", mcp.Required(), mcp.Description("SOP UUID")),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("Rule ID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sopID, bad := requireUUID(req, "sop_id")
		if bad != nil {
			return bad, nil
		}
		ruleID, bad := requireString(req, "rule_id")
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

		rule, err := deps.Rules.Get(tenantCtx, sopID, ruleID)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to get rule: %w", err)
		}
		return jsonResult(rule)
	})
}

func registerReviewRuleTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"review_rule",
		mcp.WithDescription(
			"Approve, reject or restore a rule. "+
				"Restore moves a rejected rule back to pending. "+
				"Returns the rule and the conflicts it is now involved in.",
		),
		mcp.WithString("sop_id", mcp.Required(), mcp.Description("SOP UUID")),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("Rule ID")),
		mcp.WithString("decision", mcp.Required(), mcp.Enum("approve", "reject", "restore")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sopID, bad := requireUUID(req, "sop_id")
		if bad != nil {
			return bad, nil
		}
		ruleID, bad := requireString(req, "rule_id")
		if bad != nil {
			return bad, nil
		}
		decision, bad := requireString(req, "decision")
		if bad != nil {
			return bad, nil
		}

		var apply func(context.Context, uuid.UUID, string) (*services.RuleMutationResult, error)
		switch decision {
		case "approve":
			apply = deps.Rules.Approve
		case "reject":
			apply = deps.Rules.Reject
		case "restore":
			apply = deps.Rules.Restore
		default:
			return NewErrorResult("invalid_parameters", "decision must be approve, reject or restore"), nil
		}

		_, tenantCtx, cleanup, err := acquireToolAccess(ctx, deps, auth.RoleReviewer)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		result, err := apply(tenantCtx, sopID, ruleID)
		if err != nil {
			if errResult := serviceErrorResult(err); errResult != nil {
				return errResult, nil
			}
			deps.Logger.Error("review_rule failed",
				zap.String("sop_id", sopID.String()),
				zap.String("rule_id", ruleID),
				zap.Error(err))
			return nil, fmt.Errorf("failed to %s rule: %w", decision, err)
		}
		return jsonResult(result)
	})
}

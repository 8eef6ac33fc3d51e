package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// RegisterTagTools registers list_pending_tags and review_tag.
func RegisterTagTools(s *server.MCPServer, deps *Deps) {
	registerListPendingTagsTool(s, deps)
	registerReviewTagTool(s, deps)
}

type pendingTagsResult struct {
	Tags  []*models.Tag `json:"tags"`
	Count int           `json:"count"`
}

func registerListPendingTagsTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"list_pending_tags",
		mcp.WithDescription(
			"List tags discovered during ingestion that await review, most frequently seen first. "+
				"Includes tags flagged as needing a definition.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, tenantCtx, cleanup, err := acquireToolAccess(ctx, deps)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		tags, err := deps.Tags.ListPending(tenantCtx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending tags: %w", err)
		}
		if tags == nil {
			tags = []*models.Tag{}
		}
		return jsonResult(pendingTagsResult{Tags: tags, Count: len(tags)})
	})
}

func registerReviewTagTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"review_tag",
		mcp.WithDescription(
			"Record a review decision on a discovered tag: approve, reject, deprecate, "+
				"or needs_definition to ask for a name and description first.",
		),
		mcp.WithString("tag_id", mcp.Required(), mcp.Description("Tag UUID from list_pending_tags")),
		mcp.WithString("decision", mcp.Required(), mcp.Enum("approve", "reject", "deprecate", "needs_definition")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tagID, bad := requireUUID(req, "tag_id")
		if bad != nil {
			return bad, nil
		}
		decision, bad := requireString(req, "decision")
		if bad != nil {
			return bad, nil
		}

		var apply func(context.Context, uuid.UUID, string) (*models.Tag, error)
		switch decision {
		case "approve":
			apply = deps.Tags.Approve
		case "reject":
			apply = deps.Tags.Reject
		case "deprecate":
			apply = deps.Tags.Deprecate
		case "needs_definition":
			apply = deps.Tags.MarkNeedsDefinition
		default:
			return NewErrorResult("invalid_parameters", "decision must be approve, reject, deprecate or needs_definition"), nil
		}

		_, tenantCtx, cleanup, err := acquireToolAccess(ctx, deps, auth.RoleReviewer)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		tag, err := apply(tenantCtx, tagID, auth.ActorFromContext(ctx))
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to review tag: %w", err)
		}
		return jsonResult(tag)
	})
}

// Package mcpserver registers MCP tools that expose sync status, conflicts,
// version history and the coordination log. Every tool is bound to one
// tenant when registered.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/docsync/internal/conflict"
	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/engine"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// defaultLogLimit caps coordination_log when no limit is given.
const defaultLogLimit = 50

// RegisterTools adds all sync tools for one tenant to the given server.
func RegisterTools(server *mcp.Server, svc *engine.Service, tenantID string) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Show cloud sync status for every linked document, or for one document. Includes the number of queued sync operations.",
	}, statusHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_conflicts",
		Description: "List sync conflicts with both the local and the cloud version, oldest first. Defaults to pending conflicts only.",
	}, listConflictsHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_conflict",
		Description: "Resolve a pending conflict with keep_local, keep_cloud, or merge. Merge requires merged_content. A conflict can be resolved only once.",
	}, resolveHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_versions",
		Description: "List the version history of a document in order, with diff summaries.",
	}, listVersionsHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_version",
		Description: "Fetch one version snapshot of a document.",
	}, getVersionHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "coordination_log",
		Description: "Show coordination rule executions, newest first. Filter by trigger document or rule.",
	}, coordinationLogHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rules",
		Description: "List coordination rules, active and inactive.",
	}, listRulesHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_cascade",
		Description: "Show what a coordination rule would change if a document's source field took a new value. Nothing is written.",
	}, previewHandler(svc, tenantID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_now",
		Description: "Process the sync queue immediately instead of waiting for the debounce period.",
	}, syncNowHandler(svc))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput holds parameters for sync_status.
type StatusInput struct {
	DocumentID string `json:"document_id,omitempty" jsonschema:"document id, defaults to all linked documents"`
}

// ListConflictsInput holds parameters for list_conflicts.
type ListConflictsInput struct {
	DocumentID string `json:"document_id,omitempty" jsonschema:"only conflicts for this document"`
	All        bool   `json:"all,omitempty" jsonschema:"include resolved conflicts"`
}

// ResolveInput holds parameters for resolve_conflict.
type ResolveInput struct {
	ConflictID    string `json:"conflict_id" jsonschema:"required,conflict id"`
	Resolution    string `json:"resolution" jsonschema:"required,keep_local, keep_cloud, or merge"`
	MergedContent string `json:"merged_content,omitempty" jsonschema:"merged document content, required for merge"`
	ResolvedBy    string `json:"resolved_by,omitempty" jsonschema:"who made the decision"`
}

// DocumentInput holds parameters for list_versions.
type DocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"required,document id"`
}

// GetVersionInput holds parameters for get_version.
type GetVersionInput struct {
	DocumentID string `json:"document_id" jsonschema:"required,document id"`
	Version    int64  `json:"version" jsonschema:"required,version number starting at 1"`
}

// LogInput holds parameters for coordination_log.
type LogInput struct {
	DocumentID string `json:"document_id,omitempty" jsonschema:"trigger document id"`
	RuleID     string `json:"rule_id,omitempty" jsonschema:"rule id"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum entries, defaults to 50"`
}

// PreviewInput holds parameters for preview_cascade.
type PreviewInput struct {
	RuleID     string `json:"rule_id" jsonschema:"required,rule id"`
	DocumentID string `json:"document_id" jsonschema:"required,trigger document id"`
	NewValue   string `json:"new_value,omitempty" jsonschema:"new source value as JSON, defaults to the stored value"`
}

// NoInput is used by tools without parameters.
type NoInput struct{}

// --- Results ---

// StatusResult is the sync_status output.
type StatusResult struct {
	Links       []models.DocumentSyncState `json:"links"`
	QueueLength int                        `json:"queue_length"`
}

// ConflictsResult is the list_conflicts output.
type ConflictsResult struct {
	Conflicts []models.SyncConflict `json:"conflicts"`
}

// VersionsResult is the list_versions output.
type VersionsResult struct {
	Versions []models.DocumentVersion `json:"versions"`
}

// LogResult is the coordination_log output.
type LogResult struct {
	Entries []models.CoordinationLogEntry `json:"entries"`
}

// RulesResult is the list_rules output.
type RulesResult struct {
	Rules []models.CoordinationRule `json:"rules"`
}

// PreviewResult is the preview_cascade output.
type PreviewResult struct {
	Items []models.CascadePreviewItem `json:"items"`
}

// --- Handlers ---
// Results are returned as JSON text only. Document content is raw JSON,
// which does not fit a schema inferred from Go types.

func statusHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[StatusInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, any, error) {
		var out StatusResult

		if input.DocumentID != "" {
			st, err := svc.Tracker().Get(tenantID, input.DocumentID)
			if err != nil {
				return nil, nil, err
			}

			out.Links = []models.DocumentSyncState{*st}
		} else {
			links, err := svc.Tracker().List(tenantID)
			if err != nil {
				return nil, nil, err
			}

			out.Links = links
		}

		n, err := svc.Queue().Len(ctx)
		if err != nil {
			return nil, nil, err
		}

		out.QueueLength = n

		return textResult(out), nil, nil
	}
}

func listConflictsHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[ListConflictsInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListConflictsInput) (*mcp.CallToolResult, any, error) {
		conflicts, err := svc.Resolver().List(tenantID, input.DocumentID, !input.All)
		if err != nil {
			return nil, nil, err
		}

		return textResult(ConflictsResult{Conflicts: conflicts}), nil, nil
	}
}

func resolveHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[ResolveInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, any, error) {
		c, err := svc.ResolveConflict(ctx, conflict.ResolveRequest{
			TenantID:      tenantID,
			ConflictID:    input.ConflictID,
			Resolution:    models.ConflictResolution(input.Resolution),
			MergedContent: input.MergedContent,
			ResolvedBy:    input.ResolvedBy,
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(c), nil, nil
	}
}

func listVersionsHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[DocumentInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DocumentInput) (*mcp.CallToolResult, any, error) {
		versions, err := svc.History().List(tenantID, input.DocumentID)
		if err != nil {
			return nil, nil, err
		}

		return textResult(VersionsResult{Versions: versions}), nil, nil
	}
}

func getVersionHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[GetVersionInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input GetVersionInput) (*mcp.CallToolResult, any, error) {
		v, err := svc.History().Get(tenantID, input.DocumentID, input.Version)
		if err != nil {
			return nil, nil, err
		}

		return textResult(v), nil, nil
	}
}

func coordinationLogHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[LogInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input LogInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultLogLimit
		}

		entries, err := svc.Rules().Log(tenantID, state.LogFilter{
			TriggerDocumentID: input.DocumentID,
			RuleID:            input.RuleID,
			Limit:             limit,
		})
		if err != nil {
			return nil, nil, err
		}

		return textResult(LogResult{Entries: entries}), nil, nil
	}
}

func listRulesHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[NoInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
		rules, err := svc.Rules().ListRules(tenantID)
		if err != nil {
			return nil, nil, err
		}

		return textResult(RulesResult{Rules: rules}), nil, nil
	}
}

func previewHandler(svc *engine.Service, tenantID string) mcp.ToolHandlerFor[PreviewInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PreviewInput) (*mcp.CallToolResult, any, error) {
		var value json.RawMessage

		if input.NewValue != "" {
			if !json.Valid([]byte(input.NewValue)) {
				return nil, nil, fmt.Errorf("new_value is not valid JSON: %w", derrors.ErrInvalidInput)
			}

			value = json.RawMessage(input.NewValue)
		}

		items, err := svc.Rules().PreviewCascade(ctx, tenantID, input.RuleID, input.DocumentID, value)
		if err != nil {
			return nil, nil, err
		}

		return textResult(PreviewResult{Items: items}), nil, nil
	}
}

func syncNowHandler(svc *engine.Service) mcp.ToolHandlerFor[NoInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
		res, err := svc.SyncNow(ctx)
		if err != nil {
			return nil, nil, err
		}

		return textResult(res), nil, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
	"github.com/hpungsan/ferry/internal/offline"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *offline.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *offline.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// IDRequest is the argument shape shared by tools that address one record.
type IDRequest struct {
	ID string `json:"id"`
}

// DownloadRequest represents the arguments for content_download.
type DownloadRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// GetRequest represents the arguments for content_get.
type GetRequest struct {
	ID             string `json:"id"`
	IncludePayload *bool  `json:"include_payload,omitempty"`
}

// ListRequest represents the arguments for content_list.
type ListRequest struct {
	Kind string `json:"kind,omitempty"`
}

// ProgressRequest represents the arguments for content_progress.
type ProgressRequest struct {
	ID               string   `json:"id"`
	Percentage       *float64 `json:"percentage,omitempty"`
	TimeSpentSeconds *int     `json:"time_spent_seconds,omitempty"`
	LastPosition     *float64 `json:"last_position,omitempty"`
	Completed        *bool    `json:"completed,omitempty"`
}

// QueueRequest represents the arguments for sync_queue.
type QueueRequest struct {
	DeadLetters bool `json:"dead_letters,omitempty"`
}

// Handler implementations

// HandleDownload handles the content_download tool call.
func (h *Handlers) HandleDownload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DownloadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	entry, err := h.svc.Download(ctx, input.ID, content.Kind(input.Kind))
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry.Summarize())
}

// HandleRemove handles the content_remove tool call.
func (h *Handlers) HandleRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	id, err := requireID(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	if err := h.svc.Remove(ctx, id); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"id": id, "removed": true})
}

// HandleGet handles the content_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	id, err := requireID(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	entry, err := h.svc.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	if input.IncludePayload != nil && !*input.IncludePayload {
		return successResult(entry.Summarize())
	}
	return successResult(entry)
}

// HandleList handles the content_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var kind content.Kind
	if input.Kind != "" {
		k, ok := content.ParseKind(input.Kind)
		if !ok {
			return errorResult(errors.NewInvalidRequest("unknown content kind: " + input.Kind)), nil
		}
		kind = k
	}

	entries, err := h.svc.List(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	items := make([]content.Summary, 0, len(entries))
	for i := range entries {
		if kind != "" && entries[i].Kind != kind {
			continue
		}
		items = append(items, entries[i].Summarize())
	}
	return successResult(map[string]any{"items": items, "total": len(items)})
}

// HandleProgress handles the content_progress tool call.
func (h *Handlers) HandleProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProgressRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	id, err := requireID(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	entry, err := h.svc.UpdateProgress(ctx, id, content.ProgressPatch{
		Completed:        input.Completed,
		Percentage:       input.Percentage,
		TimeSpentSeconds: input.TimeSpentSeconds,
		LastPosition:     input.LastPosition,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry.Summarize())
}

// HandleComplete handles the content_complete tool call.
func (h *Handlers) HandleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	id, err := requireID(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	entry, err := h.svc.MarkComplete(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry.Summarize())
}

// HandleSweep handles the content_sweep tool call.
func (h *Handlers) HandleSweep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	removed, err := h.svc.SweepExpired(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"removed": removed})
}

// HandleSyncRun handles the sync_run tool call.
func (h *Handlers) HandleSyncRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.svc.SyncPendingChanges(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSyncQueue handles the sync_queue tool call.
func (h *Handlers) HandleSyncQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[QueueRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.DeadLetters {
		letters, err := h.svc.DeadLetters(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"items": letters, "total": len(letters)})
	}

	queue, err := h.svc.Queue(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": queue, "total": len(queue)})
}

// HandleSyncRequeue handles the sync_requeue tool call.
func (h *Handlers) HandleSyncRequeue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	id, err := requireID(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	entry, err := h.svc.Requeue(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// HandleStats handles the offline_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.svc.Stats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"stats":      stats,
		"is_online":  h.svc.IsOnline(),
		"is_syncing": h.svc.IsSyncing(),
	})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if ferr, ok := errors.As(err); ok {
		msg := ferr.Message
		if err != error(ferr) {
			// Keep context added by wrapping
			msg = err.Error()
		}
		if ferr.Code == errors.ErrInternal {
			msg = "an internal error occurred"
		}
		errorObj := map[string]any{
			"code":    ferr.Code,
			"message": msg,
			"status":  ferr.Status,
		}
		if ferr.Code != errors.ErrInternal && ferr.Details != nil {
			errorObj["details"] = ferr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	text, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(text)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

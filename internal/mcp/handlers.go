package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/overseer/internal/config"
	"github.com/hpungsan/overseer/internal/dispatch"
	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/memory"
	"github.com/hpungsan/overseer/internal/supervisor"
	"github.com/hpungsan/overseer/internal/transfer"
	"github.com/hpungsan/overseer/internal/workspace"
)

// Services are the components tools operate on.
type Services struct {
	Memory     *memory.Store
	Dispatcher *dispatch.Dispatcher
	Supervisor *supervisor.Supervisor
	Prompts    config.RolePrompts
	Transfer   transfer.Options
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc Services
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc Services, cfg *config.Config) *Handlers {
	return &Handlers{svc: svc, cfg: cfg}
}

// Request types for each tool

// StreamCreateRequest represents the arguments for stream_create.
type StreamCreateRequest struct {
	Goal string `json:"goal"`
}

// StreamRef identifies a stream.
type StreamRef struct {
	StreamID string `json:"stream_id"`
}

// StreamAppendRequest represents the arguments for stream_append.
type StreamAppendRequest struct {
	StreamID string `json:"stream_id"`
	Text     string `json:"text"`
}

// ShortTermRequest represents the arguments for memory_short_term.
type ShortTermRequest struct {
	StreamID string `json:"stream_id"`
	Limit    int    `json:"limit,omitempty"`
}

// StreamExportRequest represents the arguments for stream_export.
type StreamExportRequest struct {
	Path   string `json:"path,omitempty"`
	Status string `json:"status,omitempty"`
}

// StreamImportRequest represents the arguments for stream_import.
type StreamImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// LongTermRequest represents the arguments for memory_long_term.
type LongTermRequest struct {
	Query string `json:"query"`
}

// TurnExecuteRequest represents the arguments for turn_execute.
type TurnExecuteRequest struct {
	StreamID  string           `json:"stream_id"`
	TurnCount int              `json:"turn_count"`
	Workspace []workspace.Idea `json:"workspace,omitempty"`
}

// DecisionsRequest represents the arguments for supervisor_decisions.
type DecisionsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Output types

// TextOutput wraps a rendered memory tier.
type TextOutput struct {
	Text string `json:"text"`
}

// TurnOutput is the result of turn_execute.
type TurnOutput struct {
	Turn      dispatch.AgentTurn `json:"turn"`
	Workspace []workspace.Idea   `json:"workspace"`
	Terminal  bool               `json:"terminal"`
}

// TickOutput is the result of supervisor_tick.
type TickOutput struct {
	Decision *supervisor.Decision `json:"decision"`
}

// Handler implementations

// HandleStreamCreate handles the stream_create tool call.
func (h *Handlers) HandleStreamCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Goal == "" {
		return errorResult(errors.NewInvalidRequest("goal is required")), nil
	}

	id := h.svc.Memory.CreateStream(ctx, input.Goal)
	stream, _ := h.svc.Memory.Get(id)
	return successResult(stream)
}

// HandleStreamList handles the stream_list tool call.
func (h *Handlers) HandleStreamList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{"streams": h.svc.Memory.List()})
}

// HandleStreamAppend handles the stream_append tool call.
func (h *Handlers) HandleStreamAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamAppendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.StreamID == "" || input.Text == "" {
		return errorResult(errors.NewInvalidRequest("stream_id and text are required")), nil
	}

	frame, ok := h.svc.Memory.Inject(ctx, input.StreamID, input.Text)
	return successResult(map[string]any{"appended": ok, "frame": frame})
}

// HandleStreamArchive handles the stream_archive tool call.
func (h *Handlers) HandleStreamArchive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamRef](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.svc.Memory.Archive(ctx, input.StreamID); err != nil {
		return errorResult(err), nil
	}
	stream, _ := h.svc.Memory.Get(input.StreamID)
	return successResult(map[string]any{
		"stream_id":   stream.ID,
		"status":      stream.Status,
		"archived_at": stream.ArchivedAt,
	})
}

// HandleStreamExport handles the stream_export tool call.
func (h *Handlers) HandleStreamExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	output, err := transfer.Export(ctx, h.svc.Memory, h.svc.Transfer, transfer.ExportInput{
		Path:   input.Path,
		Status: memory.Status(input.Status),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(output)
}

// HandleStreamImport handles the stream_import tool call.
func (h *Handlers) HandleStreamImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Path == "" {
		return errorResult(errors.NewInvalidRequest("path is required")), nil
	}

	output, err := transfer.Import(ctx, h.svc.Memory, h.svc.Transfer, transfer.ImportInput{
		Path: input.Path,
		Mode: memory.RestoreMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(output)
}

// HandleStreamPeek handles the stream_peek tool call.
func (h *Handlers) HandleStreamPeek(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamRef](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return successResult(TextOutput{Text: h.svc.Memory.SharePeek(input.StreamID)})
}

// HandleShortTerm handles the memory_short_term tool call.
func (h *Handlers) HandleShortTerm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ShortTermRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = h.cfg.ShortTermLimit
	}
	return successResult(TextOutput{Text: h.svc.Memory.ShortTerm(input.StreamID, limit)})
}

// HandleMediumTerm handles the memory_medium_term tool call.
func (h *Handlers) HandleMediumTerm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamRef](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return successResult(TextOutput{Text: h.svc.Memory.MediumTerm(input.StreamID)})
}

// HandleLongTerm handles the memory_long_term tool call.
func (h *Handlers) HandleLongTerm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LongTermRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return successResult(TextOutput{Text: h.svc.Memory.LongTerm(ctx, input.Query)})
}

// HandleTurnExecute handles the turn_execute tool call.
func (h *Handlers) HandleTurnExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TurnExecuteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	stream, ok := h.svc.Memory.Get(input.StreamID)
	if !ok {
		return errorResult(errors.NewNotFound(input.StreamID)), nil
	}
	if stream.Status == memory.StatusArchived {
		return errorResult(errors.NewInvalidRequest("stream is archived")), nil
	}

	turn, next, err := h.svc.Dispatcher.ExecuteTurn(ctx, stream.ID, stream.Goal, input.Workspace, input.TurnCount, h.svc.Prompts)
	if err != nil {
		return errorResult(err), nil
	}
	if next == nil {
		next = []workspace.Idea{}
	}

	return successResult(TurnOutput{
		Turn:      turn,
		Workspace: next,
		Terminal:  turn.Step >= h.svc.Dispatcher.MaxTurns(),
	})
}

// HandleSupervisorTick handles the supervisor_tick tool call.
func (h *Handlers) HandleSupervisorTick(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StreamRef](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	decision, err := h.svc.Supervisor.Tick(ctx, input.StreamID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(TickOutput{Decision: decision})
}

// HandleSupervisorDecisions handles the supervisor_decisions tool call.
func (h *Handlers) HandleSupervisorDecisions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DecisionsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	decisions := h.svc.Supervisor.Decisions()
	if input.Limit > 0 && len(decisions) > input.Limit {
		decisions = decisions[:input.Limit]
	}
	return successResult(map[string]any{"decisions": decisions})
}

// HandleSupervisorPolicies handles the supervisor_policies tool call.
func (h *Handlers) HandleSupervisorPolicies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{"policies": h.svc.Supervisor.Policies()})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var oErr *errors.OverseerError
	if errors.As(err, &oErr) {
		msg := err.Error()
		if oErr.Code == errors.ErrInternal {
			msg = "an internal error occurred"
		}
		errorObj := map[string]any{
			"code":    oErr.Code,
			"message": msg,
			"status":  oErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if oErr.Code != errors.ErrInternal && oErr.Details != nil {
			errorObj["details"] = oErr.Details
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

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

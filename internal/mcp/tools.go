package mcp

import "github.com/mark3labs/mcp-go/mcp"

var streamCreateToolDef = mcp.NewTool("stream_create",
	mcp.WithDescription("Create a memory stream for a new simulation and return its id."),
	mcp.WithString("goal",
		mcp.Required(),
		mcp.Description("What the simulation is trying to achieve"),
	),
)

var streamListToolDef = mcp.NewTool("stream_list",
	mcp.WithDescription("List every memory stream with its goal, status and frame count."),
)

var streamAppendToolDef = mcp.NewTool("stream_append",
	mcp.WithDescription("Inject user input into an active stream as a User frame."),
	mcp.WithString("stream_id", mcp.Required(), mcp.Description("Target stream id")),
	mcp.WithString("text", mcp.Required(), mcp.Description("Input to record")),
)

var streamArchiveToolDef = mcp.NewTool("stream_archive",
	mcp.WithDescription("Archive a stream. Archived streams are read-only and searchable through memory_long_term."),
	mcp.WithString("stream_id", mcp.Required(), mcp.Description("Stream to archive")),
)

var streamExportToolDef = mcp.NewTool("stream_export",
	mcp.WithDescription("Export streams to a JSONL file in ~/.overseer/exports or an allowed path."),
	mcp.WithString("path", mcp.Description("Output path ending in .jsonl (default: generated in ~/.overseer/exports)")),
	mcp.WithString("status", mcp.Description("Export only active or archived streams"), mcp.Enum("active", "archived")),
)

var streamImportToolDef = mcp.NewTool("stream_import",
	mcp.WithDescription("Restore streams from a JSONL export, keeping their ids and history."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Export file to read")),
	mcp.WithString("mode",
		mcp.Description("Collision mode: error fails the whole import, skip keeps existing streams, replace overwrites them (default: error)"),
		mcp.Enum("error", "skip", "replace"),
	),
)

var streamPeekToolDef = mcp.NewTool("stream_peek",
	mcp.WithDescription("Read another stream's goal and its last five actions without modifying it."),
	mcp.WithString("stream_id", mcp.Required(), mcp.Description("Stream to peek at")),
)

var shortTermToolDef = mcp.NewTool("memory_short_term",
	mcp.WithDescription("Render the most recent frames of a stream."),
	mcp.WithString("stream_id", mcp.Required(), mcp.Description("Stream id")),
	mcp.WithNumber("limit", mcp.Description("Number of frames (default: 3)")),
)

var mediumTermToolDef = mcp.NewTool("memory_medium_term",
	mcp.WithDescription("Render a stream's goal and one step line per frame for its whole history."),
	mcp.WithString("stream_id", mcp.Required(), mcp.Description("Stream id")),
)

var longTermToolDef = mcp.NewTool("memory_long_term",
	mcp.WithDescription("Find archived streams whose goal or log contains the query."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Substring to search for")),
)

var turnExecuteToolDef = mcp.NewTool("turn_execute",
	mcp.WithDescription(
		"Run one Coordinator/Critic turn on a stream. Even turn counts are the Coordinator, odd the Critic. "+
			"Returns the turn and the updated workspace.",
	),
	mcp.WithString("stream_id", mcp.Required(), mcp.Description("Stream id")),
	mcp.WithNumber("turn_count", mcp.Required(), mcp.Description("0-based turn number")),
	mcp.WithArray("workspace",
		mcp.Description("Current ideas: objects with id, content, type, x, y"),
		mcp.Items(map[string]any{"type": "object"}),
	),
)

var supervisorTickToolDef = mcp.NewTool("supervisor_tick",
	mcp.WithDescription("Evaluate a stream's recent activity now and return the decision, if any."),
	mcp.WithString("stream_id", mcp.Required(), mcp.Description("Stream id")),
)

var supervisorDecisionsToolDef = mcp.NewTool("supervisor_decisions",
	mcp.WithDescription("Return the supervisor decision log, most recent first."),
	mcp.WithNumber("limit", mcp.Description("Max decisions (default: all)")),
)

var supervisorPoliciesToolDef = mcp.NewTool("supervisor_policies",
	mcp.WithDescription("Return the learned meta-policies in creation order."),
)

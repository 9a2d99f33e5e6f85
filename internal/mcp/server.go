package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/overseer/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"stream_create": {
		def:     streamCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStreamCreate },
	},
	"stream_list": {
		def:     streamListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStreamList },
	},
	"stream_append": {
		def:     streamAppendToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStreamAppend },
	},
	"stream_archive": {
		def:     streamArchiveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStreamArchive },
	},
	"stream_export": {
		def:     streamExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStreamExport },
	},
	"stream_import": {
		def:     streamImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStreamImport },
	},
	"stream_peek": {
		def:     streamPeekToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStreamPeek },
	},
	"memory_short_term": {
		def:     shortTermToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleShortTerm },
	},
	"memory_medium_term": {
		def:     mediumTermToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMediumTerm },
	},
	"memory_long_term": {
		def:     longTermToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLongTerm },
	},
	"turn_execute": {
		def:     turnExecuteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnExecute },
	},
	"supervisor_tick": {
		def:     supervisorTickToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSupervisorTick },
	},
	"supervisor_decisions": {
		def:     supervisorDecisionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSupervisorDecisions },
	},
	"supervisor_policies": {
		def:     supervisorPoliciesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSupervisorPolicies },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Overseer tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(svc Services, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"overseer",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(svc, cfg)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(svc Services, cfg *config.Config, version string) error {
	s := NewServer(svc, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

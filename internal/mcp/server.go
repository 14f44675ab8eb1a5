package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/ferry/internal/config"
	"github.com/hpungsan/ferry/internal/offline"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"content_download": {
		def:     downloadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownload },
	},
	"content_remove": {
		def:     removeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRemove },
	},
	"content_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"content_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"content_progress": {
		def:     progressToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProgress },
	},
	"content_complete": {
		def:     completeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleComplete },
	},
	"content_sweep": {
		def:     sweepToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSweep },
	},
	"sync_run": {
		def:     syncRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncRun },
	},
	"sync_queue": {
		def:     syncQueueToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncQueue },
	},
	"sync_requeue": {
		def:     syncRequeueToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncRequeue },
	},
	"offline_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
}

// AllToolNames returns every valid tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
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

// NewServer creates a new MCP server with Ferry tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(svc *offline.Service, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ferry",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(svc)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
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
func Run(svc *offline.Service, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(svc, cfg, version))
}

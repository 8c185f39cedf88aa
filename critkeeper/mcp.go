// CLAUDE:SUMMARY Registers critwatch MCP tools — stats, history, restore, set_style, purge.
package critkeeper

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/critlab/critwatch/kit"
	"github.com/critlab/critwatch/style"
)

// RegisterMCP registers critwatch tools on an MCP server.
func (k *Keeper) RegisterMCP(srv *mcp.Server) {
	k.registerStatsTool(srv)
	k.registerHistoryTool(srv)
	k.registerRestoreTool(srv)
	k.registerSetStyleTool(srv)
	k.registerPurgeTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- stats ---

func (k *Keeper) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "critwatch_stats",
		Description: "Get critwatch statistics: history entries, pending decisions, processing and restoration counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return k.Stats(), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- history ---

type historyRequest struct {
	ChannelID string `json:"channel_id"`
}

func (k *Keeper) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "critwatch_history",
		Description: "List recorded crit decisions for a channel, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"channel_id": map[string]any{"type": "string", "description": "Channel to list"},
		}, []string{"channel_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyRequest)
		return k.History(r.ChannelID), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r historyRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- restore ---

type restoreRequest struct {
	ChannelID string `json:"channel_id"`
}

func (k *Keeper) registerRestoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "critwatch_restore",
		Description: "Reconcile a channel now: re-style every mounted crit message that lost its decoration.",
		InputSchema: inputSchema(map[string]any{
			"channel_id": map[string]any{"type": "string", "description": "Channel to reconcile; empty = all visible"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*restoreRequest)
		return k.RestoreChannel(ctx, r.ChannelID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r restoreRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- set_style ---

func (k *Keeper) registerSetStyleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "critwatch_set_style",
		Description: "Replace the crit treatment for future decisions. Existing decorated messages keep their snapshot. Invalid input falls back to the default treatment.",
		InputSchema: inputSchema(map[string]any{
			"mode":        map[string]any{"type": "string", "enum": []any{"gradient", "solid", "glow"}, "description": "Visual treatment mode"},
			"color_stops": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Colors (hex or CSS); gradient needs at least 2"},
			"animation":   map[string]any{"type": "boolean", "description": "Play the restoration animation"},
		}, []string{"mode"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*style.Config)
		applied, err := k.SetStyle(*r)
		resp := map[string]any{"applied": applied}
		if err != nil {
			resp["warning"] = err.Error()
		}
		return resp, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r style.Config
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- purge ---

type purgeRequest struct {
	ChannelID string `json:"channel_id"`
}

func (k *Keeper) registerPurgeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "critwatch_purge",
		Description: "Drop all crit history and pending decisions for a channel.",
		InputSchema: inputSchema(map[string]any{
			"channel_id": map[string]any{"type": "string", "description": "Channel to purge"},
		}, []string{"channel_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*purgeRequest)
		n := k.PurgeChannel(r.ChannelID)
		return map[string]any{"status": "purged", "channel_id": r.ChannelID, "entries": n}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r purgeRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

package dombind

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dombind/kit"
)

// RegisterMCP registers binder tools on an MCP server. Each tool shares its
// handler with the connectivity service of the same name, so both surfaces
// stay behaviourally identical.
func (b *Binder) RegisterMCP(srv *mcp.Server) {
	pageProp := map[string]any{"type": "string", "description": "Attached page ID"}
	pathProp := map[string]any{"type": "string", "description": "DOM path, e.g. root/0/3"}
	rootProp := map[string]any{"type": "string", "description": "Root selector override"}

	b.registerTool(srv, "dombind_ping",
		"Round-trip through the in-page agent. Returns its timestamp and the page href.",
		inputSchema(map[string]any{"page_id": pageProp}, []string{"page_id"}),
		b.handlePing)

	b.registerTool(srv, "dombind_pages",
		"List the IDs of attached pages.",
		inputSchema(map[string]any{}, nil),
		b.handlePages)

	b.registerTool(srv, "dombind_highlight_selector",
		"Highlight every element matching a CSS selector on a named overlay channel.",
		inputSchema(map[string]any{
			"page_id":     pageProp,
			"selector":    map[string]any{"type": "string", "description": "CSS selector"},
			"channel":     map[string]any{"type": "string", "description": "Overlay channel name (default \"default\")"},
			"color":       map[string]any{"type": "string", "description": "CSS color for the boxes"},
			"sticky":      map[string]any{"type": "boolean", "description": "Persist until cleared explicitly"},
			"duration_ms": map[string]any{"type": "integer", "description": "Auto-clear after this many milliseconds"},
		}, []string{"page_id", "selector"}),
		b.handleHighlightSelector)

	b.registerTool(srv, "dombind_highlight_elements",
		"Highlight the elements addressed by explicit DOM paths.",
		inputSchema(map[string]any{
			"page_id": pageProp,
			"paths":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "DOM paths to highlight"},
			"channel": map[string]any{"type": "string", "description": "Overlay channel name"},
		}, []string{"page_id", "paths"}),
		b.handleHighlightElements)

	b.registerTool(srv, "dombind_highlight_clear",
		"Clear one overlay channel, or every channel when none is named.",
		inputSchema(map[string]any{
			"page_id": pageProp,
			"channel": map[string]any{"type": "string", "description": "Channel to clear; empty clears all"},
		}, []string{"page_id"}),
		b.handleHighlightClear)

	b.registerTool(srv, "dombind_dom_branch",
		"Capture a bounded snapshot of the page's element tree with stable DOM paths.",
		inputSchema(map[string]any{
			"page_id":       pageProp,
			"root_selector": rootProp,
			"max_depth":     map[string]any{"type": "integer", "description": "Depth cutoff (default 4)"},
			"max_children":  map[string]any{"type": "integer", "description": "Per-node child cutoff (default 30)"},
			"force_paths":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Paths to expand past the cutoffs"},
		}, []string{"page_id"}),
		b.handleDomBranch)

	b.registerTool(srv, "dombind_dom_details",
		"Describe one addressed node. exists=false when the path no longer resolves.",
		inputSchema(map[string]any{
			"page_id":       pageProp,
			"path":          pathProp,
			"root_selector": rootProp,
		}, []string{"page_id", "path"}),
		b.handleDomDetails)

	b.registerTool(srv, "dombind_dom_preview",
		"Render the addressed subtree as markdown. exists=false when the path no longer resolves.",
		inputSchema(map[string]any{
			"page_id":       pageProp,
			"path":          pathProp,
			"root_selector": rootProp,
		}, []string{"page_id", "path"}),
		b.handleDomPreview)

	b.registerTool(srv, "dombind_dom_path_for_selector",
		"Build the DOM path of the first element matching a CSS selector.",
		inputSchema(map[string]any{
			"page_id":       pageProp,
			"selector":      map[string]any{"type": "string", "description": "CSS selector"},
			"root_selector": rootProp,
		}, []string{"page_id", "selector"}),
		b.handlePathForSelector)

	b.registerTool(srv, "dombind_dom_resolve",
		"Check whether a DOM path still resolves to an element.",
		inputSchema(map[string]any{
			"page_id":       pageProp,
			"path":          pathProp,
			"root_selector": rootProp,
		}, []string{"page_id", "path"}),
		b.handleDomResolve)

	b.registerTool(srv, "dombind_picker_start",
		"Start an interactive picking session. The user clicks an element in the page; poll dombind_picker_state for the result.",
		inputSchema(map[string]any{
			"page_id":       pageProp,
			"mode":          map[string]any{"type": "string", "description": "Opaque session label"},
			"timeout_ms":    map[string]any{"type": "integer", "description": "Session timeout, clamped to 1s..60s"},
			"root_selector": rootProp,
		}, []string{"page_id"}),
		b.handlePickerStart)

	b.registerTool(srv, "dombind_picker_cancel",
		"Cancel the live picking session on a page.",
		inputSchema(map[string]any{"page_id": pageProp}, []string{"page_id"}),
		b.handlePickerCancel)

	b.registerTool(srv, "dombind_picker_state",
		"Snapshot of the live picking session, or the last finished one.",
		inputSchema(map[string]any{"page_id": pageProp}, []string{"page_id"}),
		b.handlePickerState)

	b.registerTool(srv, "dombind_connections",
		"Match a container tree against the live DOM and return container/path connections.",
		inputSchema(map[string]any{
			"page_id":  pageProp,
			"tree":     map[string]any{"type": "object", "description": "Inline container tree; omit to load by site key"},
			"site_key": map[string]any{"type": "string", "description": "Stored tree to load; empty derives from the page URL"},
		}, []string{"page_id"}),
		b.handleConnections)

	b.registerTool(srv, "dombind_containers_save",
		"Persist a container tree for a site key.",
		inputSchema(map[string]any{
			"site_key": map[string]any{"type": "string", "description": "Registrable domain, e.g. example.com"},
			"tree":     map[string]any{"type": "object", "description": "Container tree"},
		}, []string{"site_key", "tree"}),
		b.handleContainersSave)

	b.registerTool(srv, "dombind_containers_list",
		"List site keys with a stored container tree.",
		inputSchema(map[string]any{}, nil),
		b.handleContainersList)

	b.registerTool(srv, "dombind_containers_delete",
		"Delete the stored container tree for a site key.",
		inputSchema(map[string]any{
			"site_key": map[string]any{"type": "string", "description": "Site key to delete"},
		}, []string{"site_key"}),
		b.handleContainersDelete)
}

// registerTool adapts a connectivity handler into an MCP tool. Arguments
// pass through as raw JSON; the handler does its own validation.
func (b *Binder) registerTool(srv *mcp.Server, name, description string, schema map[string]any, handler func(context.Context, []byte) ([]byte, error)) {
	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		out, err := handler(ctx, req.(json.RawMessage))
		if err != nil {
			return nil, err
		}
		return json.RawMessage(out), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.Params.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return &kit.MCPDecodeResult{Request: json.RawMessage(args)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
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

package dombind

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/dombind/connectivity"
	"github.com/hazyhaar/dombind/container"
	"github.com/hazyhaar/dombind/dompath"
	"github.com/hazyhaar/dombind/domtree"
	"github.com/hazyhaar/dombind/internal/page"
)

// RegisterConnectivity registers binder services in the connectivity router.
// Every payload is JSON; page-scoped services take a "page_id".
func (b *Binder) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("dombind_ping", b.handlePing)
	router.RegisterLocal("dombind_attach", b.handleAttach)
	router.RegisterLocal("dombind_detach", b.handleDetach)
	router.RegisterLocal("dombind_pages", b.handlePages)
	router.RegisterLocal("dombind_highlight_selector", b.handleHighlightSelector)
	router.RegisterLocal("dombind_highlight_elements", b.handleHighlightElements)
	router.RegisterLocal("dombind_highlight_clear", b.handleHighlightClear)
	router.RegisterLocal("dombind_dom_branch", b.handleDomBranch)
	router.RegisterLocal("dombind_dom_details", b.handleDomDetails)
	router.RegisterLocal("dombind_dom_preview", b.handleDomPreview)
	router.RegisterLocal("dombind_dom_path_for_selector", b.handlePathForSelector)
	router.RegisterLocal("dombind_dom_resolve", b.handleDomResolve)
	router.RegisterLocal("dombind_picker_start", b.handlePickerStart)
	router.RegisterLocal("dombind_picker_cancel", b.handlePickerCancel)
	router.RegisterLocal("dombind_picker_state", b.handlePickerState)
	router.RegisterLocal("dombind_connections", b.handleConnections)
	router.RegisterLocal("dombind_containers_save", b.handleContainersSave)
	router.RegisterLocal("dombind_containers_list", b.handleContainersList)
	router.RegisterLocal("dombind_containers_delete", b.handleContainersDelete)
}

// pageRequest is the common envelope for page-scoped services.
type pageRequest struct {
	PageID string `json:"page_id"`
}

func (b *Binder) runtimeFor(payload []byte) (*page.Runtime, error) {
	var req pageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind: unmarshal: %w", err)
	}
	if req.PageID == "" {
		return nil, fmt.Errorf("dombind: page_id required")
	}
	return b.Runtime(req.PageID)
}

// handlePing round-trips through the page agent.
// Payload: {"page_id": "..."}
func (b *Binder) handlePing(ctx context.Context, payload []byte) ([]byte, error) {
	rt, err := b.runtimeFor(payload)
	if err != nil {
		return nil, err
	}
	res, err := rt.Ping(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// handleAttach binds a new page.
// Payload: {"page_id": "...", "url": "...", "root_selector": "#app"}
func (b *Binder) handleAttach(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID       string `json:"page_id"`
		URL          string `json:"url"`
		RootSelector string `json:"root_selector"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_attach: unmarshal: %w", err)
	}
	pc := PageConfig{ID: req.PageID, URL: req.URL, RootSelector: req.RootSelector}
	if err := b.Attach(ctx, pc); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "attached", "page_id": req.PageID})
}

func (b *Binder) handleDetach(ctx context.Context, payload []byte) ([]byte, error) {
	var req pageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_detach: unmarshal: %w", err)
	}
	if err := b.Detach(ctx, req.PageID); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "detached", "page_id": req.PageID})
}

func (b *Binder) handlePages(ctx context.Context, payload []byte) ([]byte, error) {
	return json.Marshal(map[string]any{"pages": b.Pages()})
}

type highlightRequest struct {
	PageID       string         `json:"page_id"`
	Selector     string         `json:"selector,omitempty"`
	Paths        []dompath.Path `json:"paths,omitempty"`
	Channel      string         `json:"channel,omitempty"`
	Color        string         `json:"color,omitempty"`
	MaxMatches   int            `json:"max_matches,omitempty"`
	RootSelector string         `json:"root_selector,omitempty"`
	Sticky       bool           `json:"sticky,omitempty"`
	DurationMs   int            `json:"duration_ms,omitempty"`
}

func (r *highlightRequest) options() page.HighlightOptions {
	return page.HighlightOptions{
		Channel:      r.Channel,
		Color:        r.Color,
		MaxMatches:   r.MaxMatches,
		RootSelector: r.RootSelector,
		Sticky:       r.Sticky,
		Duration:     time.Duration(r.DurationMs) * time.Millisecond,
	}
}

// handleHighlightSelector paints every match of a CSS selector.
// Payload: {"page_id", "selector", "channel", "color", "sticky", "duration_ms"}
func (b *Binder) handleHighlightSelector(ctx context.Context, payload []byte) ([]byte, error) {
	var req highlightRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_highlight_selector: unmarshal: %w", err)
	}
	if req.Selector == "" {
		return nil, fmt.Errorf("dombind_highlight_selector: selector required")
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	n, err := rt.Highlight.HighlightSelector(ctx, req.Selector, req.options())
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]int{"count": n})
}

// handleHighlightElements paints the nodes addressed by explicit paths.
func (b *Binder) handleHighlightElements(ctx context.Context, payload []byte) ([]byte, error) {
	var req highlightRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_highlight_elements: unmarshal: %w", err)
	}
	for _, p := range req.Paths {
		if !dompath.Valid(string(p)) {
			return nil, fmt.Errorf("dombind_highlight_elements: invalid path %q", p)
		}
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	n, err := rt.Highlight.HighlightElements(ctx, req.Paths, req.options())
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]int{"count": n})
}

// handleHighlightClear clears one channel, or all when channel is empty.
func (b *Binder) handleHighlightClear(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID  string `json:"page_id"`
		Channel string `json:"channel,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_highlight_clear: unmarshal: %w", err)
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	if err := rt.Highlight.Clear(ctx, req.Channel); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "cleared"})
}

// handleDomBranch captures a bounded snapshot of the page's element tree.
// Payload mirrors domtree.BranchOptions.
func (b *Binder) handleDomBranch(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID string `json:"page_id"`
		domtree.BranchOptions
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_dom_branch: unmarshal: %w", err)
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	node, err := rt.Inspect.Branch(ctx, req.BranchOptions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

// handleDomDetails describes one addressed node; exists=false when the path
// no longer resolves.
func (b *Binder) handleDomDetails(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID       string       `json:"page_id"`
		Path         dompath.Path `json:"path"`
		RootSelector string       `json:"root_selector,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_dom_details: unmarshal: %w", err)
	}
	if !dompath.Valid(string(req.Path)) {
		return nil, fmt.Errorf("dombind_dom_details: invalid path %q", req.Path)
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	det, err := rt.Inspect.Details(ctx, req.Path, req.RootSelector)
	if err != nil {
		return nil, err
	}
	return json.Marshal(det)
}

// handleDomPreview renders the addressed subtree as markdown, the
// operator-facing view of what a container currently captures.
func (b *Binder) handleDomPreview(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID       string       `json:"page_id"`
		Path         dompath.Path `json:"path"`
		RootSelector string       `json:"root_selector,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_dom_preview: unmarshal: %w", err)
	}
	if !dompath.Valid(string(req.Path)) {
		return nil, fmt.Errorf("dombind_dom_preview: invalid path %q", req.Path)
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	html, err := rt.Inspect.OuterHTML(ctx, req.Path, req.RootSelector)
	if err != nil {
		return nil, err
	}
	if html == "" {
		return json.Marshal(map[string]any{"path": req.Path, "exists": false})
	}
	return json.Marshal(map[string]any{
		"path":     req.Path,
		"exists":   true,
		"markdown": domtree.PreviewMarkdown(html),
	})
}

func (b *Binder) handlePathForSelector(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID       string `json:"page_id"`
		Selector     string `json:"selector"`
		RootSelector string `json:"root_selector,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_dom_path_for_selector: unmarshal: %w", err)
	}
	if req.Selector == "" {
		return nil, fmt.Errorf("dombind_dom_path_for_selector: selector required")
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	p, err := rt.Inspect.PathForSelector(ctx, req.Selector, req.RootSelector)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"path": string(p)})
}

func (b *Binder) handleDomResolve(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID       string       `json:"page_id"`
		Path         dompath.Path `json:"path"`
		RootSelector string       `json:"root_selector,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_dom_resolve: unmarshal: %w", err)
	}
	if !dompath.Valid(string(req.Path)) {
		return nil, fmt.Errorf("dombind_dom_resolve: invalid path %q", req.Path)
	}
	rt, err := b.Runtime(req.PageID)
	if err != nil {
		return nil, err
	}
	exists, err := rt.Inspect.Resolve(ctx, req.Path, req.RootSelector)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"exists": exists})
}

// handlePickerStart begins an interactive session.
// Payload: {"page_id", "mode", "timeout_ms", "root_selector"}
func (b *Binder) handlePickerStart(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID       string `json:"page_id"`
		Mode         string `json:"mode,omitempty"`
		TimeoutMs    int    `json:"timeout_ms,omitempty"`
		RootSelector string `json:"root_selector,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_picker_start: unmarshal: %w", err)
	}
	sess, err := b.StartPicker(ctx, req.PageID, page.PickOptions{
		Mode:         req.Mode,
		Timeout:      time.Duration(req.TimeoutMs) * time.Millisecond,
		RootSelector: req.RootSelector,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(sess)
}

func (b *Binder) handlePickerCancel(ctx context.Context, payload []byte) ([]byte, error) {
	rt, err := b.runtimeFor(payload)
	if err != nil {
		return nil, err
	}
	rt.Pick.Cancel(ctx)
	return json.Marshal(rt.Pick.State())
}

func (b *Binder) handlePickerState(ctx context.Context, payload []byte) ([]byte, error) {
	rt, err := b.runtimeFor(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rt.Pick.State())
}

// handleConnections matches a container tree against the live DOM. The tree
// comes inline or from the store by site key (page's own site when empty).
// Payload: {"page_id", "tree": {...}} or {"page_id", "site_key": "..."}
func (b *Binder) handleConnections(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID  string          `json:"page_id"`
		Tree    json.RawMessage `json:"tree,omitempty"`
		SiteKey string          `json:"site_key,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_connections: unmarshal: %w", err)
	}

	var tree *container.Definition
	switch {
	case len(req.Tree) > 0:
		var err error
		tree, err = container.UnmarshalTree(req.Tree)
		if err != nil {
			return nil, err
		}
	default:
		if b.trees == nil {
			return nil, fmt.Errorf("dombind_connections: no container store configured")
		}
		key := req.SiteKey
		if key == "" {
			var err error
			key, err = b.SiteKeyFor(ctx, req.PageID)
			if err != nil {
				return nil, err
			}
		}
		var err error
		tree, err = b.trees.LoadTree(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	conns, err := b.Connections(ctx, req.PageID, tree)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"connections": conns})
}

// handleContainersSave persists a container tree for a site key.
// Payload: {"site_key": "...", "tree": {...}}
func (b *Binder) handleContainersSave(ctx context.Context, payload []byte) ([]byte, error) {
	if b.trees == nil {
		return nil, fmt.Errorf("dombind_containers_save: no container store configured")
	}
	var req struct {
		SiteKey string          `json:"site_key"`
		Tree    json.RawMessage `json:"tree"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_containers_save: unmarshal: %w", err)
	}
	tree, err := container.UnmarshalTree(req.Tree)
	if err != nil {
		return nil, err
	}
	if err := b.trees.SaveTree(ctx, req.SiteKey, tree); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "saved", "site_key": req.SiteKey})
}

func (b *Binder) handleContainersList(ctx context.Context, payload []byte) ([]byte, error) {
	if b.trees == nil {
		return nil, fmt.Errorf("dombind_containers_list: no container store configured")
	}
	sites, err := b.trees.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"sites": sites})
}

func (b *Binder) handleContainersDelete(ctx context.Context, payload []byte) ([]byte, error) {
	if b.trees == nil {
		return nil, fmt.Errorf("dombind_containers_delete: no container store configured")
	}
	var req struct {
		SiteKey string `json:"site_key"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("dombind_containers_delete: unmarshal: %w", err)
	}
	if req.SiteKey == "" {
		return nil, fmt.Errorf("dombind_containers_delete: site_key required")
	}
	if err := b.trees.DeleteTree(ctx, req.SiteKey); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "deleted", "site_key": req.SiteKey})
}

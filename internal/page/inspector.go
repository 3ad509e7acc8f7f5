package page

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/dombind/dompath"
	"github.com/hazyhaar/dombind/domtree"
)

// Inspector exposes the agent's structural DOM operations: branch capture,
// node details, selector-to-path mapping, and path existence. Per the
// addressing contract, "not found" is an empty result, never an error.
type Inspector struct {
	drv    Driver
	logger *slog.Logger
}

func newInspector(drv Driver, logger *slog.Logger) *Inspector {
	return &Inspector{drv: drv, logger: logger}
}

// Branch captures a bounded snapshot of the subtree at the resolved root.
// Returns nil when no root resolves.
func (i *Inspector) Branch(ctx context.Context, opts domtree.BranchOptions) (*domtree.SnapshotNode, error) {
	raw, err := i.drv.Eval(ctx, `(opts) => window.__dombind.branch(opts)`, opts)
	if err != nil {
		return nil, fmt.Errorf("page: branch: %w", err)
	}
	if isJSONNull(raw) {
		return nil, nil
	}
	var node domtree.SnapshotNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("page: decode branch: %w", err)
	}
	return &node, nil
}

// Details describes the node at path. A path that no longer resolves yields
// Exists=false, not an error.
func (i *Inspector) Details(ctx context.Context, path dompath.Path, rootSelector string) (domtree.NodeDetails, error) {
	raw, err := i.drv.Eval(ctx,
		`(path, root) => window.__dombind.details(path, root)`,
		path, rootSelector)
	if err != nil {
		return domtree.NodeDetails{Path: path}, fmt.Errorf("page: details: %w", err)
	}
	var det domtree.NodeDetails
	if err := json.Unmarshal(raw, &det); err != nil {
		return domtree.NodeDetails{Path: path}, fmt.Errorf("page: decode details: %w", err)
	}
	return det, nil
}

// OuterHTML returns the serialised markup of the node at path, capped by the
// agent. Empty when the path no longer resolves.
func (i *Inspector) OuterHTML(ctx context.Context, path dompath.Path, rootSelector string) (string, error) {
	raw, err := i.drv.Eval(ctx,
		`(path, root) => window.__dombind.outerHTML(path, root)`,
		path, rootSelector)
	if err != nil {
		return "", fmt.Errorf("page: outer html: %w", err)
	}
	if isJSONNull(raw) {
		return "", nil
	}
	var html string
	if err := json.Unmarshal(raw, &html); err != nil {
		return "", fmt.Errorf("page: decode outer html: %w", err)
	}
	return html, nil
}

// PathForSelector maps the first match of a CSS selector to its path under
// the resolved root. Empty when the selector matches nothing or the match
// sits outside the root subtree.
func (i *Inspector) PathForSelector(ctx context.Context, selector, rootSelector string) (dompath.Path, error) {
	raw, err := i.drv.Eval(ctx,
		`(sel, root) => window.__dombind.buildPathFor(sel, root)`,
		selector, rootSelector)
	if err != nil {
		return "", fmt.Errorf("page: path for selector: %w", err)
	}
	if isJSONNull(raw) {
		return "", nil
	}
	var p dompath.Path
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("page: decode path: %w", err)
	}
	return p, nil
}

// Resolve reports whether the path still resolves to an element.
func (i *Inspector) Resolve(ctx context.Context, path dompath.Path, rootSelector string) (bool, error) {
	raw, err := i.drv.Eval(ctx,
		`(path, root) => window.__dombind.resolvePath(path, root)`,
		path, rootSelector)
	if err != nil {
		return false, fmt.Errorf("page: resolve: %w", err)
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("page: decode resolve: %w", err)
	}
	return ok, nil
}

// Paths enumerates every element path under the resolved root, the live
// counterpart of domtree.AllPaths. The result feeds the container matcher.
func (i *Inspector) Paths(ctx context.Context, rootSelector string) ([]dompath.Path, error) {
	raw, err := i.drv.Eval(ctx,
		`(root) => window.__dombind.listPaths(root)`,
		rootSelector)
	if err != nil {
		return nil, fmt.Errorf("page: list paths: %w", err)
	}
	var paths []dompath.Path
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil, fmt.Errorf("page: decode paths: %w", err)
	}
	return paths, nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

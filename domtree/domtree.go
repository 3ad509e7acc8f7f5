// Package domtree defines the structured DOM snapshot types exchanged with
// collaborators. These are the public API contract: any consumer receiving
// branches, node details, or picked-element descriptors imports this package.
//
// Snapshots come from two sources with identical semantics: the in-page agent
// (live capture over CDP) and Parse (offline capture from serialised HTML).
// Both address nodes with dompath paths.
package domtree

import "github.com/hazyhaar/dombind/dompath"

// TextSnippetLen caps the text excerpt stored per snapshot node.
const TextSnippetLen = 120

// SnapshotNode is one node of a lazily captured DOM branch. Children are
// bounded by the BranchOptions that produced the snapshot; ChildCount always
// reflects the real child count so a consumer can see where the cutoff hit.
type SnapshotNode struct {
	Path        dompath.Path   `json:"path"`
	Tag         string         `json:"tag"`
	ID          string         `json:"id,omitempty"`
	Classes     []string       `json:"classes,omitempty"`
	TextSnippet string         `json:"text_snippet,omitempty"`
	ChildCount  int            `json:"child_count"`
	Children    []SnapshotNode `json:"children,omitempty"`
	Truncated   bool           `json:"truncated,omitempty"`
}

// BranchOptions bounds a branch capture.
type BranchOptions struct {
	RootSelector string         `json:"root_selector,omitempty"`
	MaxDepth     int            `json:"max_depth,omitempty"`
	MaxChildren  int            `json:"max_children,omitempty"`
	// ForcePaths forces expansion along the listed paths past the normal
	// cutoff, keeping a point of interest visible while capping breadth
	// elsewhere.
	ForcePaths []dompath.Path `json:"force_paths,omitempty"`
}

func (o *BranchOptions) defaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 4
	}
	if o.MaxChildren <= 0 {
		o.MaxChildren = 30
	}
}

// NodeDetails is the full description of one addressed node. Exists is false
// when the path no longer resolves; every other field is zero in that case.
type NodeDetails struct {
	Path         dompath.Path `json:"path"`
	Exists       bool         `json:"exists"`
	Tag          string       `json:"tag,omitempty"`
	ID           string       `json:"id,omitempty"`
	Classes      []string     `json:"classes,omitempty"`
	Text         string       `json:"text,omitempty"`
	BoundingRect *Rect        `json:"bounding_rect,omitempty"`
}

// Rect is a viewport-relative bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PickedElement describes the element a picker session committed on.
// Extraction failures degrade individual fields to their zero values rather
// than aborting the session.
type PickedElement struct {
	Path     dompath.Path `json:"path,omitempty"`
	Selector string       `json:"selector,omitempty"`
	Tag      string       `json:"tag,omitempty"`
	ID       string       `json:"id,omitempty"`
	Classes  []string     `json:"classes,omitempty"`
	Text     string       `json:"text,omitempty"`
	Rect     *Rect        `json:"rect,omitempty"`
}

// Walk visits n and every captured descendant in depth-first order.
func (n *SnapshotNode) Walk(fn func(*SnapshotNode)) {
	fn(n)
	for i := range n.Children {
		n.Children[i].Walk(fn)
	}
}

// Paths returns the path of every node captured in the snapshot.
func (n *SnapshotNode) Paths() []dompath.Path {
	var out []dompath.Path
	n.Walk(func(sn *SnapshotNode) { out = append(out, sn.Path) })
	return out
}

// Find returns the captured node at path, or nil.
func (n *SnapshotNode) Find(p dompath.Path) *SnapshotNode {
	var found *SnapshotNode
	n.Walk(func(sn *SnapshotNode) {
		if found == nil && sn.Path == p {
			found = sn
		}
	})
	return found
}

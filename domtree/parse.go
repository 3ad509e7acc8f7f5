package domtree

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dombind/dompath"
)

// Parse captures a bounded snapshot from serialised HTML, mirroring the
// in-page agent's capture semantics: the root is the <body> element (or the
// document element when no body exists), path indexes count element children
// only, and MaxDepth/MaxChildren/ForcePaths bound the capture identically.
//
// Offline parsing exists so collaborators can re-run the matcher against a
// stored snapshot without a live browser.
func Parse(r io.Reader, opts BranchOptions) (*SnapshotNode, error) {
	opts.defaults()

	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("domtree: parse html: %w", err)
	}

	root := findBody(doc)
	if root == nil {
		root = firstElement(doc)
	}
	if root == nil {
		return nil, fmt.Errorf("domtree: no root element")
	}

	forced := make(map[dompath.Path]bool)
	for _, p := range opts.ForcePaths {
		// Every ancestor of a forced path must stay expanded for the point
		// of interest to remain reachable.
		for q := p; q != ""; q = q.Parent() {
			forced[q] = true
		}
	}

	node := capture(root, dompath.Root(), 0, &opts, forced)
	return node, nil
}

// AllPaths enumerates the path of every element under the body of serialised
// HTML, unbounded. This is the offline source for a matcher path set.
func AllPaths(r io.Reader) ([]dompath.Path, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("domtree: parse html: %w", err)
	}
	root := findBody(doc)
	if root == nil {
		root = firstElement(doc)
	}
	if root == nil {
		return nil, fmt.Errorf("domtree: no root element")
	}

	var out []dompath.Path
	var walk func(n *html.Node, p dompath.Path, depth int)
	walk = func(n *html.Node, p dompath.Path, depth int) {
		out = append(out, p)
		if depth >= dompath.MaxDepth {
			return
		}
		idx := 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			walk(c, p.Child(idx), depth+1)
			idx++
		}
	}
	walk(root, dompath.Root(), 0)
	return out, nil
}

func capture(n *html.Node, p dompath.Path, depth int, opts *BranchOptions, forced map[dompath.Path]bool) *SnapshotNode {
	sn := &SnapshotNode{
		Path:        p,
		Tag:         strings.ToLower(n.Data),
		ID:          attr(n, "id"),
		Classes:     classes(n),
		TextSnippet: Snippet(ownText(n)),
		ChildCount:  countElementChildren(n),
	}

	if depth >= opts.MaxDepth && !forced[p] {
		sn.Truncated = sn.ChildCount > 0
		return sn
	}

	idx := 0
	kept := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		cp := p.Child(idx)
		idx++
		if kept >= opts.MaxChildren && !forced[cp] {
			sn.Truncated = true
			continue
		}
		sn.Children = append(sn.Children, *capture(c, cp, depth+1, opts, forced))
		kept++
	}
	return sn
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func firstElement(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if e := firstElement(c); e != nil {
			return e
		}
	}
	return nil
}

func countElementChildren(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			count++
		}
	}
	return count
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func classes(n *html.Node) []string {
	raw := attr(n, "class")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// ownText collects the direct text children of n, not descendants, matching
// what the agent shows next to a node in a branch listing.
func ownText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

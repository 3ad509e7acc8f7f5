// Package container defines the reusable DOM-subtree descriptors ("containers")
// that operators bind to live pages, and the pure matcher that computes which
// DOM nodes each container currently owns.
//
// A container tree is owned by its collaborator for its lifetime; the matcher
// here holds no state and recomputes connections fresh from a tree snapshot
// and a DOM path set on every call.
package container

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/dombind/dompath"
)

// Meta carries the virtual-child marker. A virtual container exists solely to
// claim ownership of one specific path previously attributed to an ancestor.
type Meta struct {
	IsVirtual        bool         `json:"is_virtual,omitempty"`
	SuggestedDomPath dompath.Path `json:"suggested_dom_path,omitempty"`
}

// Definition is one node of a container tree.
type Definition struct {
	ID       string         `json:"id"`
	Selector string         `json:"selector,omitempty"`
	// MatchSpec lists the DOM paths this container currently claims. Paths
	// absent from the live DOM yield no connection — dropped, not an error.
	MatchSpec []dompath.Path `json:"match_spec,omitempty"`
	Children  []Definition   `json:"children,omitempty"`
	Meta      *Meta          `json:"metadata,omitempty"`
}

// IsVirtual reports whether d is a virtual child with a usable claim.
func (d *Definition) IsVirtual() bool {
	return d.Meta != nil && d.Meta.IsVirtual && d.Meta.SuggestedDomPath != ""
}

// Connection is one edge of the computed container↔DOM mapping.
type Connection struct {
	ContainerID string       `json:"container_id"`
	DomPath     dompath.Path `json:"dom_path"`
}

// MarshalTree serialises a container tree to JSON.
func MarshalTree(root *Definition) ([]byte, error) {
	return json.Marshal(root)
}

// UnmarshalTree deserialises a container tree from JSON and validates every
// declared path.
func UnmarshalTree(data []byte) (*Definition, error) {
	var root Definition
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("container: unmarshal tree: %w", err)
	}
	if err := validate(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

func validate(d *Definition) error {
	if d.ID == "" {
		return fmt.Errorf("container: definition without id")
	}
	for _, p := range d.MatchSpec {
		if !dompath.Valid(string(p)) {
			return fmt.Errorf("container %s: invalid match path %q", d.ID, p)
		}
	}
	if d.Meta != nil && d.Meta.SuggestedDomPath != "" && !dompath.Valid(string(d.Meta.SuggestedDomPath)) {
		return fmt.Errorf("container %s: invalid suggested path %q", d.ID, d.Meta.SuggestedDomPath)
	}
	for i := range d.Children {
		if err := validate(&d.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// AddVirtualChild appends a virtual child under parentID claiming claimPath.
// If the parent already has a virtual child claiming the same path, that
// child is replaced in place — exactly one virtual claim per (parent, path)
// survives, the most recently added. Returns false when parentID is not in
// the tree.
func AddVirtualChild(root *Definition, parentID, childID string, claimPath dompath.Path) bool {
	parent := find(root, parentID)
	if parent == nil {
		return false
	}
	child := Definition{
		ID:        childID,
		MatchSpec: []dompath.Path{claimPath},
		Meta:      &Meta{IsVirtual: true, SuggestedDomPath: claimPath},
	}
	for i := range parent.Children {
		c := &parent.Children[i]
		if c.IsVirtual() && c.Meta.SuggestedDomPath == claimPath {
			parent.Children[i] = child
			return true
		}
	}
	parent.Children = append(parent.Children, child)
	return true
}

func find(d *Definition, id string) *Definition {
	if d.ID == id {
		return d
	}
	for i := range d.Children {
		if found := find(&d.Children[i], id); found != nil {
			return found
		}
	}
	return nil
}

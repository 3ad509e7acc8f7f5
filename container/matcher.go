package container

import (
	"github.com/hazyhaar/dombind/dompath"
)

// PathSet is the set of DOM paths present in a page snapshot. The matcher
// only ever asks "does this exact path exist right now" — it never walks the
// DOM itself, so a set is the whole required interface.
type PathSet interface {
	Contains(p dompath.Path) bool
}

// PathSetOf builds an in-memory PathSet from a list of paths.
func PathSetOf(paths ...dompath.Path) PathSet {
	m := make(mapSet, len(paths))
	for _, p := range paths {
		m[p] = struct{}{}
	}
	return m
}

type mapSet map[dompath.Path]struct{}

func (m mapSet) Contains(p dompath.Path) bool {
	_, ok := m[p]
	return ok
}

// Match computes the container↔DOM connections for a whole tree against the
// current DOM path set. Two phases:
//
//  1. Existence matching: every container keeps the subset of its MatchSpec
//     paths that exist in the set. Ancestor/descendant proximity between a
//     parent and an ordinary child transfers nothing — they coexist with
//     whatever each independently matches.
//  2. Virtual-child override: a virtual child removes from its own parent the
//     one connection whose path is exactly equal to the child's suggested
//     path, and owns it alone. Parent connections for any other path —
//     including ancestors or descendants of the claimed path — are left
//     untouched. Containers elsewhere in the tree are never affected.
//
// Overriding ownership therefore always requires an explicit, path-exact
// virtual-child claim; it is never inferred from ancestry. When several
// virtual children claim the same path, only the one visited last in
// depth-first document order connects, matching the replace-on-add rule of
// AddVirtualChild for same-parent duplicates.
//
// The result is the flattened connection list for the whole tree, in
// depth-first document order. Match is pure: no caches, no retained state.
func Match(root *Definition, set PathSet) []Connection {
	if root == nil || set == nil {
		return nil
	}

	// First pass: resolve which virtual child wins each claimed path, and
	// which parents lose which exact paths.
	winners := make(map[dompath.Path]string)             // claimed path -> winning child ID
	overridden := make(map[string]map[dompath.Path]bool) // parent ID -> paths removed from it

	var collect func(d *Definition)
	collect = func(d *Definition) {
		for i := range d.Children {
			c := &d.Children[i]
			if c.IsVirtual() && set.Contains(c.Meta.SuggestedDomPath) {
				p := c.Meta.SuggestedDomPath
				winners[p] = c.ID // later registrations overwrite earlier ones
				if overridden[d.ID] == nil {
					overridden[d.ID] = make(map[dompath.Path]bool)
				}
				overridden[d.ID][p] = true
			}
			collect(c)
		}
	}
	collect(root)

	var out []Connection
	var walk func(d *Definition)
	walk = func(d *Definition) {
		if d.IsVirtual() {
			// A virtual child connects only through its claim, and only if
			// it is the surviving claimant for that path.
			p := d.Meta.SuggestedDomPath
			if winners[p] == d.ID && set.Contains(p) {
				out = append(out, Connection{ContainerID: d.ID, DomPath: p})
			}
		} else {
			for _, p := range d.MatchSpec {
				if !set.Contains(p) {
					continue // declared path absent from the DOM: dropped silently
				}
				if overridden[d.ID][p] {
					continue // exact path taken over by one of d's virtual children
				}
				out = append(out, Connection{ContainerID: d.ID, DomPath: p})
			}
		}
		for i := range d.Children {
			walk(&d.Children[i])
		}
	}
	walk(root)
	return out
}

// ConnectionsFor filters connections down to one container ID.
func ConnectionsFor(conns []Connection, containerID string) []Connection {
	var out []Connection
	for _, c := range conns {
		if c.ContainerID == containerID {
			out = append(out, c)
		}
	}
	return out
}

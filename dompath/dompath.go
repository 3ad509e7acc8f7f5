// Package dompath implements the portable, index-based DOM addressing scheme
// used across dombind. A path names one node relative to a resolved root as
// "root/i1/.../in", where each segment is the zero-based child index at that
// depth. Paths are plain strings on the wire so they survive a round trip
// through any external collaborator unchanged.
//
// Resolution is strict by design: a path either re-derives the exact node it
// was built from, or it resolves to nothing. There is no clamping and no
// nearest-match fallback — the semantic re-matching job belongs to CSS
// selectors, which are a separate mechanism.
package dompath

import (
	"fmt"
	"strconv"
	"strings"
)

// RootSegment is the mandatory first segment of every path.
const RootSegment = "root"

// MaxDepth caps the number of index segments in a path. An upward walk that
// has not reached the root after this many levels is treated as unaddressable.
const MaxDepth = 200

// Path is a root-relative, index-based DOM address, e.g. "root/1/0/2".
// The zero value is invalid; build paths with Join or validate external
// input with Parse.
type Path string

// Parse validates a raw path string and returns it as a Path.
// The first segment must literally be "root"; every following segment must
// be a non-negative decimal integer; the index depth must not exceed MaxDepth.
func Parse(raw string) (Path, error) {
	segs := strings.Split(raw, "/")
	if len(segs) == 0 || segs[0] != RootSegment {
		return "", fmt.Errorf("dompath: path %q does not start with %q", raw, RootSegment)
	}
	if len(segs)-1 > MaxDepth {
		return "", fmt.Errorf("dompath: path depth %d exceeds %d", len(segs)-1, MaxDepth)
	}
	for _, s := range segs[1:] {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || (len(s) > 1 && s[0] == '0') {
			return "", fmt.Errorf("dompath: invalid index segment %q in %q", s, raw)
		}
	}
	return Path(raw), nil
}

// MustParse is Parse that panics on invalid input. For literals in tests.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Valid reports whether p parses cleanly.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// Root is the path of the resolved root itself.
func Root() Path { return Path(RootSegment) }

// Join builds a path from zero-based child indexes under the root.
func Join(indexes ...int) Path {
	var b strings.Builder
	b.WriteString(RootSegment)
	for _, i := range indexes {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(i))
	}
	return Path(b.String())
}

// Indexes returns the child-index sequence of a valid path.
// Invalid paths return nil.
func (p Path) Indexes() []int {
	if _, err := Parse(string(p)); err != nil {
		return nil
	}
	segs := strings.Split(string(p), "/")
	out := make([]int, 0, len(segs)-1)
	for _, s := range segs[1:] {
		n, _ := strconv.Atoi(s)
		out = append(out, n)
	}
	return out
}

// Depth returns the number of index segments (the root is depth 0).
func (p Path) Depth() int {
	if p == Path(RootSegment) {
		return 0
	}
	return strings.Count(string(p), "/")
}

// Parent returns the path one level up, or "" for the root or invalid paths.
func (p Path) Parent() Path {
	i := strings.LastIndexByte(string(p), '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Child returns the path of the idx-th child.
func (p Path) Child(idx int) Path {
	return Path(string(p) + "/" + strconv.Itoa(idx))
}

// String implements fmt.Stringer.
func (p Path) String() string { return string(p) }

// Relation describes how two paths relate structurally.
type Relation int

const (
	Unrelated Relation = iota
	Equal
	Ancestor   // p is an ancestor of other
	Descendant // p is a descendant of other
)

// Relate classifies p against other. Proximity classification is informative
// only — ownership transfer in the container matcher never follows from it.
func (p Path) Relate(other Path) Relation {
	switch {
	case p == other:
		return Equal
	case strings.HasPrefix(string(other), string(p)+"/"):
		return Ancestor
	case strings.HasPrefix(string(p), string(other)+"/"):
		return Descendant
	default:
		return Unrelated
	}
}

// IsAncestorOf reports whether p strictly contains other.
func (p Path) IsAncestorOf(other Path) bool { return p.Relate(other) == Ancestor }

// IsDescendantOf reports whether p is strictly inside other.
func (p Path) IsDescendantOf(other Path) bool { return p.Relate(other) == Descendant }

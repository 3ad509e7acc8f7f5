package container

import (
	"testing"

	"github.com/hazyhaar/dombind/dompath"
)

func pathsOf(t *testing.T, conns []Connection, id string) []string {
	t.Helper()
	var out []string
	for _, c := range ConnectionsFor(conns, id) {
		out = append(out, string(c.DomPath))
	}
	return out
}

func hasConn(conns []Connection, id, path string) bool {
	for _, c := range conns {
		if c.ContainerID == id && string(c.DomPath) == path {
			return true
		}
	}
	return false
}

func twoChildDOM() PathSet {
	return PathSetOf(
		dompath.MustParse("root"),
		dompath.MustParse("root/0"),
		dompath.MustParse("root/1"),
		dompath.MustParse("root/1/0"),
	)
}

func TestPlainExistenceMatching(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/1"},
	}
	conns := Match(tree, twoChildDOM())
	if !hasConn(conns, "parent", "root/1") {
		t.Fatalf("expected {parent, root/1}, got %v", conns)
	}
	if len(conns) != 1 {
		t.Fatalf("expected a single connection, got %v", conns)
	}
}

func TestVirtualChildTakesOverExactPath(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/1"},
	}
	if !AddVirtualChild(tree, "parent", "child", "root/1") {
		t.Fatal("AddVirtualChild failed")
	}
	conns := Match(tree, twoChildDOM())

	if hasConn(conns, "parent", "root/1") {
		t.Errorf("parent should lose root/1 after override: %v", conns)
	}
	if !hasConn(conns, "child", "root/1") {
		t.Errorf("virtual child should own root/1: %v", conns)
	}
}

func TestOverrideLeavesOtherParentPathsUntouched(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/0", "root/1"},
	}
	AddVirtualChild(tree, "parent", "child", "root/1")
	conns := Match(tree, twoChildDOM())

	if !hasConn(conns, "parent", "root/0") {
		t.Errorf("parent should retain root/0: %v", conns)
	}
	if hasConn(conns, "parent", "root/1") {
		t.Errorf("parent should lose only root/1: %v", conns)
	}
	if !hasConn(conns, "child", "root/1") {
		t.Errorf("child should own root/1: %v", conns)
	}
}

func TestAncestorParentAndDeeperVirtualChildCoexist(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/1"},
	}
	AddVirtualChild(tree, "parent", "child", "root/1/0")
	conns := Match(tree, twoChildDOM())

	if !hasConn(conns, "parent", "root/1") {
		t.Errorf("ancestor-path parent connection must survive: %v", conns)
	}
	if !hasConn(conns, "child", "root/1/0") {
		t.Errorf("deeper virtual-child connection must exist: %v", conns)
	}
}

func TestDescendantParentAndShallowerVirtualChildCoexist(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/1/0"},
	}
	AddVirtualChild(tree, "parent", "child", "root/1")
	conns := Match(tree, twoChildDOM())

	if !hasConn(conns, "parent", "root/1/0") {
		t.Errorf("descendant-path parent connection must survive: %v", conns)
	}
	if !hasConn(conns, "child", "root/1") {
		t.Errorf("shallower virtual-child connection must exist: %v", conns)
	}
}

func TestAbsentPathYieldsNothing(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/2"},
	}
	conns := Match(tree, twoChildDOM())
	if len(conns) != 0 {
		t.Fatalf("absent path must drop silently before override: %v", conns)
	}

	AddVirtualChild(tree, "parent", "child", "root/2")
	conns = Match(tree, twoChildDOM())
	if len(conns) != 0 {
		t.Fatalf("absent path must drop silently after override: %v", conns)
	}
}

func TestSecondVirtualChildSameParentReplacesFirst(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/1"},
	}
	AddVirtualChild(tree, "parent", "first", "root/1")
	AddVirtualChild(tree, "parent", "second", "root/1")

	if len(tree.Children) != 1 {
		t.Fatalf("replace-on-add should leave one child, got %d", len(tree.Children))
	}

	conns := Match(tree, twoChildDOM())
	got := pathsOf(t, conns, "second")
	if len(got) != 1 || got[0] != "root/1" {
		t.Errorf("second child should own root/1: %v", conns)
	}
	if len(ConnectionsFor(conns, "first")) != 0 {
		t.Errorf("first child was replaced, must not connect: %v", conns)
	}
	total := 0
	for _, c := range conns {
		if string(c.DomPath) == "root/1" {
			total++
		}
	}
	if total != 1 {
		t.Errorf("exactly one connection for root/1 must survive: %v", conns)
	}
}

func TestVirtualChildrenUnderDifferentParentsLastWins(t *testing.T) {
	// Same claimed path under two different parents: the claimant visited
	// last in document order connects; both parents lose the exact path.
	tree := &Definition{
		ID: "top",
		Children: []Definition{
			{ID: "a", MatchSpec: []dompath.Path{"root/1"}},
			{ID: "b", MatchSpec: []dompath.Path{"root/1"}},
		},
	}
	AddVirtualChild(tree, "a", "va", "root/1")
	AddVirtualChild(tree, "b", "vb", "root/1")
	conns := Match(tree, twoChildDOM())

	if len(ConnectionsFor(conns, "va")) != 0 {
		t.Errorf("earlier claimant must yield: %v", conns)
	}
	if !hasConn(conns, "vb", "root/1") {
		t.Errorf("latest claimant must own the path: %v", conns)
	}
	if hasConn(conns, "a", "root/1") || hasConn(conns, "b", "root/1") {
		t.Errorf("claiming parents must both lose the exact path: %v", conns)
	}
}

func TestUnrelatedContainerUnaffectedByOverride(t *testing.T) {
	tree := &Definition{
		ID: "top",
		Children: []Definition{
			{ID: "parent", MatchSpec: []dompath.Path{"root/1"}},
			{ID: "bystander", MatchSpec: []dompath.Path{"root/1"}},
		},
	}
	AddVirtualChild(tree, "parent", "child", "root/1")
	conns := Match(tree, twoChildDOM())

	if !hasConn(conns, "bystander", "root/1") {
		t.Errorf("override is scoped to the claiming child's parent: %v", conns)
	}
	if hasConn(conns, "parent", "root/1") {
		t.Errorf("claiming parent must lose the path: %v", conns)
	}
}

func TestMatchIsPure(t *testing.T) {
	tree := &Definition{
		ID:        "parent",
		MatchSpec: []dompath.Path{"root/0", "root/1"},
	}
	set := twoChildDOM()
	first := Match(tree, set)
	second := Match(tree, set)
	if len(first) != len(second) {
		t.Fatalf("repeat calls diverge: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("connection %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestUnmarshalTreeValidatesPaths(t *testing.T) {
	good := []byte(`{"id":"c1","match_spec":["root/0"],"children":[{"id":"c2"}]}`)
	if _, err := UnmarshalTree(good); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}

	bad := []byte(`{"id":"c1","match_spec":["body/0"]}`)
	if _, err := UnmarshalTree(bad); err == nil {
		t.Fatal("invalid path accepted")
	}
}

func TestSiteKey(t *testing.T) {
	tests := []struct{ host, want string }{
		{"WWW.Example.COM", "example.com"},
		{"example.com:8443", "example.com"},
		{"news.example.co.uk", "news.example.co.uk"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SiteKey(tt.host); got != tt.want {
			t.Errorf("SiteKey(%q): got %q, want %q", tt.host, got, tt.want)
		}
	}
}

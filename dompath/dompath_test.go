package dompath

import (
	"strings"
	"testing"
)

func TestParseValid(t *testing.T) {
	cases := []string{
		"root",
		"root/0",
		"root/1/0/2",
		"root/13/0/0/7",
	}
	for _, raw := range cases {
		p, err := Parse(raw)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", raw, err)
		}
		if string(p) != raw {
			t.Errorf("Parse(%q): got %q", raw, p)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"/",
		"html/body/0",
		"Root/0",
		"root/-1",
		"root/a",
		"root/1.5",
		"root/01", // no leading zeros — a path must have one canonical spelling
		"root//2",
		"0/root",
	}
	for _, raw := range cases {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q): expected error", raw)
		}
	}
}

func TestParseDepthCap(t *testing.T) {
	deep := RootSegment + strings.Repeat("/0", MaxDepth)
	if _, err := Parse(deep); err != nil {
		t.Fatalf("depth %d should parse: %v", MaxDepth, err)
	}
	tooDeep := deep + "/0"
	if _, err := Parse(tooDeep); err == nil {
		t.Fatal("depth beyond cap should fail")
	}
}

func TestJoinIndexes(t *testing.T) {
	p := Join(1, 0, 2)
	if p != "root/1/0/2" {
		t.Fatalf("Join: got %q", p)
	}
	got := p.Indexes()
	want := []int{1, 0, 2}
	if len(got) != len(want) {
		t.Fatalf("Indexes: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Indexes[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
	if Root().Indexes() == nil || len(Root().Indexes()) != 0 {
		t.Errorf("root Indexes: got %v, want empty", Root().Indexes())
	}
}

func TestParentChildDepth(t *testing.T) {
	p := MustParse("root/1/0")
	if p.Depth() != 2 {
		t.Errorf("Depth: got %d, want 2", p.Depth())
	}
	if p.Parent() != "root/1" {
		t.Errorf("Parent: got %q", p.Parent())
	}
	if Root().Parent() != "" {
		t.Errorf("root Parent: got %q, want empty", Root().Parent())
	}
	if p.Child(3) != "root/1/0/3" {
		t.Errorf("Child: got %q", p.Child(3))
	}
}

func TestRelate(t *testing.T) {
	tests := []struct {
		a, b string
		want Relation
	}{
		{"root/1", "root/1", Equal},
		{"root/1", "root/1/0", Ancestor},
		{"root/1", "root/1/0/4", Ancestor},
		{"root/1/0", "root/1", Descendant},
		{"root/1", "root/2", Unrelated},
		{"root/1", "root/10", Unrelated}, // prefix of the string, not of the path
		{"root", "root/0", Ancestor},
	}
	for _, tt := range tests {
		got := Path(tt.a).Relate(Path(tt.b))
		if got != tt.want {
			t.Errorf("Relate(%q, %q): got %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

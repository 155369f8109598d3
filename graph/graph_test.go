package graph

import (
	"testing"

	"github.com/nicolaerusan/lerna/semver"
)

func mustVersion(t *testing.T, s string) semver.Version {
	t.Helper()
	v, err := semver.ParseVersion(s)
	if err != nil {
		t.Fatalf("ParseVersion(%q): %v", s, err)
	}
	return v
}

func TestTopologicalBatchesOrdersLeavesFirst(t *testing.T) {
	a := NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules",
		map[string]string{"b": "^1.0.0"}, nil)
	b := NewPackage("b", mustVersion(t, "1.2.3"), "/repo/packages/b", "/repo/packages/b/node_modules",
		map[string]string{"c": "^1.0.0"}, nil)
	c := NewPackage("c", mustVersion(t, "1.0.0"), "/repo/packages/c", "/repo/packages/c/node_modules", nil, nil)

	g := New([]*Package{a, b, c})
	batches, err := g.TopologicalBatches()
	if err != nil {
		t.Fatalf("TopologicalBatches: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if batches[0][0].Name != "c" || batches[1][0].Name != "b" || batches[2][0].Name != "a" {
		t.Fatalf("unexpected batch order: %+v", batches)
	}
}

func TestTopologicalBatchesDeterministicTieBreak(t *testing.T) {
	// Three mutually independent packages must land in one batch, sorted
	// lexicographically.
	x := NewPackage("x", mustVersion(t, "1.0.0"), "", "", nil, nil)
	y := NewPackage("y", mustVersion(t, "1.0.0"), "", "", nil, nil)
	z := NewPackage("z", mustVersion(t, "1.0.0"), "", "", nil, nil)
	g := New([]*Package{z, x, y})

	batches, err := g.TopologicalBatches()
	if err != nil {
		t.Fatalf("TopologicalBatches: %v", err)
	}
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("expected a single batch of 3, got %+v", batches)
	}
	got := []string{batches[0][0].Name, batches[0][1].Name, batches[0][2].Name}
	want := []string{"x", "y", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch order = %v, want %v", got, want)
		}
	}
}

func TestTopologicalBatchesCycle(t *testing.T) {
	a := NewPackage("a", mustVersion(t, "1.0.0"), "", "", map[string]string{"b": "^1.0.0"}, nil)
	b := NewPackage("b", mustVersion(t, "1.0.0"), "", "", map[string]string{"a": "^1.0.0"}, nil)
	g := New([]*Package{a, b})

	_, err := g.TopologicalBatches()
	if err == nil {
		t.Fatal("expected DependencyCycle error")
	}
	if _, ok := err.(*DependencyCycle); !ok {
		t.Fatalf("expected *DependencyCycle, got %T", err)
	}
}

func TestFindVersionMismatchIsNotLocal(t *testing.T) {
	b := NewPackage("b", mustVersion(t, "2.0.0"), "", "", nil, nil)
	g := New([]*Package{b})

	r := semver.MustParseRange("^1.0.0")
	if g.Has("b", &r) {
		t.Fatal("expected b@2.0.0 to not satisfy ^1.0.0")
	}
	if !g.Has("b", nil) {
		t.Fatal("expected Has(\"b\", nil) to find the package regardless of version")
	}
}

func TestHasInstalled(t *testing.T) {
	p := NewPackage("a", mustVersion(t, "1.0.0"), "", "", nil, map[string]bool{"left-pad": true})
	if !p.HasInstalled("left-pad") {
		t.Fatal("expected left-pad to be reported installed")
	}
	if p.HasInstalled("right-pad") {
		t.Fatal("expected right-pad to be reported not installed")
	}
}

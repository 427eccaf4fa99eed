package placement

import "testing"

func TestRing_PlaceReturnsDistinctNodes(t *testing.T) {
	r := NewWithVirtualNodeCount(32)
	for _, id := range []uint64{1, 2, 3, 4, 5} {
		r.AddNode(id)
	}

	placed := r.Place("shard-0007", 3)
	if len(placed) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %v", len(placed), placed)
	}
	seen := make(map[uint64]bool)
	for _, n := range placed {
		if seen[n] {
			t.Fatalf("duplicate node %d in placement %v", n, placed)
		}
		seen[n] = true
	}
}

func TestRing_PlaceIsDeterministic(t *testing.T) {
	r := New()
	for _, id := range []uint64{10, 20, 30} {
		r.AddNode(id)
	}

	a := r.Place("topic/sensors/1", 2)
	b := r.Place("topic/sensors/1", 2)
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("placement changed across calls: %v vs %v", a, b)
		}
	}
}

func TestRing_PlaceCappedByAvailableNodes(t *testing.T) {
	r := New()
	r.AddNode(1)
	r.AddNode(2)

	placed := r.Place("key", 5)
	if len(placed) != 2 {
		t.Fatalf("expected placement capped at 2 nodes, got %d", len(placed))
	}
}

func TestRing_RemoveNodeShrinksRing(t *testing.T) {
	r := New()
	r.AddNode(1)
	r.AddNode(2)
	r.AddNode(3)

	before := r.Version()
	r.RemoveNode(2)
	after := r.Version()

	if after <= before {
		t.Errorf("expected version to advance after removal")
	}

	for _, id := range r.Nodes() {
		if id == 2 {
			t.Errorf("node 2 should have been removed from the ring")
		}
	}
}

func TestRing_CloneIsIndependent(t *testing.T) {
	r := New()
	r.AddNode(1)

	clone := r.Clone()
	r.AddNode(2)

	if len(clone.Nodes()) != 1 {
		t.Errorf("clone should be unaffected by mutations on the original, got %v", clone.Nodes())
	}
}

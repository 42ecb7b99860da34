package audio

import "testing"

func TestRingEvictsOldest(t *testing.T) {
	r := newRing(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.push(v)
	}
	if r.len() != 3 || r.at(0) != 3 || r.at(2) != 5 {
		t.Fatalf("len %d, front %v, back %v", r.len(), r.at(0), r.at(2))
	}
	if r.total() != 12 || r.mean() != 4 {
		t.Fatalf("total %v, mean %v", r.total(), r.mean())
	}
	if min, max := r.minMax(); min != 3 || max != 5 {
		t.Fatalf("min %v, max %v", min, max)
	}

	r.popFront()
	if r.len() != 2 || r.total() != 9 {
		t.Fatalf("after pop: len %d, total %v", r.len(), r.total())
	}

	r.reset()
	if r.len() != 0 || r.total() != 0 || r.mean() != 0 {
		t.Fatal("reset left samples behind")
	}
	r.popFront()
	if r.len() != 0 {
		t.Fatal("pop on empty ring")
	}
}

package board

import "testing"

func TestObjectCornerGrid(t *testing.T) {
	s, err := New(4, 5, 0.03, 0, 0.75, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, want := s.NumCorners(), 3*4; got != want {
		t.Fatalf("NumCorners = %d, want %d", got, want)
	}

	x, y, z, err := s.ObjectCorner(0)
	if err != nil || x != 0 || y != 0 || z != 0 {
		t.Fatalf("corner 0 = (%v,%v,%v), err=%v, want origin", x, y, z, err)
	}

	// Corner 1 is one column over.
	x, y, _, err = s.ObjectCorner(1)
	if err != nil || x != 0.03 || y != 0 {
		t.Fatalf("corner 1 = (%v,%v), want (0.03, 0)", x, y)
	}

	if _, _, _, err := s.ObjectCorner(-1); err == nil {
		t.Fatal("expected error for negative id")
	}
	if _, _, _, err := s.ObjectCorner(s.NumCorners()); err == nil {
		t.Fatal("expected error for out-of-range id")
	}
}

func TestConnectedCorners(t *testing.T) {
	s, err := New(4, 5, 0.03, 0, 0.75, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pairs := s.ConnectedCorners()
	if len(pairs) == 0 {
		t.Fatal("expected non-empty connected corner set")
	}
	if _, ok := pairs[CornerPair{A: 0, B: 1}]; !ok {
		t.Fatal("expected corner (0,1) to be connected (same row)")
	}
	cols := s.CornerCols()
	if _, ok := pairs[CornerPair{A: 0, B: cols}]; !ok {
		t.Fatal("expected corner (0,cols) to be connected (same column)")
	}
	for p := range pairs {
		if p.A >= p.B {
			t.Fatalf("pair %+v not normalized with A<B", p)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(1, 5, 0.03, 0, 0.75, false); err == nil {
		t.Fatal("expected error for columns < 2")
	}
	if _, err := New(4, 5, 0, 0, 0.75, false); err == nil {
		t.Fatal("expected error for non-positive square edge length")
	}
}

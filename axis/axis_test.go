package axis

import "testing"

func TestVector_Sub(t *testing.T) {
	a := Vector{1, 2, 3, 4, 5, 6}
	b := Vector{1, 1, 1, 1, 1, 1}
	got := a.Sub(b)
	want := Vector{0, 1, 2, 3, 4, 5}
	if got != want {
		t.Errorf("Sub: expected %v, got %v", want, got)
	}
}

func TestVector_Unit(t *testing.T) {
	v := Vector{3, 4, 0, 0, 0, 0}
	u, length := v.Unit()
	if length != 5 {
		t.Errorf("Unit length: expected 5, got %v", length)
	}
	want := Vector{0.6, 0.8, 0, 0, 0, 0}
	if u != want {
		t.Errorf("Unit vector: expected %v, got %v", want, u)
	}
}

func TestVector_UnitZero(t *testing.T) {
	var v Vector
	u, length := v.Unit()
	if length != 0 {
		t.Errorf("zero-vector length: expected 0, got %v", length)
	}
	if u != (Vector{}) {
		t.Errorf("zero-vector unit: expected zero vector, got %v", u)
	}
}

func TestVector_Dot(t *testing.T) {
	a := Vector{1, 0, 0, 0, 0, 0}
	b := Vector{0, 1, 0, 0, 0, 0}
	if got := a.Dot(b); got != 0 {
		t.Errorf("Dot of orthogonal vectors: expected 0, got %v", got)
	}
	if got := a.Dot(a); got != 1 {
		t.Errorf("Dot of unit vector with itself: expected 1, got %v", got)
	}
}

func TestIndex_String(t *testing.T) {
	cases := map[Index]string{X: "X", Y: "Y", Z: "Z", A: "A", B: "B", C: "C"}
	for idx, want := range cases {
		if got := idx.String(); got != want {
			t.Errorf("Index(%d).String(): expected %q, got %q", idx, want, got)
		}
	}
}

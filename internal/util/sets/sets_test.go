package sets

import (
	"reflect"
	"testing"
)

func TestBasicOperations(t *testing.T) {
	s := New("a", "b")
	if !s.Has("a") || !s.Has("b") || s.Has("c") {
		t.Errorf("membership wrong: %v", s)
	}

	s.Add("c")
	if !s.Has("c") {
		t.Error("Add did not insert")
	}

	s.Delete("a")
	if s.Has("a") {
		t.Error("Delete did not remove")
	}
	s.Delete("missing") // no-op
}

func TestCloneIsIndependent(t *testing.T) {
	s := New(1, 2)
	c := s.Clone()
	c.Add(3)
	if s.Has(3) {
		t.Error("mutating the clone changed the original")
	}
}

func TestDiffAndIntersect(t *testing.T) {
	a := New("x", "y", "z")
	b := New("y", "z", "w")

	if got := SortedStrings(a.Diff(b)); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Diff wrong: %v", got)
	}
	if got := SortedStrings(b.Diff(a)); !reflect.DeepEqual(got, []string{"w"}) {
		t.Errorf("reverse Diff wrong: %v", got)
	}
	if got := SortedStrings(a.Intersect(b)); !reflect.DeepEqual(got, []string{"y", "z"}) {
		t.Errorf("Intersect wrong: %v", got)
	}
	if got := a.Diff(a); len(got) != 0 {
		t.Errorf("self Diff should be empty: %v", got)
	}
}

func TestSortedStrings(t *testing.T) {
	got := SortedStrings(New("c", "a", "b"))
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("not sorted: %v", got)
	}
	if got := SortedStrings(New[string]()); len(got) != 0 {
		t.Errorf("empty set should yield empty slice: %v", got)
	}
}

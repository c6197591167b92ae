package set_test

import (
	"slices"
	"testing"

	"github.com/phamnamhien/HSM/pkg/set"
)

func TestSet(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		s := set.New[string]("a", "b", "c")
		if s == nil {
			t.Error("Expected non-nil set")
		}
		if s.Size() != 3 {
			t.Errorf("Expected size 3, got %d", s.Size())
		}
		if !s.ContainsAll("a", "b", "c") {
			t.Error("Expected set to contain 'a', 'b' and 'c'")
		}
	})

	t.Run("Add", func(t *testing.T) {
		s := set.New[string]()
		s.Add("test")
		if s.Size() != 1 {
			t.Errorf("Expected size 1, got %d", s.Size())
		}
		if !s.Contains("test") {
			t.Error("Expected set to contain 'test'")
		}
		s.Add("test")
		if s.Size() != 1 {
			t.Errorf("Expected duplicates ignored, got size %d", s.Size())
		}
	})

	t.Run("Order", func(t *testing.T) {
		s := set.New[string]("b", "a", "c")
		s.Add("a", "d")
		if !slices.Equal(s.Slice(), []string{"b", "a", "c", "d"}) {
			t.Errorf("Expected insertion order preserved, got %v", s.Slice())
		}
	})

	t.Run("Remove", func(t *testing.T) {
		s := set.New[string]("a", "b", "c")
		s.Remove("b")
		if s.Size() != 2 {
			t.Errorf("Expected size 2, got %d", s.Size())
		}
		if s.Contains("b") {
			t.Error("Expected set to not contain 'b'")
		}
		if !slices.Equal(s.Slice(), []string{"a", "c"}) {
			t.Errorf("Expected order kept after remove, got %v", s.Slice())
		}
		s.Remove("missing")
		if s.Size() != 2 {
			t.Errorf("Expected size 2, got %d", s.Size())
		}
		s.Add("b")
		if !slices.Equal(s.Slice(), []string{"a", "c", "b"}) {
			t.Errorf("Expected re-added item at the end, got %v", s.Slice())
		}
	})

	t.Run("Contains", func(t *testing.T) {
		s := set.New[string]()
		if s.Contains("test") {
			t.Error("Expected set to not contain 'test'")
		}
		s.Add("test")
		if !s.Contains("test") {
			t.Error("Expected set to contain 'test'")
		}
		if !s.ContainsAny("missing", "test") {
			t.Error("Expected ContainsAny to match 'test'")
		}
		if s.ContainsAll("missing", "test") {
			t.Error("Expected ContainsAll to miss 'missing'")
		}
	})

	t.Run("Size", func(t *testing.T) {
		s := set.New[string]()
		if s.Size() != 0 {
			t.Errorf("Expected size 0, got %d", s.Size())
		}
		s.Add("test1")
		if s.Size() != 1 {
			t.Errorf("Expected size 1, got %d", s.Size())
		}
		s.Add("test2")
		if s.Size() != 2 {
			t.Errorf("Expected size 2, got %d", s.Size())
		}
	})

	t.Run("Clear", func(t *testing.T) {
		s := set.New[string]("test1", "test2")
		s.Clear()
		if s.Size() != 0 {
			t.Errorf("Expected size 0, got %d", s.Size())
		}
		s.Add("test3")
		if !slices.Equal(s.Slice(), []string{"test3"}) {
			t.Errorf("Expected usable set after clear, got %v", s.Slice())
		}
	})

	t.Run("Items", func(t *testing.T) {
		s := set.New[string]("test1", "test2", "test3")

		var items []string
		s.Items()(func(item string) bool {
			if item == "test3" {
				return false
			}
			items = append(items, item)
			return true
		})
		if !slices.Equal(items, []string{"test1", "test2"}) {
			t.Errorf("Expected ordered items before the break, got %v", items)
		}
	})

	t.Run("Union", func(t *testing.T) {
		s1 := set.New[string]("test1", "test2")
		s2 := set.New[string]("test2", "test3")

		union := s1.Union(s2)
		if !slices.Equal(union.Slice(), []string{"test1", "test2", "test3"}) {
			t.Errorf("Expected receiver-first union order, got %v", union.Slice())
		}
	})

	t.Run("Intersection", func(t *testing.T) {
		s1 := set.New[string]("test1", "test2")
		s2 := set.New[string]("test2", "test3")

		intersection := s1.Intersection(s2)
		if intersection.Size() != 1 {
			t.Errorf("Expected size 1, got %d", intersection.Size())
		}
		if !intersection.Contains("test2") {
			t.Error("Expected intersection to contain 'test2'")
		}
	})

	t.Run("Difference", func(t *testing.T) {
		s1 := set.New[string]("test1", "test2")
		s2 := set.New[string]("test2", "test3")

		difference := s1.Difference(s2)
		if difference.Size() != 1 {
			t.Errorf("Expected size 1, got %d", difference.Size())
		}
		if !difference.Contains("test1") {
			t.Error("Expected difference to contain 'test1'")
		}
	})
}

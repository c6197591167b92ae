package set

import (
	"iter"
)

// Set is an insertion-ordered set: Items and Slice yield elements in the
// order they were first added. Use New; the zero value is not usable.
type Set[T comparable] struct {
	index map[T]int
	items []T
}

func New[T comparable](items ...T) *Set[T] {
	s := &Set[T]{index: make(map[T]int, len(items))}
	s.Add(items...)
	return s
}

// Add appends items not already present, keeping first-insertion order.
func (s *Set[T]) Add(items ...T) {
	for _, item := range items {
		if _, exists := s.index[item]; exists {
			continue
		}
		s.index[item] = len(s.items)
		s.items = append(s.items, item)
	}
}

// Remove removes an item from the set
func (s *Set[T]) Remove(item T) {
	i, exists := s.index[item]
	if !exists {
		return
	}
	delete(s.index, item)
	s.items = append(s.items[:i], s.items[i+1:]...)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
}

// Contains checks if an item exists in the set
func (s *Set[T]) Contains(item T) bool {
	_, exists := s.index[item]
	return exists
}

func (s *Set[T]) ContainsAll(items ...T) bool {
	for _, item := range items {
		if !s.Contains(item) {
			return false
		}
	}
	return true
}

func (s *Set[T]) ContainsAny(items ...T) bool {
	for _, item := range items {
		if s.Contains(item) {
			return true
		}
	}
	return false
}

// Size returns the number of items in the set
func (s *Set[T]) Size() int {
	return len(s.items)
}

// Clear removes all items from the set
func (s *Set[T]) Clear() {
	s.index = make(map[T]int)
	s.items = nil
}

// Slice returns the items in insertion order. The caller owns the copy.
func (s *Set[T]) Slice() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Items returns all items in the set as an ordered sequence
func (s *Set[T]) Items() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range s.items {
			if !yield(item) {
				return
			}
		}
	}
}

// Union returns a new set with the receiver's items followed by other's
func (s *Set[T]) Union(other *Set[T]) *Set[T] {
	result := New[T](s.items...)
	if other != nil {
		result.Add(other.items...)
	}
	return result
}

// Intersection returns a new set containing items present in both sets
func (s *Set[T]) Intersection(other *Set[T]) *Set[T] {
	result := New[T]()
	if other == nil {
		return result
	}
	for _, item := range s.items {
		if other.Contains(item) {
			result.Add(item)
		}
	}
	return result
}

// Difference returns a new set containing items in s that are not in other
func (s *Set[T]) Difference(other *Set[T]) *Set[T] {
	result := New[T]()
	for _, item := range s.items {
		if other == nil || !other.Contains(item) {
			result.Add(item)
		}
	}
	return result
}

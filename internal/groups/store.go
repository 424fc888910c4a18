package groups

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ID is an opaque, stable group identifier. It never changes when other
// groups are added or deleted.
type ID string

// NewID generates a fresh identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// Cloner is implemented by group configs so the store can hand out copies.
type Cloner[T any] interface {
	Clone() T
}

// Entry pairs a group with its identifier.
type Entry[T any] struct {
	ID    ID
	Group T
}

// Store is an ordered map of groups keyed by ID with a size limit. Reads
// return deep copies; the display index of a group is its position in the
// order and is recomputed on every call.
type Store[T Cloner[T]] struct {
	mu    sync.RWMutex
	order []ID
	items map[ID]T
	limit int
}

// NewStore creates a store holding at most limit groups.
func NewStore[T Cloner[T]](limit int) *Store[T] {
	return &Store[T]{
		items: make(map[ID]T),
		limit: limit,
	}
}

// Add appends a group under a new ID.
func (s *Store[T]) Add(g T) (ID, error) {
	return s.Insert(NewID(), g)
}

// Insert appends a group under a caller-provided ID, used when loading
// persisted configuration.
func (s *Store[T]) Insert(id ID, g T) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return "", fmt.Errorf("duplicate group id %s", id)
	}
	if s.limit > 0 && len(s.order) >= s.limit {
		return "", fmt.Errorf("%w: at most %d groups", ErrLimitReached, s.limit)
	}
	s.order = append(s.order, id)
	s.items[id] = g.Clone()
	return id, nil
}

// Get returns a copy of the group.
func (s *Store[T]) Get(id ID) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return g.Clone(), true
}

// Update applies fn to a copy of the group and stores the result.
func (s *Store[T]) Update(id ID, fn func(*T)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	g = g.Clone()
	fn(&g)
	s.items[id] = g
	return nil
}

// Delete removes the group. Other IDs are unaffected.
func (s *Store[T]) Delete(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Index returns the zero-based display position of id, or -1.
func (s *Store[T]) Index(id ID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, o := range s.order {
		if o == id {
			return i
		}
	}
	return -1
}

// Len returns the number of groups.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns copies of every group in display order.
func (s *Store[T]) Snapshot() []Entry[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry[T], 0, len(s.order))
	for _, id := range s.order {
		out = append(out, Entry[T]{ID: id, Group: s.items[id].Clone()})
	}
	return out
}

// Filter returns copies of the groups for which keep is true.
func (s *Store[T]) Filter(keep func(T) bool) []Entry[T] {
	all := s.Snapshot()
	out := all[:0]
	for _, e := range all {
		if keep(e.Group) {
			out = append(out, e)
		}
	}
	return out
}

// Replace swaps the whole content, used when reloading configuration.
func (s *Store[T]) Replace(entries []Entry[T]) error {
	if s.limit > 0 && len(entries) > s.limit {
		return fmt.Errorf("%w: at most %d groups", ErrLimitReached, s.limit)
	}

	order := make([]ID, 0, len(entries))
	items := make(map[ID]T, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = NewID()
		}
		if _, dup := items[id]; dup {
			return fmt.Errorf("duplicate group id %s", id)
		}
		order = append(order, id)
		items[id] = e.Group.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = order
	s.items = items
	return nil
}

// Limit returns the maximum number of groups.
func (s *Store[T]) Limit() int {
	return s.limit
}

package groups

import (
	"sync"

	"github.com/syzsky/autodoor/internal/modules"
)

// Value is a mutex-guarded single configuration.
type Value[T any] struct {
	mu    sync.RWMutex
	value T
	clone func(T) T
}

// NewValue creates a holder. clone may be nil for plain value types.
func NewValue[T any](initial T, clone func(T) T) *Value[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Value[T]{value: clone(initial), clone: clone}
}

// Get returns a copy of the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.clone(v.value)
}

// Set replaces the value.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = v.clone(value)
}

// Set bundles the configuration of every module.
type Set struct {
	OCR    *Store[OCRGroup]
	Timed  *Store[TimedGroup]
	Number *Store[NumberGroup]
	Color  *Value[ColorConfig]
	Script *Value[string]

	Defaults Defaults
}

// NewSet creates empty stores capped at modules.MaxGroups.
func NewSet(defaults Defaults) *Set {
	return &Set{
		OCR:      NewStore[OCRGroup](modules.MaxGroups),
		Timed:    NewStore[TimedGroup](modules.MaxGroups),
		Number:   NewStore[NumberGroup](modules.MaxGroups),
		Color:    NewValue(defaults.NewColorConfig(), ColorConfig.Clone),
		Script:   NewValue("", nil),
		Defaults: defaults,
	}
}

// ResolveKey returns the live key spec of a group. ok is false when the
// group no longer exists or the module has no per-group keys.
func (s *Set) ResolveKey(kind modules.Kind, id ID) (KeySpec, bool) {
	switch kind {
	case modules.KindOCR:
		if g, ok := s.OCR.Get(id); ok {
			return g.KeySpec, true
		}
	case modules.KindTimed:
		if g, ok := s.Timed.Get(id); ok {
			return g.KeySpec, true
		}
	case modules.KindNumber:
		if g, ok := s.Number.Get(id); ok {
			return g.KeySpec, true
		}
	}
	return KeySpec{}, false
}

// EnabledCount returns how many groups of kind are enabled. Color and
// script count as one when configured.
func (s *Set) EnabledCount(kind modules.Kind) int {
	switch kind {
	case modules.KindOCR:
		return len(s.OCR.Filter(func(g OCRGroup) bool { return g.Enabled && g.Region != nil }))
	case modules.KindTimed:
		return len(s.Timed.Filter(func(g TimedGroup) bool { return g.Enabled }))
	case modules.KindNumber:
		return len(s.Number.Filter(func(g NumberGroup) bool { return g.Enabled && g.Region != nil }))
	case modules.KindColor:
		if s.Color.Get().Region != nil {
			return 1
		}
	case modules.KindScript:
		if s.Script.Get() != "" {
			return 1
		}
	}
	return 0
}

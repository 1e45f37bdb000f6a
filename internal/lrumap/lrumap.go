// Package lrumap provides an insertion-ordered map that tracks the total size
// of its values. Re-inserting a key moves it to the newest position, so
// iteration from the oldest entry yields least recently inserted keys first.
package lrumap

import (
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is an ordered map with size accounting. It is not safe for concurrent
// use; callers provide their own locking.
type Map[K comparable, V any] struct {
	entries *orderedmap.OrderedMap[K, V]
	sizeOf  func(V) int64
	size    int64
}

// New creates an empty map. sizeOf reports the size of a value and must
// return the same result for a value for as long as it is stored.
func New[K comparable, V any](sizeOf func(V) int64) *Map[K, V] {
	return &Map[K, V]{
		entries: orderedmap.New[K, V](),
		sizeOf:  sizeOf,
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return m.entries.Len() }

// SizeInBytes returns the total size of all values.
func (m *Map[K, V]) SizeInBytes() int64 { return m.size }

// Get returns the value for key without changing its position.
func (m *Map[K, V]) Get(key K) (V, bool) { return m.entries.Get(key) }

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.entries.Get(key)
	return ok
}

// Put stores value as the newest entry, replacing and returning any previous value.
func (m *Map[K, V]) Put(key K, value V) (V, bool) {
	old, had := m.Remove(key)
	m.entries.Set(key, value)
	m.size += m.sizeOf(value)
	return old, had
}

// Remove deletes key and returns its value.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	old, had := m.entries.Delete(key)
	if had {
		m.size -= m.sizeOf(old)
	}
	return old, had
}

// Oldest returns the least recently inserted entry.
func (m *Map[K, V]) Oldest() (K, V, bool) {
	pair := m.entries.Oldest()
	if pair == nil {
		var (
			k K
			v V
		)
		return k, v, false
	}
	return pair.Key, pair.Value, true
}

// All iterates entries from oldest to newest. The map must not be modified
// during iteration.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Matching returns the values whose keys satisfy match, oldest first.
func (m *Map[K, V]) Matching(match func(K) bool) []V {
	var out []V
	for k, v := range m.All() {
		if match(k) {
			out = append(out, v)
		}
	}
	return out
}

// RemoveAll deletes every entry whose key satisfies match and returns the
// removed values, oldest first.
func (m *Map[K, V]) RemoveAll(match func(K) bool) []V {
	var removed []V
	for pair := m.entries.Oldest(); pair != nil; {
		next := pair.Next()
		if match(pair.Key) {
			removed = append(removed, pair.Value)
			m.Remove(pair.Key)
		}
		pair = next
	}
	return removed
}

// Clear deletes every entry and returns the removed values, oldest first.
func (m *Map[K, V]) Clear() []V {
	return m.RemoveAll(func(K) bool { return true })
}

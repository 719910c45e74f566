// Package ordmap provides a capacity-bounded map that remembers insertion
// order and evicts its oldest entry once full.
package ordmap

// Entry is a key/value pair held by a Map.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Map is a key-value store with FIFO eviction at a fixed capacity.
// It is not safe for concurrent use.
type Map[K comparable, V any] struct {
	items    map[K]V
	order    []K
	head     int // index of the oldest live key in order
	capacity int
	onEvict  func(K, V)
}

// New creates a Map holding at most capacity entries. onEvict may be nil.
func New[K comparable, V any](capacity int, onEvict func(K, V)) *Map[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Map[K, V]{
		items:    make(map[K]V, capacity),
		order:    make([]K, 0, capacity),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

// Push inserts key. An existing key is overwritten in place and keeps its
// position. When the map grows past capacity the oldest entry is evicted and
// handed to the eviction callback.
func (m *Map[K, V]) Push(key K, value V) {
	if _, ok := m.items[key]; ok {
		m.items[key] = value
		return
	}

	m.items[key] = value
	m.order = append(m.order, key)

	if m.Len() > m.capacity {
		evicted, _ := m.Shift()
		if m.onEvict != nil {
			m.onEvict(evicted.Key, evicted.Value)
		}
	}
}

// Shift removes and returns the oldest entry. ok is false on an empty map.
func (m *Map[K, V]) Shift() (Entry[K, V], bool) {
	if m.Len() == 0 {
		return Entry[K, V]{}, false
	}

	key := m.order[m.head]
	var zero K
	m.order[m.head] = zero
	m.head++

	value := m.items[key]
	delete(m.items, key)

	// Compact once the dead prefix dominates so order stays bounded.
	if m.head > len(m.order)/2 {
		n := copy(m.order, m.order[m.head:])
		m.order = m.order[:n]
		m.head = 0
	}

	return Entry[K, V]{Key: key, Value: value}, true
}

// Get returns the value stored for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.items[key]
	return v, ok
}

// FirstKey returns the oldest live key.
func (m *Map[K, V]) FirstKey() (K, bool) {
	if m.Len() == 0 {
		var zero K
		return zero, false
	}
	return m.order[m.head], true
}

// Last returns the most recently inserted value.
func (m *Map[K, V]) Last() (V, bool) {
	key, ok := m.LastKey()
	if !ok {
		var zero V
		return zero, false
	}
	return m.items[key], true
}

// LastKey returns the most recently inserted key.
func (m *Map[K, V]) LastKey() (K, bool) {
	if m.Len() == 0 {
		var zero K
		return zero, false
	}
	return m.order[len(m.order)-1], true
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return len(m.order) - m.head
}

// Cap returns the configured capacity.
func (m *Map[K, V]) Cap() int {
	return m.capacity
}

// Keys returns the live keys, oldest first.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, m.Len())
	copy(keys, m.order[m.head:])
	return keys
}

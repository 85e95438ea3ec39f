// Package observe provides a latest-value cell: subscribers receive the
// current value immediately and every value set afterwards.
package observe

import "sync"

// Cell holds one value of type T. It is safe for concurrent use.
//
// Subscribers are called synchronously, in Set order, outside the value lock;
// they must not call Set on the same cell.
type Cell[T any] struct {
	mu    sync.Mutex
	value T
	next  uint64
	subs  map[uint64]func(T)

	// Serialises notification so subscribers observe values in Set order.
	emitMu sync.Mutex
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, subs: make(map[uint64]func(T))}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value and notifies every subscriber.
func (c *Cell[T]) Set(v T) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.set(v)
}

// Update sets the value returned by fn if fn reports a change. It reports
// whether the value was set.
func (c *Cell[T]) Update(fn func(old T) (T, bool)) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	v, changed := fn(c.value)
	c.mu.Unlock()
	if !changed {
		return false
	}
	c.set(v)
	return true
}

// set requires emitMu.
func (c *Cell[T]) set(v T) {
	c.mu.Lock()
	c.value = v
	subs := make([]func(T), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers fn and calls it with the current value before
// returning. The returned function unregisters fn.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	v := c.value
	c.mu.Unlock()

	fn(v)

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

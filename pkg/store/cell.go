// Package store holds live dashboard state in subscribable cells.
package store

import "sync"

// Cell is a value that notifies subscribers whenever it is replaced.
// Subscribers are called synchronously, in subscription order, on the
// goroutine that called Set or Subscribe. A subscriber runs while the cell's
// notification lock is held, so it must not call Set or Subscribe on the same
// cell; either would deadlock. Get and unsubscribe are safe from inside one.
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   []subscriber[T]

	// notify serializes notification rounds so subscribers see values in
	// the order they were set.
	notify sync.Mutex
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// NewCell returns a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value and notifies every subscriber.
func (c *Cell[T]) Set(v T) {
	c.notify.Lock()
	defer c.notify.Unlock()

	c.mu.Lock()
	c.value = v
	subs := append([]subscriber[T](nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Subscribe calls fn with the current value straight away and again after
// every Set. The returned func removes the subscription. fn must not call Set
// or Subscribe on c.
func (c *Cell[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.notify.Lock()
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	v := c.value
	c.mu.Unlock()
	fn(v)
	c.notify.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

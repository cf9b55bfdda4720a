// Package notify provides typed publish/subscribe channels.
//
// A Channel calls its subscribers synchronously, in subscription order, on
// the goroutine that fires it. Subscribers therefore inherit whatever locks
// the firing context holds and must not block.
package notify

import "sync"

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Channel is a typed notification. The zero value is ready to use.
type Channel[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

// Subscribe registers fn and returns a function that removes it.
func (c *Channel[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	c.mu.Unlock()

	return func() { c.unsubscribe(id) }
}

// Listen registers a subscriber that ignores the payload.
func (c *Channel[T]) Listen(fn func()) func() {
	return c.Subscribe(func(T) { fn() })
}

func (c *Channel[T]) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.id == id {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// Fire calls every subscriber with v. Subscribers added or removed while
// firing take effect on the next Fire.
func (c *Channel[T]) Fire(v T) {
	c.mu.RLock()
	subs := c.subs
	c.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Signal is a notification without a payload.
type Signal = Channel[struct{}]

// Raise fires a payload-less signal.
func Raise(s *Signal) {
	s.Fire(struct{}{})
}

package client

import "sync"

// Notifier is an ordered subscriber list for connection lifecycle events.
// The zero value is ready to use.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs []subscriber
}

type subscriber struct {
	id int
	fn func()
}

// Subscribe adds fn and returns a function that removes it again
func (n *Notifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	id := n.next
	n.subs = append(n.subs, subscriber{id: id, fn: fn})

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// Notify calls every subscriber in subscription order. Subscribers run
// outside the lock and may unsubscribe themselves.
func (n *Notifier) Notify() {
	n.mu.Lock()
	subs := make([]subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		s.fn()
	}
}

// Len returns the number of subscribers
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

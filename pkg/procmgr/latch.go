package procmgr

import (
	"context"
	"sync"
)

// Latch is a one-shot readiness signal. It fires once with an error (nil on
// success); subscribers added after it fired are called immediately.
type Latch struct {
	mu    sync.Mutex
	fired bool
	err   error
	done  chan struct{}
	subs  []func(error)
}

// NewLatch creates an unfired latch
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Fire releases every waiter with err. Only the first call has an effect;
// it reports whether this call fired the latch.
func (l *Latch) Fire(err error) bool {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		return false
	}
	l.fired = true
	l.err = err
	subs := l.subs
	l.subs = nil
	close(l.done)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
	return true
}

// Subscribe calls fn with the result once the latch fires
func (l *Latch) Subscribe(fn func(error)) {
	l.mu.Lock()
	if !l.fired {
		l.subs = append(l.subs, fn)
		l.mu.Unlock()
		return
	}
	err := l.err
	l.mu.Unlock()
	fn(err)
}

// Done is closed when the latch fires
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Err returns the result the latch fired with. It is nil before firing.
func (l *Latch) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Fired reports whether the latch has fired
func (l *Latch) Fired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired
}

// Wait blocks until the latch fires or ctx is done
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcaster is a multi-fire signal with persistent and single-shot
// subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	next uint64
	subs []broadcastSub
}

type broadcastSub struct {
	id   uint64
	fn   func()
	once bool
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe calls fn on every Publish until cancelled
func (b *Broadcaster) Subscribe(fn func()) (cancel func()) {
	return b.add(fn, false)
}

// Once calls fn on the next Publish only
func (b *Broadcaster) Once(fn func()) (cancel func()) {
	return b.add(fn, true)
}

func (b *Broadcaster) add(fn func(), once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs = append(b.subs, broadcastSub{id: id, fn: fn, once: once})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish calls subscribers in subscription order, outside the lock
func (b *Broadcaster) Publish() {
	b.mu.Lock()
	subs := b.subs
	kept := make([]broadcastSub, 0, len(subs))
	for _, s := range subs {
		if !s.once {
			kept = append(kept, s)
		}
	}
	b.subs = kept
	b.mu.Unlock()

	for _, s := range subs {
		s.fn()
	}
}

// Len returns the number of subscribers
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

package watchcache

import (
	"context"
	"sync"
)

// Observable broadcasts the latest value of T to any number of subscribers.
// A new subscriber receives the current value immediately. Each subscriber
// holds at most one undelivered value; a slow subscriber skips intermediate
// values and always ends up with the newest one.
type Observable[T any] struct {
	mu     sync.Mutex
	value  T
	has    bool
	closed bool
	subs   map[*subscriber[T]]struct{}
	done   chan struct{}
}

type subscriber[T any] struct {
	ch   chan T
	stop func() bool
}

// NewObservable returns an open observable without a value.
func NewObservable[T any]() *Observable[T] {
	return &Observable[T]{
		subs: make(map[*subscriber[T]]struct{}),
		done: make(chan struct{}),
	}
}

// Publish stores v as the latest value and hands it to every subscriber.
// It never blocks. Publishing on a closed observable is a no-op.
func (o *Observable[T]) Publish(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.value, o.has = v, true
	for s := range o.subs {
		s.offer(v)
	}
}

// Latest returns the current value and whether one was published.
func (o *Observable[T]) Latest() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value, o.has
}

// Subscribe returns a channel delivering the latest value and every later
// one. The channel is closed when ctx is done or the observable is closed.
// Subscribing to a closed observable yields the last value, if any, on an
// already closed channel.
func (o *Observable[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscriber[T]{ch: make(chan T, 1)}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.has {
		s.ch <- o.value
	}
	if o.closed {
		close(s.ch)
		return s.ch
	}
	o.subs[s] = struct{}{}
	s.stop = context.AfterFunc(ctx, func() { o.unsubscribe(s) })
	return s.ch
}

func (o *Observable[T]) unsubscribe(s *subscriber[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.subs[s]; !ok {
		return
	}
	delete(o.subs, s)
	close(s.ch)
}

// Close ends the observable. Subscribers can still drain a value that was
// already queued, then their channels are closed.
func (o *Observable[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for s := range o.subs {
		s.stop()
		close(s.ch)
	}
	o.subs = nil
	close(o.done)
}

// Done is closed once the observable is closed.
func (o *Observable[T]) Done() <-chan struct{} {
	return o.done
}

// offer replaces any undelivered value with v. Callers hold the observable
// lock, so nothing else sends on ch concurrently.
func (s *subscriber[T]) offer(v T) {
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

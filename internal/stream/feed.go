package stream

import "sync"

// Feed delivers every published value to each listener in publish order.
// Unlike Hub it never drops: each listener owns an unbounded queue drained
// by its own goroutine, so Publish does not block on slow listeners.
type Feed[T any] struct {
	mu        sync.Mutex
	listeners map[int]*listener[T]
	next      int
	closed    bool
}

// NewFeed returns a feed with no listeners.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{listeners: make(map[int]*listener[T])}
}

type listener[T any] struct {
	mu      sync.Mutex
	queue   []T
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// Listen calls fn for every value published after it returns, one at a
// time and in publish order. Values still queued when the subscription is
// cancelled are discarded.
func (f *Feed[T]) Listen(fn func(T)) Subscription {
	l := &listener[T]{wake: make(chan struct{}, 1), done: make(chan struct{})}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Once(func() {})
	}
	id := f.next
	f.next++
	f.listeners[id] = l
	f.mu.Unlock()

	go l.run(fn)
	return Once(func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
		l.stop()
	})
}

// Publish queues v for every listener and reports how many there were.
// Holding the feed lock while queueing keeps concurrent publishers in one
// order across all listeners.
func (f *Feed[T]) Publish(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.listeners {
		l.push(v)
	}
	return len(f.listeners)
}

// Len returns the number of active listeners.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Close stops every listener. Later Listen calls get an inert subscription.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, l := range f.listeners {
		delete(f.listeners, id)
		l.stop()
	}
}

func (l *listener[T]) push(v T) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, v)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener[T]) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// take removes and returns the next queued value.
func (l *listener[T]) take() (T, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	if l.stopped {
		return zero, false, true
	}
	if len(l.queue) == 0 {
		return zero, false, false
	}
	v := l.queue[0]
	l.queue[0] = zero
	l.queue = l.queue[1:]
	return v, true, false
}

func (l *listener[T]) run(fn func(T)) {
	for {
		v, ok, stopped := l.take()
		if stopped {
			return
		}
		if ok {
			fn(v)
			continue
		}
		select {
		case <-l.wake:
		case <-l.done:
			return
		}
	}
}

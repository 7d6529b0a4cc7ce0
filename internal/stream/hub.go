// Package stream fans events out to in-process subscribers.
package stream

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// Subscription detaches a listener. Unsubscribe may be called any number
// of times; only the first call has an effect.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Once wraps fn so that it runs at most once.
func Once(fn func()) Subscription {
	var once sync.Once
	return SubscriptionFunc(func() { once.Do(fn) })
}

// Hub fan-outs values of T to all active subscribers. Slow subscribers
// miss events instead of blocking the publisher.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	next   int
	buffer int
	closed bool
}

// NewHub returns an empty hub. A non-positive buffer selects the default.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when ctx ends or the hub is closed.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	ch, cancel := h.add()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch
}

// Listen delivers events to fn on a dedicated goroutine, in publish order,
// until the returned subscription is cancelled.
func (h *Hub[T]) Listen(fn func(T)) Subscription {
	ch, cancel := h.add()
	go func() {
		for v := range ch {
			fn(v)
		}
	}()
	return Once(cancel)
}

func (h *Hub[T]) add() (chan T, func()) {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
			h.mu.Unlock()
		})
	}
}

// Publish fan-outs v to all subscribers and reports how many received it.
func (h *Hub[T]) Publish(v T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- v:
			delivered++
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber. Later subscriptions receive a closed
// channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

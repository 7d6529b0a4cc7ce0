package stream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesAndClosesOnCancel(t *testing.T) {
	h := NewHub[string](4)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)

	require.Equal(t, 1, h.Publish("a"))
	assert.Equal(t, "a", <-ch)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewHub[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx)

	assert.Equal(t, 1, h.Publish(1))
	assert.Equal(t, 0, h.Publish(2))
	assert.Equal(t, 1, <-ch)
}

func TestListenUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub[int](4)
	var got atomic.Int32
	sub := h.Listen(func(v int) { got.Add(int32(v)) })

	h.Publish(2)
	h.Publish(3)
	assert.Eventually(t, func() bool { return got.Load() == 5 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Publish(7))
}

func TestCloseDetachesSubscribers(t *testing.T) {
	h := NewHub[int](0)
	ch := h.Subscribe(context.Background())
	h.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late := h.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
	h.Close()
}

func TestOnceRunsFunctionOnce(t *testing.T) {
	calls := 0
	sub := Once(func() { calls++ })
	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, calls)
}

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phamnamhien/HSM/queue"
)

func TestFIFOOrder(t *testing.T) {
	q := queue.New[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		item, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, item)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestPopEmpty(t *testing.T) {
	q := queue.New[string](4)
	item, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, "", item)
}

func TestWaitReturnsQueuedItem(t *testing.T) {
	q := queue.New[string]()
	require.True(t, q.Push("ready"))

	item, ok := q.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, "ready", item)
}

func TestWaitBlocksUntilPush(t *testing.T) {
	q := queue.New[int]()
	done := make(chan int, 1)
	go func() {
		item, ok := q.Wait(context.Background())
		if !ok {
			item = -1
		}
		done <- item
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Push(42))

	select {
	case item := <-done:
		assert.Equal(t, 42, item)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	q := queue.New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Wait(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter ignored cancellation")
	}
}

func TestCloseDrainsThenStops(t *testing.T) {
	q := queue.New[int]()
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Push(3), "push after close must be rejected")

	item, ok := q.Wait(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, item)
	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, item)

	_, ok = q.Wait(context.Background())
	assert.False(t, ok, "drained closed queue must not block")
}

func TestCloseWakesWaiter(t *testing.T) {
	q := queue.New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Wait(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up on close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := queue.New[int]()
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}

func TestConcurrentProducers(t *testing.T) {
	q := queue.New[int]()
	const producers, perProducer = 8, 100

	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(seen) < producers*perProducer {
		item, ok := q.Wait(ctx)
		require.True(t, ok, "queue drained early")
		require.False(t, seen[item], "item delivered twice")
		seen[item] = true
	}
}

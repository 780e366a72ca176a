package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := New[string]()

	ok := q.Enqueue("premium")
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "premium", got)
}

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 1; i <= 3; i++ {
		q.Enqueue(i)
	}

	for want := 1; want <= 3; want++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueue_TryDequeue_Empty(t *testing.T) {
	q := New[int]()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestQueue_Dequeue_BlocksUntilAvailable(t *testing.T) {
	q := New[string]()
	done := make(chan string)

	go func() {
		item, ok := q.Dequeue(context.Background())
		if ok {
			done <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue("age")

	select {
	case got := <-done:
		assert.Equal(t, "age", got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock")
	}
}

func TestQueue_Dequeue_ContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)

	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()

	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe cancellation")
	}
}

func TestQueue_Close_DrainsThenStops(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Close()

	assert.False(t, q.Drained(), "queued items survive close")

	got, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = q.Dequeue(context.Background())
	assert.False(t, ok)
	assert.True(t, q.Drained())
}

func TestQueue_Enqueue_AfterClose(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(1), "enqueue after close should return false")
}

func TestQueue_ThreadSafe(t *testing.T) {
	q := New[int]()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(id*1000 + i)
			}
		}(p)
	}
	wg.Wait()
	q.Close()

	received := 0
	for {
		if _, ok := q.Dequeue(context.Background()); !ok {
			break
		}
		received++
	}
	assert.Equal(t, producers*perProducer, received)
}

package binding

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/metrics"
	"github.com/roach88/kprefs/internal/queue"
)

type letter[V any] struct {
	value   V
	barrier chan struct{}
}

// mailbox runs one subscriber's callback on its own goroutine, in the order
// values were posted.
type mailbox[V any] struct {
	q       *queue.Queue[letter[V]]
	fn      func(V)
	view    string
	logger  *zap.Logger
	metrics *metrics.Metrics
	stopped atomic.Bool
	done    chan struct{}
}

func newMailbox[V any](view string, fn func(V), logger *zap.Logger, m *metrics.Metrics) *mailbox[V] {
	b := &mailbox[V]{
		q:       queue.New[letter[V]](),
		fn:      fn,
		view:    view,
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *mailbox[V]) post(v V) {
	if b.q.Enqueue(letter[V]{value: v}) {
		b.metrics.Emission(b.view)
	}
}

// flush waits until every value posted before the call was handed to fn.
func (b *mailbox[V]) flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !b.q.Enqueue(letter[V]{barrier: barrier}) {
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop discards undelivered values and ends the goroutine. It does not wait,
// so it is safe to call from inside fn.
func (b *mailbox[V]) stop() {
	b.stopped.Store(true)
	b.q.Close()
}

func (b *mailbox[V]) run() {
	defer close(b.done)
	for {
		l, ok := b.q.Dequeue(context.Background())
		if !ok {
			return
		}
		if l.barrier != nil {
			close(l.barrier)
			continue
		}
		if b.stopped.Load() {
			continue
		}
		b.deliver(l.value)
	}
}

func (b *mailbox[V]) deliver(v V) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.ListenerPanic()
			b.logger.Error("subscriber panicked", zap.String("view", b.view), zap.Any("panic", r))
		}
	}()
	b.fn(v)
}

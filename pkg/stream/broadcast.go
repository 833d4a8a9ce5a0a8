package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broadcast copies every value of one input to independent outputs. Each
// output has its own bounded queue: when a reader falls behind, the oldest
// queued value for that reader is dropped and the other outputs keep
// flowing. Outputs close once the input closes and their queue is empty, or
// when ctx ends.
type Broadcast[T any] struct {
	outs    []<-chan T
	queues  []*fanQueue[T]
	dropped atomic.Uint64
}

type fanQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

func (q *fanQueue[T]) push(v T, depth int) (dropped bool) {
	q.mu.Lock()
	if len(q.items) >= depth {
		q.items = append(q.items[:0], q.items[1:]...)
		dropped = true
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return dropped
}

func (q *fanQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *fanQueue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the oldest item. more is false once the queue is closed and
// empty.
func (q *fanQueue[T]) pop() (v T, ok, more bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false, !q.closed
	}
	v = q.items[0]
	q.items = q.items[1:]
	return v, true, true
}

// NewBroadcast starts copying in to n outputs, each queueing up to depth
// values.
func NewBroadcast[T any](ctx context.Context, in <-chan T, n, depth int) *Broadcast[T] {
	if depth < 1 {
		depth = 1
	}
	b := &Broadcast[T]{outs: make([]<-chan T, n), queues: make([]*fanQueue[T], n)}
	for i := range b.queues {
		q := &fanQueue[T]{wake: make(chan struct{}, 1)}
		out := make(chan T)
		b.queues[i] = q
		b.outs[i] = out
		go b.pump(ctx, q, out)
	}

	go func() {
		defer func() {
			for _, q := range b.queues {
				q.close()
			}
		}()
		for {
			v, ok := recv(ctx, in)
			if !ok {
				return
			}
			for _, q := range b.queues {
				if q.push(v, depth) {
					b.dropped.Add(1)
				}
			}
		}
	}()
	return b
}

func (b *Broadcast[T]) pump(ctx context.Context, q *fanQueue[T], out chan<- T) {
	defer close(out)
	for {
		v, ok, more := q.pop()
		if !more {
			return
		}
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if !send(ctx, out, v) {
			return
		}
	}
}

// Out returns output i.
func (b *Broadcast[T]) Out(i int) <-chan T { return b.outs[i] }

// Outs returns every output in order.
func (b *Broadcast[T]) Outs() []<-chan T { return b.outs }

// Dropped counts values discarded from lagging outputs.
func (b *Broadcast[T]) Dropped() uint64 { return b.dropped.Load() }

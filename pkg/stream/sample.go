// Package stream provides timestamped samples and the dataflow operators the
// session is built from: nearest-past joins and arrival-order merges.
//
// Every operator runs in its own goroutine and only reacts to arrivals on its
// inputs. Closing an input (or cancelling the context) tears the operator down
// and closes its output.
package stream

import (
	"context"
	"time"
)

// Sample is a value tagged with its originating time.
type Sample[T any] struct {
	Value T
	Time  time.Time
}

// At creates a sample.
func At[T any](v T, t time.Time) Sample[T] {
	return Sample[T]{Value: v, Time: t}
}

// Pair is the value of a two-way join.
type Pair[A, B any] struct {
	First  A
	Second B
}

// send delivers v on out unless ctx ends first.
func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// recv takes the next value from in. ok is false once in is closed or ctx
// is done.
func recv[T any](ctx context.Context, in <-chan T) (v T, ok bool) {
	select {
	case v, ok = <-in:
		return v, ok
	case <-ctx.Done():
		return v, false
	}
}

// as converts an erased value back to T; nil interface values become zero.
func as[T any](v any) T {
	t, _ := v.(T)
	return t
}

// Erase converts a typed stream into an untyped one for the N-ary joiner.
func Erase[T any](ctx context.Context, in <-chan Sample[T]) <-chan Sample[any] {
	out := make(chan Sample[any])
	go func() {
		defer close(out)
		for {
			s, ok := recv(ctx, in)
			if !ok || !send(ctx, out, Sample[any]{Value: s.Value, Time: s.Time}) {
				return
			}
		}
	}()
	return out
}

// Map applies fn to every sample value, keeping its time.
func Map[A, B any](ctx context.Context, in <-chan Sample[A], fn func(Sample[A]) B) <-chan Sample[B] {
	out := make(chan Sample[B])
	go func() {
		defer close(out)
		for {
			s, ok := recv(ctx, in)
			if !ok || !send(ctx, out, Sample[B]{Value: fn(s), Time: s.Time}) {
				return
			}
		}
	}()
	return out
}

// Merge forwards values from all inputs in arrival order, with no priority
// between sources. The output closes once every input has closed.
func Merge[T any](ctx context.Context, ins ...<-chan T) <-chan T {
	out := make(chan T)
	done := make(chan struct{})
	for _, in := range ins {
		go func(in <-chan T) {
			defer func() { done <- struct{}{} }()
			for {
				v, ok := recv(ctx, in)
				if !ok || !send(ctx, out, v) {
					return
				}
			}
		}(in)
	}
	go func() {
		for range ins {
			<-done
		}
		close(out)
	}()
	return out
}

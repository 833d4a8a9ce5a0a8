package stream

import (
	"context"
	"log/slog"
	"time"
)

// Filter passes samples for which keep returns true.
func Filter[T any](ctx context.Context, in <-chan Sample[T], keep func(Sample[T]) bool) <-chan Sample[T] {
	out := make(chan Sample[T])
	go func() {
		defer close(out)
		for {
			s, ok := recv(ctx, in)
			if !ok {
				return
			}
			if keep(s) && !send(ctx, out, s) {
				return
			}
		}
	}()
	return out
}

// Recorder persists named streams.
type Recorder interface {
	Record(name string, t time.Time, v any) error
}

// Tap records every sample under name and passes it on unchanged. Record
// failures are logged and never stop the stream.
func Tap[T any](ctx context.Context, in <-chan Sample[T], rec Recorder, name string, log *slog.Logger) <-chan Sample[T] {
	if rec == nil {
		return in
	}
	out := make(chan Sample[T])
	go func() {
		defer close(out)
		for {
			s, ok := recv(ctx, in)
			if !ok {
				return
			}
			if err := rec.Record(name, s.Time, s.Value); err != nil && log != nil {
				log.Warn("record failed", "stream", name, "err", err)
			}
			if !send(ctx, out, s) {
				return
			}
		}
	}()
	return out
}

// Drain consumes in until it closes or ctx ends, calling fn for each value.
func Drain[T any](ctx context.Context, in <-chan T, fn func(T)) {
	for {
		v, ok := recv(ctx, in)
		if !ok {
			return
		}
		if fn != nil {
			fn(v)
		}
	}
}

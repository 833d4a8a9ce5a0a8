// Package timeline builds the session timeline: a fixed-rate motion stream
// aligned with the microphone audio, which in turn is aligned with the first
// camera. Commands are placed on this timeline before they reach the robot.
package timeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// DefaultTick is the motion sampling period.
const DefaultTick = 8 * time.Millisecond

// MotionSource reports whether the robot is currently moving.
type MotionSource interface {
	Moving() bool
}

// MotionFunc adapts a function to MotionSource.
type MotionFunc func() bool

func (f MotionFunc) Moving() bool { return f() }

// heartbeatTicks is how often the ticker logs its counters.
const heartbeatTicks = 1000

// Ticker samples a MotionSource at a fixed rate. Samples are stamped with the
// tick time and are strictly increasing.
type Ticker struct {
	src  MotionSource
	rate time.Duration
	now  func() time.Time
	log  *slog.Logger

	tickCount   atomic.Uint64
	changeCount atomic.Uint64
}

// NewTicker creates a ticker. Rates at or below zero use DefaultTick.
func NewTicker(src MotionSource, rate time.Duration) *Ticker {
	if rate <= 0 {
		rate = DefaultTick
	}
	return &Ticker{src: src, rate: rate, now: time.Now, log: hlog.For("timeline")}
}

// Run emits one motion sample per tick until ctx ends. A slow consumer
// delays ticks rather than queueing them.
func (t *Ticker) Run(ctx context.Context) <-chan stream.Sample[bool] {
	out := make(chan stream.Sample[bool])
	go func() {
		defer close(out)
		ticker := time.NewTicker(t.rate)
		defer ticker.Stop()

		var last time.Time
		var lastMoving, started bool
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			ts := t.now()
			if !ts.After(last) {
				ts = last.Add(time.Microsecond)
			}
			last = ts

			moving := t.src.Moving()
			if started && moving != lastMoving {
				t.changeCount.Add(1)
			}
			started, lastMoving = true, moving

			n := t.tickCount.Add(1)
			if n%heartbeatTicks == 0 {
				t.log.Debug("ticker heartbeat", "ticks", n, "changes", t.changeCount.Load(), "moving", moving)
			}

			select {
			case out <- stream.At(moving, ts):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Ticks returns the number of emitted samples.
func (t *Ticker) Ticks() uint64 { return t.tickCount.Load() }

// Changes returns how often the motion flag flipped between ticks.
func (t *Ticker) Changes() uint64 { return t.changeCount.Load() }

// Changed passes only samples whose value differs from the previous one.
// The first sample always passes.
func Changed[T comparable](ctx context.Context, in <-chan stream.Sample[T]) <-chan stream.Sample[T] {
	var prev T
	seen := false
	return stream.Filter(ctx, in, func(s stream.Sample[T]) bool {
		if seen && s.Value == prev {
			return false
		}
		seen, prev = true, s.Value
		return true
	})
}

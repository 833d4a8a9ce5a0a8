package stream

import (
	"context"
	"time"
)

// Tuple is one resolved row of an N-ary join: the driving value plus the
// nearest-past value of every auxiliary stream.
type Tuple struct {
	Time   time.Time
	Driver any
	Aux    []any
}

type auxBuffer struct {
	samples []Sample[any]
	mark    time.Time // newest accepted time
	seen    bool
	closed  bool
}

// reached reports whether the stream has been observed at or beyond t, which
// makes its nearest-past value for t final.
func (b *auxBuffer) reached(t time.Time) bool {
	return b.closed || (b.seen && !b.mark.Before(t))
}

// latest returns the index of the newest sample at or before t, or -1.
func (b *auxBuffer) latest(t time.Time) int {
	for i := len(b.samples) - 1; i >= 0; i-- {
		if !b.samples[i].Time.After(t) {
			return i
		}
	}
	return -1
}

// Joiner performs a nearest-past join of one driving stream against K
// auxiliary streams. It is not safe for concurrent use; RunJoin owns one
// inside a single goroutine.
//
// A driving sample at time t resolves once every auxiliary stream has reached
// t. It is emitted with the newest auxiliary samples at or before t, or
// discarded if some auxiliary stream has nothing at or before t. Samples at or
// before a stream's newest accepted time are ignored, so re-delivered data
// never changes the output.
type Joiner struct {
	aux       []auxBuffer
	pending   []Sample[any]
	driveMark time.Time
	driveSeen bool

	// Retention bounds how much auxiliary history is kept for late driving
	// samples. Zero keeps everything newer than the newest driving sample.
	Retention time.Duration

	// MaxPending bounds the driving samples held while an auxiliary stream
	// stalls; the oldest is dropped first. Zero is unbounded.
	MaxPending int

	// Dropped counts driving samples discarded for lack of a prior value or
	// pending space.
	Dropped uint64
}

const (
	// DefaultRetention is the auxiliary history kept by NewJoiner.
	DefaultRetention = 10 * time.Second

	// DefaultMaxPending is the pending bound set by NewJoiner.
	DefaultMaxPending = 4096
)

// NewJoiner creates a joiner over k auxiliary streams.
func NewJoiner(k int) *Joiner {
	return &Joiner{aux: make([]auxBuffer, k), Retention: DefaultRetention, MaxPending: DefaultMaxPending}
}

// PushDriver offers a driving sample and returns any tuples it resolves.
func (j *Joiner) PushDriver(s Sample[any]) []Tuple {
	if j.driveSeen && !s.Time.After(j.driveMark) {
		return nil
	}
	j.driveSeen = true
	j.driveMark = s.Time
	if j.MaxPending > 0 && len(j.pending) >= j.MaxPending {
		j.pending = append(j.pending[:0], j.pending[1:]...)
		j.Dropped++
	}
	j.pending = append(j.pending, s)
	return j.resolve()
}

// PushAux offers a sample on auxiliary stream i and returns resolved tuples.
func (j *Joiner) PushAux(i int, s Sample[any]) []Tuple {
	b := &j.aux[i]
	if b.closed || (b.seen && !s.Time.After(b.mark)) {
		return nil
	}
	b.seen = true
	b.mark = s.Time
	b.samples = append(b.samples, s)
	out := j.resolve()
	j.evict()
	return out
}

// CloseAux marks auxiliary stream i as finished; its newest sample becomes
// the nearest-past value for every later driving sample.
func (j *Joiner) CloseAux(i int) []Tuple {
	j.aux[i].closed = true
	return j.resolve()
}

// Pending returns the number of driving samples waiting on auxiliary streams.
func (j *Joiner) Pending() int {
	return len(j.pending)
}

func (j *Joiner) resolve() []Tuple {
	var out []Tuple
	n := 0
	for _, p := range j.pending {
		if !j.ready(p.Time) {
			break
		}
		n++
		if tp, ok := j.build(p); ok {
			out = append(out, tp)
		} else {
			j.Dropped++
		}
	}
	if n == 0 {
		return nil
	}
	j.pending = append(j.pending[:0], j.pending[n:]...)
	j.evict()
	return out
}

func (j *Joiner) ready(t time.Time) bool {
	for i := range j.aux {
		if !j.aux[i].reached(t) {
			return false
		}
	}
	return true
}

func (j *Joiner) build(p Sample[any]) (Tuple, bool) {
	vals := make([]any, len(j.aux))
	for i := range j.aux {
		idx := j.aux[i].latest(p.Time)
		if idx < 0 {
			return Tuple{}, false
		}
		vals[i] = j.aux[i].samples[idx].Value
	}
	return Tuple{Time: p.Time, Driver: p.Value, Aux: vals}, true
}

// evict drops auxiliary samples that can no longer be the nearest-past
// value of any pending or future driving sample. Samples older than the
// retention window are released even if a late driver might still want them.
func (j *Joiner) evict() {
	for i := range j.aux {
		b := &j.aux[i]
		if !b.seen {
			continue
		}
		var cutoff time.Time
		if j.Retention > 0 {
			cutoff = b.mark.Add(-j.Retention)
			if j.driveSeen && j.driveMark.After(cutoff) {
				cutoff = j.driveMark
			}
		} else {
			cutoff = j.driveMark
			if !j.driveSeen {
				continue
			}
		}
		if len(j.pending) > 0 && j.pending[0].Time.Before(cutoff) {
			cutoff = j.pending[0].Time
		}
		if idx := b.latest(cutoff); idx > 0 {
			b.samples = append(b.samples[:0], b.samples[idx:]...)
		}
	}
}

type tagged struct {
	idx    int // -1 is the driver
	sample Sample[any]
	closed bool
}

// RunJoin joins driver against aux in one goroutine. The output closes once
// the driver has closed and every pending driving sample is resolved, or when
// ctx is cancelled. After the output closes the inputs are still drained
// until they close or ctx ends, so a finished join never stalls a shared
// upstream.
func RunJoin(ctx context.Context, driver <-chan Sample[any], aux ...<-chan Sample[any]) <-chan Sample[Tuple] {
	out := make(chan Sample[Tuple])
	in := make(chan tagged)
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)

	forward := func(idx int, ch <-chan Sample[any]) {
		defer discard(parent, ch)
		for {
			s, ok := recv(ctx, ch)
			if !ok {
				if ctx.Err() == nil {
					send(ctx, in, tagged{idx: idx, closed: true})
				}
				return
			}
			if !send(ctx, in, tagged{idx: idx, sample: s}) {
				return
			}
		}
	}
	go forward(-1, driver)
	for i, ch := range aux {
		go forward(i, ch)
	}

	go func() {
		defer close(out)
		defer cancel()
		j := NewJoiner(len(aux))
		driverDone := false
		for {
			m, ok := recv(ctx, in)
			if !ok {
				return
			}
			var tuples []Tuple
			switch {
			case m.idx < 0 && m.closed:
				driverDone = true
			case m.idx < 0:
				tuples = j.PushDriver(m.sample)
			case m.closed:
				tuples = j.CloseAux(m.idx)
			default:
				tuples = j.PushAux(m.idx, m.sample)
			}
			for _, tp := range tuples {
				if !send(ctx, out, Sample[Tuple]{Value: tp, Time: tp.Time}) {
					return
				}
			}
			if driverDone && j.Pending() == 0 {
				return
			}
		}
	}()
	return out
}

func discard[T any](ctx context.Context, ch <-chan T) {
	for {
		if _, ok := recv(ctx, ch); !ok {
			return
		}
	}
}

// Join is the typed two-stream form of RunJoin.
func Join[A, B any](ctx context.Context, driver <-chan Sample[A], aux <-chan Sample[B]) <-chan Sample[Pair[A, B]] {
	tuples := RunJoin(ctx, Erase(ctx, driver), Erase(ctx, aux))
	return Map(ctx, tuples, func(s Sample[Tuple]) Pair[A, B] {
		return Pair[A, B]{First: as[A](s.Value.Driver), Second: as[B](s.Value.Aux[0])}
	})
}

package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/speech"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

const queueSize = 64

// Stats are the session counters.
type Stats struct {
	Events      uint64 `json:"events"`
	Transitions uint64 `json:"transitions"`
	Commands    uint64 `json:"commands"`
	Queries     uint64 `json:"queries"`
}

// Listener observes every applied event. It runs on the actor goroutine and
// must not block.
type Listener func(prev, next State, cmds []Command)

// Session is the single actor owning a State. Every source submits events
// into one ordered queue; Run applies them one at a time.
type Session struct {
	machine *Machine
	events  chan Event
	state   atomic.Pointer[State]

	verbal  chan stream.Sample[Command]
	queries chan stream.Sample[Command]

	mu        sync.RWMutex
	listeners []Listener

	eventCount      atomic.Uint64
	transitionCount atomic.Uint64
	commandCount    atomic.Uint64
	queryCount      atomic.Uint64

	running atomic.Bool
	done    chan struct{}
	log     *slog.Logger
}

// New creates a session starting from initial.
func New(cfg Config, initial State) *Session {
	s := &Session{
		machine: NewMachine(cfg),
		events:  make(chan Event, queueSize),
		verbal:  make(chan stream.Sample[Command], queueSize),
		queries: make(chan stream.Sample[Command], queueSize),
		done:    make(chan struct{}),
		log:     hlog.For("session"),
	}
	s.state.Store(&initial)
	return s
}

// OnChange registers a listener. Call before Run.
func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Snapshot returns the state after the most recent transition.
func (s *Session) Snapshot() State {
	return *s.state.Load()
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Events:      s.eventCount.Load(),
		Transitions: s.transitionCount.Load(),
		Commands:    s.commandCount.Load(),
		Queries:     s.queryCount.Load(),
	}
}

// Verbal returns commands decided from utterances and acknowledgements.
func (s *Session) Verbal() <-chan stream.Sample[Command] { return s.verbal }

// Queries returns possible-error queries decided from verdicts.
func (s *Session) Queries() <-chan stream.Sample[Command] { return s.queries }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Submit queues an event. It blocks while the queue is full.
func (s *Session) Submit(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued events until ctx is cancelled, then closes both
// command streams.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrStopped
	}
	defer close(s.done)
	defer close(s.verbal)
	defer close(s.queries)

	s.log.Info("session started", "state", s.Snapshot().String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("session stopped", "state", s.Snapshot().String())
			return nil
		case ev := <-s.events:
			if !s.apply(ctx, ev) {
				return nil
			}
		}
	}
}

// apply runs one transition. It returns false if ctx ended while emitting.
func (s *Session) apply(ctx context.Context, ev Event) bool {
	defer s.eventCount.Add(1)
	prev := s.Snapshot()
	next, cmds := s.machine.Apply(prev, ev)
	if next != prev {
		s.transitionCount.Add(1)
		s.state.Store(&next)
		s.log.Debug("transition", "event", eventName(ev), "from", prev.String(), "to", next.String())
	}

	s.mu.RLock()
	for _, l := range s.listeners {
		l(prev, next, cmds)
	}
	s.mu.RUnlock()

	for _, cmd := range cmds {
		s.commandCount.Add(1)
		out := s.verbal
		switch {
		case cmd.Kind == KindPossible:
			out = s.queries
			s.queryCount.Add(1)
		case prev.Query && cmd.Kind == KindError:
			s.log.Info("Automatic Error Detected")
		case prev.Query && cmd.Kind == KindResume:
			s.log.Info("False Positive")
		}
		s.log.Info("command decided", "command", cmd.String(), "event", eventName(ev))

		select {
		case out <- stream.At(cmd, ev.At()):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func eventName(ev Event) string {
	switch ev.(type) {
	case VerdictEvent:
		return "verdict"
	case UtteranceEvent:
		return "utterance"
	case AckEvent:
		return "ack"
	}
	return "unknown"
}

// SubmitAll submits every sample of in as an event until in closes, ctx
// ends, or the session stops.
func SubmitAll[T any](ctx context.Context, s *Session, in <-chan stream.Sample[T], wrap func(stream.Sample[T]) Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case smp, ok := <-in:
			if !ok {
				return
			}
			if err := s.Submit(ctx, wrap(smp)); err != nil {
				return
			}
		}
	}
}

// Verdict wraps a verdict sample.
func Verdict(smp stream.Sample[protocol.Verdict]) Event {
	return VerdictEvent{Verdict: smp.Value, Time: smp.Time}
}

// Utterance wraps an utterance sample.
func Utterance(smp stream.Sample[speech.Utterance]) Event {
	return UtteranceEvent{Utterance: smp.Value, Time: smp.Time}
}

// Ack wraps an acknowledgement sample.
func Ack(smp stream.Sample[bool]) Event {
	return AckEvent{Done: smp.Value, Time: smp.Time}
}

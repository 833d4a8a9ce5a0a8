// Package dispatch delivers session commands to the robot. Verbal commands
// and automatic queries are merged in arrival order, stamped with the time
// they were dispatched, placed on the session timeline, and sent. The robot's
// completion signal comes back separately through Acks.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// Publisher sends a message on a topic.
type Publisher interface {
	Publish(topic protocol.Topic, msg *protocol.Message) error
}

// Dispatched is one command as sent.
type Dispatched struct {
	Command session.Command `json:"-"`
	Wire    string          `json:"command"`
	Decided time.Time       `json:"decided"`
	Sent    time.Time       `json:"sent"`
	Moving  bool            `json:"moving"` // timeline motion flag at Decided
}

// Stats are the dispatcher counters.
type Stats struct {
	Sent uint64 `json:"sent"`
	Lost uint64 `json:"lost"`
}

// Dispatcher sends commands to the robot. It never waits for completion.
type Dispatcher struct {
	pub  Publisher
	rec  stream.Recorder
	now  func() time.Time
	echo *color.Color
	log  *slog.Logger

	sent atomic.Uint64
	lost atomic.Uint64

	mu     sync.RWMutex
	last   *Dispatched
	notify func(Dispatched)
}

// New creates a dispatcher. rec may be nil.
func New(pub Publisher, rec stream.Recorder) *Dispatcher {
	return &Dispatcher{
		pub:  pub,
		rec:  rec,
		now:  time.Now,
		echo: color.New(color.FgYellow, color.Bold),
		log:  hlog.For("dispatch"),
	}
}

// OnSend registers fn to observe every dispatched command. Call it before
// Run; fn must not block.
func (d *Dispatcher) OnSend(fn func(Dispatched)) {
	d.mu.Lock()
	d.notify = fn
	d.mu.Unlock()
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Lost: d.lost.Load()}
}

// Last returns the most recently dispatched command.
func (d *Dispatcher) Last() (Dispatched, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Dispatched{}, false
	}
	return *d.last, true
}

// Stamp retimes each command with its dispatch decision time. Times are
// strictly increasing so the timeline join never mistakes a command for a
// re-delivery.
func (d *Dispatcher) Stamp(ctx context.Context, in <-chan stream.Sample[session.Command]) <-chan stream.Sample[session.Command] {
	out := make(chan stream.Sample[session.Command])
	go func() {
		defer close(out)
		var last time.Time
		for {
			var s stream.Sample[session.Command]
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				s = v
			}
			t := d.now()
			if !t.After(last) {
				t = last.Add(time.Microsecond)
			}
			last = t
			select {
			case out <- stream.At(s.Value, t):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Send publishes one aligned command on the commands topic. A lost command
// is counted and not retried.
func (d *Dispatcher) Send(cmd session.Command, decided time.Time, moving bool) error {
	wire := cmd.String()
	d.echo.Println(wire)

	msg, err := protocol.NewMessage(wire, decided)
	if err != nil {
		return err
	}
	sendErr := d.pub.Publish(protocol.TopicCommands, msg)
	if sendErr != nil {
		d.lost.Add(1)
		d.log.Warn("command not delivered", "command", wire, "err", sendErr)
	} else {
		d.sent.Add(1)
		d.log.Info("command sent", "command", wire, "decided", decided.Format(time.RFC3339Nano))
	}

	rec := Dispatched{Command: cmd, Wire: wire, Decided: decided, Sent: d.now(), Moving: moving}
	d.mu.Lock()
	d.last = &rec
	notify := d.notify
	d.mu.Unlock()
	if notify != nil {
		notify(rec)
	}

	if d.rec != nil {
		if err := d.rec.Record("commands", decided, wire); err != nil {
			d.log.Warn("record failed", "stream", "commands", "err", err)
		}
	}
	return sendErr
}

// Run merges verbal and query commands, aligns them to timeline and sends
// them until both command streams close or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, verbal, queries <-chan stream.Sample[session.Command], timeline <-chan stream.Sample[bool]) {
	merged := stream.Merge(ctx, verbal, queries)
	aligned := stream.Join(ctx, d.Stamp(ctx, merged), timeline)
	stream.Drain(ctx, aligned, func(s stream.Sample[stream.Pair[session.Command, bool]]) {
		_ = d.Send(s.Value.First, s.Time, s.Value.Second)
	})
	d.log.Info("dispatcher stopped", "sent", d.sent.Load(), "lost", d.lost.Load())
}

// Acks decodes robot completion messages. Undecodable messages are logged
// and dropped.
func Acks(ctx context.Context, in <-chan *protocol.Message) <-chan stream.Sample[bool] {
	log := hlog.For("dispatch")
	out := make(chan stream.Sample[bool], 16)
	go func() {
		defer close(out)
		for {
			var msg *protocol.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}
			var done bool
			if err := msg.ParseData(&done); err != nil {
				log.Warn("dropping robot ack", "err", err)
				continue
			}
			select {
			case out <- stream.At(done, msg.Time()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

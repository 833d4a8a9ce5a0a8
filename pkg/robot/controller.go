package robot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// ackMemory bounds the origins remembered for duplicate suppression.
const ackMemory = 1024

// Controller executes session commands on an arm. Picks run in the
// background; a possible-error query pauses them, resume continues and an
// error report stops the arm and recovers.
//
// Every origin time is acknowledged at most once.
type Controller struct {
	arm  Arm
	acks AckSender
	log  *slog.Logger

	mu       sync.Mutex
	possible bool
	last     time.Time // origin of the previous command
	acked    map[int64]struct{}
	order    []int64
	wg       sync.WaitGroup
}

// NewController creates a controller.
func NewController(arm Arm, acks AckSender) *Controller {
	return &Controller{
		arm:   arm,
		acks:  acks,
		log:   hlog.For("robot"),
		acked: make(map[int64]struct{}),
	}
}

// Handle executes one command issued at origin.
func (c *Controller) Handle(ctx context.Context, cmd session.Command, origin time.Time) {
	c.mu.Lock()
	prev := c.last
	c.last = origin
	c.mu.Unlock()

	c.log.Info("command", "command", cmd.String(), "origin", origin.UnixMicro())

	switch cmd.Kind {
	case session.KindPipe:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.arm.Pick(ctx, cmd.Color)
			if err != nil {
				c.log.Info("pick interrupted", "color", cmd.Color, "err", err)
			}
			c.ack(err == nil, origin)
		}()

	case session.KindError:
		c.mu.Lock()
		wasPossible := c.possible
		c.possible = false
		c.mu.Unlock()
		if wasPossible {
			c.arm.Resume()
		} else {
			c.ack(false, prev)
		}
		c.arm.Stop()
		if err := c.arm.Recover(ctx); err != nil {
			c.log.Warn("recovery failed", "err", err)
		}
		c.ack(true, origin)

	case session.KindPossible:
		c.arm.Pause()
		c.mu.Lock()
		c.possible = true
		c.mu.Unlock()
		c.ack(false, prev)
		c.ack(false, origin)

	case session.KindResume:
		c.mu.Lock()
		c.possible = false
		c.mu.Unlock()
		c.arm.Resume()
		c.ack(true, origin)
	}
}

// Run handles commands until in closes or ctx ends, then waits for running
// picks.
func (c *Controller) Run(ctx context.Context, in <-chan stream.Sample[session.Command]) {
	stream.Drain(ctx, in, func(s stream.Sample[session.Command]) {
		c.Handle(ctx, s.Value, s.Time)
	})
	c.wg.Wait()
}

// Wait blocks until every background pick has finished.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) ack(done bool, origin time.Time) {
	if origin.IsZero() {
		return
	}
	key := origin.UnixMicro()

	c.mu.Lock()
	if _, dup := c.acked[key]; dup {
		c.mu.Unlock()
		return
	}
	c.acked[key] = struct{}{}
	c.order = append(c.order, key)
	if len(c.order) > ackMemory {
		delete(c.acked, c.order[0])
		c.order = c.order[1:]
	}
	c.mu.Unlock()

	if err := c.acks.SendAck(done, origin); err != nil {
		c.log.Warn("ack not sent", "done", done, "err", err)
	}
}

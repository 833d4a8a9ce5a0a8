package robot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

type ack struct {
	done   bool
	origin int64
}

// recordingAcks records every acknowledgement sent.
type recordingAcks struct {
	mu   sync.Mutex
	acks []ack
}

func (r *recordingAcks) SendAck(done bool, origin time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack{done, origin.UnixMicro()})
	return nil
}

func (r *recordingAcks) all() []ack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ack(nil), r.acks...)
}

func us(n int64) time.Time { return time.UnixMicro(1_700_000_000_000_000 + n) }

func TestController_PickAcksDone(t *testing.T) {
	acks := &recordingAcks{}
	arm := NewSimArm(20 * time.Millisecond)
	c := NewController(arm, acks)

	c.Handle(context.Background(), session.Pipe("red"), us(1))
	c.Wait()

	got := acks.all()
	if len(got) != 1 || got[0] != (ack{true, us(1).UnixMicro()}) {
		t.Fatalf("acks = %+v, want one done ack", got)
	}
	if arm.Picks("red") != 1 {
		t.Errorf("Picks(red) = %d", arm.Picks("red"))
	}
}

func TestController_PossiblePausesThenResume(t *testing.T) {
	acks := &recordingAcks{}
	c := NewController(NewSimArm(50*time.Millisecond), acks)
	ctx := context.Background()

	c.Handle(ctx, session.Pipe("green"), us(1))
	c.Handle(ctx, session.CmdPossible, us(2))

	got := acks.all()
	want := []ack{{false, us(1).UnixMicro()}, {false, us(2).UnixMicro()}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("acks after possible = %+v, want %+v", got, want)
	}

	c.Handle(ctx, session.CmdResume, us(3))
	c.Wait()

	got = acks.all()
	if len(got) != 3 || got[2] != (ack{true, us(3).UnixMicro()}) {
		t.Fatalf("acks = %+v; the finished pick must not be acknowledged twice", got)
	}
}

func TestController_ErrorStopsAndRecovers(t *testing.T) {
	acks := &recordingAcks{}
	c := NewController(NewSimArm(30*time.Millisecond), acks)
	ctx := context.Background()

	c.Handle(ctx, session.Pipe("yellow"), us(1))
	c.Handle(ctx, session.CmdError, us(2))
	c.Wait()

	got := acks.all()
	want := []ack{{false, us(1).UnixMicro()}, {true, us(2).UnixMicro()}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("acks = %+v, want %+v", got, want)
	}
}

func TestController_Run(t *testing.T) {
	acks := &recordingAcks{}
	c := NewController(NewSimArm(time.Millisecond), acks)

	in := make(chan stream.Sample[session.Command], 2)
	in <- stream.At(session.Pipe("red"), us(10))
	in <- stream.At(session.Pipe("blue"), us(20))
	close(in)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if n := len(acks.all()); n != 2 {
		t.Errorf("acks = %d, want 2", n)
	}
}

func TestSimArm_PauseHoldsMotion(t *testing.T) {
	arm := NewSimArm(30 * time.Millisecond)
	arm.Pause()

	errc := make(chan error, 1)
	go func() { errc <- arm.Pick(context.Background(), "red") }()

	select {
	case <-errc:
		t.Fatal("paused pick finished")
	case <-time.After(80 * time.Millisecond):
	}

	arm.Resume()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Pick = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("resumed pick never finished")
	}
}

func TestSimArm_StopAborts(t *testing.T) {
	arm := NewSimArm(time.Second)
	errc := make(chan error, 1)
	go func() { errc <- arm.Pick(context.Background(), "red") }()

	time.Sleep(20 * time.Millisecond)
	arm.Stop()
	select {
	case err := <-errc:
		if err != ErrStopped {
			t.Errorf("Pick = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop did not abort the pick")
	}
}

func TestSimArm_ContextCancel(t *testing.T) {
	arm := NewSimArm(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := arm.Recover(ctx); err != context.Canceled {
		t.Errorf("Recover = %v, want context.Canceled", err)
	}
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

type mockPublisher struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockPublisher) Publish(topic protocol.Topic, msg *protocol.Message) error {
	if topic != protocol.TopicCommands {
		return errors.New("wrong topic " + string(topic))
	}
	var wire string
	if err := msg.ParseData(&wire); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, wire)
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	rows []string
}

func (r *memRecorder) Record(name string, _ time.Time, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, name+"="+v.(string))
	return nil
}

var base = time.UnixMicro(1_700_000_000_000_000)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStamp_StrictlyIncreasing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(&mockPublisher{}, nil)
	d.now = fixedClock(base)

	in := make(chan stream.Sample[session.Command], 3)
	in <- stream.At(session.Pipe("red"), base.Add(-time.Hour))
	in <- stream.At(session.CmdError, base.Add(-2*time.Hour))
	in <- stream.At(session.CmdResume, base)
	close(in)

	var times []time.Time
	for s := range d.Stamp(ctx, in) {
		times = append(times, s.Time)
	}
	require.Len(t, times, 3)
	assert.True(t, times[0].Equal(base))
	for i := 1; i < len(times); i++ {
		assert.True(t, times[i].After(times[i-1]), "time %d not increasing", i)
	}
}

func TestSend_CountsLoss(t *testing.T) {
	pub := &mockPublisher{err: errors.New("no peers")}
	d := New(pub, nil)

	err := d.Send(session.CmdPossible, base, false)
	assert.Error(t, err)
	assert.Equal(t, Stats{Lost: 1}, d.Stats())

	pub.err = nil
	require.NoError(t, d.Send(session.Pipe("blue"), base, true))
	assert.Equal(t, Stats{Sent: 1, Lost: 1}, d.Stats())

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, "blue", last.Wire)
	assert.True(t, last.Moving)
}

func TestRun_AlignsToTimeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &mockPublisher{}
	rec := &memRecorder{}
	d := New(pub, rec)
	d.now = fixedClock(base)

	verbal := make(chan stream.Sample[session.Command], 1)
	queries := make(chan stream.Sample[session.Command], 1)
	timeline := make(chan stream.Sample[bool], 2)

	timeline <- stream.At(true, base.Add(-time.Second))
	timeline <- stream.At(false, base.Add(time.Second))
	verbal <- stream.At(session.Pipe("green"), base)
	queries <- stream.At(session.CmdPossible, base)
	close(verbal)
	close(queries)

	done := make(chan struct{})
	go func() {
		d.Run(ctx, verbal, queries, timeline)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not finish")
	}

	assert.ElementsMatch(t, []string{"green", "possible"}, pub.sent)
	assert.ElementsMatch(t, []string{"commands=green", "commands=possible"}, rec.rows)
	assert.Equal(t, uint64(2), d.Stats().Sent)

	last, ok := d.Last()
	require.True(t, ok)
	assert.True(t, last.Moving, "both commands precede the motion change")
}

func TestAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *protocol.Message, 3)
	ok, err := protocol.NewMessage(true, base)
	require.NoError(t, err)
	in <- ok
	in <- &protocol.Message{Message: []byte(`"not a bool"`), OriginatingTime: base.UnixMicro()}
	notDone, err := protocol.NewMessage(false, base.Add(time.Second))
	require.NoError(t, err)
	in <- notDone
	close(in)

	var got []stream.Sample[bool]
	for s := range Acks(ctx, in) {
		got = append(got, s)
	}
	require.Len(t, got, 2)
	assert.True(t, got[0].Value)
	assert.True(t, got[0].Time.Equal(base))
	assert.False(t, got[1].Value)
}

func TestOnSend(t *testing.T) {
	d := New(&mockPublisher{}, nil)
	var seen []Dispatched
	d.OnSend(func(x Dispatched) { seen = append(seen, x) })

	require.NoError(t, d.Send(session.CmdResume, base, false))
	require.Len(t, seen, 1)
	assert.Equal(t, "resume", seen[0].Wire)
	assert.True(t, seen[0].Decided.Equal(base))
}

func TestRun_StalledTimelineBranchDoesNotBlockCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &mockPublisher{}
	d := New(pub, nil)
	d.now = fixedClock(base)

	ticks := make(chan stream.Sample[bool])
	go func() {
		for i := -100; i < 2000; i++ {
			select {
			case ticks <- stream.At(false, base.Add(time.Duration(i)*time.Millisecond)):
			case <-ctx.Done():
				return
			}
		}
	}()
	fan := stream.NewBroadcast(ctx, (<-chan stream.Sample[bool])(ticks), 2, 8)

	// a feature path whose consumer never reads
	readings := make(chan stream.Sample[int], 4)
	for i := 0; i < 4; i++ {
		readings <- stream.At(i, base.Add(time.Duration(i-50)*time.Millisecond))
	}
	_ = stream.Join(ctx, (<-chan stream.Sample[int])(readings), fan.Out(0))

	verbal := make(chan stream.Sample[session.Command], 1)
	queries := make(chan stream.Sample[session.Command])
	go d.Run(ctx, verbal, queries, fan.Out(1))
	verbal <- stream.At(session.Pipe("red"), base)

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.sent) == 1 && pub.sent[0] == "red"
	}, 2*time.Second, 10*time.Millisecond, "command should reach the robot while the feature path is stalled")
	assert.NotZero(t, fan.Dropped())
}

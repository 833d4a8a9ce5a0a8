package timeline

import (
	"context"
	"log/slog"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// Publisher sends a message on a topic.
type Publisher interface {
	Publish(topic protocol.Topic, msg *protocol.Message) error
}

// Config configures the session timeline.
type Config struct {
	// Tick is the motion sampling period.
	Tick time.Duration

	// AlignAudio holds the timeline to the aligned audio stream. Without it
	// the timeline is the motion stream alone.
	AlignAudio bool
}

// Audio decodes audio chunk messages. Undecodable messages are logged and
// dropped.
func Audio(ctx context.Context, in <-chan *protocol.Message) <-chan stream.Sample[protocol.AudioData] {
	log := hlog.For("timeline")
	out := make(chan stream.Sample[protocol.AudioData])
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
			var a protocol.AudioData
			if err := msg.ParseData(&a); err != nil {
				log.Warn("dropping audio chunk", "err", err)
				continue
			}
			select {
			case out <- stream.At(a, msg.Time()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// AlignAudio joins audio chunks against camera frames. Audio that precedes
// the first frame has no nearest-past frame and is dropped.
func AlignAudio(ctx context.Context, audio <-chan stream.Sample[protocol.AudioData], video <-chan stream.Sample[protocol.FrameData]) <-chan stream.Sample[protocol.AudioData] {
	joined := stream.Join(ctx, audio, video)
	return stream.Map(ctx, joined, func(s stream.Sample[stream.Pair[protocol.AudioData, protocol.FrameData]]) protocol.AudioData {
		return s.Value.First
	})
}

// Republish publishes every sample of in on topic and passes it on. Publish
// failures mean nobody is listening and are ignored.
func Republish[T any](ctx context.Context, in <-chan stream.Sample[T], pub Publisher, topic protocol.Topic) <-chan stream.Sample[T] {
	log := hlog.For("timeline")
	out := make(chan stream.Sample[T])
	go func() {
		defer close(out)
		for {
			var s stream.Sample[T]
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				s = v
			}
			if msg, err := protocol.NewMessage(s.Value, s.Time); err != nil {
				log.Warn("republish encode failed", "topic", string(topic), "err", err)
			} else {
				_ = pub.Publish(topic, msg)
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Timeline is the session timeline builder.
type Timeline struct {
	cfg    Config
	ticker *Ticker
	log    *slog.Logger
}

// New creates a timeline sampling motion.
func New(cfg Config, motion MotionSource) *Timeline {
	return &Timeline{cfg: cfg, ticker: NewTicker(motion, cfg.Tick), log: hlog.For("timeline")}
}

// Ticker returns the motion ticker.
func (t *Timeline) Ticker() *Ticker { return t.ticker }

// Run starts the motion ticker and, when aligning audio, joins it against
// audio. The returned stream carries the motion flag at every timeline
// point.
func (t *Timeline) Run(ctx context.Context, audio <-chan stream.Sample[protocol.AudioData]) <-chan stream.Sample[bool] {
	motion := t.ticker.Run(ctx)
	if !t.cfg.AlignAudio || audio == nil {
		t.log.Info("timeline running", "tick", t.ticker.rate, "audio", false)
		return motion
	}
	t.log.Info("timeline running", "tick", t.ticker.rate, "audio", true)
	joined := stream.Join(ctx, motion, audio)
	return stream.Map(ctx, joined, func(s stream.Sample[stream.Pair[bool, protocol.AudioData]]) bool {
		return s.Value.First
	})
}

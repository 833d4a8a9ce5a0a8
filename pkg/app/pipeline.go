package app

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-hrd/pkg/dispatch"
	"github.com/teslashibe/go-hrd/pkg/face"
	"github.com/teslashibe/go-hrd/pkg/fusion"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/speech"
	"github.com/teslashibe/go-hrd/pkg/stream"
	"github.com/teslashibe/go-hrd/pkg/telemetry"
	"github.com/teslashibe/go-hrd/pkg/timeline"
)

const (
	// frameQueue bounds camera 1 frames held for a lagging face worker or
	// audio alignment.
	frameQueue = 64

	// motionQueue is about two seconds of timeline ticks at the default rate.
	motionQueue = 256
)

// confidenceRecorder records only the face confidence of a reading.
type confidenceRecorder struct {
	rec stream.Recorder
}

func (c confidenceRecorder) Record(name string, t time.Time, v any) error {
	if r, ok := v.(fusion.Reading); ok {
		return c.rec.Record(name, t, r.Confidence)
	}
	return c.rec.Record(name, t, v)
}

func (a *App) confidenceTap(ctx context.Context, in <-chan stream.Sample[fusion.Reading], name string) <-chan stream.Sample[fusion.Reading] {
	rec := a.recorder()
	if rec == nil {
		return in
	}
	return stream.Tap(ctx, in, confidenceRecorder{rec}, name, a.log)
}

// start launches the dataflow. Producers (bridge intake, ticker, face
// workers) run on prodCtx; consumers run on consCtx and finish once their
// inputs close. The returned channel is closed when every consumer is done.
func (a *App) start(prodCtx, consCtx context.Context) <-chan struct{} {
	br := a.bridge

	// camera intake
	frames1 := face.Frames(prodCtx, br.Inbound(protocol.TopicFrames1))
	frames2 := face.Frames(prodCtx, br.Inbound(protocol.TopicFrames2))

	// session timeline, optionally held to audio aligned with camera 1
	var aligned <-chan stream.Sample[protocol.AudioData]
	if a.cfg.Timeline.AlignAudio {
		split := stream.NewBroadcast(prodCtx, frames1, 2, frameQueue)
		a.frameSplit.Store(split)
		frames1 = split.Out(0)
		audio := timeline.Audio(prodCtx, br.Inbound(protocol.TopicAudio))
		aligned = timeline.Republish(prodCtx, timeline.AlignAudio(prodCtx, audio, split.Out(1)), br, protocol.TopicAudioSynced)
	}
	// fusion, dispatch and the robotMoving record each read their own copy
	fan := stream.NewBroadcast(consCtx, a.timeline.Run(prodCtx, aligned), 3, motionQueue)
	a.motion.Store(fan)
	motion := fan.Outs()

	readings1 := a.confidenceTap(consCtx, a.workers[0].Run(prodCtx, frames1), telemetry.StreamConfidence1)
	readings2 := a.confidenceTap(consCtx, a.workers[1].Run(prodCtx, frames2), telemetry.StreamConfidence2)

	// fusion and classifier round trip
	inputs := stream.Map(consCtx, stream.Join(consCtx, stream.Join(consCtx, readings1, readings2), motion[0]),
		func(s stream.Sample[stream.Pair[stream.Pair[fusion.Reading, fusion.Reading], bool]]) fusion.Input {
			return fusion.Input{Cam1: s.Value.First.First, Cam2: s.Value.First.Second, Moving: s.Value.Second}
		})
	selections := a.selector.Run(consCtx, inputs)
	verdicts := a.decoder.Run(prodCtx, br.Inbound(protocol.TopicVerdicts))

	// human and robot feedback
	utterances := speech.Intake(prodCtx, br.Inbound(protocol.TopicUtterances))
	acks := dispatch.Acks(prodCtx, br.Inbound(protocol.TopicDone))

	var consumers sync.WaitGroup
	run := func(fn func()) {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			fn()
		}()
	}

	run(func() { a.forwarder.Run(consCtx, selections) })
	run(func() {
		moving := stream.Tap(consCtx, timeline.Changed(consCtx, motion[2]), a.recorder(), telemetry.StreamRobotMoving, a.log)
		stream.Drain(consCtx, moving, func(stream.Sample[bool]) {})
	})

	// the session stops once every event source has closed
	sessCtx, stopSession := context.WithCancel(consCtx)
	var sources sync.WaitGroup
	sources.Add(3)
	go func() {
		defer sources.Done()
		session.SubmitAll(consCtx, a.session, verdicts, func(s stream.Sample[protocol.Verdict]) session.Event {
			a.web.PushVerdict(s.Time, s.Value)
			return session.Verdict(s)
		})
	}()
	go func() {
		defer sources.Done()
		session.SubmitAll(consCtx, a.session, utterances, session.Utterance)
	}()
	go func() {
		defer sources.Done()
		session.SubmitAll(consCtx, a.session, acks, session.Ack)
	}()
	go func() {
		sources.Wait()
		stopSession()
	}()

	run(func() {
		if err := a.session.Run(sessCtx); err != nil {
			a.log.Error("session", "err", err)
		}
	})
	run(func() { a.dispatcher.Run(consCtx, a.session.Verbal(), a.session.Queries(), motion[1]) })

	done := make(chan struct{})
	go func() {
		consumers.Wait()
		stopSession()
		close(done)
	}()
	return done
}

// Counters returns the session counters exposed on /api/status and
// /metrics.
func (a *App) Counters() map[string]uint64 {
	c := map[string]uint64{}

	st := a.session.Stats()
	c["session_events"] = st.Events
	c["session_transitions"] = st.Transitions
	c["session_commands"] = st.Commands
	c["session_queries"] = st.Queries

	ds := a.dispatcher.Stats()
	c["commands_sent"] = ds.Sent
	c["commands_lost"] = ds.Lost

	c["features_sent"] = a.forwarder.Sent()
	c["features_dropped"] = a.forwarder.Dropped()
	c["verdicts_received"] = a.decoder.Received()
	c["verdicts_malformed"] = a.decoder.Malformed()

	ticker := a.timeline.Ticker()
	c["timeline_ticks"] = ticker.Ticks()
	c["timeline_motion_changes"] = ticker.Changes()
	if fan := a.motion.Load(); fan != nil {
		c["timeline_dropped"] = fan.Dropped()
	}
	if fan := a.frameSplit.Load(); fan != nil {
		c["camera1_split_dropped"] = fan.Dropped()
	}

	for _, w := range a.workers {
		ws := w.Stats()
		c[w.Name()+"_frames"] = ws.Frames
		c[w.Name()+"_analyzed"] = ws.Analyzed
		c[w.Name()+"_failed"] = ws.Failed
		c[w.Name()+"_no_face"] = ws.NoFace
	}

	bs := a.bridge.GetStats()
	c["bridge_malformed"] = bs.Malformed
	for _, ts := range bs.Topics {
		c["bridge_"+string(ts.Topic)+"_received"] = ts.Received
		c["bridge_"+string(ts.Topic)+"_sent"] = ts.Sent
		c["bridge_"+string(ts.Topic)+"_dropped"] = ts.Dropped
		c["bridge_"+string(ts.Topic)+"_peer_failed"] = ts.PeerFailed
	}
	return c
}
